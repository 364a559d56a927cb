package custody

import (
	"strings"
	"time"

	"github.com/erazemk/makhzan/internal/model"
)

// Event is a custody event applied to an existing item.
type Event string

// Events. Creation (add, manual issue) is not an event on an existing item
// and is handled by the Service directly.
const (
	EventCheckout      Event = "checkout"
	EventRequestReturn Event = "request_return"
	EventApproveReturn Event = "approve_return"
	EventRejectReturn  Event = "reject_return"
)

// Transition is one event together with its arguments.
type Transition struct {
	Event Event
	// Holder is the instructor taking custody (checkout) or the instructor
	// asking to return (request_return). Ignored otherwise.
	Holder string
	// Reason is required for reject_return.
	Reason string
}

// Effect is what a successful transition must record in the log.
type Effect struct {
	Type           model.TransactionType
	InstructorName string
	Notes          string
}

type rule struct {
	from []model.ItemStatus
	to   model.ItemStatus
	log  model.TransactionType
}

// rules is the transition table. Maintenance appears in no from-list, so it
// has no way out.
var rules = map[Event]rule{
	EventCheckout: {
		from: []model.ItemStatus{model.ItemStatusAvailable},
		to:   model.ItemStatusCheckedOut,
		log:  model.TransactionCheckout,
	},
	EventRequestReturn: {
		from: []model.ItemStatus{model.ItemStatusCheckedOut},
		to:   model.ItemStatusPendingReturn,
		log:  model.TransactionReturnRequest,
	},
	EventApproveReturn: {
		from: []model.ItemStatus{model.ItemStatusPendingReturn, model.ItemStatusCheckedOut},
		to:   model.ItemStatusAvailable,
		log:  model.TransactionReturn,
	},
	EventRejectReturn: {
		from: []model.ItemStatus{model.ItemStatusPendingReturn},
		to:   model.ItemStatusCheckedOut,
		log:  model.TransactionReturnRejected,
	},
}

// Allowed reports whether ev may be applied to an item in status s.
func Allowed(s model.ItemStatus, ev Event) bool {
	r, ok := rules[ev]
	if !ok {
		return false
	}
	for _, from := range r.from {
		if from == s {
			return true
		}
	}
	return false
}

// Apply computes the item that results from t at time now. The input is
// not modified. On error the returned item is the zero value.
func Apply(item model.Item, t Transition, now time.Time) (model.Item, Effect, error) {
	r, ok := rules[t.Event]
	if !ok {
		return model.Item{}, Effect{}, invalid("event", "unknown event %q", t.Event)
	}
	if !Allowed(item.Status, t.Event) {
		return model.Item{}, Effect{}, &InvalidTransitionError{ItemID: item.ID, Status: item.Status, Event: t.Event}
	}

	next := item
	next.Status = r.to
	next.LastUpdated = now
	next.RejectionReason = ""
	eff := Effect{Type: r.log, InstructorName: item.CurrentHolder}

	switch t.Event {
	case EventCheckout:
		holder := strings.TrimSpace(t.Holder)
		if holder == "" {
			return model.Item{}, Effect{}, invalid("holder", "required for checkout")
		}
		next.CurrentHolder = holder
		eff.InstructorName = holder
	case EventRequestReturn:
		if t.Holder != item.CurrentHolder {
			return model.Item{}, Effect{}, invalid("holder", "item %s is held by %q, not %q", item.ID, item.CurrentHolder, t.Holder)
		}
	case EventApproveReturn:
		next.CurrentHolder = ""
	case EventRejectReturn:
		reason := strings.TrimSpace(t.Reason)
		if reason == "" {
			return model.Item{}, Effect{}, invalid("reason", "required when rejecting a return")
		}
		next.RejectionReason = reason
		eff.Notes = reason
	}

	return next, eff, nil
}
