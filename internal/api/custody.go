package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/makhzan/internal/auth"
	"github.com/erazemk/makhzan/internal/custody"
	"github.com/erazemk/makhzan/internal/model"
	"github.com/erazemk/makhzan/internal/store"
)

// CustodyHandler serves bucket views and custody events.
type CustodyHandler struct {
	DB      *sql.DB
	Custody *custody.Service
}

type checkoutRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Quantity int    `json:"quantity"`
	Holder   string `json:"holder"`
}

type returnRequest struct {
	Holder string `json:"holder"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type batchRequest struct {
	Key      custody.Key `json:"key"`
	Quantity int         `json:"quantity"`
}

// holder resolves whom a custody event is for. Instructors always act for
// themselves. Supervisors name an instructor on the roster.
func (h *CustodyHandler) holder(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	claims := GetClaims(r.Context())
	if !isSupervisor(claims) {
		if requested != "" && requested != claims.Name {
			jsonError(w, http.StatusForbidden, "instructors may only act on their own custody")
			return "", false
		}
		return claims.Name, true
	}

	name := custody.CleanText(requested)
	if name == "" {
		custodyError(w, &custody.ValidationError{Field: "holder", Message: "required"})
		return "", false
	}
	ok, err := store.HasRole(r.Context(), h.DB, name, model.RoleInstructor)
	if err != nil {
		slog.Error("failed to look up instructor", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return "", false
	}
	if !ok {
		custodyError(w, &custody.ValidationError{Field: "holder", Message: "unknown instructor " + name})
		return "", false
	}
	return name, true
}

// Available handles GET /api/buckets/available.
func (h *CustodyHandler) Available(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.Custody.AvailableBuckets(r.Context())
	if err != nil {
		custodyError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(custody.Search(buckets, r.URL.Query().Get("q"))))
}

// InCustody handles GET /api/buckets/custody. Supervisors see every holder
// unless ?holder= narrows it; instructors only ever see their own.
func (h *CustodyHandler) InCustody(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	holder := r.URL.Query().Get("holder")
	if !isSupervisor(claims) {
		holder = claims.Name
	}

	buckets, err := h.Custody.CustodyBuckets(r.Context(), holder)
	if err != nil {
		custodyError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(custody.Search(buckets, r.URL.Query().Get("q"))))
}

// Checkout handles POST /api/checkout.
func (h *CustodyHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	holder, ok := h.holder(w, r, req.Holder)
	if !ok {
		return
	}

	res, err := h.Custody.Checkout(r.Context(), req.Name, req.Category, req.Quantity, holder)
	h.respond(w, r, "checkout", res, err)
}

// Issue handles POST /api/issue: stock handed out directly to an
// instructor without passing through the shelf.
func (h *CustodyHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	holder, ok := h.holder(w, r, req.Holder)
	if !ok {
		return
	}

	res, err := h.Custody.ManualIssue(r.Context(), custody.NewItems{
		Name:     req.Name,
		Category: req.Category,
		Quantity: req.Quantity,
		Holder:   holder,
	})
	h.respond(w, r, "manual issue", res, err)
}

// RequestReturn handles POST /api/items/{id}/return-request. Supervisors
// may file it for the current holder by leaving holder empty.
func (h *CustodyHandler) RequestReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	id := r.PathValue("id")
	claims := GetClaims(r.Context())
	holder := claims.Name
	if isSupervisor(claims) {
		holder = req.Holder
		if holder == "" {
			item, err := store.GetItem(r.Context(), h.DB, id)
			if err != nil {
				slog.Error("failed to get item", "error", err)
				jsonError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if item == nil {
				custodyError(w, &custody.NotFoundError{ItemID: id})
				return
			}
			holder = item.CurrentHolder
		}
	}

	res, err := h.Custody.RequestReturn(r.Context(), id, holder)
	h.respond(w, r, "return request", res, err)
}

// ApproveReturn handles POST /api/items/{id}/approve.
func (h *CustodyHandler) ApproveReturn(w http.ResponseWriter, r *http.Request) {
	res, err := h.Custody.ApproveReturn(r.Context(), r.PathValue("id"))
	h.respond(w, r, "return approval", res, err)
}

// RejectReturn handles POST /api/items/{id}/reject.
func (h *CustodyHandler) RejectReturn(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.Custody.RejectReturn(r.Context(), r.PathValue("id"), req.Reason)
	h.respond(w, r, "return rejection", res, err)
}

// RequestReturnBatch handles POST /api/returns/request.
func (h *CustodyHandler) RequestReturnBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	claims := GetClaims(r.Context())
	if !isSupervisor(claims) && req.Key.Holder != claims.Name {
		jsonError(w, http.StatusForbidden, "instructors may only act on their own custody")
		return
	}

	res, err := h.Custody.RequestReturnBatch(r.Context(), req.Key, req.Quantity, req.Key.Holder)
	h.respond(w, r, "batch return request", res, err)
}

// ApproveReturnBatch handles POST /api/returns/approve.
func (h *CustodyHandler) ApproveReturnBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.Custody.ApproveReturnBatch(r.Context(), req.Key, req.Quantity)
	h.respond(w, r, "batch return approval", res, err)
}

// respond writes the outcome of a custody event. A partial batch is
// reported as a conflict whose details list the items that did move.
func (h *CustodyHandler) respond(w http.ResponseWriter, r *http.Request, what string, res custody.Result, err error) {
	if err != nil {
		custodyError(w, err)
		return
	}
	logActor(GetClaims(r.Context()), what, res)
	jsonResponse(w, http.StatusOK, res)
}

func logActor(claims *auth.Claims, what string, res custody.Result) {
	attrs := []any{"user", claims.Name, "role", claims.Role, "items", len(res.ItemIDs)}
	if len(res.UnloggedItemIDs) > 0 {
		attrs = append(attrs, "unlogged", len(res.UnloggedItemIDs))
	}
	slog.Info(what, attrs...)
}
