package custody

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Clock supplies the time stamped on items and transactions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// IDGen produces unique item and transaction ids.
type IDGen interface {
	New() (string, error)
}

// ulidGen issues ULIDs stamped with the service clock. Ids minted by one
// generator sort in creation order, which keeps bucket member order stable.
type ulidGen struct {
	mu      sync.Mutex
	clock   Clock
	entropy io.Reader
}

// NewULIDGen returns an IDGen backed by monotonic ULIDs timed by c.
// A nil c means the wall clock.
func NewULIDGen(c Clock) IDGen {
	if c == nil {
		c = systemClock{}
	}
	return &ulidGen{clock: c, entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ulidGen) New() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(g.clock.Now()), g.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
