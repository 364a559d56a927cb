package auth

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Default lockout policy.
const (
	DefaultMaxAttempts = 5
	DefaultLockout     = 30 * time.Second

	// lockoutEntries bounds memory when someone sprays many account names.
	lockoutEntries = 4096
)

type attempts struct {
	failures    int
	lockedUntil time.Time
}

// Lockout blocks an account name for a while after too many failed logins.
// Failure counts are forgotten once the lockout window passes without a
// new failure.
type Lockout struct {
	mu          sync.Mutex
	maxAttempts int
	lockout     time.Duration
	now         func() time.Time
	entries     *expirable.LRU[string, attempts]
}

// NewLockout returns a Lockout. Non-positive arguments select the defaults.
func NewLockout(maxAttempts int, lockout time.Duration) *Lockout {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if lockout <= 0 {
		lockout = DefaultLockout
	}
	return &Lockout{
		maxAttempts: maxAttempts,
		lockout:     lockout,
		now:         time.Now,
		entries:     expirable.NewLRU[string, attempts](lockoutEntries, nil, lockout),
	}
}

// Locked reports whether key is locked and for how much longer.
func (l *Lockout) Locked(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.entries.Get(key)
	if !ok || a.lockedUntil.IsZero() {
		return false, 0
	}
	left := a.lockedUntil.Sub(l.now())
	if left <= 0 {
		l.entries.Remove(key)
		return false, 0
	}
	return true, left
}

// Fail records a failed attempt and reports whether key is now locked.
func (l *Lockout) Fail(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, _ := l.entries.Get(key)
	if !a.lockedUntil.IsZero() && l.now().After(a.lockedUntil) {
		a = attempts{}
	}
	a.failures++
	if a.failures >= l.maxAttempts {
		a.lockedUntil = l.now().Add(l.lockout)
	}
	l.entries.Add(key, a)
	return !a.lockedUntil.IsZero()
}

// Succeed clears the failure count for key.
func (l *Lockout) Succeed(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Remove(key)
}
