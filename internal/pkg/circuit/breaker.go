// Package circuit provides a small circuit breaker for outbound venue calls.
// Repeated transport failures open the breaker; after a cooldown one probe
// call is let through and its outcome decides whether the breaker closes.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"github.com/Terrxnce/DEVI-sub000/internal/logger"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Do while the breaker is open.
type ErrOpen struct {
	Name  string
	Until time.Time
}

func (e ErrOpen) Error() string {
	return fmt.Sprintf("circuit %s open until %s", e.Name, e.Until.Format(time.RFC3339))
}

// Breaker trips after threshold consecutive failures and stays open for the
// cooldown. Only transport-level failures should be recorded; a venue
// rejecting an order is a valid answer, not a broken venue.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown, state: StateClosed}
}

// Do runs fn if the breaker admits the call and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen {
		if time.Since(b.lastFailure) <= b.cooldown {
			return ErrOpen{Name: b.name, Until: b.lastFailure.Add(b.cooldown)}
		}
		b.transition(StateHalfOpen)
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		b.failures = 0
		return
	}
	b.failures++
	b.lastFailure = time.Now()
	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.threshold {
			b.transition(StateOpen)
		}
	}
}

// State reports the current position, moving open to half-open when the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.lastFailure) > b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	logger.Warnf("circuit %s: %s -> %s (failures=%d/%d)", b.name, from, to, b.failures, b.threshold)
}
