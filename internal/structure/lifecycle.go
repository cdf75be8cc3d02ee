package structure

import "fmt"

// Lifecycle is a structure's confirmation status. Transitions are strictly
// forward; Expired and Invalidated are absorbing.
type Lifecycle string

const (
	LifecycleUnfilled    Lifecycle = "unfilled"
	LifecyclePartial     Lifecycle = "partial"
	LifecycleFilled      Lifecycle = "filled"
	LifecycleExpired     Lifecycle = "expired"
	LifecycleInvalidated Lifecycle = "invalidated"
)

// rank orders the progressing states; terminal states sort above everything.
func (l Lifecycle) rank() int {
	switch l {
	case LifecycleUnfilled:
		return 0
	case LifecyclePartial:
		return 1
	case LifecycleFilled:
		return 2
	case LifecycleExpired, LifecycleInvalidated:
		return 3
	default:
		return -1
	}
}

// Terminal reports whether the state is absorbing.
func (l Lifecycle) Terminal() bool {
	return l == LifecycleExpired || l == LifecycleInvalidated
}

// Transition moves the structure to next. Backward moves and moves out of a
// terminal state are rejected; only the owning detector calls this.
func (s *Structure) Transition(next Lifecycle) error {
	if next.rank() < 0 {
		return fmt.Errorf("structure %s: unknown lifecycle state %q", s.ID, next)
	}
	if s.State.Terminal() {
		return fmt.Errorf("structure %s: %s is terminal", s.ID, s.State)
	}
	if next.rank() <= s.State.rank() && next != s.State {
		return fmt.Errorf("structure %s: backward transition %s -> %s", s.ID, s.State, next)
	}
	s.State = next
	return nil
}
