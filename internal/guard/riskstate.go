package guard

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Terrxnce/DEVI-sub000/internal/logger"
	"github.com/Terrxnce/DEVI-sub000/internal/pkg/decmath"
)

// State is the daily drawdown circuit state. Transitions are monotonic within
// one trading day and reset at the daily boundary.
type State int

const (
	StateNormal State = iota
	StateSoftStop
	StateHardStop
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateSoftStop:
		return "SOFT_STOP"
	case StateHardStop:
		return "HARD_STOP"
	default:
		return "UNKNOWN"
	}
}

// RiskConfig sets the drawdown thresholds as fractions of the daily baseline
// equity. The shadow pair models an outer account-level rule (e.g. a funder's
// limit); reaching it means the inner thresholds are misconfigured.
type RiskConfig struct {
	SoftStopPct   float64 `mapstructure:"soft_stop_pct"`
	HardStopPct   float64 `mapstructure:"hard_stop_pct"`
	ShadowSoftPct float64 `mapstructure:"shadow_soft_pct"`
	ShadowHardPct float64 `mapstructure:"shadow_hard_pct"`
	ResetHourUTC  int     `mapstructure:"reset_hour_utc"`
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		SoftStopPct:   0.01,
		HardStopPct:   0.02,
		ShadowSoftPct: 0.03,
		ShadowHardPct: 0.05,
		ResetHourUTC:  0,
	}
}

func (c RiskConfig) Validate() error {
	if c.SoftStopPct <= 0 || c.HardStopPct <= 0 {
		return fmt.Errorf("guard: stop percentages must be > 0")
	}
	if c.SoftStopPct >= c.HardStopPct {
		return fmt.Errorf("guard: soft_stop_pct %.4f must be below hard_stop_pct %.4f", c.SoftStopPct, c.HardStopPct)
	}
	if c.ShadowSoftPct > 0 && c.ShadowSoftPct <= c.HardStopPct {
		return fmt.Errorf("guard: shadow_soft_pct must exceed hard_stop_pct")
	}
	if c.ResetHourUTC < 0 || c.ResetHourUTC > 23 {
		return fmt.Errorf("guard: reset_hour_utc out of range: %d", c.ResetHourUTC)
	}
	return nil
}

// RiskTransition is one state change, emitted at most once per day per edge.
// Shadow transitions carry the same fields but flag a configuration bug
// rather than a normal stop.
type RiskTransition struct {
	From     State
	To       State
	Drawdown float64
	At       time.Time
	Shadow   bool
	Reset    bool
}

// RiskState tracks running equity drawdown against a daily baseline. All time
// comes from bar timestamps, never the wall clock, and mutations are
// mutex-serialized so parallel symbol runs see one consistent state.
type RiskState struct {
	mu             sync.Mutex
	cfg            RiskConfig
	state          State
	baseline       decimal.Decimal
	baselineDay    time.Time
	haveBaseline   bool
	shadowSoftHit  bool
	shadowHardHit  bool
	onTransition   func(RiskTransition)
}

func NewRiskState(cfg RiskConfig) (*RiskState, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RiskState{cfg: cfg, state: StateNormal}, nil
}

// SetTransitionHandler installs an observer called synchronously for every
// transition, under the state lock. Keep it cheap.
func (r *RiskState) SetTransitionHandler(fn func(RiskTransition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTransition = fn
}

// State returns the current circuit state.
func (r *RiskState) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Allows reports whether new orders may be sent.
func (r *RiskState) Allows() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != StateHardStop
}

// dayStart returns the reset boundary at or before t.
func (r *RiskState) dayStart(t time.Time) time.Time {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), r.cfg.ResetHourUTC, 0, 0, 0, time.UTC)
	if t.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// Observe feeds one (equity, bar time) observation through the machine and
// returns the transitions it fired, in order. The first observation at or
// after a daily boundary recaptures the baseline and resets the state.
func (r *RiskState) Observe(equity decimal.Decimal, at time.Time) []RiskTransition {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fired []RiskTransition
	day := r.dayStart(at)
	if !r.haveBaseline || !day.Equal(r.baselineDay) {
		if r.haveBaseline && r.state != StateNormal {
			fired = append(fired, r.transition(StateNormal, 0, at, false, true))
		}
		r.baseline = equity
		r.baselineDay = day
		r.haveBaseline = true
		r.state = StateNormal
		r.shadowSoftHit = false
		r.shadowHardHit = false
		logger.Infof("risk baseline recaptured: equity=%s day=%s", equity, day.Format("2006-01-02"))
	}

	dd := r.drawdownLocked(equity)
	if r.state == StateNormal && dd > r.cfg.SoftStopPct {
		fired = append(fired, r.transition(StateSoftStop, dd, at, false, false))
	}
	if r.state == StateSoftStop && dd > r.cfg.HardStopPct {
		fired = append(fired, r.transition(StateHardStop, dd, at, false, false))
	}

	if r.cfg.ShadowSoftPct > 0 && !r.shadowSoftHit && dd > r.cfg.ShadowSoftPct {
		r.shadowSoftHit = true
		logger.Errorf("shadow soft limit breached (dd=%.4f): inner thresholds are misconfigured", dd)
		fired = append(fired, r.shadowTransition(StateSoftStop, dd, at))
	}
	if r.cfg.ShadowHardPct > 0 && !r.shadowHardHit && dd > r.cfg.ShadowHardPct {
		r.shadowHardHit = true
		logger.Errorf("shadow hard limit breached (dd=%.4f): inner thresholds are misconfigured", dd)
		fired = append(fired, r.shadowTransition(StateHardStop, dd, at))
	}
	return fired
}

// Drawdown returns the fraction of baseline equity lost so far today.
func (r *RiskState) Drawdown(equity decimal.Decimal) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drawdownLocked(equity)
}

func (r *RiskState) drawdownLocked(equity decimal.Decimal) float64 {
	if !r.haveBaseline || r.baseline.Sign() <= 0 {
		return 0
	}
	loss := r.baseline.Sub(equity)
	if loss.Sign() <= 0 {
		return 0
	}
	return decmath.Ratio(loss, r.baseline)
}

func (r *RiskState) transition(to State, dd float64, at time.Time, shadow, reset bool) RiskTransition {
	tr := RiskTransition{From: r.state, To: to, Drawdown: dd, At: at, Shadow: shadow, Reset: reset}
	logger.Warnf("risk state %s -> %s (drawdown=%.4f)", tr.From, tr.To, dd)
	r.state = to
	if r.onTransition != nil {
		r.onTransition(tr)
	}
	return tr
}

func (r *RiskState) shadowTransition(to State, dd float64, at time.Time) RiskTransition {
	tr := RiskTransition{From: r.state, To: to, Drawdown: dd, At: at, Shadow: true}
	if r.onTransition != nil {
		r.onTransition(tr)
	}
	return tr
}
