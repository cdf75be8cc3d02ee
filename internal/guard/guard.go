// Package guard is the last gate before the venue: order validation, sizing,
// aggregate risk caps, the retry/rescale loop, and the daily drawdown circuit.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Terrxnce/DEVI-sub000/internal/decision"
	"github.com/Terrxnce/DEVI-sub000/internal/logger"
	"github.com/Terrxnce/DEVI-sub000/internal/pkg/decmath"
	"github.com/Terrxnce/DEVI-sub000/internal/venue"
)

// Enumerated rejection reasons. Every rejected order carries at least one.
const (
	ReasonHardStop         = "hard_stop_active"
	ReasonSymbolPaused     = "symbol_paused"
	ReasonNoVenueEntry     = "no_venue_entry"
	ReasonVolumeBelowMin   = "volume_below_min"
	ReasonVolumeAboveMax   = "volume_above_max"
	ReasonStopTooClose     = "stop_below_min_distance"
	ReasonStopWrongSide    = "stop_wrong_side"
	ReasonTargetWrongSide  = "target_wrong_side"
	ReasonAggregateRisk    = "aggregate_risk_cap"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonVenueRejected    = "venue_rejected"
)

// ErrInvalidStops is the retryable venue rejection class. Broker adapters
// wrap their "invalid stops" error codes with this sentinel; anything else is
// treated as a permanent rejection for the bar.
var ErrInvalidStops = errors.New("venue rejected stop levels")

// Order is the wire-ready request handed to the broker adapter.
type Order struct {
	Symbol     string
	Side       decision.Side
	Volume     decimal.Decimal
	Entry      decimal.Decimal
	Stop       decimal.Decimal
	TakeProfit decimal.Decimal
}

// Broker transmits orders and closes positions. Implementations must honor
// the context deadline; the guard treats a deadline expiry as a failed
// attempt, never an open wait.
type Broker interface {
	PlaceOrder(ctx context.Context, o Order) (brokerOrderID string, err error)
	CloseAllPositions(ctx context.Context, reason string) error
}

// OpenPosition is the guard's view of existing exposure, used for the
// aggregate risk cap. Risk is computed with the symbol's true contract size.
type OpenPosition struct {
	Symbol string
	Volume decimal.Decimal
	Entry  decimal.Decimal
	Stop   decimal.Decimal
}

// Config holds sizing and retry parameters.
type Config struct {
	RiskPerTradePct  float64       `mapstructure:"risk_per_trade_pct"`
	AggregateCapPct  float64       `mapstructure:"aggregate_cap_pct"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	WideningFactors  []float64     `mapstructure:"widening_factors"`
	PauseCooldown    time.Duration `mapstructure:"pause_cooldown"`
	OrderTimeout     time.Duration `mapstructure:"order_timeout"`
}

func DefaultConfig() Config {
	return Config{
		RiskPerTradePct: 0.01,
		AggregateCapPct: 0.045,
		MaxAttempts:     3,
		WideningFactors: []float64{1.0, 1.25, 1.5},
		PauseCooldown:   30 * time.Minute,
		OrderTimeout:    5 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.RiskPerTradePct <= 0 || c.RiskPerTradePct >= 1 {
		return fmt.Errorf("guard: risk_per_trade_pct out of range: %v", c.RiskPerTradePct)
	}
	if c.AggregateCapPct <= 0 || c.AggregateCapPct >= 1 {
		return fmt.Errorf("guard: aggregate_cap_pct out of range: %v", c.AggregateCapPct)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("guard: max_attempts must be > 0")
	}
	if len(c.WideningFactors) < c.MaxAttempts {
		return fmt.Errorf("guard: need %d widening factors, got %d", c.MaxAttempts, len(c.WideningFactors))
	}
	for i := 1; i < len(c.WideningFactors); i++ {
		if c.WideningFactors[i] < c.WideningFactors[i-1] {
			return fmt.Errorf("guard: widening factors must be non-decreasing")
		}
	}
	if c.OrderTimeout <= 0 {
		return fmt.Errorf("guard: order_timeout must be > 0")
	}
	return nil
}

// Attempt records one transmission try for auditing.
type Attempt struct {
	Number int
	Stop   decimal.Decimal
	Volume decimal.Decimal
	Err    string
}

// Guard validates, sizes, and transmits Decisions. Symbol pause timestamps
// are keyed to bar time so replays stay deterministic.
type Guard struct {
	cfg    Config
	venues venue.Table
	risk   *RiskState
	broker Broker

	mu          sync.Mutex
	pausedUntil map[string]time.Time
	onAttempt   func(symbol string, a Attempt)
}

func New(cfg Config, venues venue.Table, risk *RiskState, broker Broker) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if risk == nil {
		return nil, fmt.Errorf("guard: nil risk state")
	}
	if broker == nil {
		return nil, fmt.Errorf("guard: nil broker")
	}
	return &Guard{
		cfg:         cfg,
		venues:      venues,
		risk:        risk,
		broker:      broker,
		pausedUntil: make(map[string]time.Time),
	}, nil
}

// SetAttemptObserver installs a hook called after every transmission attempt.
func (g *Guard) SetAttemptObserver(fn func(symbol string, a Attempt)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onAttempt = fn
}

// Risk exposes the shared drawdown state.
func (g *Guard) Risk() *RiskState { return g.risk }

// Paused reports whether a symbol is in its post-exhaustion cooldown at the
// given bar time.
func (g *Guard) Paused(symbol string, at time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.pausedUntil[symbol]
	return ok && at.Before(until)
}

func (g *Guard) pause(symbol string, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pausedUntil[symbol] = at.Add(g.cfg.PauseCooldown)
	logger.Warnf("symbol %s paused until %s after exhausting order retries", symbol, g.pausedUntil[symbol].Format(time.RFC3339))
}

// HandleRiskTransitions reacts to drawdown transitions returned by
// RiskState.Observe: a hard stop closes all open positions.
func (g *Guard) HandleRiskTransitions(ctx context.Context, transitions []RiskTransition) {
	for _, tr := range transitions {
		if tr.Shadow || tr.To != StateHardStop {
			continue
		}
		closeCtx, cancel := context.WithTimeout(ctx, g.cfg.OrderTimeout)
		if err := g.broker.CloseAllPositions(closeCtx, "daily hard stop"); err != nil {
			logger.Errorf("hard stop: closing positions failed: %v", err)
		}
		cancel()
	}
}

// SizeFor computes the venue-legal position size for a Decision under the
// per-trade risk budget, without transmitting anything. The same computation
// runs again inside Execute, so Decision and order always agree.
func (g *Guard) SizeFor(d decision.Decision, equity decimal.Decimal) (decimal.Decimal, []string) {
	cons, err := g.venues.Lookup(d.Symbol)
	if err != nil {
		return decimal.Zero, []string{ReasonNoVenueEntry}
	}
	riskAmount := decmath.MulFloat(equity, g.cfg.RiskPerTradePct)
	return g.size(d, cons, riskAmount)
}

// Execute runs one Decision through the full gate: risk circuit, pause
// cooldown, venue validation, aggregate cap, sizing, and the bounded
// retry/rescale transmission loop.
func (g *Guard) Execute(ctx context.Context, d decision.Decision, equity decimal.Decimal, open []OpenPosition) decision.ExecutionResult {
	if !g.risk.Allows() {
		return reject(ReasonHardStop)
	}
	if g.Paused(d.Symbol, d.BarTime) {
		return reject(ReasonSymbolPaused)
	}
	cons, err := g.venues.Lookup(d.Symbol)
	if err != nil {
		logger.Errorf("order rejected: %v", err)
		return reject(ReasonNoVenueEntry)
	}

	riskAmount := decmath.MulFloat(equity, g.cfg.RiskPerTradePct)
	volume, reasons := g.size(d, cons, riskAmount)
	if len(reasons) > 0 {
		return rejectAll(reasons)
	}
	order := Order{
		Symbol:     d.Symbol,
		Side:       d.Side,
		Volume:     volume,
		Entry:      d.Entry,
		Stop:       d.Stop,
		TakeProfit: d.TakeProfit,
	}
	if reasons := validateOrder(order, cons); len(reasons) > 0 {
		logger.Warnf("order %s failed validation: %v", d.Symbol, reasons)
		return rejectAll(reasons)
	}
	if !g.aggregateRiskOK(order, cons, equity, open) {
		logger.Warnf("order %s rejected: aggregate risk cap %.3f%% exceeded", d.Symbol, g.cfg.AggregateCapPct*100)
		return reject(ReasonAggregateRisk)
	}
	return g.transmit(ctx, d, order, cons, riskAmount)
}

// size converts the per-trade risk budget into a venue-legal volume. Volumes
// bound below the venue minimum reject rather than upsize the risk; volumes
// above the maximum are capped, which only reduces risk.
func (g *Guard) size(d decision.Decision, cons venue.Constraints, riskAmount decimal.Decimal) (decimal.Decimal, []string) {
	stopDist := d.RiskDistance()
	if stopDist.Sign() <= 0 {
		return decimal.Zero, []string{ReasonStopWrongSide}
	}
	perUnit := stopDist.Mul(cons.ContractSize)
	raw := riskAmount.Div(perUnit)
	if cons.VolumeStep.Sign() > 0 {
		raw = raw.Div(cons.VolumeStep).Floor().Mul(cons.VolumeStep)
	}
	if raw.Cmp(cons.VolumeMin) < 0 {
		return decimal.Zero, []string{ReasonVolumeBelowMin}
	}
	if cons.VolumeMax.Sign() > 0 && raw.Cmp(cons.VolumeMax) > 0 {
		raw = cons.VolumeMax
	}
	return raw, nil
}

// validateOrder enforces the venue contract before anything is sent. All
// violations are collected, not just the first.
func validateOrder(o Order, cons venue.Constraints) []string {
	var reasons []string
	switch o.Side {
	case decision.Buy:
		if o.Stop.Cmp(o.Entry) >= 0 {
			reasons = append(reasons, ReasonStopWrongSide)
		}
		if o.TakeProfit.Cmp(o.Entry) <= 0 {
			reasons = append(reasons, ReasonTargetWrongSide)
		}
	case decision.Sell:
		if o.Stop.Cmp(o.Entry) <= 0 {
			reasons = append(reasons, ReasonStopWrongSide)
		}
		if o.TakeProfit.Cmp(o.Entry) >= 0 {
			reasons = append(reasons, ReasonTargetWrongSide)
		}
	default:
		reasons = append(reasons, ReasonStopWrongSide)
	}
	if o.Entry.Sub(o.Stop).Abs().Cmp(cons.MinStopDistance) < 0 {
		reasons = append(reasons, ReasonStopTooClose)
	}
	if o.Volume.Cmp(cons.VolumeMin) < 0 {
		reasons = append(reasons, ReasonVolumeBelowMin)
	}
	if cons.VolumeMax.Sign() > 0 && o.Volume.Cmp(cons.VolumeMax) > 0 {
		reasons = append(reasons, ReasonVolumeAboveMax)
	}
	return reasons
}

// aggregateRiskOK sums open-position risk plus the candidate in account
// currency, each with its own symbol's contract size, against the cap.
func (g *Guard) aggregateRiskOK(o Order, cons venue.Constraints, equity decimal.Decimal, open []OpenPosition) bool {
	total := o.Entry.Sub(o.Stop).Abs().Mul(o.Volume).Mul(cons.ContractSize)
	for _, p := range open {
		pc, err := g.venues.Lookup(p.Symbol)
		if err != nil {
			// Unknown open-position symbol: count it at the candidate's
			// contract size rather than under-counting exposure.
			pc = cons
		}
		total = total.Add(p.Entry.Sub(p.Stop).Abs().Mul(p.Volume).Mul(pc.ContractSize))
	}
	limit := decmath.MulFloat(equity, g.cfg.AggregateCapPct)
	return total.Cmp(limit) <= 0
}

// transmit runs the bounded retry/rescale loop. Attempt i widens the stop
// distance to at least WideningFactors[i] times the venue minimum and
// recomputes the volume so the account-currency risk stays on budget.
func (g *Guard) transmit(ctx context.Context, d decision.Decision, order Order, cons venue.Constraints, riskAmount decimal.Decimal) decision.ExecutionResult {
	var attempts []Attempt
	for i := 0; i < g.cfg.MaxAttempts; i++ {
		minDist := decmath.MulFloat(cons.MinStopDistance, g.cfg.WideningFactors[i])
		if order.Entry.Sub(order.Stop).Abs().Cmp(minDist) < 0 {
			order = g.rescale(order, cons, minDist, riskAmount)
		}
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.OrderTimeout)
		id, err := g.broker.PlaceOrder(callCtx, order)
		cancel()

		a := Attempt{Number: i + 1, Stop: order.Stop, Volume: order.Volume}
		if err != nil {
			a.Err = err.Error()
		}
		attempts = append(attempts, a)
		g.notifyAttempt(d.Symbol, a)

		switch {
		case err == nil:
			return decision.ExecutionResult{
				Accepted:      true,
				BrokerOrderID: id,
				Attempts:      i + 1,
				FinalStop:     order.Stop,
				FinalSize:     order.Volume,
			}
		case errors.Is(err, ErrInvalidStops):
			logger.Warnf("order %s attempt %d: invalid stops, widening (%v)", d.Symbol, i+1, err)
			// Retries only ever move the stop further out: a distance that
			// already clears the next grid step is kept, never pulled in.
			if i+1 < g.cfg.MaxAttempts {
				next := decmath.MulFloat(cons.MinStopDistance, g.cfg.WideningFactors[i+1])
				if cur := order.Entry.Sub(order.Stop).Abs(); cur.Cmp(next) > 0 {
					next = cur
				}
				order = g.rescale(order, cons, next, riskAmount)
			}
		default:
			logger.Errorf("order %s attempt %d: permanent venue rejection: %v", d.Symbol, i+1, err)
			return decision.ExecutionResult{
				Accepted:         false,
				Attempts:         i + 1,
				RejectionReasons: []string{ReasonVenueRejected},
			}
		}
	}
	g.pause(d.Symbol, d.BarTime)
	return decision.ExecutionResult{
		Accepted:         false,
		Attempts:         g.cfg.MaxAttempts,
		RejectionReasons: []string{ReasonRetriesExhausted},
	}
}

// rescale moves the stop out to dist and recomputes the volume so the
// intended percent-of-equity risk is preserved.
func (g *Guard) rescale(order Order, cons venue.Constraints, dist, riskAmount decimal.Decimal) Order {
	if order.Side == decision.Buy {
		order.Stop = cons.SnapPrice(order.Entry.Sub(dist))
	} else {
		order.Stop = cons.SnapPrice(order.Entry.Add(dist))
	}
	actual := order.Entry.Sub(order.Stop).Abs()
	if actual.Sign() > 0 {
		vol := riskAmount.Div(actual.Mul(cons.ContractSize))
		order.Volume = cons.SnapVolume(vol)
	}
	return order
}

func (g *Guard) notifyAttempt(symbol string, a Attempt) {
	g.mu.Lock()
	fn := g.onAttempt
	g.mu.Unlock()
	if fn != nil {
		fn(symbol, a)
	}
}

func reject(reason string) decision.ExecutionResult {
	return decision.ExecutionResult{Accepted: false, RejectionReasons: []string{reason}}
}

func rejectAll(reasons []string) decision.ExecutionResult {
	return decision.ExecutionResult{Accepted: false, RejectionReasons: reasons}
}
