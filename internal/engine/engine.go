// Package engine drives the per-bar pipeline: bar intake, detectors,
// structure management, composite gating, exit planning, and the execution
// guard. One Engine instance serves one symbol/timeframe pair; a bar is fully
// processed before the next is accepted.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Terrxnce/DEVI-sub000/internal/analysis/trend"
	"github.com/Terrxnce/DEVI-sub000/internal/analysis/volatility"
	"github.com/Terrxnce/DEVI-sub000/internal/config"
	"github.com/Terrxnce/DEVI-sub000/internal/decision"
	"github.com/Terrxnce/DEVI-sub000/internal/events"
	"github.com/Terrxnce/DEVI-sub000/internal/exitplan"
	"github.com/Terrxnce/DEVI-sub000/internal/guard"
	"github.com/Terrxnce/DEVI-sub000/internal/logger"
	"github.com/Terrxnce/DEVI-sub000/internal/market"
	"github.com/Terrxnce/DEVI-sub000/internal/pkg/decmath"
	"github.com/Terrxnce/DEVI-sub000/internal/scorer"
	"github.com/Terrxnce/DEVI-sub000/internal/store"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
	"github.com/Terrxnce/DEVI-sub000/internal/structure/detectors"
	"github.com/Terrxnce/DEVI-sub000/internal/venue"
)

// EquitySource reports current account equity.
type EquitySource interface {
	Equity(ctx context.Context) (decimal.Decimal, error)
}

// PositionSource reports currently open positions for the aggregate risk cap.
type PositionSource interface {
	OpenPositions(ctx context.Context) ([]guard.OpenPosition, error)
}

// zoneProximityScaleATR is the distance (in ATR multiples) at which the zone
// proximity signal decays to zero.
const zoneProximityScaleATR = 2.0

// Options collects the dependencies for one symbol engine.
type Options struct {
	Symbol     string
	Timeframe  string
	MaxCached  int
	ATRPeriod  int
	Trend      trend.Settings
	Sessions   config.SessionConfig
	CapPerType int
	Params     config.Params
	Venue      venue.Constraints
	Guard      *guard.Guard
	Emitter    *events.Emitter
	Store      *store.Store // optional
	Equity     EquitySource
	Positions  PositionSource
}

// Engine is the single-threaded per-bar pipeline for one symbol.
type Engine struct {
	symbol    string
	timeframe string
	sessions  config.SessionConfig
	cons      venue.Constraints

	series   *market.Series
	volCalc  *volatility.Calculator
	trend    *trend.Calculator
	manager  *detectors.Manager
	scorer   *scorer.Scorer
	planner  *exitplan.Planner
	tiers    structure.TierThresholds
	capCfg   detectors.ManagerConfig

	guard     *guard.Guard
	emitter   *events.Emitter
	store     *store.Store
	equity    EquitySource
	positions PositionSource

	mu      sync.Mutex
	pending *config.Params
}

func New(opts Options) (*Engine, error) {
	if opts.Symbol == "" || opts.Timeframe == "" {
		return nil, fmt.Errorf("engine: symbol and timeframe are required")
	}
	if opts.Guard == nil || opts.Emitter == nil || opts.Equity == nil || opts.Positions == nil {
		return nil, fmt.Errorf("engine %s: guard, emitter, equity and position sources are required", opts.Symbol)
	}
	if opts.MaxCached <= 0 {
		opts.MaxCached = 500
	}
	if opts.ATRPeriod <= 0 {
		opts.ATRPeriod = 14
	}
	capCfg := detectors.ManagerConfig{}
	if opts.CapPerType > 0 {
		capCfg.CapPerType = map[structure.Type]int{}
		for _, t := range structure.AllTypes() {
			capCfg.CapPerType[t] = opts.CapPerType
		}
	}
	e := &Engine{
		symbol:    opts.Symbol,
		timeframe: opts.Timeframe,
		sessions:  opts.Sessions,
		cons:      opts.Venue,
		series:    market.NewSeries(opts.Symbol, opts.Timeframe, opts.MaxCached),
		volCalc:   volatility.NewCalculator(opts.ATRPeriod),
		trend:     trend.NewCalculator(opts.Trend),
		guard:     opts.Guard,
		emitter:   opts.Emitter,
		store:     opts.Store,
		equity:    opts.Equity,
		positions: opts.Positions,
		capCfg:    capCfg,
	}
	if err := e.rebuild(opts.Params); err != nil {
		return nil, err
	}
	return e, nil
}

// rebuild constructs the parameter-dependent components. Called at startup
// and on hot reload; a reload discards in-flight structure state since old
// thresholds no longer describe it.
func (e *Engine) rebuild(params config.Params) error {
	mgr, err := buildManager(params, e.capCfg)
	if err != nil {
		return fmt.Errorf("engine %s: %w", e.symbol, err)
	}
	sc, err := scorer.New(params.Scorer)
	if err != nil {
		return fmt.Errorf("engine %s: %w", e.symbol, err)
	}
	pl, err := exitplan.New(params.Exit)
	if err != nil {
		return fmt.Errorf("engine %s: %w", e.symbol, err)
	}
	if err := params.Tiers.Validate(); err != nil {
		return fmt.Errorf("engine %s: %w", e.symbol, err)
	}
	e.manager = mgr
	e.scorer = sc
	e.planner = pl
	e.tiers = params.Tiers
	return nil
}

// buildManager decodes the raw detector sections and registers the detectors
// in a fixed order; registration order is part of the determinism contract.
func buildManager(params config.Params, capCfg detectors.ManagerConfig) (*detectors.Manager, error) {
	var (
		obCfg  detectors.OrderBlockConfig
		fvgCfg detectors.FVGConfig
		bosCfg detectors.BOSConfig
		swCfg  detectors.SweepConfig
		rjCfg  detectors.RejectionConfig
		enCfg  detectors.EngulfingConfig
	)
	decodes := []struct {
		name    string
		section map[string]any
		target  any
	}{
		{"order_block", params.Detectors.OrderBlock, &obCfg},
		{"fair_value_gap", params.Detectors.FVG, &fvgCfg},
		{"break_of_structure", params.Detectors.BOS, &bosCfg},
		{"sweep", params.Detectors.Sweep, &swCfg},
		{"zone_rejection", params.Detectors.Rejection, &rjCfg},
		{"engulfing", params.Detectors.Engulfing, &enCfg},
	}
	for _, d := range decodes {
		if err := config.DecodeDetector(d.section, d.target); err != nil {
			return nil, fmt.Errorf("decoding detectors.%s: %w", d.name, err)
		}
	}
	ob, err := detectors.NewOrderBlock(obCfg)
	if err != nil {
		return nil, err
	}
	fvg, err := detectors.NewFVG(fvgCfg)
	if err != nil {
		return nil, err
	}
	bos, err := detectors.NewBOS(bosCfg)
	if err != nil {
		return nil, err
	}
	sw, err := detectors.NewSweep(swCfg)
	if err != nil {
		return nil, err
	}
	rj, err := detectors.NewRejection(rjCfg)
	if err != nil {
		return nil, err
	}
	en, err := detectors.NewEngulfing(enCfg)
	if err != nil {
		return nil, err
	}
	return detectors.NewManager(capCfg, ob, fvg, bos, sw, rj, en)
}

// ApplyParams queues a hot-reloaded parameter set; it takes effect at the
// start of the next bar so no bar is processed under mixed parameters.
func (e *Engine) ApplyParams(params config.Params) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := params
	e.pending = &p
}

func (e *Engine) takePending() *config.Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pending
	e.pending = nil
	return p
}

// OnBar processes one bar through the full pipeline. Input errors
// (out-of-order or duplicate bars) are skipped and logged, never fatal.
func (e *Engine) OnBar(ctx context.Context, bar market.Bar) error {
	if pending := e.takePending(); pending != nil {
		if err := e.rebuild(*pending); err != nil {
			logger.Errorf("engine %s: params reload rejected: %v", e.symbol, err)
		} else {
			logger.Infof("engine %s: strategy params applied", e.symbol)
		}
	}

	if err := bar.Validate(); err != nil {
		e.skipBar(bar, err)
		return nil
	}
	if err := e.series.Append(bar); err != nil {
		if errors.Is(err, market.ErrOutOfOrder) || errors.Is(err, market.ErrDuplicate) {
			e.skipBar(bar, err)
			return nil
		}
		return err
	}

	volCtx := e.volCalc.Context(e.series)
	trendSnap := e.trend.Snapshot(e.series)
	session := e.sessions.SessionFor(bar.Timestamp.UTC().Hour())

	detCtx := detectors.Context{
		Symbol:    e.symbol,
		Timeframe: e.timeframe,
		SessionID: session,
		Bars:      e.series.Tail(e.series.Len()),
		LastIndex: e.series.LastIndex(),
		Vol:       volCtx,
		Trend:     trendSnap,
		Tiers:     e.tiers,
	}
	outcome := e.manager.ProcessBar(detCtx)
	e.recordOutcome(bar, outcome)

	equity, eqErr := e.observeRisk(ctx, bar)
	if eqErr != nil {
		logger.Errorf("engine %s: equity observation failed: %v", e.symbol, eqErr)
	}

	result, top, err := e.gate(bar, session, outcome, trendSnap, volCtx)
	if err != nil {
		return err
	}
	if !result.Passed {
		return nil
	}

	if eqErr != nil {
		// No trustworthy equity this bar: detectors and gating already
		// ran, but nothing may be sized or sent.
		return nil
	}
	d, ok := e.plan(bar, top, volCtx, result, equity)
	if !ok {
		return nil
	}
	e.emit(events.KindDecisionEmitted, bar, map[string]any{
		"side":        string(d.Side),
		"entry":       d.Entry.String(),
		"stop":        d.Stop.String(),
		"take_profit": d.TakeProfit.String(),
		"size":        d.PositionSize.String(),
		"rr":          d.RR,
		"exit_reason": d.ExitReason,
		"clamped":     d.Clamped,
		"origin":      d.OriginStructureID,
		"confidence":  d.Confidence,
	})
	if e.store != nil {
		if err := e.store.SaveDecision(e.emitter.RunID(), d); err != nil {
			logger.Errorf("engine %s: persisting decision failed: %v", e.symbol, err)
		}
	}

	e.execute(ctx, bar, d, equity)
	return nil
}

func (e *Engine) skipBar(bar market.Bar, cause error) {
	logger.Warnf("engine %s: skipping bar %s: %v", e.symbol, bar.Timestamp, cause)
	e.emit(events.KindBarSkipped, bar, map[string]any{"cause": cause.Error()})
}

func (e *Engine) recordOutcome(bar market.Bar, outcome detectors.Outcome) {
	for _, st := range outcome.Fired {
		e.emit(events.KindStructureDetected, bar, map[string]any{
			"id":       st.ID,
			"detector": st.Detector,
			"type":     string(st.Type),
			"dir":      string(st.Direction),
			"quality":  st.Quality,
			"tier":     string(st.Tier),
		})
		if e.store != nil {
			if err := e.store.SaveStructure(e.emitter.RunID(), st); err != nil {
				logger.Errorf("engine %s: persisting structure failed: %v", e.symbol, err)
			}
		}
	}
	for _, tr := range outcome.Transitions {
		e.emit(events.KindStructureLifecycle, bar, map[string]any{
			"id":   tr.Structure.ID,
			"from": string(tr.From),
			"to":   string(tr.To),
		})
		if e.store != nil {
			if err := e.store.SaveTransition(e.emitter.RunID(), tr.Structure.ID, tr.From, tr.To, bar.Timestamp.Unix()); err != nil {
				logger.Errorf("engine %s: persisting transition failed: %v", e.symbol, err)
			}
		}
	}
}

func (e *Engine) observeRisk(ctx context.Context, bar market.Bar) (decimal.Decimal, error) {
	eq, err := e.equity.Equity(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	transitions := e.guard.Risk().Observe(eq, bar.Timestamp)
	for _, tr := range transitions {
		e.emit(events.KindRiskTransition, bar, map[string]any{
			"from":     tr.From.String(),
			"to":       tr.To.String(),
			"drawdown": tr.Drawdown,
			"shadow":   tr.Shadow,
			"reset":    tr.Reset,
		})
		if e.store != nil {
			if err := e.store.SaveRiskTransition(e.emitter.RunID(), tr); err != nil {
				logger.Errorf("engine %s: persisting risk transition failed: %v", e.symbol, err)
			}
		}
	}
	e.guard.HandleRiskTransitions(ctx, transitions)
	return eq, nil
}

// gate runs the composite scorer over the ranked set and the auxiliary
// signals. top is the highest-ranked structure, nil when the set is empty.
func (e *Engine) gate(bar market.Bar, session string, outcome detectors.Outcome, trendSnap trend.Snapshot, volCtx volatility.Context) (scorer.Result, *structure.Structure, error) {
	var top *structure.Structure
	if len(outcome.Ranked) > 0 {
		top = outcome.Ranked[0]
	}

	inputs := scorer.Inputs{Structures: outcome.Ranked}
	if top != nil {
		inputs.Rejection = rejectionSignal(outcome.Ranked, top.Direction)
		inputs.TrendAlignment = trendSnap.Alignment(top.Direction == structure.Bullish)
		inputs.ZoneProximity = zoneProximity(volCtx, outcome.Ranked, bar.Close)
	}

	key := scorer.ThresholdKey{
		Timeframe:       e.timeframe,
		InstrumentClass: e.cons.InstrumentClass,
		Session:         session,
	}
	result, err := e.scorer.Evaluate(key, inputs)
	if err != nil {
		// Threshold coverage is checked at startup; reaching this means
		// the configuration changed underneath us.
		return scorer.Result{}, nil, fmt.Errorf("engine %s: %w", e.symbol, err)
	}
	fields := map[string]any{
		"score":     result.Score,
		"passed":    result.Passed,
		"threshold": result.Threshold,
		"session":   session,
	}
	if len(result.GateReasons) > 0 {
		fields["reasons"] = result.GateReasons
	}
	if top != nil {
		fields["top"] = top.ID
	}
	e.emit(events.KindGateEvaluated, bar, fields)
	return result, top, nil
}

// rejectionSignal derives the auxiliary signal from the best same-direction
// zone rejection in the ranked set. Confirmation means the rejection has
// progressed past detection.
func rejectionSignal(ranked []*structure.Structure, dir structure.Direction) scorer.RejectionSignal {
	for _, st := range ranked {
		if st.Type != structure.TypeZoneRejection || st.Direction != dir {
			continue
		}
		return scorer.RejectionSignal{
			Strength:  st.Quality,
			Confirmed: st.State == structure.LifecyclePartial || st.State == structure.LifecycleFilled,
		}
	}
	return scorer.RejectionSignal{}
}

// zoneProximity scores how close price sits to the nearest active zone, 1 at
// the zone and decaying to 0 at zoneProximityScaleATR away. Only order blocks
// and fair value gaps count as zones; breaks, sweeps and candle patterns in
// the ranked set never pull the score up.
func zoneProximity(volCtx volatility.Context, ranked []*structure.Structure, price decimal.Decimal) float64 {
	dist, ok := detectors.NearestZoneDistanceATR(volCtx, detectors.FilterZones(ranked), price)
	if !ok {
		return 0
	}
	return decmath.Clamp01(1 - dist/zoneProximityScaleATR)
}

// plan runs the exit chain and assembles the Decision. A planning failure is
// logged with the attempted chain and the bar simply emits nothing.
func (e *Engine) plan(bar market.Bar, top *structure.Structure, volCtx volatility.Context, result scorer.Result, equity decimal.Decimal) (decision.Decision, bool) {
	entry := e.cons.SnapPrice(bar.Close)
	p, err := e.planner.Plan(top, entry, volCtx, e.cons)
	if err != nil {
		logger.Infof("engine %s: no decision for %s: %v", e.symbol, top.ID, err)
		return decision.Decision{}, false
	}

	side := decision.Buy
	if top.Direction == structure.Bearish {
		side = decision.Sell
	}
	d := decision.Decision{
		Symbol:            e.symbol,
		Side:              side,
		Entry:             entry,
		Stop:              p.Stop,
		TakeProfit:        p.Target,
		RR:                p.RR,
		OriginStructureID: top.ID,
		Confidence:        result.Score,
		ExitReason:        p.Reason,
		Clamped:           p.Clamped,
		BarTime:           bar.Timestamp,
		Metadata: map[string]string{
			"structure_type": string(top.Type),
			"tier":           string(top.Tier),
		},
	}
	size, reasons := e.guard.SizeFor(d, equity)
	if len(reasons) > 0 {
		logger.Infof("engine %s: no decision for %s: sizing rejected (%v)", e.symbol, top.ID, reasons)
		return decision.Decision{}, false
	}
	d.PositionSize = size
	if err := d.Validate(); err != nil {
		logger.Errorf("engine %s: malformed decision dropped: %v", e.symbol, err)
		return decision.Decision{}, false
	}
	return d, true
}

// execute runs the guard; the ExecutionResult is consumed for logging only.
func (e *Engine) execute(ctx context.Context, bar market.Bar, d decision.Decision, equity decimal.Decimal) {
	open, err := e.positions.OpenPositions(ctx)
	if err != nil {
		logger.Errorf("engine %s: open positions unavailable, order not sent: %v", e.symbol, err)
		return
	}
	res := e.guard.Execute(ctx, d, equity, open)
	if res.Accepted {
		logger.Infof("engine %s: order accepted id=%s attempts=%d", e.symbol, res.BrokerOrderID, res.Attempts)
		return
	}
	e.emit(events.KindOrderRejected, bar, map[string]any{
		"reasons":  res.RejectionReasons,
		"attempts": res.Attempts,
	})
	logger.Warnf("engine %s: order rejected (%v)", e.symbol, res.RejectionReasons)
}

func (e *Engine) emit(kind events.Kind, bar market.Bar, fields map[string]any) {
	e.emitter.Emit(kind, e.symbol, e.timeframe, bar.Timestamp, fields)
}
