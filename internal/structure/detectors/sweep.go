package detectors

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Terrxnce/DEVI-sub000/internal/market"
	"github.com/Terrxnce/DEVI-sub000/internal/pkg/decmath"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

// SweepConfig parameterizes the liquidity sweep detector: a wick through a
// prior extreme that closes back inside, trading away afterwards.
type SweepConfig struct {
	MinPenetrationATR  float64            `mapstructure:"min_penetration_atr"`
	MinContinuationATR float64            `mapstructure:"min_continuation_atr"`
	ReentryWindowBars  int                `mapstructure:"reentry_window_bars"`
	PivotLookback      int                `mapstructure:"pivot_lookback"`
	MaxAgeBars         int                `mapstructure:"max_age_bars"`
	DebounceBars       int                `mapstructure:"debounce_bars"`
	Weights            map[string]float64 `mapstructure:"weights"`
}

var sweepWeightKeys = []string{"penetration", "follow_through", "context"}

type sweepDetector struct {
	cfg      SweepConfig
	w        weights
	debounce debounce
}

// NewSweep builds the sweep detector.
func NewSweep(cfg SweepConfig) (Detector, error) {
	w := weights(cfg.Weights)
	if err := w.validate("sweep", sweepWeightKeys); err != nil {
		return nil, err
	}
	if cfg.MinPenetrationATR <= 0 || cfg.MinContinuationATR <= 0 {
		return nil, fmt.Errorf("sweep: penetration and continuation multiples must be > 0")
	}
	if cfg.ReentryWindowBars <= 0 {
		cfg.ReentryWindowBars = 3
	}
	if cfg.PivotLookback <= 0 {
		return nil, fmt.Errorf("sweep: pivot_lookback must be > 0")
	}
	return &sweepDetector{cfg: cfg, w: w, debounce: newDebounce(cfg.DebounceBars)}, nil
}

func (d *sweepDetector) Name() string         { return "sweep" }
func (d *sweepDetector) Type() structure.Type { return structure.TypeSweep }

// Detect fires when the current bar closes back inside after its wick cleared
// a prior extreme by the penetration multiple. A sweep of highs yields a
// bearish structure, a sweep of lows a bullish one.
func (d *sweepDetector) Detect(ctx Context) ([]*structure.Structure, error) {
	if !ctx.Vol.Ready() || len(ctx.Bars) < d.cfg.PivotLookback+1 {
		return nil, nil
	}
	cur := ctx.Current()
	priorHigh, priorLow, ok := priorExtremes(ctx.Bars, d.cfg.PivotLookback)
	if !ok {
		return nil, nil
	}
	minPen := ctx.Vol.Mult(d.cfg.MinPenetrationATR)

	var out []*structure.Structure
	build := func(dir structure.Direction, geo structure.Geometry, penetration decimal.Decimal, extreme decimal.Decimal) {
		if !d.debounce.allow(dir, ctx.LastIndex) {
			return
		}
		zoneDist, hasZone := NearestZoneDistanceATR(ctx.Vol, FilterZones(ctx.Zones), extreme)
		contextBonus := 0.0
		if hasZone {
			contextBonus = decmath.Clamp01(1 - zoneDist)
		}
		// Follow-through measured from the close-back toward continuation.
		var progress decimal.Decimal
		if dir == structure.Bearish {
			progress = geo.Low.Sub(cur.Close)
		} else {
			progress = cur.Close.Sub(geo.High)
		}
		components := map[string]float64{
			"penetration":    thresholdScore(penetration, minPen),
			"follow_through": decmath.Clamp01(decmath.Ratio(progress, ctx.Vol.Mult(d.cfg.MinContinuationATR))),
			"context":        contextBonus,
		}
		s := &structure.Structure{
			Detector:   d.Name(),
			Type:       d.Type(),
			Symbol:     ctx.Symbol,
			Timeframe:  ctx.Timeframe,
			Direction:  dir,
			Geometry:   geo,
			OriginTime: cur.Timestamp,
			Quality:    d.w.score(components),
			State:      structure.LifecycleUnfilled,
			Metadata:   components,
		}
		s.Tier = ctx.Tiers.TierFor(s.Quality)
		s.ID = structure.NewID(d.Name(), d.Type(), ctx.Symbol, ctx.Timeframe, dir, geo, s.OriginTime)
		d.debounce.mark(dir, ctx.LastIndex)
		out = append(out, s)
	}

	// Sweep of the highs: wick above the prior high, close back below it.
	if pen := cur.High.Sub(priorHigh); pen.Cmp(minPen) >= 0 && cur.Close.Cmp(priorHigh) < 0 {
		geo := structure.Geometry{Low: priorHigh, High: cur.High, OriginIndex: ctx.LastIndex}
		build(structure.Bearish, geo, pen, cur.High)
	}
	// Sweep of the lows: wick below the prior low, close back above it.
	if pen := priorLow.Sub(cur.Low); pen.Cmp(minPen) >= 0 && cur.Close.Cmp(priorLow) > 0 {
		geo := structure.Geometry{Low: cur.Low, High: priorLow, OriginIndex: ctx.LastIndex}
		build(structure.Bullish, geo, pen, cur.Low)
	}
	return out, nil
}

// Advance fills a sweep once price continues away from the swept level by the
// continuation multiple within the reentry window, and expires it otherwise.
func (d *sweepDetector) Advance(ctx Context, active []*structure.Structure) []Transition {
	cur := ctx.Current()
	minCont := ctx.Vol.Mult(d.cfg.MinContinuationATR)
	var out []Transition
	for _, s := range active {
		if s.State != structure.LifecycleUnfilled || s.Geometry.OriginIndex == ctx.LastIndex {
			continue
		}
		age := s.AgeBars(ctx.LastIndex)
		var confirmed bool
		switch s.Direction {
		case structure.Bearish:
			confirmed = s.Geometry.Low.Sub(cur.Close).Cmp(minCont) >= 0
		case structure.Bullish:
			confirmed = cur.Close.Sub(s.Geometry.High).Cmp(minCont) >= 0
		}
		from := s.State
		switch {
		case confirmed:
			if err := s.Transition(structure.LifecycleFilled); err == nil {
				out = append(out, Transition{Structure: s, From: from, To: structure.LifecycleFilled})
			}
		case age > d.cfg.ReentryWindowBars && wickReclaimed(cur, s):
			// Price reclaimed the swept level instead of continuing.
			if err := s.Transition(structure.LifecycleInvalidated); err == nil {
				out = append(out, Transition{Structure: s, From: from, To: structure.LifecycleInvalidated})
			}
		}
	}
	out = append(out, expireByAge(ctx, active, d.cfg.MaxAgeBars)...)
	return out
}

func wickReclaimed(cur market.Bar, s *structure.Structure) bool {
	switch s.Direction {
	case structure.Bearish:
		return cur.Close.Cmp(s.Geometry.High) > 0
	case structure.Bullish:
		return cur.Close.Cmp(s.Geometry.Low) < 0
	}
	return false
}
