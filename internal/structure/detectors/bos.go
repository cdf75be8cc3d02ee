package detectors

import (
	"fmt"

	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

// BOSConfig parameterizes the break-of-structure detector.
type BOSConfig struct {
	MinBreakATR   float64            `mapstructure:"min_break_atr"`
	PivotLookback int                `mapstructure:"pivot_lookback"`
	MaxAgeBars    int                `mapstructure:"max_age_bars"`
	DebounceBars  int                `mapstructure:"debounce_bars"`
	Weights       map[string]float64 `mapstructure:"weights"`
}

var bosWeightKeys = []string{"break_strength"}

type bosDetector struct {
	cfg      BOSConfig
	w        weights
	debounce debounce
}

// NewBOS builds the break-of-structure detector.
func NewBOS(cfg BOSConfig) (Detector, error) {
	w := weights(cfg.Weights)
	if err := w.validate("bos", bosWeightKeys); err != nil {
		return nil, err
	}
	if cfg.MinBreakATR <= 0 {
		return nil, fmt.Errorf("bos: min_break_atr must be > 0")
	}
	if cfg.PivotLookback <= 0 {
		return nil, fmt.Errorf("bos: pivot_lookback must be > 0")
	}
	return &bosDetector{cfg: cfg, w: w, debounce: newDebounce(cfg.DebounceBars)}, nil
}

func (d *bosDetector) Name() string         { return "bos" }
func (d *bosDetector) Type() structure.Type { return structure.TypeBreakOfStructure }

// Detect fires when the current close clears the prior pivot high/low by the
// configured ATR multiple. The debounce window enforces the minimum spacing
// between same-direction breaks.
func (d *bosDetector) Detect(ctx Context) ([]*structure.Structure, error) {
	if !ctx.Vol.Ready() || len(ctx.Bars) < d.cfg.PivotLookback+1 {
		return nil, nil
	}
	pivotHigh, pivotLow, ok := priorExtremes(ctx.Bars, d.cfg.PivotLookback)
	if !ok {
		return nil, nil
	}
	cur := ctx.Current()
	minBreak := ctx.Vol.Mult(d.cfg.MinBreakATR)

	var out []*structure.Structure
	build := func(dir structure.Direction, geo structure.Geometry) {
		if !d.debounce.allow(dir, ctx.LastIndex) {
			return
		}
		components := map[string]float64{
			"break_strength": thresholdScore(geo.Height(), minBreak),
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

	if cur.Close.Sub(pivotHigh).Cmp(minBreak) >= 0 {
		build(structure.Bullish, structure.Geometry{Low: pivotHigh, High: cur.Close, OriginIndex: ctx.LastIndex})
	}
	if pivotLow.Sub(cur.Close).Cmp(minBreak) >= 0 {
		build(structure.Bearish, structure.Geometry{Low: cur.Close, High: pivotLow, OriginIndex: ctx.LastIndex})
	}
	return out, nil
}

// Advance confirms a break once a later close holds beyond the broken pivot,
// and expires it past max age.
func (d *bosDetector) Advance(ctx Context, active []*structure.Structure) []Transition {
	cur := ctx.Current()
	var out []Transition
	for _, s := range active {
		if s.State != structure.LifecycleUnfilled || s.Geometry.OriginIndex == ctx.LastIndex {
			continue
		}
		held := false
		switch s.Direction {
		case structure.Bullish:
			held = cur.Close.Cmp(s.Geometry.Low) > 0 // pivot level is the zone floor
		case structure.Bearish:
			held = cur.Close.Cmp(s.Geometry.High) < 0 // pivot level is the zone ceiling
		}
		if held {
			from := s.State
			if err := s.Transition(structure.LifecycleFilled); err == nil {
				out = append(out, Transition{Structure: s, From: from, To: structure.LifecycleFilled})
			}
		}
	}
	out = append(out, expireByAge(ctx, active, d.cfg.MaxAgeBars)...)
	return out
}
