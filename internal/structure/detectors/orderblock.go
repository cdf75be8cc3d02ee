package detectors

import (
	"fmt"

	"github.com/Terrxnce/DEVI-sub000/internal/pkg/decmath"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

// OrderBlockConfig parameterizes the order block detector. A block is the
// last opposite candle before a displacement move that clears the prior swing.
type OrderBlockConfig struct {
	MinDisplacementATR float64            `mapstructure:"min_displacement_atr"`
	MinBreakExcessATR  float64            `mapstructure:"min_break_excess_atr"`
	PivotLookback      int                `mapstructure:"pivot_lookback"`
	OppositeSpan       int                `mapstructure:"opposite_span"`
	RequireBOSLink     bool               `mapstructure:"require_bos_link"`
	BOSLinkWindow      int                `mapstructure:"bos_link_window"`
	MaxAgeBars         int                `mapstructure:"max_age_bars"`
	DebounceBars       int                `mapstructure:"debounce_bars"`
	Weights            map[string]float64 `mapstructure:"weights"`
}

var orderBlockWeightKeys = []string{"body_dominance", "displacement", "break_excess", "wick_cleanliness"}

type orderBlockDetector struct {
	cfg      OrderBlockConfig
	w        weights
	debounce debounce
}

// NewOrderBlock builds the order block detector.
func NewOrderBlock(cfg OrderBlockConfig) (Detector, error) {
	w := weights(cfg.Weights)
	if err := w.validate("order_block", orderBlockWeightKeys); err != nil {
		return nil, err
	}
	if cfg.MinDisplacementATR <= 0 || cfg.MinBreakExcessATR <= 0 {
		return nil, fmt.Errorf("order_block: displacement and break excess multiples must be > 0")
	}
	if cfg.PivotLookback <= 0 {
		return nil, fmt.Errorf("order_block: pivot_lookback must be > 0")
	}
	if cfg.OppositeSpan <= 0 {
		cfg.OppositeSpan = 10
	}
	if cfg.BOSLinkWindow <= 0 {
		cfg.BOSLinkWindow = 20
	}
	return &orderBlockDetector{cfg: cfg, w: w, debounce: newDebounce(cfg.DebounceBars)}, nil
}

func (d *orderBlockDetector) Name() string         { return "order_block" }
func (d *orderBlockDetector) Type() structure.Type { return structure.TypeOrderBlock }

// Detect treats the current bar as the displacement candle: body at least
// k1*ATR, close clearing the prior swing by k2*ATR, with the zone taken from
// the last opposite-colored candle before it. When a same-direction break of
// structure is active it is linked by id; with require_bos_link set the link
// is a hard gate.
func (d *orderBlockDetector) Detect(ctx Context) ([]*structure.Structure, error) {
	if !ctx.Vol.Ready() || len(ctx.Bars) < d.cfg.PivotLookback+2 {
		return nil, nil
	}
	cur := ctx.Current()
	minBody := ctx.Vol.Mult(d.cfg.MinDisplacementATR)
	if cur.Body().Cmp(minBody) < 0 {
		return nil, nil
	}
	var dir structure.Direction
	if cur.IsBullish() {
		dir = structure.Bullish
	} else if cur.IsBearish() {
		dir = structure.Bearish
	} else {
		return nil, nil
	}

	pivotHigh, pivotLow, ok := priorExtremes(ctx.Bars, d.cfg.PivotLookback)
	if !ok {
		return nil, nil
	}
	minExcess := ctx.Vol.Mult(d.cfg.MinBreakExcessATR)
	var excess = decmath.Zero
	if dir == structure.Bullish {
		excess = cur.Close.Sub(pivotHigh)
	} else {
		excess = pivotLow.Sub(cur.Close)
	}
	if excess.Cmp(minExcess) < 0 {
		return nil, nil
	}

	block, blockRel, found := lastOppositeCandle(ctx.Bars, dir, d.cfg.OppositeSpan)
	if !found {
		return nil, nil
	}
	originIndex := ctx.LastIndex - (len(ctx.Bars) - 1 - blockRel)
	if !d.debounce.allow(dir, originIndex) {
		return nil, nil
	}

	var links []string
	if bos, ok := recentSameDirection(ctx.Zones, structure.TypeBreakOfStructure, dir, ctx.LastIndex, d.cfg.BOSLinkWindow); ok {
		links = append(links, bos.ID)
	} else if d.cfg.RequireBOSLink {
		return nil, nil
	}

	// Wick against the displacement direction dirties the candle.
	wick := cur.UpperWick()
	if dir == structure.Bearish {
		wick = cur.LowerWick()
	}
	components := map[string]float64{
		"body_dominance":   cur.BodyRatio(),
		"displacement":     thresholdScore(cur.Body(), minBody),
		"break_excess":     thresholdScore(excess, minExcess),
		"wick_cleanliness": decmath.Clamp01(1 - decmath.Ratio(wick, cur.Range())),
	}
	geo := structure.Geometry{Low: block.Low, High: block.High, OriginIndex: originIndex}
	s := &structure.Structure{
		Detector:   d.Name(),
		Type:       d.Type(),
		Symbol:     ctx.Symbol,
		Timeframe:  ctx.Timeframe,
		Direction:  dir,
		Geometry:   geo,
		OriginTime: block.Timestamp,
		Quality:    d.w.score(components),
		State:      structure.LifecycleUnfilled,
		Links:      links,
		Metadata:   components,
	}
	s.Tier = ctx.Tiers.TierFor(s.Quality)
	s.ID = structure.NewID(d.Name(), d.Type(), ctx.Symbol, ctx.Timeframe, dir, geo, s.OriginTime)
	d.debounce.mark(dir, originIndex)
	return []*structure.Structure{s}, nil
}

// Advance walks the retest ladder: midpoint touch makes the block partial, a
// trade through the far edge fills it, max age expires it.
func (d *orderBlockDetector) Advance(ctx Context, active []*structure.Structure) []Transition {
	cur := ctx.Current()
	var out []Transition
	apply := func(s *structure.Structure, to structure.Lifecycle) {
		from := s.State
		if err := s.Transition(to); err == nil {
			out = append(out, Transition{Structure: s, From: from, To: to})
		}
	}
	for _, s := range active {
		if s.State.Terminal() || s.Geometry.OriginIndex == ctx.LastIndex {
			continue
		}
		mid := s.Geometry.Midpoint()
		var midTouched, fullRetest bool
		switch s.Direction {
		case structure.Bullish: // price returning down into the block
			midTouched = cur.Low.Cmp(mid) <= 0
			fullRetest = cur.Low.Cmp(s.Geometry.Low) <= 0
		case structure.Bearish: // price returning up into the block
			midTouched = cur.High.Cmp(mid) >= 0
			fullRetest = cur.High.Cmp(s.Geometry.High) >= 0
		}
		switch {
		case fullRetest && s.State != structure.LifecycleFilled:
			if s.State == structure.LifecycleUnfilled {
				apply(s, structure.LifecyclePartial)
			}
			apply(s, structure.LifecycleFilled)
		case midTouched && s.State == structure.LifecycleUnfilled:
			apply(s, structure.LifecyclePartial)
		}
	}
	out = append(out, expireByAge(ctx, active, d.cfg.MaxAgeBars)...)
	return out
}
