package detectors

import (
	"fmt"

	"github.com/Terrxnce/DEVI-sub000/internal/pkg/decmath"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

// RejectionConfig parameterizes the unified zone rejection detector: price
// tags a known order block or fair value gap, prints a reaction candle
// against the zone, and is expected to continue away from it.
type RejectionConfig struct {
	ZoneBufferATR      float64            `mapstructure:"zone_buffer_atr"`
	MinReactionATR     float64            `mapstructure:"min_reaction_atr"`
	MinContinuationATR float64            `mapstructure:"min_continuation_atr"`
	LookaheadBars      int                `mapstructure:"lookahead_bars"`
	MaxAgeBars         int                `mapstructure:"max_age_bars"`
	DebounceBars       int                `mapstructure:"debounce_bars"`
	Weights            map[string]float64 `mapstructure:"weights"`
}

var rejectionWeightKeys = []string{"reaction_body", "follow_through", "penetration_depth", "context"}

type rejectionDetector struct {
	cfg      RejectionConfig
	w        weights
	debounce debounce
}

// NewRejection builds the unified zone rejection detector.
func NewRejection(cfg RejectionConfig) (Detector, error) {
	w := weights(cfg.Weights)
	if err := w.validate("zone_rejection", rejectionWeightKeys); err != nil {
		return nil, err
	}
	if cfg.MinReactionATR <= 0 || cfg.MinContinuationATR <= 0 {
		return nil, fmt.Errorf("zone_rejection: reaction and continuation multiples must be > 0")
	}
	if cfg.LookaheadBars <= 0 {
		cfg.LookaheadBars = 5
	}
	return &rejectionDetector{cfg: cfg, w: w, debounce: newDebounce(cfg.DebounceBars)}, nil
}

func (d *rejectionDetector) Name() string         { return "zone_rejection" }
func (d *rejectionDetector) Type() structure.Type { return structure.TypeZoneRejection }

// Detect scans the active zones for a touch-plus-reaction on the current bar.
// A bullish zone rejection needs the bar to dip into the zone (within the
// buffer) and close back above it with a reaction body of at least the
// configured ATR multiple; bearish is the mirror image.
func (d *rejectionDetector) Detect(ctx Context) ([]*structure.Structure, error) {
	if !ctx.Vol.Ready() || len(ctx.Bars) < 2 {
		return nil, nil
	}
	cur := ctx.Current()
	buffer := ctx.Vol.Mult(d.cfg.ZoneBufferATR)
	minReaction := ctx.Vol.Mult(d.cfg.MinReactionATR)
	zones := FilterZones(ctx.Zones)

	var out []*structure.Structure
	for _, z := range zones {
		if !z.Active() {
			continue
		}
		dir := z.Direction
		var touched, reacted bool
		var depth float64
		switch dir {
		case structure.Bullish: // zone acts as support
			touched = cur.Low.Cmp(z.Geometry.High.Add(buffer)) <= 0 && cur.Low.Cmp(z.Geometry.Low.Sub(buffer)) >= 0
			reacted = cur.IsBullish() && cur.Body().Cmp(minReaction) >= 0 && cur.Close.Cmp(z.Geometry.High) > 0
			depth = decmath.Clamp01(decmath.Ratio(z.Geometry.High.Sub(cur.Low), z.Geometry.Height()))
		case structure.Bearish: // zone acts as resistance
			touched = cur.High.Cmp(z.Geometry.Low.Sub(buffer)) >= 0 && cur.High.Cmp(z.Geometry.High.Add(buffer)) <= 0
			reacted = cur.IsBearish() && cur.Body().Cmp(minReaction) >= 0 && cur.Close.Cmp(z.Geometry.Low) < 0
			depth = decmath.Clamp01(decmath.Ratio(cur.High.Sub(z.Geometry.Low), z.Geometry.Height()))
		}
		if !touched || !reacted {
			continue
		}
		if !d.debounce.allow(dir, ctx.LastIndex) {
			continue
		}
		components := map[string]float64{
			"reaction_body":     thresholdScore(cur.Body(), minReaction),
			"follow_through":    0, // earned in lifecycle, scored conservatively at detection
			"penetration_depth": depth,
			"context":           ctx.Trend.Alignment(dir == structure.Bullish),
		}
		geo := structure.Geometry{Low: z.Geometry.Low, High: z.Geometry.High, OriginIndex: ctx.LastIndex}
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
			Links:      []string{z.ID},
			Metadata:   components,
		}
		s.Tier = ctx.Tiers.TierFor(s.Quality)
		s.ID = structure.NewID(d.Name(), d.Type(), ctx.Symbol, ctx.Timeframe, dir, geo, s.OriginTime)
		d.debounce.mark(dir, ctx.LastIndex)
		out = append(out, s)
	}
	return out, nil
}

// Advance promotes a rejection to partial once the next bar holds outside the
// zone, fills it on continuation within the lookahead window, invalidates it
// when price closes through the zone, and expires it otherwise.
func (d *rejectionDetector) Advance(ctx Context, active []*structure.Structure) []Transition {
	cur := ctx.Current()
	minCont := ctx.Vol.Mult(d.cfg.MinContinuationATR)
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
		age := s.AgeBars(ctx.LastIndex)
		var violated, held, continued bool
		switch s.Direction {
		case structure.Bullish:
			violated = cur.Close.Cmp(s.Geometry.Low) < 0
			held = cur.Close.Cmp(s.Geometry.High) > 0
			continued = cur.Close.Sub(s.Geometry.High).Cmp(minCont) >= 0
		case structure.Bearish:
			violated = cur.Close.Cmp(s.Geometry.High) > 0
			held = cur.Close.Cmp(s.Geometry.Low) < 0
			continued = s.Geometry.Low.Sub(cur.Close).Cmp(minCont) >= 0
		}
		switch {
		case violated:
			apply(s, structure.LifecycleInvalidated)
		case continued:
			if s.State == structure.LifecycleUnfilled {
				apply(s, structure.LifecyclePartial)
			}
			apply(s, structure.LifecycleFilled)
		case held && s.State == structure.LifecycleUnfilled:
			apply(s, structure.LifecyclePartial)
		case age > d.cfg.LookaheadBars && s.State != structure.LifecycleFilled:
			apply(s, structure.LifecycleExpired)
		}
	}
	out = append(out, expireByAge(ctx, active, d.cfg.MaxAgeBars)...)
	return out
}
