// Package exitplan computes stop-loss/take-profit pairs for gated structures.
//
// Strategies are tried in a fixed priority order: structure-type geometry,
// then an ATR-multiple fallback (with a single algebraic target extension when
// the floor is missed), then a geometry-only legacy rule. Every candidate is
// snapped to the venue tick grid and clamped to the venue minimum stop
// distance before its reward:risk ratio is measured; a plan below the RR
// floor is never returned.
package exitplan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Terrxnce/DEVI-sub000/internal/analysis/volatility"
	"github.com/Terrxnce/DEVI-sub000/internal/pkg/decmath"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
	"github.com/Terrxnce/DEVI-sub000/internal/venue"
)

// Strategy tier identifiers recorded on every emitted plan.
const (
	ReasonStructureGeometry   = "structure_geometry"
	ReasonATRFallback         = "atr_fallback"
	ReasonATRFallbackExtended = "atr_fallback_extended"
	ReasonLegacyGeometry      = "legacy_geometry"
)

// ErrNoViablePlan means the whole fallback chain was exhausted without
// reaching the RR floor. The caller logs the attempted chain and moves on.
var ErrNoViablePlan = errors.New("exitplan: no strategy reached the RR floor")

// Config holds the planner thresholds. All of them come from the strategy
// parameter file; the zero value is not usable.
type Config struct {
	RRFloor          float64 `mapstructure:"rr_floor"`
	StopBufferATR    float64 `mapstructure:"stop_buffer_atr"`
	GeometryProject  float64 `mapstructure:"geometry_projection"`
	ATRStopMult      float64 `mapstructure:"atr_stop_mult"`
	ATRTargetMult    float64 `mapstructure:"atr_target_mult"`
	LegacyBufferPct  float64 `mapstructure:"legacy_buffer_pct"`
	LegacyProjection float64 `mapstructure:"legacy_projection"`
}

// DefaultConfig mirrors the strategy file defaults.
func DefaultConfig() Config {
	return Config{
		RRFloor:          2.0,
		StopBufferATR:    0.25,
		GeometryProject:  2.0,
		ATRStopMult:      1.5,
		ATRTargetMult:    3.0,
		LegacyBufferPct:  0.10,
		LegacyProjection: 2.0,
	}
}

func (c Config) validate() error {
	if c.RRFloor <= 0 {
		return fmt.Errorf("exitplan: rr_floor must be > 0, got %v", c.RRFloor)
	}
	if c.StopBufferATR < 0 || c.LegacyBufferPct < 0 {
		return fmt.Errorf("exitplan: stop buffers must be >= 0")
	}
	if c.GeometryProject <= 0 || c.LegacyProjection <= 0 {
		return fmt.Errorf("exitplan: geometry projections must be > 0")
	}
	if c.ATRStopMult <= 0 || c.ATRTargetMult <= 0 {
		return fmt.Errorf("exitplan: atr multiples must be > 0")
	}
	return nil
}

// Plan is one accepted stop/target pair. Attempted lists every strategy tier
// tried in order, ending with the one that produced the plan.
type Plan struct {
	Stop      decimal.Decimal
	Target    decimal.Decimal
	RR        float64
	Reason    string
	Clamped   bool
	Attempted []string
}

// Planner is stateless; one instance serves all symbols.
type Planner struct {
	cfg Config
}

func New(cfg Config) (*Planner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Planner{cfg: cfg}, nil
}

// candidate is a raw (pre-clamp) stop/target pair from one strategy tier.
type candidate struct {
	stop   decimal.Decimal
	target decimal.Decimal
}

// Plan walks the fallback chain for one gated structure. entry is the intended
// fill price (current close for market entries). An error return means no
// Decision is emitted for this structure.
func (p *Planner) Plan(st *structure.Structure, entry decimal.Decimal, vol volatility.Context, cons venue.Constraints) (Plan, error) {
	if st == nil {
		return Plan{}, fmt.Errorf("exitplan: nil structure")
	}
	var attempted []string

	if cand, ok := p.structureGeometry(st, entry, vol); ok {
		attempted = append(attempted, ReasonStructureGeometry)
		if plan, ok := p.finish(cand, st.Direction, entry, cons, ReasonStructureGeometry, attempted); ok {
			return plan, nil
		}
	}

	if vol.Ready() {
		attempted = append(attempted, ReasonATRFallback)
		cand := p.atrFallback(st.Direction, entry, vol)
		if plan, ok := p.finish(cand, st.Direction, entry, cons, ReasonATRFallback, attempted); ok {
			return plan, nil
		}
		// Bounded single retry: hold the post-clamp stop, push the target
		// out to exactly the floor, and re-snap away from entry so tick
		// rounding cannot pull RR back under.
		attempted = append(attempted, ReasonATRFallbackExtended)
		if plan, ok := p.extendTarget(cand, st.Direction, entry, cons, attempted); ok {
			return plan, nil
		}
	}

	attempted = append(attempted, ReasonLegacyGeometry)
	if cand, ok := p.legacyGeometry(st, entry); ok {
		if plan, ok := p.finish(cand, st.Direction, entry, cons, ReasonLegacyGeometry, attempted); ok {
			return plan, nil
		}
	}

	return Plan{Attempted: attempted}, fmt.Errorf("%w (tried %s)", ErrNoViablePlan, strings.Join(attempted, " -> "))
}

// structureGeometry derives the stop/target from the structure's own zone.
// The stop sits beyond the far edge plus an ATR buffer; the target projects
// the zone height from the near edge. Unusable geometry (zero height, ATR not
// warm, entry on the wrong side of the stop) defers to the fallback chain.
func (p *Planner) structureGeometry(st *structure.Structure, entry decimal.Decimal, vol volatility.Context) (candidate, bool) {
	if !vol.Ready() {
		return candidate{}, false
	}
	geo := st.Geometry
	height := geo.Height()
	if height.Sign() <= 0 {
		return candidate{}, false
	}
	buffer := vol.Mult(p.cfg.StopBufferATR)
	projection := decmath.MulFloat(height, p.cfg.GeometryProject)

	var cand candidate
	switch st.Type {
	case structure.TypeBreakOfStructure:
		// Geometry spans pivot..breaking close; the measured move
		// projects from the close, the stop protects the pivot.
		if st.Direction == structure.Bullish {
			cand.stop = geo.Low.Sub(buffer)
			cand.target = geo.High.Add(projection)
		} else {
			cand.stop = geo.High.Add(buffer)
			cand.target = geo.Low.Sub(projection)
		}
	case structure.TypeSweep:
		// The sweep extreme already marks exhausted liquidity; the stop
		// goes just beyond it, the target projects from the reclaimed
		// level.
		if st.Direction == structure.Bullish {
			cand.stop = geo.Low.Sub(buffer)
			cand.target = geo.High.Add(projection)
		} else {
			cand.stop = geo.High.Add(buffer)
			cand.target = geo.Low.Sub(projection)
		}
	default:
		// Zone types (order block, FVG, rejection, engulfing body):
		// stop beyond the far zone edge, target projected off the edge
		// the price trades away from.
		if st.Direction == structure.Bullish {
			cand.stop = geo.Low.Sub(buffer)
			cand.target = geo.High.Add(projection)
		} else {
			cand.stop = geo.High.Add(buffer)
			cand.target = geo.Low.Sub(projection)
		}
	}

	if !profitableSide(st.Direction, entry, cand.stop, cand.target) {
		return candidate{}, false
	}
	return cand, true
}

func (p *Planner) atrFallback(dir structure.Direction, entry decimal.Decimal, vol volatility.Context) candidate {
	stopDist := vol.Mult(p.cfg.ATRStopMult)
	targetDist := vol.Mult(p.cfg.ATRTargetMult)
	if dir == structure.Bullish {
		return candidate{stop: entry.Sub(stopDist), target: entry.Add(targetDist)}
	}
	return candidate{stop: entry.Add(stopDist), target: entry.Sub(targetDist)}
}

// legacyGeometry is the last-resort rule: no ATR involved, the buffer is a
// fraction of the zone height and the target is a pure measured move.
func (p *Planner) legacyGeometry(st *structure.Structure, entry decimal.Decimal) (candidate, bool) {
	geo := st.Geometry
	height := geo.Height()
	if height.Sign() <= 0 {
		return candidate{}, false
	}
	buffer := decmath.MulFloat(height, p.cfg.LegacyBufferPct)
	projection := decmath.MulFloat(height, p.cfg.LegacyProjection)

	var cand candidate
	if st.Direction == structure.Bullish {
		cand.stop = geo.Low.Sub(buffer)
		cand.target = geo.High.Add(projection)
	} else {
		cand.stop = geo.High.Add(buffer)
		cand.target = geo.Low.Sub(projection)
	}
	if !profitableSide(st.Direction, entry, cand.stop, cand.target) {
		return candidate{}, false
	}
	return cand, true
}

// finish snaps, clamps, and measures a candidate. ok is false when the
// post-clamp RR misses the floor.
func (p *Planner) finish(cand candidate, dir structure.Direction, entry decimal.Decimal, cons venue.Constraints, reason string, attempted []string) (Plan, bool) {
	stop, clamped := clampStop(cand.stop, dir, entry, cons)
	target := cons.SnapPrice(cand.target)
	rr := rewardRisk(entry, stop, target)
	if rr < p.cfg.RRFloor {
		return Plan{}, false
	}
	return Plan{
		Stop:      stop,
		Target:    target,
		RR:        rr,
		Reason:    reason,
		Clamped:   clamped,
		Attempted: append([]string(nil), attempted...),
	}, true
}

// extendTarget re-derives the target from the post-clamp stop distance so
// reward/risk lands exactly on the floor, then snaps the target away from
// entry to keep tick rounding from undercutting it.
func (p *Planner) extendTarget(cand candidate, dir structure.Direction, entry decimal.Decimal, cons venue.Constraints, attempted []string) (Plan, bool) {
	stop, clamped := clampStop(cand.stop, dir, entry, cons)
	risk := entry.Sub(stop).Abs()
	if risk.Sign() <= 0 {
		return Plan{}, false
	}
	reward := decmath.MulFloat(risk, p.cfg.RRFloor)
	var target decimal.Decimal
	if dir == structure.Bullish {
		target = snapAway(entry.Add(reward), cons, true)
	} else {
		target = snapAway(entry.Sub(reward), cons, false)
	}
	rr := rewardRisk(entry, stop, target)
	if rr < p.cfg.RRFloor {
		return Plan{}, false
	}
	return Plan{
		Stop:      stop,
		Target:    target,
		RR:        rr,
		Reason:    ReasonATRFallbackExtended,
		Clamped:   clamped,
		Attempted: append([]string(nil), attempted...),
	}, true
}

// clampStop snaps the stop to the tick grid and widens it to the venue
// minimum distance when it sits too close to entry.
func clampStop(stop decimal.Decimal, dir structure.Direction, entry decimal.Decimal, cons venue.Constraints) (decimal.Decimal, bool) {
	stop = cons.SnapPrice(stop)
	dist := entry.Sub(stop).Abs()
	if cons.MinStopDistance.Sign() <= 0 || dist.Cmp(cons.MinStopDistance) >= 0 {
		return stop, false
	}
	if dir == structure.Bullish {
		return snapAway(entry.Sub(cons.MinStopDistance), cons, false), true
	}
	return snapAway(entry.Add(cons.MinStopDistance), cons, true), true
}

// snapAway rounds a price onto the tick grid in the direction that preserves
// the distance from entry (up when the level sits above entry, down when
// below).
func snapAway(p decimal.Decimal, cons venue.Constraints, up bool) decimal.Decimal {
	if cons.TickSize.Sign() <= 0 {
		return p
	}
	ticks := p.Div(cons.TickSize)
	if up {
		ticks = ticks.Ceil()
	} else {
		ticks = ticks.Floor()
	}
	return ticks.Mul(cons.TickSize)
}

func rewardRisk(entry, stop, target decimal.Decimal) float64 {
	risk := entry.Sub(stop).Abs()
	reward := target.Sub(entry).Abs()
	if risk.Sign() <= 0 {
		return 0
	}
	return decmath.Ratio(reward, risk)
}

// profitableSide checks that the stop sits on the losing side of entry and
// the target on the winning side for the given direction.
func profitableSide(dir structure.Direction, entry, stop, target decimal.Decimal) bool {
	if dir == structure.Bullish {
		return stop.Cmp(entry) < 0 && target.Cmp(entry) > 0
	}
	return stop.Cmp(entry) > 0 && target.Cmp(entry) < 0
}
