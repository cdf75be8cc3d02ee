package replay

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Terrxnce/DEVI-sub000/internal/config"
	"github.com/Terrxnce/DEVI-sub000/internal/events"
	"github.com/Terrxnce/DEVI-sub000/internal/guard"
	"github.com/Terrxnce/DEVI-sub000/internal/market"
	"github.com/Terrxnce/DEVI-sub000/internal/venue"
)

func fixtureConfig() *config.Config {
	return &config.Config{
		Symbols:  []string{"BTCUSDT", "ETHUSDT"},
		Kline:    config.KlineConfig{Timeframe: "15m", MaxCached: 500},
		Strategy: config.StrategyConfig{CapPerType: 4},
		Sessions: config.SessionConfig{AsiaStartHour: 0, LondonStartHour: 8, NewYorkStartHour: 16},
		Guard:    guard.DefaultConfig(),
		Risk:     guard.DefaultRiskConfig(),
	}
}

func fixtureTable() venue.Table {
	mk := func(symbol string, tick, minStop string) venue.Constraints {
		return venue.Constraints{
			Symbol:          symbol,
			InstrumentClass: "crypto_perp",
			TickSize:        decimal.RequireFromString(tick),
			ContractSize:    decimal.NewFromInt(1),
			MinStopDistance: decimal.RequireFromString(minStop),
			VolumeMin:       decimal.RequireFromString("0.001"),
			VolumeMax:       decimal.NewFromInt(500),
			VolumeStep:      decimal.RequireFromString("0.001"),
		}
	}
	return venue.Table{
		"BTCUSDT": mk("BTCUSDT", "0.10", "5.0"),
		"ETHUSDT": mk("ETHUSDT", "0.01", "0.5"),
	}
}

func fixtureParams(t *testing.T) config.Params {
	t.Helper()
	reg, err := config.NewParamsRegistry("../../configs/strategy_params.yaml")
	assert.NoError(t, err)
	return reg.Snapshot().Params
}

// fixtureBars generates a per-symbol deterministic walk. Distinct bases keep
// the two symbol streams from being trivially identical.
func fixtureBars(base float64, n int) []market.Bar {
	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, 0, n)
	price := base
	for i := 0; i < n; i++ {
		drift := base * 0.0012 * math.Sin(float64(i)/7)
		spike := 0.0
		if i%23 == 0 {
			spike = base * 0.008
		}
		open := price
		close := price + drift + spike
		high := math.Max(open, close) + base*0.0007
		low := math.Min(open, close) - base*0.0007
		if i%17 == 0 {
			low -= base * 0.0036
		}
		b, err := market.NewBarFromFloats(open, high, low, close, 1000+float64(i%50)*20,
			start.Add(time.Duration(i)*15*time.Minute))
		if err != nil {
			panic(err)
		}
		bars = append(bars, b)
		price = close
	}
	return bars
}

func TestRunnerVerifyIsClean(t *testing.T) {
	runner, err := NewRunner(fixtureConfig(), fixtureParams(t), fixtureTable(), map[string][]market.Bar{
		"BTCUSDT": fixtureBars(50000, 150),
		"ETHUSDT": fixtureBars(2600, 150),
	}, decimal.NewFromInt(10000))
	assert.NoError(t, err)

	diffs, err := runner.Verify(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestRunnerRunOnceEmitsPerSymbol(t *testing.T) {
	runner, err := NewRunner(fixtureConfig(), fixtureParams(t), fixtureTable(), map[string][]market.Bar{
		"BTCUSDT": fixtureBars(50000, 120),
		"ETHUSDT": fixtureBars(2600, 120),
	}, decimal.NewFromInt(10000))
	assert.NoError(t, err)

	rec, err := runner.RunOnce(context.Background(), "run-1")
	assert.NoError(t, err)

	grouped := rec.BySymbol()
	assert.Len(t, grouped, 2)
	for _, symbol := range []string{"BTCUSDT", "ETHUSDT"} {
		gates := 0
		for _, e := range grouped[symbol] {
			assert.Equal(t, "run-1", e.RunID)
			if e.Kind == events.KindGateEvaluated {
				gates++
			}
		}
		assert.Equal(t, 120, gates, symbol)
	}
}

func TestNewRunnerRequiresBarsPerSymbol(t *testing.T) {
	_, err := NewRunner(fixtureConfig(), fixtureParams(t), fixtureTable(), map[string][]market.Bar{
		"BTCUSDT": fixtureBars(50000, 10),
	}, decimal.NewFromInt(10000))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ETHUSDT")
}

func mkEvent(symbol string, kind events.Kind, barTime time.Time, fields map[string]any) events.Event {
	return events.Event{Kind: kind, Symbol: symbol, Timeframe: "15m", BarTime: barTime, Fields: fields}
}

func TestDiffRecordersFlagsFieldDifference(t *testing.T) {
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a, b := &Recorder{}, &Recorder{}

	a.Consume(mkEvent("BTCUSDT", events.KindGateEvaluated, ts, map[string]any{"score": 0.7, "passed": true}))
	b.Consume(mkEvent("BTCUSDT", events.KindGateEvaluated, ts, map[string]any{"score": 0.71, "passed": true}))

	diffs := DiffRecorders(a, b)
	assert.Len(t, diffs, 1)
	assert.Contains(t, diffs[0], "score")
}

func TestDiffRecordersIgnoresRunLocalIdentity(t *testing.T) {
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a, b := &Recorder{}, &Recorder{}

	ea := mkEvent("BTCUSDT", events.KindGateEvaluated, ts, map[string]any{"score": 0.7})
	ea.RunID, ea.Seq = "run-a", 3
	eb := mkEvent("BTCUSDT", events.KindGateEvaluated, ts, map[string]any{"score": 0.7})
	eb.RunID, eb.Seq = "run-b", 17
	a.Consume(ea)
	b.Consume(eb)

	assert.Empty(t, DiffRecorders(a, b))
}

func TestDiffRecordersFlagsCountAndKind(t *testing.T) {
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a, b := &Recorder{}, &Recorder{}

	a.Consume(mkEvent("BTCUSDT", events.KindGateEvaluated, ts, nil))
	a.Consume(mkEvent("ETHUSDT", events.KindGateEvaluated, ts, nil))
	b.Consume(mkEvent("BTCUSDT", events.KindBarSkipped, ts, nil))

	diffs := DiffRecorders(a, b)
	assert.Len(t, diffs, 2)
	assert.Contains(t, diffs[0], "kind")
	assert.Contains(t, diffs[1], "event count")
}