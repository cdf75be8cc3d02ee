package engine_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Terrxnce/DEVI-sub000/internal/config"
	"github.com/Terrxnce/DEVI-sub000/internal/engine"
	"github.com/Terrxnce/DEVI-sub000/internal/events"
	"github.com/Terrxnce/DEVI-sub000/internal/guard"
	"github.com/Terrxnce/DEVI-sub000/internal/market"
	"github.com/Terrxnce/DEVI-sub000/internal/venue"
)

type memorySink struct {
	mu     sync.Mutex
	events []events.Event
}

func (m *memorySink) Consume(e events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

type acceptAllBroker struct {
	mu     sync.Mutex
	orders int
}

func (b *acceptAllBroker) PlaceOrder(context.Context, guard.Order) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders++
	return "t-1", nil
}

func (b *acceptAllBroker) CloseAllPositions(context.Context, string) error { return nil }

type staticAccount struct{ equity decimal.Decimal }

func (a staticAccount) Equity(context.Context) (decimal.Decimal, error) {
	return a.equity, nil
}

func (a staticAccount) OpenPositions(context.Context) ([]guard.OpenPosition, error) {
	return nil, nil
}

func loadParams(t *testing.T) config.Params {
	t.Helper()
	reg, err := config.NewParamsRegistry("../../configs/strategy_params.yaml")
	assert.NoError(t, err)
	return reg.Snapshot().Params
}

func testVenue() venue.Constraints {
	return venue.Constraints{
		Symbol:          "BTCUSDT",
		InstrumentClass: "crypto_perp",
		TickSize:        decimal.RequireFromString("0.10"),
		ContractSize:    decimal.NewFromInt(1),
		MinStopDistance: decimal.NewFromInt(5),
		VolumeMin:       decimal.RequireFromString("0.001"),
		VolumeMax:       decimal.NewFromInt(120),
		VolumeStep:      decimal.RequireFromString("0.001"),
	}
}

func newTestEngine(t *testing.T, params config.Params, sink events.Sink, runID string) *engine.Engine {
	t.Helper()
	risk, err := guard.NewRiskState(guard.DefaultRiskConfig())
	assert.NoError(t, err)
	g, err := guard.New(guard.DefaultConfig(), venue.Table{"BTCUSDT": testVenue()}, risk, &acceptAllBroker{})
	assert.NoError(t, err)
	account := staticAccount{equity: decimal.NewFromInt(10000)}

	e, err := engine.New(engine.Options{
		Symbol:     "BTCUSDT",
		Timeframe:  "15m",
		MaxCached:  500,
		Sessions:   config.SessionConfig{AsiaStartHour: 0, LondonStartHour: 8, NewYorkStartHour: 16},
		CapPerType: 4,
		Params:     params,
		Venue:      testVenue(),
		Guard:      g,
		Emitter:    events.NewEmitterWithRunID(runID, sink),
		Equity:     account,
		Positions:  account,
	})
	assert.NoError(t, err)
	return e
}

// syntheticBars produces a fixed walk with displacement candles and sweeps so
// the detectors have something to chew on. Same input every call.
func syntheticBars(n int) []market.Bar {
	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, 0, n)
	price := 50000.0
	for i := 0; i < n; i++ {
		drift := 60 * math.Sin(float64(i)/7)
		spike := 0.0
		if i%23 == 0 {
			spike = 400 // periodic displacement candle
		}
		open := price
		close := price + drift + spike
		high := math.Max(open, close) + 35
		low := math.Min(open, close) - 35
		if i%17 == 0 {
			low -= 180 // wick below the recent range
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

func runEngine(t *testing.T, params config.Params, bars []market.Bar, runID string) []events.Event {
	t.Helper()
	sink := &memorySink{}
	e := newTestEngine(t, params, sink, runID)
	for _, b := range bars {
		assert.NoError(t, e.OnBar(context.Background(), b))
	}
	return sink.events
}

func TestEngineReplayIsDeterministic(t *testing.T) {
	params := loadParams(t)
	bars := syntheticBars(200)

	runA := runEngine(t, params, bars, "run-a")
	runB := runEngine(t, params, bars, "run-b")

	assert.NotEmpty(t, runA, "a full run should emit at least gate evaluations")
	assert.Equal(t, len(runA), len(runB))
	for i := range runA {
		a, b := runA[i], runB[i]
		assert.Equal(t, a.Seq, b.Seq)
		assert.Equal(t, a.Kind, b.Kind, "event %d", i)
		assert.Equal(t, a.BarTime, b.BarTime, "event %d", i)
		assert.Equal(t, a.Fields, b.Fields, "event %d: %s", i, a.Kind)
	}
}

func TestEngineEmitsGateEvaluationEveryBar(t *testing.T) {
	params := loadParams(t)
	bars := syntheticBars(80)
	evs := runEngine(t, params, bars, "run-gate")

	gates := 0
	for _, e := range evs {
		if e.Kind == events.KindGateEvaluated {
			gates++
		}
	}
	assert.Equal(t, len(bars), gates)
}

func TestEngineSkipsOutOfOrderBars(t *testing.T) {
	params := loadParams(t)
	bars := syntheticBars(10)

	sink := &memorySink{}
	e := newTestEngine(t, params, sink, "run-skip")
	for _, b := range bars {
		assert.NoError(t, e.OnBar(context.Background(), b))
	}
	// A duplicate and a stale bar are both skipped, never fatal.
	assert.NoError(t, e.OnBar(context.Background(), bars[9]))
	assert.NoError(t, e.OnBar(context.Background(), bars[4]))

	skipped := 0
	for _, ev := range sink.events {
		if ev.Kind == events.KindBarSkipped {
			skipped++
		}
	}
	assert.Equal(t, 2, skipped)

	// The series state is untouched: the next in-order bar still processes.
	next := syntheticBars(11)[10]
	assert.NoError(t, e.OnBar(context.Background(), next))
}

func TestEngineHotReloadRejectsBadParams(t *testing.T) {
	params := loadParams(t)
	bars := syntheticBars(5)

	sink := &memorySink{}
	e := newTestEngine(t, params, sink, "run-reload")
	for _, b := range bars[:3] {
		assert.NoError(t, e.OnBar(context.Background(), b))
	}

	// Queue a broken parameter set: the reload is rejected at the next bar
	// and the engine keeps running on the previous snapshot.
	bad := params
	bad.Scorer.MinThresholds = nil
	e.ApplyParams(bad)
	assert.NoError(t, e.OnBar(context.Background(), bars[3]))
	assert.NoError(t, e.OnBar(context.Background(), bars[4]))

	gates := 0
	for _, ev := range sink.events {
		if ev.Kind == events.KindGateEvaluated {
			gates++
		}
	}
	assert.Equal(t, 5, gates)
}
