package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Terrxnce/DEVI-sub000/internal/decision"
	"github.com/Terrxnce/DEVI-sub000/internal/events"
	"github.com/Terrxnce/DEVI-sub000/internal/guard"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "audit.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, st.Close()) })
	return st
}

func testStructure() *structure.Structure {
	geo := structure.Geometry{
		Low:         decimal.NewFromInt(100),
		High:        decimal.NewFromInt(110),
		OriginIndex: 42,
	}
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return &structure.Structure{
		ID:         structure.NewID("order_block", structure.TypeOrderBlock, "BTCUSDT", "15m", structure.Bullish, geo, ts),
		Detector:   "order_block",
		Type:       structure.TypeOrderBlock,
		Symbol:     "BTCUSDT",
		Timeframe:  "15m",
		Direction:  structure.Bullish,
		Geometry:   geo,
		OriginTime: ts,
		Quality:    0.71,
		Tier:       structure.TierHigh,
		State:      structure.LifecycleUnfilled,
	}
}

func TestSinkPersistsEventsInSequenceOrder(t *testing.T) {
	st := newTestStore(t)
	sink := st.Sink()

	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	sink.Consume(events.Event{
		RunID: "run-1", Seq: 1, Kind: events.KindGateEvaluated,
		Symbol: "BTCUSDT", Timeframe: "15m", BarTime: ts,
		Fields: map[string]any{"score": 0.7, "passed": false},
	})
	sink.Consume(events.Event{
		RunID: "run-1", Seq: 2, Kind: events.KindStructureDetected,
		Symbol: "BTCUSDT", Timeframe: "15m", BarTime: ts,
		Fields: map[string]any{"id": "abc"},
	})
	sink.Consume(events.Event{
		RunID: "run-2", Seq: 1, Kind: events.KindGateEvaluated,
		Symbol: "ETHUSDT", Timeframe: "15m", BarTime: ts,
		Fields: map[string]any{"score": 0.4},
	})

	rows, err := st.EventsByRun("run-1")
	assert.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, string(events.KindGateEvaluated), rows[0].Kind)
	assert.Equal(t, uint64(1), rows[0].Seq)
	assert.Equal(t, ts.Unix(), rows[0].BarTime)
	assert.JSONEq(t, `{"score":0.7,"passed":false}`, string(rows[0].Payload))

	// Kind filter narrows the stream.
	rows, err = st.EventsByRun("run-1", events.KindStructureDetected)
	assert.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, string(events.KindStructureDetected), rows[0].Kind)
}

func TestSaveStructureAndTransition(t *testing.T) {
	st := newTestStore(t)
	s := testStructure()

	assert.NoError(t, st.SaveStructure("run-1", s))
	assert.NoError(t, st.SaveTransition("run-1", s.ID, structure.LifecycleUnfilled, structure.LifecycleExpired, s.OriginTime.Unix()))

	var rows []StructureModel
	assert.NoError(t, st.db.Find(&rows).Error)
	assert.Len(t, rows, 1)
	assert.Equal(t, s.ID, rows[0].StructureID)
	assert.Equal(t, "100", rows[0].Low)
	assert.Equal(t, "110", rows[0].High)

	var trs []TransitionModel
	assert.NoError(t, st.db.Find(&trs).Error)
	assert.Len(t, trs, 1)
	assert.Equal(t, string(structure.LifecycleExpired), trs[0].ToState)
}

func TestSaveDecisionRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	d := decision.Decision{
		Symbol:            "BTCUSDT",
		Side:              decision.Buy,
		Entry:             decimal.NewFromInt(110),
		Stop:              decimal.NewFromInt(99),
		TakeProfit:        decimal.NewFromInt(140),
		PositionSize:      decimal.RequireFromString("0.5"),
		RR:                2.7,
		OriginStructureID: "abc123",
		Confidence:        0.8,
		ExitReason:        "structure_geometry",
		BarTime:           ts,
		Metadata:          map[string]string{"structure_type": "order_block"},
	}
	assert.NoError(t, st.SaveDecision("run-1", d))

	rows, err := st.DecisionsByRun("run-1")
	assert.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, "110", rows[0].Entry)
	assert.Equal(t, "99", rows[0].Stop)
	assert.Equal(t, "structure_geometry", rows[0].ExitReason)
	assert.JSONEq(t, `{"structure_type":"order_block"}`, string(rows[0].Metadata))

	rows, err = st.DecisionsByRun("run-nope")
	assert.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSaveOrderAttemptAndRiskTransition(t *testing.T) {
	st := newTestStore(t)

	assert.NoError(t, st.SaveOrderAttempt("run-1", "BTCUSDT", guard.Attempt{
		Number: 2,
		Stop:   decimal.RequireFromString("93.75"),
		Volume: decimal.NewFromInt(16),
		Err:    "invalid stops",
	}))
	assert.NoError(t, st.SaveRiskTransition("run-1", guard.RiskTransition{
		From:     guard.StateNormal,
		To:       guard.StateSoftStop,
		Drawdown: 0.012,
		At:       time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}))

	var attempts []OrderAttemptModel
	assert.NoError(t, st.db.Find(&attempts).Error)
	assert.Len(t, attempts, 1)
	assert.Equal(t, 2, attempts[0].Attempt)
	assert.Equal(t, "93.75", attempts[0].Stop)

	var trs []RiskTransitionModel
	assert.NoError(t, st.db.Find(&trs).Error)
	assert.Len(t, trs, 1)
	assert.Equal(t, guard.StateSoftStop.String(), trs[0].ToState)
	assert.InDelta(t, 0.012, trs[0].Drawdown, 1e-9)
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
