// Package events emits one structured record per observable action in the
// pipeline: detections, lifecycle transitions, gate evaluations, decisions,
// order attempts, and risk transitions. Every event carries the run
// correlation id so two independent runs can be diffed field-for-field.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Terrxnce/DEVI-sub000/internal/logger"
)

// Kind enumerates the event classes.
type Kind string

const (
	KindStructureDetected Kind = "structure_detected"
	KindStructureLifecycle Kind = "structure_lifecycle"
	KindGateEvaluated     Kind = "gate_evaluated"
	KindDecisionEmitted   Kind = "decision_emitted"
	KindOrderAttempt      Kind = "order_attempt"
	KindOrderRejected     Kind = "order_rejected"
	KindRiskTransition    Kind = "risk_transition"
	KindBarSkipped        Kind = "bar_skipped"
)

// Event is one observability record. Fields holds kind-specific values;
// writers must only put deterministic data in it (no wall-clock times, no
// pointers).
type Event struct {
	RunID     string
	Seq       uint64
	Kind      Kind
	Symbol    string
	Timeframe string
	BarTime   time.Time
	Fields    map[string]any
}

// Sink consumes emitted events. Emitter calls sinks synchronously in
// registration order.
type Sink interface {
	Consume(e Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e Event)

func (f SinkFunc) Consume(e Event) { f(e) }

// Emitter assigns the run id and a monotonic sequence number to every event.
// The run id identifies the run, never the content; structure ids stay
// content-hashed so replays compare equal.
type Emitter struct {
	runID string

	mu    sync.Mutex
	seq   uint64
	sinks []Sink
}

// NewEmitter creates an emitter with a fresh run id.
func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{runID: uuid.NewString(), sinks: sinks}
}

// NewEmitterWithRunID fixes the run id, used by replay tooling to label the
// two runs being compared.
func NewEmitterWithRunID(runID string, sinks ...Sink) *Emitter {
	return &Emitter{runID: runID, sinks: sinks}
}

// RunID returns the correlation id stamped on every event.
func (e *Emitter) RunID() string { return e.runID }

// AddSink registers another consumer.
func (e *Emitter) AddSink(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Emit stamps and fans out one event.
func (e *Emitter) Emit(kind Kind, symbol, timeframe string, barTime time.Time, fields map[string]any) {
	e.mu.Lock()
	e.seq++
	ev := Event{
		RunID:     e.runID,
		Seq:       e.seq,
		Kind:      kind,
		Symbol:    symbol,
		Timeframe: timeframe,
		BarTime:   barTime,
		Fields:    fields,
	}
	sinks := e.sinks
	e.mu.Unlock()
	for _, s := range sinks {
		s.Consume(ev)
	}
}

// LogSink writes every event through the package logger at debug level,
// with gate/risk events raised to info.
func LogSink() Sink {
	return SinkFunc(func(e Event) {
		switch e.Kind {
		case KindRiskTransition, KindOrderRejected:
			logger.Warnf("[%s] %s %s/%s %v", e.RunID[:8], e.Kind, e.Symbol, e.Timeframe, e.Fields)
		case KindDecisionEmitted, KindGateEvaluated:
			logger.Infof("[%s] %s %s/%s %v", e.RunID[:8], e.Kind, e.Symbol, e.Timeframe, e.Fields)
		default:
			logger.Debugf("[%s] %s %s/%s %v", e.RunID[:8], e.Kind, e.Symbol, e.Timeframe, e.Fields)
		}
	})
}
