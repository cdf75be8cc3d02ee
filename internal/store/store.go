// Package store persists the audit trail (structures, transitions, decisions,
// order attempts, risk transitions) to SQLite via gorm.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Terrxnce/DEVI-sub000/internal/decision"
	"github.com/Terrxnce/DEVI-sub000/internal/events"
	"github.com/Terrxnce/DEVI-sub000/internal/guard"
	"github.com/Terrxnce/DEVI-sub000/internal/logger"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

// Store wraps the SQLite audit database.
type Store struct {
	db *gorm.DB
}

// New opens (or creates) the audit database in WAL mode and migrates the
// schema.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&EventModel{},
		&DecisionModel{},
		&StructureModel{},
		&TransitionModel{},
		&OrderAttemptModel{},
		&RiskTransitionModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Sink adapts the store to the event stream: every emitted event lands in
// event_log as JSON. Persistence failures are logged, never propagated into
// the pipeline.
func (s *Store) Sink() events.Sink {
	return events.SinkFunc(func(e events.Event) {
		payload, err := json.Marshal(e.Fields)
		if err != nil {
			logger.Errorf("store: marshaling event %s failed: %v", e.Kind, err)
			return
		}
		row := EventModel{
			RunID:     e.RunID,
			Seq:       e.Seq,
			Kind:      string(e.Kind),
			Symbol:    e.Symbol,
			Timeframe: e.Timeframe,
			BarTime:   e.BarTime.Unix(),
			Payload:   datatypes.JSON(payload),
		}
		if err := s.db.Create(&row).Error; err != nil {
			logger.Errorf("store: persisting event %s failed: %v", e.Kind, err)
		}
	})
}

// SaveStructure records a detection.
func (s *Store) SaveStructure(runID string, st *structure.Structure) error {
	row := StructureModel{
		RunID:       runID,
		StructureID: st.ID,
		Detector:    st.Detector,
		Type:        string(st.Type),
		Symbol:      st.Symbol,
		Timeframe:   st.Timeframe,
		Direction:   string(st.Direction),
		Low:         st.Geometry.Low.String(),
		High:        st.Geometry.High.String(),
		OriginIndex: st.Geometry.OriginIndex,
		Quality:     st.Quality,
		Tier:        string(st.Tier),
		BarTime:     st.OriginTime.Unix(),
	}
	return s.db.Create(&row).Error
}

// SaveTransition records one lifecycle transition.
func (s *Store) SaveTransition(runID, structureID string, from, to structure.Lifecycle, barTime int64) error {
	row := TransitionModel{
		RunID:       runID,
		StructureID: structureID,
		FromState:   string(from),
		ToState:     string(to),
		BarTime:     barTime,
	}
	return s.db.Create(&row).Error
}

// SaveDecision records an emitted Decision.
func (s *Store) SaveDecision(runID string, d decision.Decision) error {
	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshaling decision metadata: %w", err)
	}
	row := DecisionModel{
		RunID:             runID,
		Symbol:            d.Symbol,
		Side:              string(d.Side),
		Entry:             d.Entry.String(),
		Stop:              d.Stop.String(),
		TakeProfit:        d.TakeProfit.String(),
		PositionSize:      d.PositionSize.String(),
		RR:                d.RR,
		OriginStructureID: d.OriginStructureID,
		Confidence:        d.Confidence,
		ExitReason:        d.ExitReason,
		Clamped:           d.Clamped,
		BarTime:           d.BarTime.Unix(),
		Metadata:          datatypes.JSON(meta),
	}
	return s.db.Create(&row).Error
}

// SaveOrderAttempt records one guard transmission attempt.
func (s *Store) SaveOrderAttempt(runID, symbol string, a guard.Attempt) error {
	row := OrderAttemptModel{
		RunID:   runID,
		Symbol:  symbol,
		Attempt: a.Number,
		Stop:    a.Stop.String(),
		Volume:  a.Volume.String(),
		Error:   a.Err,
	}
	return s.db.Create(&row).Error
}

// SaveRiskTransition records one drawdown circuit transition.
func (s *Store) SaveRiskTransition(runID string, tr guard.RiskTransition) error {
	row := RiskTransitionModel{
		RunID:     runID,
		FromState: tr.From.String(),
		ToState:   tr.To.String(),
		Drawdown:  tr.Drawdown,
		Shadow:    tr.Shadow,
		Reset:     tr.Reset,
		BarTime:   tr.At.Unix(),
	}
	return s.db.Create(&row).Error
}

// EventsByRun returns the full event stream of one run in sequence order,
// optionally filtered by kind. Used by the replay differ.
func (s *Store) EventsByRun(runID string, kinds ...events.Kind) ([]EventModel, error) {
	q := s.db.Where("run_id = ?", runID).Order("seq ASC")
	if len(kinds) > 0 {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		q = q.Where("kind IN ?", names)
	}
	var rows []EventModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DecisionsByRun returns the decisions of one run in emission order.
func (s *Store) DecisionsByRun(runID string) ([]DecisionModel, error) {
	var rows []DecisionModel
	if err := s.db.Where("run_id = ?", runID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
