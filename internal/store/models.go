package store

import "gorm.io/datatypes"

// EventModel is the raw observability stream: one row per emitted event,
// payload as JSON so replay tooling can diff field-by-field.
type EventModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	RunID     string         `gorm:"column:run_id;index:idx_events_run"`
	Seq       uint64         `gorm:"column:seq;index:idx_events_run,priority:2"`
	Kind      string         `gorm:"column:kind;index"`
	Symbol    string         `gorm:"column:symbol"`
	Timeframe string         `gorm:"column:timeframe"`
	BarTime   int64          `gorm:"column:bar_time"`
	Payload   datatypes.JSON `gorm:"column:payload;type:TEXT"`
}

func (EventModel) TableName() string { return "event_log" }

// DecisionModel is the typed audit row for every emitted Decision.
type DecisionModel struct {
	ID                int64          `gorm:"column:id;primaryKey"`
	RunID             string         `gorm:"column:run_id;index:idx_decisions_run"`
	Symbol            string         `gorm:"column:symbol"`
	Side              string         `gorm:"column:side"`
	Entry             string         `gorm:"column:entry"`
	Stop              string         `gorm:"column:stop"`
	TakeProfit        string         `gorm:"column:take_profit"`
	PositionSize      string         `gorm:"column:position_size"`
	RR                float64        `gorm:"column:rr"`
	OriginStructureID string         `gorm:"column:origin_structure_id"`
	Confidence        float64        `gorm:"column:confidence"`
	ExitReason        string         `gorm:"column:exit_reason"`
	Clamped           bool           `gorm:"column:clamped"`
	BarTime           int64          `gorm:"column:bar_time"`
	Metadata          datatypes.JSON `gorm:"column:metadata;type:TEXT"`
}

func (DecisionModel) TableName() string { return "decisions" }

// StructureModel records each detection with its content-hashed id.
type StructureModel struct {
	ID          int64   `gorm:"column:id;primaryKey"`
	RunID       string  `gorm:"column:run_id;index:idx_structures_run"`
	StructureID string  `gorm:"column:structure_id;index"`
	Detector    string  `gorm:"column:detector"`
	Type        string  `gorm:"column:type"`
	Symbol      string  `gorm:"column:symbol"`
	Timeframe   string  `gorm:"column:timeframe"`
	Direction   string  `gorm:"column:direction"`
	Low         string  `gorm:"column:low"`
	High        string  `gorm:"column:high"`
	OriginIndex int     `gorm:"column:origin_index"`
	Quality     float64 `gorm:"column:quality"`
	Tier        string  `gorm:"column:tier"`
	BarTime     int64   `gorm:"column:bar_time"`
}

func (StructureModel) TableName() string { return "structures" }

// TransitionModel records each lifecycle transition.
type TransitionModel struct {
	ID          int64  `gorm:"column:id;primaryKey"`
	RunID       string `gorm:"column:run_id;index:idx_transitions_run"`
	StructureID string `gorm:"column:structure_id;index"`
	FromState   string `gorm:"column:from_state"`
	ToState     string `gorm:"column:to_state"`
	BarTime     int64  `gorm:"column:bar_time"`
}

func (TransitionModel) TableName() string { return "structure_transitions" }

// OrderAttemptModel records each transmission attempt of the guard.
type OrderAttemptModel struct {
	ID      int64  `gorm:"column:id;primaryKey"`
	RunID   string `gorm:"column:run_id;index:idx_attempts_run"`
	Symbol  string `gorm:"column:symbol"`
	Attempt int    `gorm:"column:attempt"`
	Stop    string `gorm:"column:stop"`
	Volume  string `gorm:"column:volume"`
	Error   string `gorm:"column:error"`
}

func (OrderAttemptModel) TableName() string { return "order_attempts" }

// RiskTransitionModel records drawdown circuit transitions.
type RiskTransitionModel struct {
	ID        int64   `gorm:"column:id;primaryKey"`
	RunID     string  `gorm:"column:run_id;index:idx_risk_run"`
	FromState string  `gorm:"column:from_state"`
	ToState   string  `gorm:"column:to_state"`
	Drawdown  float64 `gorm:"column:drawdown"`
	Shadow    bool    `gorm:"column:shadow"`
	Reset     bool    `gorm:"column:reset"`
	BarTime   int64   `gorm:"column:bar_time"`
}

func (RiskTransitionModel) TableName() string { return "risk_transitions" }
