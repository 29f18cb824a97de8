package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusCancelled = "cancelled"

	ExecutionTypeScheduled   = "scheduled"
	ExecutionTypeManual      = "manual"
	ExecutionTypeConditional = "conditional"
)

// Execution records one firing of a strategy. Rows leave pending exactly once.
type Execution struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	StrategyID uint64 `gorm:"not null;index:idx_executions_strategy_ts,priority:1" json:"strategyId"`
	UserID     uint64 `gorm:"not null;index" json:"userId"`

	Amount   decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"amount"`
	Quantity decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"quantity"`
	Price    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"price"`
	Fee      decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"fee"`
	FeeAsset string          `gorm:"type:varchar(15)" json:"feeAsset,omitempty"`

	Status string `gorm:"type:varchar(20);not null;index" json:"status"`
	Type   string `gorm:"type:varchar(20);not null" json:"type"`

	ExchangeOrderID string `gorm:"type:varchar(100);index" json:"exchangeOrderId,omitempty"`
	ClientOrderID   string `gorm:"type:varchar(64);uniqueIndex" json:"clientOrderId"`
	ErrorMessage    string `gorm:"type:text" json:"errorMessage,omitempty"`
	MonitorAttempts int    `gorm:"not null;default:0" json:"monitorAttempts"`

	Timestamp   time.Time  `gorm:"column:executed_at;type:timestamptz;not null;index:idx_executions_strategy_ts,priority:2,sort:desc" json:"timestamp"`
	CompletedAt *time.Time `gorm:"type:timestamptz" json:"completedAt,omitempty"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (Execution) TableName() string {
	return "executions"
}

func (e Execution) IsTerminal() bool {
	return e.Status != ExecutionStatusPending
}
