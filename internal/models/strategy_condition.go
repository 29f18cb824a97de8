package models

import "github.com/shopspring/decimal"

const (
	ConditionPriceAbove  = "price_above"
	ConditionPriceBelow  = "price_below"
	ConditionRSIAbove    = "rsi_above"
	ConditionRSIBelow    = "rsi_below"
	ConditionVolumeAbove = "volume_above"

	OperatorGT  = "gt"
	OperatorLT  = "lt"
	OperatorEQ  = "eq"
	OperatorGTE = "gte"
	OperatorLTE = "lte"
)

type StrategyCondition struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	StrategyID uint64 `gorm:"not null;index" json:"strategyId"`

	Type     string          `gorm:"type:varchar(30);not null" json:"type"`
	Operator string          `gorm:"type:varchar(5)" json:"operator,omitempty"`
	Value    decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"value"`
	IsActive bool            `gorm:"not null;default:true" json:"isActive"`
}

func (StrategyCondition) TableName() string {
	return "strategy_conditions"
}
