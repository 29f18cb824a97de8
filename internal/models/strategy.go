package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	FrequencyHourly  = "hourly"
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
	FrequencyCustom  = "custom"

	AmountTypeFixed      = "fixed"
	AmountTypePercentage = "percentage"
)

// Strategy is a recurring purchase plan owned by one user.
type Strategy struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     uint64 `gorm:"not null;index" json:"userId"`
	ExchangeID uint64 `gorm:"not null;index" json:"exchangeId"`

	Name        string `gorm:"type:varchar(100);not null" json:"name"`
	Description string `gorm:"type:text" json:"description,omitempty"`

	Pair          string `gorm:"type:varchar(30);not null;index" json:"pair"`
	BaseCurrency  string `gorm:"type:varchar(15);not null" json:"baseCurrency"`
	QuoteCurrency string `gorm:"type:varchar(15);not null" json:"quoteCurrency"`

	Amount     decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"amount"`
	AmountType string          `gorm:"type:varchar(20);not null;default:'fixed'" json:"amountType"`

	Frequency      string `gorm:"type:varchar(20);not null" json:"frequency"`
	CronExpression string `gorm:"type:varchar(120)" json:"cronExpression,omitempty"`

	StartDate time.Time  `gorm:"type:timestamptz;not null" json:"startDate"`
	EndDate   *time.Time `gorm:"type:timestamptz" json:"endDate,omitempty"`

	IsActive bool `gorm:"not null;default:false;index" json:"isActive"`

	Conditions []StrategyCondition `gorm:"foreignKey:StrategyID;constraint:OnDelete:CASCADE" json:"conditions,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (Strategy) TableName() string {
	return "strategies"
}

// ActiveConditions returns the conditions that gate a firing.
func (s Strategy) ActiveConditions() []StrategyCondition {
	out := make([]StrategyCondition, 0, len(s.Conditions))
	for _, c := range s.Conditions {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out
}
