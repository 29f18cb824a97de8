package models

import "time"

// ScheduledJob is the 1:1 schedule companion of a strategy. LeaseOwner and
// LeaseUntil mark a firing in flight.
type ScheduledJob struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	StrategyID uint64 `gorm:"not null;uniqueIndex" json:"strategyId"`

	NextRunAt    time.Time  `gorm:"type:timestamptz;not null;index" json:"nextRunAt"`
	LastRunAt    *time.Time `gorm:"type:timestamptz" json:"lastRunAt,omitempty"`
	RunCount     int64      `gorm:"not null;default:0" json:"runCount"`
	FailureCount int64      `gorm:"not null;default:0" json:"failureCount"`
	IsActive     bool       `gorm:"not null;default:true;index" json:"isActive"`

	LeaseOwner string     `gorm:"type:varchar(64)" json:"-"`
	LeaseUntil *time.Time `gorm:"type:timestamptz;index" json:"-"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (ScheduledJob) TableName() string {
	return "scheduled_jobs"
}
