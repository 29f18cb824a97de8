package models

import (
	"time"

	"gorm.io/datatypes"
)

type SystemLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	Level   string         `gorm:"type:varchar(10);not null" json:"level"`
	Source  string         `gorm:"type:varchar(50);not null;index" json:"source"`
	Message string         `gorm:"type:text;not null" json:"message"`
	Data    datatypes.JSON `gorm:"type:jsonb" json:"data,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"createdAt"`
}

func (SystemLog) TableName() string {
	return "system_logs"
}
