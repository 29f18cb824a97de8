package models

import "time"

type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	Email        string `gorm:"type:varchar(255);not null;uniqueIndex" json:"email"`
	Name         string `gorm:"type:varchar(100);not null" json:"name"`
	PasswordHash string `gorm:"type:varchar(100);not null" json:"-"`
	IsActive     bool   `gorm:"not null;default:true" json:"isActive"`

	LastLoginAt *time.Time `gorm:"type:timestamptz" json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}
