package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	NotificationExecutionSuccess = "execution_success"
	NotificationExecutionFailed  = "execution_failed"
	NotificationStrategyCreated  = "strategy_created"
	NotificationStrategyUpdated  = "strategy_updated"
	NotificationStrategyDeleted  = "strategy_deleted"
	NotificationPriceAlert       = "price_alert"
	NotificationDailySummary     = "daily_summary"
	NotificationSystem           = "system_announcement"

	ChannelInApp    = "in_app"
	ChannelEmail    = "email"
	ChannelLine     = "line"
	ChannelTelegram = "telegram"
	ChannelSlack    = "slack"
	ChannelDiscord  = "discord"
)

type Notification struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID uint64 `gorm:"not null;index:idx_notifications_user_created,priority:1" json:"userId"`

	Type    string         `gorm:"type:varchar(40);not null" json:"type"`
	Channel string         `gorm:"type:varchar(20);not null" json:"channel"`
	Title   string         `gorm:"type:varchar(200);not null" json:"title"`
	Message string         `gorm:"type:text;not null" json:"message"`
	Data    datatypes.JSON `gorm:"type:jsonb" json:"data,omitempty"`

	IsRead        bool       `gorm:"not null;default:false;index" json:"isRead"`
	SentAt        *time.Time `gorm:"type:timestamptz" json:"sentAt,omitempty"`
	DeliveryError string     `gorm:"type:text" json:"deliveryError,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index:idx_notifications_user_created,priority:2,sort:desc" json:"createdAt"`
}

func (Notification) TableName() string {
	return "notifications"
}
