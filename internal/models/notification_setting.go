package models

import "time"

// NotificationSetting holds per-user delivery targets.
type NotificationSetting struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID uint64 `gorm:"not null;uniqueIndex" json:"userId"`

	EmailEnabled bool   `gorm:"not null;default:false" json:"emailEnabled"`
	EmailAddress string `gorm:"type:varchar(255)" json:"emailAddress,omitempty"`

	LineEnabled bool   `gorm:"not null;default:false" json:"lineEnabled"`
	LineUserID  string `gorm:"type:varchar(100)" json:"lineUserId,omitempty"`

	TelegramEnabled bool  `gorm:"not null;default:false" json:"telegramEnabled"`
	TelegramChatID  int64 `gorm:"not null;default:0" json:"telegramChatId,omitempty"`

	SlackWebhookURL   string `gorm:"type:text" json:"slackWebhookUrl,omitempty"`
	DiscordWebhookURL string `gorm:"type:text" json:"discordWebhookUrl,omitempty"`

	NotifySuccess      bool `gorm:"not null;default:true" json:"notifySuccess"`
	NotifyFailure      bool `gorm:"not null;default:true" json:"notifyFailure"`
	NotifyDailySummary bool `gorm:"not null;default:true" json:"notifyDailySummary"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (NotificationSetting) TableName() string {
	return "notification_settings"
}
