package models

import "time"

const (
	ExchangeTypeBinance  = "binance"
	ExchangeTypeCoinbase = "coinbase"
)

// Exchange binds a user to one trading venue. Credential columns only ever hold
// vault blobs.
type Exchange struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID uint64 `gorm:"not null;index" json:"userId"`

	Name    string `gorm:"type:varchar(100);not null" json:"name"`
	Type    string `gorm:"type:varchar(20);not null;index" json:"type"`
	Testnet bool   `gorm:"not null;default:false" json:"testnet"`

	APIKeyEnc     string `gorm:"type:text;not null" json:"-"`
	APISecretEnc  string `gorm:"type:text;not null" json:"-"`
	PassphraseEnc string `gorm:"type:text" json:"-"`

	IsActive   bool       `gorm:"not null;default:true;index" json:"isActive"`
	LastSyncAt *time.Time `gorm:"type:timestamptz" json:"lastSyncAt,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (Exchange) TableName() string {
	return "exchanges"
}
