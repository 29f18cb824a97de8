package db

import (
	"dcabot/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	if err := db.Gorm.AutoMigrate(
		&models.User{},
		&models.Exchange{},
		&models.Strategy{},
		&models.StrategyCondition{},
		&models.Execution{},
		&models.ScheduledJob{},
		&models.Notification{},
		&models.NotificationSetting{},
		&models.SystemSetting{},
		&models.SystemLog{},
	); err != nil {
		return err
	}
	// Partial index backing the reconciliation sweep over stuck rows.
	return db.Gorm.Exec(
		"CREATE INDEX IF NOT EXISTS idx_executions_pending_ts ON executions (executed_at) WHERE status = 'pending'",
	).Error
}
