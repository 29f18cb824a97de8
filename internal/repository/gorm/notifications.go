package gormrepository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dcabot/internal/models"
	"dcabot/internal/repository"
)

func (s *Store) CreateNotification(ctx context.Context, item *models.Notification) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) UpdateNotificationDelivery(ctx context.Context, id uint64, sentAt *time.Time, deliveryErr string) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", id).
		Updates(map[string]any{"sent_at": sentAt, "delivery_error": deliveryErr}).Error
}

func (s *Store) notificationQuery(ctx context.Context, params repository.ListNotificationsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", params.UserID)
	if params.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}
	return query
}

func (s *Store) ListNotifications(ctx context.Context, params repository.ListNotificationsParams) ([]models.Notification, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Notification
	if err := s.notificationQuery(ctx, params).
		Order("created_at desc").
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountNotifications(ctx context.Context, params repository.ListNotificationsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int64
	err := s.notificationQuery(ctx, params).Count(&n).Error
	return n, err
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id uint64) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID uint64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

func (s *Store) DeleteReadNotificationsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("is_read = ? AND created_at < ?", true, before).
		Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}

func (s *Store) GetNotificationSetting(ctx context.Context, userID uint64) (*models.NotificationSetting, error) {
	if s == nil || s.db == nil || userID == 0 {
		return nil, nil
	}
	return first[models.NotificationSetting](s.db.WithContext(ctx).Where("user_id = ?", userID))
}

func (s *Store) UpsertNotificationSetting(ctx context.Context, item *models.NotificationSetting) error {
	if s == nil || s.db == nil || item == nil || item.UserID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email_enabled",
			"email_address",
			"line_enabled",
			"line_user_id",
			"telegram_enabled",
			"telegram_chat_id",
			"slack_webhook_url",
			"discord_webhook_url",
			"notify_success",
			"notify_failure",
			"notify_daily_summary",
			"updated_at",
		}),
	}).Create(item).Error
}
