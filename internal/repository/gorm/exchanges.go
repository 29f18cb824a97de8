package gormrepository

import (
	"context"
	"time"

	"dcabot/internal/models"
)

func (s *Store) CreateExchange(ctx context.Context, item *models.Exchange) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetExchange(ctx context.Context, id uint64) (*models.Exchange, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	return first[models.Exchange](s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) ListExchangesByUser(ctx context.Context, userID uint64) ([]models.Exchange, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Exchange
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListExchanges(ctx context.Context) ([]models.Exchange, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Exchange
	if err := s.db.WithContext(ctx).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateExchange(ctx context.Context, item *models.Exchange) error {
	if s == nil || s.db == nil || item == nil || item.ID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) DeleteExchange(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Exchange{}).Error
}

func (s *Store) TouchExchangeSync(ctx context.Context, id uint64, at time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Exchange{}).Where("id = ?", id).Update("last_sync_at", at).Error
}

func (s *Store) CountActiveStrategiesByExchange(ctx context.Context, exchangeID uint64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Strategy{}).
		Where("exchange_id = ? AND is_active = ?", exchangeID, true).
		Count(&n).Error
	return n, err
}
