package gormrepository

import (
	"context"

	"gorm.io/gorm"

	"dcabot/internal/models"
	"dcabot/internal/repository"
)

func (s *Store) CreateStrategy(ctx context.Context, item *models.Strategy) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetStrategy(ctx context.Context, id uint64) (*models.Strategy, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	return first[models.Strategy](s.db.WithContext(ctx).Preload("Conditions").Where("id = ?", id))
}

func (s *Store) strategyQuery(ctx context.Context, params repository.ListStrategiesParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Strategy{})
	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.ExchangeID != nil {
		query = query.Where("exchange_id = ?", *params.ExchangeID)
	}
	if params.Active != nil {
		query = query.Where("is_active = ?", *params.Active)
	}
	return query
}

func (s *Store) ListStrategies(ctx context.Context, params repository.ListStrategiesParams) ([]models.Strategy, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.strategyQuery(ctx, params), params.OrderBy, params.Asc, "created_at", "created_at", "updated_at", "name", "pair")
	var items []models.Strategy
	if err := query.Preload("Conditions").
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountStrategies(ctx context.Context, params repository.ListStrategiesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int64
	err := s.strategyQuery(ctx, params).Count(&n).Error
	return n, err
}

func (s *Store) UpdateStrategy(ctx context.Context, item *models.Strategy) error {
	if s == nil || s.db == nil || item == nil || item.ID == 0 {
		return nil
	}
	return s.InTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Omit("Conditions").Save(item).Error; err != nil {
			return err
		}
		if err := tx.Where("strategy_id = ?", item.ID).Delete(&models.StrategyCondition{}).Error; err != nil {
			return err
		}
		if len(item.Conditions) == 0 {
			return nil
		}
		for i := range item.Conditions {
			item.Conditions[i].ID = 0
			item.Conditions[i].StrategyID = item.ID
		}
		return tx.Create(&item.Conditions).Error
	})
}

func (s *Store) SetStrategyActive(ctx context.Context, id uint64, active bool) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Strategy{}).Where("id = ?", id).Update("is_active", active).Error
}

func (s *Store) DeleteStrategy(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.InTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("strategy_id = ?", id).Delete(&models.Execution{}).Error; err != nil {
			return err
		}
		if err := tx.Where("strategy_id = ?", id).Delete(&models.ScheduledJob{}).Error; err != nil {
			return err
		}
		if err := tx.Where("strategy_id = ?", id).Delete(&models.StrategyCondition{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Strategy{}).Error
	})
}

func (s *Store) ListActivePairs(ctx context.Context) ([]repository.ActivePair, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []repository.ActivePair
	err := s.db.WithContext(ctx).
		Table("strategies AS s").
		Select("DISTINCT s.user_id AS user_id, s.pair AS pair, x.type AS exchange_type, x.testnet AS testnet").
		Joins("JOIN exchanges AS x ON x.id = s.exchange_id").
		Where("s.is_active = ? AND x.is_active = ?", true, true).
		Scan(&rows).Error
	return rows, err
}
