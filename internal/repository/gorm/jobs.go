package gormrepository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dcabot/internal/models"
	"dcabot/internal/repository"
)

func (s *Store) GetJobByStrategy(ctx context.Context, strategyID uint64) (*models.ScheduledJob, error) {
	if s == nil || s.db == nil || strategyID == 0 {
		return nil, nil
	}
	return first[models.ScheduledJob](s.db.WithContext(ctx).Where("strategy_id = ?", strategyID))
}

func (s *Store) UpsertJob(ctx context.Context, item *models.ScheduledJob) error {
	if s == nil || s.db == nil || item == nil || item.StrategyID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "strategy_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"next_run_at",
			"is_active",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) DeactivateJob(ctx context.Context, strategyID uint64) error {
	if s == nil || s.db == nil || strategyID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.ScheduledJob{}).
		Where("strategy_id = ?", strategyID).
		Update("is_active", false).Error
}

func (s *Store) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ScheduledJob
	if err := s.db.WithContext(ctx).
		Where("is_active = ? AND next_run_at <= ?", true, now).
		Where("lease_until IS NULL OR lease_until < ?", now).
		Order("next_run_at asc").
		Limit(normalizeLimit(limit, 200)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ClaimJobLease also reports true when the strategy has no job row, so
// manual firings of never-scheduled strategies are not blocked.
func (s *Store) ClaimJobLease(ctx context.Context, strategyID uint64, owner string, now, until time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return true, nil
	}
	res := s.db.WithContext(ctx).Model(&models.ScheduledJob{}).
		Where("strategy_id = ?", strategyID).
		Where("lease_until IS NULL OR lease_until < ?", now).
		Updates(map[string]any{"lease_owner": owner, "lease_until": until})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.ScheduledJob{}).Where("strategy_id = ?", strategyID).Count(&n).Error; err != nil {
		return false, err
	}
	return n == 0, nil
}

func (s *Store) ReleaseJobLease(ctx context.Context, strategyID uint64, owner string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.ScheduledJob{}).
		Where("strategy_id = ? AND lease_owner = ?", strategyID, owner).
		Updates(map[string]any{"lease_owner": "", "lease_until": nil}).Error
}

func (s *Store) CompleteJobRun(ctx context.Context, run repository.JobRun) error {
	if s == nil || s.db == nil || run.StrategyID == 0 {
		return nil
	}
	updates := map[string]any{
		"next_run_at": run.NextRunAt,
		"last_run_at": run.FiredAt,
		"lease_owner": "",
		"lease_until": nil,
	}
	if run.Success {
		updates["run_count"] = gorm.Expr("run_count + 1")
	} else {
		updates["failure_count"] = gorm.Expr("failure_count + 1")
	}
	return s.db.WithContext(ctx).Model(&models.ScheduledJob{}).
		Where("strategy_id = ? AND lease_owner = ?", run.StrategyID, run.Owner).
		Updates(updates).Error
}
