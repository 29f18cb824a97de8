package gormrepository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"dcabot/internal/models"
	"dcabot/internal/repository"
)

func (s *Store) CreateExecution(ctx context.Context, item *models.Execution) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return translate(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) GetExecution(ctx context.Context, id uint64) (*models.Execution, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	return first[models.Execution](s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) FinishExecution(ctx context.Context, id uint64, fin repository.ExecutionFinish) (bool, error) {
	if s == nil || s.db == nil || id == 0 {
		return false, nil
	}
	updates := map[string]any{
		"status":        fin.Status,
		"error_message": fin.ErrorMessage,
		"completed_at":  fin.CompletedAt,
	}
	if fin.Status == models.ExecutionStatusCompleted {
		updates["quantity"] = fin.Quantity
		updates["price"] = fin.Price
		updates["fee"] = fin.Fee
		updates["fee_asset"] = fin.FeeAsset
	}
	if fin.ExchangeOrderID != "" {
		updates["exchange_order_id"] = fin.ExchangeOrderID
	}
	res := s.db.WithContext(ctx).Model(&models.Execution{}).
		Where("id = ? AND status = ?", id, models.ExecutionStatusPending).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) SetExecutionOrderID(ctx context.Context, id uint64, orderID string) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Execution{}).
		Where("id = ? AND status = ?", id, models.ExecutionStatusPending).
		Update("exchange_order_id", orderID).Error
}

func (s *Store) SetExecutionMonitorAttempts(ctx context.Context, id uint64, attempts int) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Execution{}).
		Where("id = ?", id).
		Update("monitor_attempts", attempts).Error
}

func (s *Store) executionQuery(ctx context.Context, params repository.ListExecutionsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Execution{})
	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.StrategyID != nil {
		query = query.Where("strategy_id = ?", *params.StrategyID)
	}
	if params.Status != nil && *params.Status != "" {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("executed_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) ListExecutions(ctx context.Context, params repository.ListExecutionsParams) ([]models.Execution, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.executionQuery(ctx, params), params.OrderBy, params.Asc, "executed_at", "executed_at", "amount", "status")
	var items []models.Execution
	if err := query.
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountExecutions(ctx context.Context, params repository.ListExecutionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int64
	err := s.executionQuery(ctx, params).Count(&n).Error
	return n, err
}

func (s *Store) ListPendingExecutionsBefore(ctx context.Context, before time.Time, limit int) ([]models.Execution, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Execution
	if err := s.db.WithContext(ctx).
		Where("status = ? AND executed_at < ?", models.ExecutionStatusPending, before).
		Order("executed_at asc").
		Limit(normalizeLimit(limit, 200)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ExecutionStats(ctx context.Context, filter repository.ExecutionStatsFilter) (*repository.ExecutionStats, error) {
	if s == nil || s.db == nil {
		return &repository.ExecutionStats{}, nil
	}
	var row struct {
		Total         int64
		Successful    int64
		Failed        int64
		Pending       int64
		TotalInvested decimal.Decimal
		TotalQuantity decimal.Decimal
		TotalFees     decimal.Decimal
		LastExecution *time.Time
	}
	query := s.db.WithContext(ctx).Model(&models.Execution{}).Select(`
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'completed') AS successful,
		COUNT(*) FILTER (WHERE status = 'failed') AS failed,
		COUNT(*) FILTER (WHERE status = 'pending') AS pending,
		COALESCE(SUM(amount) FILTER (WHERE status = 'completed'), 0) AS total_invested,
		COALESCE(SUM(quantity) FILTER (WHERE status = 'completed'), 0) AS total_quantity,
		COALESCE(SUM(fee) FILTER (WHERE status = 'completed'), 0) AS total_fees,
		MAX(executed_at) AS last_execution`)
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.StrategyID != nil {
		query = query.Where("strategy_id = ?", *filter.StrategyID)
	}
	if filter.Since != nil {
		query = query.Where("executed_at >= ?", *filter.Since)
	}
	if err := query.Scan(&row).Error; err != nil {
		return nil, err
	}
	out := repository.ExecutionStats(row)
	return &out, nil
}

func (s *Store) DailyInvested(ctx context.Context, userID uint64, since time.Time) ([]repository.DailyInvestment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []repository.DailyInvestment
	err := s.db.WithContext(ctx).Model(&models.Execution{}).
		Select(`date_trunc('day', executed_at) AS day,
			COALESCE(SUM(amount) FILTER (WHERE status = 'completed'), 0) AS invested,
			COUNT(*) AS executions,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed`).
		Where("user_id = ? AND executed_at >= ?", userID, since).
		Group("1").
		Order("1 asc").
		Scan(&rows).Error
	return rows, err
}

func (s *Store) InvestedByPair(ctx context.Context, userID uint64) ([]repository.PairInvestment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []repository.PairInvestment
	err := s.db.WithContext(ctx).
		Table("executions AS e").
		Select("s.pair AS pair, COALESCE(SUM(e.amount), 0) AS invested, COALESCE(SUM(e.quantity), 0) AS quantity").
		Joins("JOIN strategies AS s ON s.id = e.strategy_id").
		Where("e.user_id = ? AND e.status = ?", userID, models.ExecutionStatusCompleted).
		Group("s.pair").
		Order("invested desc").
		Scan(&rows).Error
	return rows, err
}

func (s *Store) ListUserIDsWithExecutionsSince(ctx context.Context, since time.Time) ([]uint64, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var ids []uint64
	err := s.db.WithContext(ctx).Model(&models.Execution{}).
		Where("executed_at >= ?", since).
		Distinct().
		Pluck("user_id", &ids).Error
	return ids, err
}
