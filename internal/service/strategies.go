package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dcabot/internal/engine"
	"dcabot/internal/exchange"
	"dcabot/internal/models"
	"dcabot/internal/notify"
	"dcabot/internal/realtime"
	"dcabot/internal/repository"
	"dcabot/internal/scheduler"
)

type JobScheduler interface {
	EnsureJob(ctx context.Context, strategy *models.Strategy) (*models.ScheduledJob, error)
	DeactivateJob(ctx context.Context, strategyID uint64) error
	NextExecution(ctx context.Context, strategy *models.Strategy) (*time.Time, error)
}

type ConditionInput struct {
	Type     string          `json:"type"`
	Operator string          `json:"operator,omitempty"`
	Value    decimal.Decimal `json:"value"`
	IsActive *bool           `json:"isActive,omitempty"`
}

type StrategyInput struct {
	Name           string           `json:"name"`
	Description    string           `json:"description,omitempty"`
	ExchangeID     uint64           `json:"exchangeId"`
	Pair           string           `json:"pair"`
	Amount         decimal.Decimal  `json:"amount"`
	AmountType     string           `json:"amountType,omitempty"`
	Frequency      string           `json:"frequency"`
	CronExpression string           `json:"cronExpression,omitempty"`
	StartDate      *time.Time       `json:"startDate,omitempty"`
	EndDate        *time.Time       `json:"endDate,omitempty"`
	IsActive       *bool            `json:"isActive,omitempty"`
	Conditions     []ConditionInput `json:"conditions,omitempty"`
}

type StrategyStats struct {
	TotalExecutions      int64           `json:"totalExecutions"`
	SuccessfulExecutions int64           `json:"successfulExecutions"`
	FailedExecutions     int64           `json:"failedExecutions"`
	PendingExecutions    int64           `json:"pendingExecutions"`
	SuccessRate          float64         `json:"successRate"`
	TotalInvested        decimal.Decimal `json:"totalInvested"`
	TotalQuantity        decimal.Decimal `json:"totalQuantity"`
	TotalFees            decimal.Decimal `json:"totalFees"`
	AveragePrice         decimal.Decimal `json:"averagePrice"`
	LastExecution        *time.Time      `json:"lastExecution,omitempty"`
	NextExecution        *time.Time      `json:"nextExecution,omitempty"`
}

type StrategyService struct {
	Repo     repository.Repository
	Jobs     JobScheduler
	Notifier engine.Notifier
	Realtime realtime.Broadcaster
	Logger   *zap.Logger
	Now      func() time.Time
}

func (s *StrategyService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *StrategyService) List(ctx context.Context, userID uint64, active *bool, limit, offset int) ([]models.Strategy, int64, error) {
	params := repository.ListStrategiesParams{UserID: &userID, Active: active, Limit: limit, Offset: offset}
	items, err := s.Repo.ListStrategies(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountStrategies(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *StrategyService) Get(ctx context.Context, userID, id uint64) (*models.Strategy, error) {
	item, err := s.Repo.GetStrategy(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil || item.UserID != userID {
		return nil, ErrNotFound
	}
	return item, nil
}

func (s *StrategyService) Create(ctx context.Context, userID uint64, in StrategyInput) (*models.Strategy, error) {
	item := &models.Strategy{UserID: userID, IsActive: true, StartDate: s.now()}
	if err := s.apply(ctx, item, in); err != nil {
		return nil, err
	}
	if err := s.Repo.CreateStrategy(ctx, item); err != nil {
		return nil, err
	}
	if err := s.syncJob(ctx, item); err != nil {
		return nil, err
	}
	s.publish(ctx, item, models.NotificationStrategyCreated, "Strategy Created", fmt.Sprintf("%s: %s %s %s", item.Name, item.Amount.String(), item.QuoteCurrency, item.Frequency))
	return item, nil
}

// Update replaces the strategy's settings and conditions.
func (s *StrategyService) Update(ctx context.Context, userID, id uint64, in StrategyInput) (*models.Strategy, error) {
	item, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, item, in); err != nil {
		return nil, err
	}
	if err := s.Repo.UpdateStrategy(ctx, item); err != nil {
		return nil, err
	}
	if err := s.syncJob(ctx, item); err != nil {
		return nil, err
	}
	s.publish(ctx, item, models.NotificationStrategyUpdated, "Strategy Updated", item.Name+" was updated")
	return item, nil
}

func (s *StrategyService) Toggle(ctx context.Context, userID, id uint64) (*models.Strategy, error) {
	item, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !item.IsActive && item.EndDate != nil && !s.now().Before(*item.EndDate) {
		return nil, fmt.Errorf("%w: strategy end date has passed", ErrValidation)
	}
	if !item.IsActive {
		account, err := s.Repo.GetExchange(ctx, item.ExchangeID)
		if err != nil {
			return nil, err
		}
		if account == nil || account.UserID != item.UserID {
			return nil, fmt.Errorf("%w: exchange not found", ErrValidation)
		}
		if !account.IsActive {
			return nil, fmt.Errorf("%w: exchange is not active", ErrValidation)
		}
	}
	item.IsActive = !item.IsActive
	if err := s.Repo.SetStrategyActive(ctx, item.ID, item.IsActive); err != nil {
		return nil, err
	}
	if err := s.syncJob(ctx, item); err != nil {
		return nil, err
	}
	state := "paused"
	if item.IsActive {
		state = "resumed"
	}
	s.publish(ctx, item, models.NotificationStrategyUpdated, "Strategy Updated", item.Name+" was "+state)
	return item, nil
}

func (s *StrategyService) Delete(ctx context.Context, userID, id uint64) error {
	item, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if s.Jobs != nil {
		if err := s.Jobs.DeactivateJob(ctx, item.ID); err != nil {
			return err
		}
	}
	if err := s.Repo.DeleteStrategy(ctx, item.ID); err != nil {
		return err
	}
	item.IsActive = false
	s.publish(ctx, item, models.NotificationStrategyDeleted, "Strategy Deleted", item.Name+" was deleted")
	return nil
}

func (s *StrategyService) Stats(ctx context.Context, userID, id uint64) (*StrategyStats, error) {
	item, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	st, err := s.Repo.ExecutionStats(ctx, repository.ExecutionStatsFilter{StrategyID: &item.ID})
	if err != nil {
		return nil, err
	}
	out := &StrategyStats{
		TotalExecutions:      st.Total,
		SuccessfulExecutions: st.Successful,
		FailedExecutions:     st.Failed,
		PendingExecutions:    st.Pending,
		TotalInvested:        st.TotalInvested,
		TotalQuantity:        st.TotalQuantity,
		TotalFees:            st.TotalFees,
		LastExecution:        st.LastExecution,
		SuccessRate:          successRate(st.Successful, st.Total),
	}
	if st.TotalQuantity.IsPositive() {
		out.AveragePrice = st.TotalInvested.Div(st.TotalQuantity).Round(8)
	}
	if s.Jobs != nil {
		next, err := s.Jobs.NextExecution(ctx, item)
		if err != nil {
			return nil, err
		}
		out.NextExecution = next
	}
	return out, nil
}

func (s *StrategyService) Executions(ctx context.Context, userID, id uint64, limit, offset int) ([]models.Execution, int64, error) {
	item, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, 0, err
	}
	params := repository.ListExecutionsParams{StrategyID: &item.ID, Limit: limit, Offset: offset}
	items, err := s.Repo.ListExecutions(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountExecutions(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// apply validates in and copies it onto item.
func (s *StrategyService) apply(ctx context.Context, item *models.Strategy, in StrategyInput) error {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > 100 {
		return fmt.Errorf("%w: name must be 1-100 characters", ErrValidation)
	}
	account, err := s.Repo.GetExchange(ctx, in.ExchangeID)
	if err != nil {
		return err
	}
	if account == nil || account.UserID != item.UserID {
		return fmt.Errorf("%w: exchange not found", ErrValidation)
	}
	base, quote, err := exchange.SplitPair(in.Pair)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	amountType := strings.ToLower(strings.TrimSpace(in.AmountType))
	switch amountType {
	case "":
		amountType = models.AmountTypeFixed
	case models.AmountTypeFixed:
	case models.AmountTypePercentage:
		if in.Amount.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: percentage amount cannot exceed 100", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown amount type %q", ErrValidation, in.AmountType)
	}
	frequency := strings.ToLower(strings.TrimSpace(in.Frequency))
	switch frequency {
	case models.FrequencyHourly, models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly:
	case models.FrequencyCustom:
		if !scheduler.ValidCron(in.CronExpression) {
			return fmt.Errorf("%w: invalid cron expression", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrValidation, in.Frequency)
	}
	start := item.StartDate
	if in.StartDate != nil {
		start = in.StartDate.UTC()
	}
	if in.EndDate != nil && in.EndDate.Before(start) {
		return fmt.Errorf("%w: end date must not be before start date", ErrValidation)
	}
	conditions := make([]models.StrategyCondition, 0, len(in.Conditions))
	for _, c := range in.Conditions {
		cond := models.StrategyCondition{
			Type:     strings.ToLower(strings.TrimSpace(c.Type)),
			Operator: strings.ToLower(strings.TrimSpace(c.Operator)),
			Value:    c.Value,
			IsActive: true,
		}
		if c.IsActive != nil {
			cond.IsActive = *c.IsActive
		}
		if err := engine.ValidateCondition(cond); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		conditions = append(conditions, cond)
	}

	item.Name = name
	item.Description = strings.TrimSpace(in.Description)
	item.ExchangeID = account.ID
	item.Pair = base + "/" + quote
	item.BaseCurrency = base
	item.QuoteCurrency = quote
	item.Amount = in.Amount
	item.AmountType = amountType
	item.Frequency = frequency
	item.CronExpression = ""
	if frequency == models.FrequencyCustom {
		item.CronExpression = strings.TrimSpace(in.CronExpression)
	}
	item.StartDate = start
	if in.EndDate != nil {
		end := in.EndDate.UTC()
		item.EndDate = &end
	} else {
		item.EndDate = nil
	}
	if in.IsActive != nil {
		item.IsActive = *in.IsActive
	}
	item.Conditions = conditions
	return nil
}

func (s *StrategyService) syncJob(ctx context.Context, item *models.Strategy) error {
	if s.Jobs == nil {
		return nil
	}
	if !item.IsActive {
		return s.Jobs.DeactivateJob(ctx, item.ID)
	}
	_, err := s.Jobs.EnsureJob(ctx, item)
	return err
}

func (s *StrategyService) publish(ctx context.Context, item *models.Strategy, kind, title, message string) {
	if s.Realtime != nil {
		s.Realtime.SendToUser(item.UserID, realtime.TypeStrategyUpdate, map[string]any{"strategy": *item, "event": kind})
	}
	if s.Notifier == nil {
		return
	}
	_, err := s.Notifier.Notify(ctx, item.UserID, notify.Event{
		Type:    kind,
		Title:   title,
		Message: message,
		Data:    map[string]any{"strategyId": item.ID, "pair": item.Pair},
	})
	if err != nil && s.Logger != nil {
		s.Logger.Warn("strategy notification failed", zap.Uint64("strategy_id", item.ID), zap.Error(err))
	}
}

func successRate(successful, total int64) float64 {
	if total == 0 {
		return 0
	}
	rate, _ := decimal.NewFromInt(successful).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(total)).Round(2).Float64()
	return rate
}
