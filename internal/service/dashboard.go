package service

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"dcabot/internal/models"
	"dcabot/internal/repository"
)

type UpcomingExecution struct {
	StrategyID    uint64          `json:"strategyId"`
	StrategyName  string          `json:"strategyName"`
	Pair          string          `json:"pair"`
	Amount        decimal.Decimal `json:"amount"`
	AmountType    string          `json:"amountType"`
	NextExecution time.Time       `json:"nextExecution"`
}

type DashboardStats struct {
	TotalStrategies      int64               `json:"totalStrategies"`
	ActiveStrategies     int64               `json:"activeStrategies"`
	TotalExchanges       int                 `json:"totalExchanges"`
	TotalExecutions      int64               `json:"totalExecutions"`
	SuccessfulExecutions int64               `json:"successfulExecutions"`
	FailedExecutions     int64               `json:"failedExecutions"`
	SuccessRate          float64             `json:"successRate"`
	TotalInvested        decimal.Decimal     `json:"totalInvested"`
	TotalFees            decimal.Decimal     `json:"totalFees"`
	LastExecutions       []models.Execution  `json:"lastExecutions"`
	UpcomingExecutions   []UpcomingExecution `json:"upcomingExecutions"`
}

type PerformancePoint struct {
	Date       time.Time       `json:"date"`
	Invested   decimal.Decimal `json:"invested"`
	Cumulative decimal.Decimal `json:"cumulative"`
	Executions int64           `json:"executions"`
	Completed  int64           `json:"completed"`
}

type Performance struct {
	Days   int                         `json:"days"`
	Series []PerformancePoint          `json:"series"`
	ByPair []repository.PairInvestment `json:"byPair"`
}

type DashboardService struct {
	Repo repository.Repository
	Jobs JobScheduler
	Now  func() time.Time
}

func (s *DashboardService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *DashboardService) Stats(ctx context.Context, userID uint64) (*DashboardStats, error) {
	total, err := s.Repo.CountStrategies(ctx, repository.ListStrategiesParams{UserID: &userID})
	if err != nil {
		return nil, err
	}
	active := true
	activeParams := repository.ListStrategiesParams{UserID: &userID, Active: &active, Limit: 500}
	activeCount, err := s.Repo.CountStrategies(ctx, activeParams)
	if err != nil {
		return nil, err
	}
	exchanges, err := s.Repo.ListExchangesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	st, err := s.Repo.ExecutionStats(ctx, repository.ExecutionStatsFilter{UserID: &userID})
	if err != nil {
		return nil, err
	}
	recent, err := s.Repo.ListExecutions(ctx, repository.ListExecutionsParams{UserID: &userID, Limit: 10})
	if err != nil {
		return nil, err
	}
	out := &DashboardStats{
		TotalStrategies:      total,
		ActiveStrategies:     activeCount,
		TotalExecutions:      st.Total,
		SuccessfulExecutions: st.Successful,
		FailedExecutions:     st.Failed,
		SuccessRate:          successRate(st.Successful, st.Total),
		TotalInvested:        st.TotalInvested,
		TotalFees:            st.TotalFees,
		LastExecutions:       recent,
		UpcomingExecutions:   []UpcomingExecution{},
	}
	for _, x := range exchanges {
		if x.IsActive {
			out.TotalExchanges++
		}
	}

	if s.Jobs != nil {
		strategies, err := s.Repo.ListStrategies(ctx, activeParams)
		if err != nil {
			return nil, err
		}
		for i := range strategies {
			next, err := s.Jobs.NextExecution(ctx, &strategies[i])
			if err != nil {
				return nil, err
			}
			if next == nil {
				continue
			}
			out.UpcomingExecutions = append(out.UpcomingExecutions, UpcomingExecution{
				StrategyID:    strategies[i].ID,
				StrategyName:  strategies[i].Name,
				Pair:          strategies[i].Pair,
				Amount:        strategies[i].Amount,
				AmountType:    strategies[i].AmountType,
				NextExecution: *next,
			})
		}
		sort.Slice(out.UpcomingExecutions, func(i, j int) bool {
			return out.UpcomingExecutions[i].NextExecution.Before(out.UpcomingExecutions[j].NextExecution)
		})
		if len(out.UpcomingExecutions) > 5 {
			out.UpcomingExecutions = out.UpcomingExecutions[:5]
		}
	}
	return out, nil
}

// Performance returns the daily invested series for the last days days with a
// running total, plus totals per pair.
func (s *DashboardService) Performance(ctx context.Context, userID uint64, days int) (*Performance, error) {
	if days <= 0 {
		days = 30
	}
	if days > 365 {
		days = 365
	}
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -(days - 1))
	rows, err := s.Repo.DailyInvested(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	byPair, err := s.Repo.InvestedByPair(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := &Performance{Days: days, Series: make([]PerformancePoint, 0, len(rows)), ByPair: byPair}
	cumulative := decimal.Zero
	for _, r := range rows {
		cumulative = cumulative.Add(r.Invested)
		out.Series = append(out.Series, PerformancePoint{
			Date:       r.Day,
			Invested:   r.Invested,
			Cumulative: cumulative,
			Executions: r.Executions,
			Completed:  r.Completed,
		})
	}
	if out.ByPair == nil {
		out.ByPair = []repository.PairInvestment{}
	}
	return out, nil
}
