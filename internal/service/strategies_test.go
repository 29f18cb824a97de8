package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dcabot/internal/models"
	memrepository "dcabot/internal/repository/memory"
)

func newStrategyService(t *testing.T) (*StrategyService, *memrepository.Store, *models.Exchange, *recordingJobs, *recordingNotifier, *recordingBroadcaster) {
	t.Helper()
	repo := memrepository.New()
	x := seedExchange(t, repo, newVault(t), 7)
	jobs := &recordingJobs{}
	notifier := &recordingNotifier{}
	rt := &recordingBroadcaster{}
	svc := &StrategyService{Repo: repo, Jobs: jobs, Notifier: notifier, Realtime: rt}
	return svc, repo, x, jobs, notifier, rt
}

func TestStrategyCreateNormalizesAndSchedules(t *testing.T) {
	svc, _, x, jobs, notifier, rt := newStrategyService(t)
	in := dailyInput(x.ID)
	in.Conditions = []ConditionInput{{Type: "PRICE_BELOW", Value: decimal.NewFromInt(50000)}}

	item, err := svc.Create(context.Background(), 7, in)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if item.Pair != "BTC/USDT" || item.BaseCurrency != "BTC" || item.QuoteCurrency != "USDT" {
		t.Fatalf("pair=%s base=%s quote=%s", item.Pair, item.BaseCurrency, item.QuoteCurrency)
	}
	if !item.IsActive || item.AmountType != models.AmountTypeFixed {
		t.Fatalf("active=%v amountType=%s", item.IsActive, item.AmountType)
	}
	if len(item.Conditions) != 1 || item.Conditions[0].Type != models.ConditionPriceBelow || !item.Conditions[0].IsActive {
		t.Fatalf("conditions=%+v", item.Conditions)
	}
	if len(jobs.ensured) != 1 || jobs.ensured[0] != item.ID {
		t.Fatalf("ensured=%v", jobs.ensured)
	}
	if got := notifier.types(); len(got) != 1 || got[0] != models.NotificationStrategyCreated {
		t.Fatalf("notifications=%v", got)
	}
	if len(rt.sent) != 1 || rt.sent[0].msgType != "strategy_update" {
		t.Fatalf("broadcasts=%+v", rt.sent)
	}
}

func TestStrategyCreateValidation(t *testing.T) {
	svc, repo, x, _, _, _ := newStrategyService(t)
	other := seedExchange(t, repo, newVault(t), 8)
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		mutate func(*StrategyInput)
	}{
		{"empty name", func(in *StrategyInput) { in.Name = " " }},
		{"foreign exchange", func(in *StrategyInput) { in.ExchangeID = other.ID }},
		{"bad pair", func(in *StrategyInput) { in.Pair = "BTCUSDT" }},
		{"zero amount", func(in *StrategyInput) { in.Amount = decimal.Zero }},
		{"percentage over 100", func(in *StrategyInput) {
			in.AmountType = "percentage"
			in.Amount = decimal.NewFromInt(150)
		}},
		{"unknown frequency", func(in *StrategyInput) { in.Frequency = "yearly" }},
		{"custom without cron", func(in *StrategyInput) { in.Frequency = "custom" }},
		{"end before start", func(in *StrategyInput) { in.EndDate = &past }},
		{"unknown condition", func(in *StrategyInput) {
			in.Conditions = []ConditionInput{{Type: "macd_cross", Value: decimal.NewFromInt(1)}}
		}},
	}
	for _, tc := range cases {
		in := dailyInput(x.ID)
		tc.mutate(&in)
		_, err := svc.Create(context.Background(), 7, in)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: err=%v want ErrValidation", tc.name, err)
		}
	}
}

func TestStrategyCustomCronAccepted(t *testing.T) {
	svc, _, x, _, _, _ := newStrategyService(t)
	in := dailyInput(x.ID)
	in.Frequency = "custom"
	in.CronExpression = "0 9 * * 1"
	item, err := svc.Create(context.Background(), 7, in)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if item.CronExpression != "0 9 * * 1" {
		t.Fatalf("cron=%q", item.CronExpression)
	}
}

func TestStrategyGetIsOwnerScoped(t *testing.T) {
	svc, _, x, _, _, _ := newStrategyService(t)
	item, err := svc.Create(context.Background(), 7, dailyInput(x.ID))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if _, err := svc.Get(context.Background(), 99, item.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestStrategyToggleSyncsJob(t *testing.T) {
	svc, repo, x, jobs, notifier, _ := newStrategyService(t)
	item, err := svc.Create(context.Background(), 7, dailyInput(x.ID))
	if err != nil {
		t.Fatalf("err=%v", err)
	}

	paused, err := svc.Toggle(context.Background(), 7, item.ID)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if paused.IsActive {
		t.Fatalf("still active after toggle")
	}
	if len(jobs.deactivated) != 1 {
		t.Fatalf("deactivated=%v", jobs.deactivated)
	}
	stored, _ := repo.GetStrategy(context.Background(), item.ID)
	if stored.IsActive {
		t.Fatalf("stored strategy still active")
	}

	resumed, err := svc.Toggle(context.Background(), 7, item.ID)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !resumed.IsActive || len(jobs.ensured) != 2 {
		t.Fatalf("active=%v ensured=%v", resumed.IsActive, jobs.ensured)
	}
	if got := notifier.types(); len(got) != 3 || got[2] != models.NotificationStrategyUpdated {
		t.Fatalf("notifications=%v", got)
	}
}

func TestStrategyToggleRefusesPastEndDate(t *testing.T) {
	svc, _, x, _, _, _ := newStrategyService(t)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }
	in := dailyInput(x.ID)
	end := now.Add(time.Hour)
	in.EndDate = &end
	item, err := svc.Create(context.Background(), 7, in)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if _, err := svc.Toggle(context.Background(), 7, item.ID); err != nil {
		t.Fatalf("pause err=%v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := svc.Toggle(context.Background(), 7, item.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("err=%v want ErrValidation", err)
	}
}

func TestStrategyToggleResumeChecksExchange(t *testing.T) {
	svc, repo, x, _, _, _ := newStrategyService(t)
	ctx := context.Background()
	item, err := svc.Create(ctx, 7, dailyInput(x.ID))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if _, err := svc.Toggle(ctx, 7, item.ID); err != nil {
		t.Fatalf("pause err=%v", err)
	}

	x.IsActive = false
	if err := repo.UpdateExchange(ctx, x); err != nil {
		t.Fatalf("update exchange: %v", err)
	}
	if _, err := svc.Toggle(ctx, 7, item.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("inactive exchange: err=%v want ErrValidation", err)
	}

	if err := repo.DeleteExchange(ctx, x.ID); err != nil {
		t.Fatalf("delete exchange: %v", err)
	}
	if _, err := svc.Toggle(ctx, 7, item.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("deleted exchange: err=%v want ErrValidation", err)
	}
	stored, _ := repo.GetStrategy(ctx, item.ID)
	if stored.IsActive {
		t.Fatalf("strategy resumed onto a missing exchange")
	}
}

func TestStrategyEndDateMayEqualStartDate(t *testing.T) {
	svc, _, x, _, _, _ := newStrategyService(t)
	in := dailyInput(x.ID)
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	in.StartDate = &start
	in.EndDate = &start
	item, err := svc.Create(context.Background(), 7, in)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if item.EndDate == nil || !item.EndDate.Equal(item.StartDate) {
		t.Fatalf("start=%s end=%v", item.StartDate, item.EndDate)
	}
}

func TestStrategyDeleteRemovesEverything(t *testing.T) {
	svc, repo, x, jobs, notifier, _ := newStrategyService(t)
	item, err := svc.Create(context.Background(), 7, dailyInput(x.ID))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	addExecution(t, repo, item, models.ExecutionStatusCompleted, 100, 1, time.Now())

	if err := svc.Delete(context.Background(), 7, item.ID); err != nil {
		t.Fatalf("err=%v", err)
	}
	if got, _ := repo.GetStrategy(context.Background(), item.ID); got != nil {
		t.Fatalf("strategy still stored")
	}
	if len(jobs.deactivated) != 1 {
		t.Fatalf("deactivated=%v", jobs.deactivated)
	}
	if got := notifier.types(); got[len(got)-1] != models.NotificationStrategyDeleted {
		t.Fatalf("notifications=%v", got)
	}
}

func TestStrategyStats(t *testing.T) {
	svc, repo, x, jobs, _, _ := newStrategyService(t)
	next := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	jobs.next = &next
	item, err := svc.Create(context.Background(), 7, dailyInput(x.ID))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	addExecution(t, repo, item, models.ExecutionStatusCompleted, 100, 2, base)
	addExecution(t, repo, item, models.ExecutionStatusCompleted, 200, 2, base.Add(time.Hour))
	addExecution(t, repo, item, models.ExecutionStatusFailed, 100, 0, base.Add(2*time.Hour))

	st, err := svc.Stats(context.Background(), 7, item.ID)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if st.TotalExecutions != 3 || st.SuccessfulExecutions != 2 || st.FailedExecutions != 1 {
		t.Fatalf("stats=%+v", st)
	}
	if st.SuccessRate != 66.67 {
		t.Fatalf("successRate=%v want 66.67", st.SuccessRate)
	}
	if !st.TotalInvested.Equal(decimal.NewFromInt(300)) || !st.AveragePrice.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("invested=%s avg=%s", st.TotalInvested, st.AveragePrice)
	}
	if st.LastExecution == nil || !st.LastExecution.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("last=%v", st.LastExecution)
	}
	if st.NextExecution == nil || !st.NextExecution.Equal(next) {
		t.Fatalf("next=%v", st.NextExecution)
	}

	items, total, err := svc.Executions(context.Background(), 7, item.ID, 2, 0)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if total != 3 || len(items) != 2 || items[0].Status != models.ExecutionStatusFailed {
		t.Fatalf("total=%d len=%d first=%+v", total, len(items), items)
	}
}
