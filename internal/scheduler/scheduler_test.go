package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dcabot/internal/engine"
	"dcabot/internal/models"
	memrepository "dcabot/internal/repository/memory"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return v
}

func TestNextRun(t *testing.T) {
	anchor := mustTime(t, "2024-03-10T08:30:00Z")
	cases := []struct {
		freq string
		want string
	}{
		{models.FrequencyHourly, "2024-03-10T09:30:00Z"},
		{models.FrequencyDaily, "2024-03-11T08:30:00Z"},
		{models.FrequencyWeekly, "2024-03-17T08:30:00Z"},
		{models.FrequencyMonthly, "2024-04-10T08:30:00Z"},
		{"fortnightly", "2024-03-11T08:30:00Z"},
	}
	for _, tc := range cases {
		if got := NextRun(tc.freq, anchor); !got.Equal(mustTime(t, tc.want)) {
			t.Fatalf("%s: got=%s want=%s", tc.freq, got.Format(time.RFC3339), tc.want)
		}
	}
}

func TestNextRunMonthlyClampsDay(t *testing.T) {
	cases := map[string]string{
		"2024-01-31T10:00:00Z": "2024-02-29T10:00:00Z",
		"2023-01-31T10:00:00Z": "2023-02-28T10:00:00Z",
		"2024-03-31T10:00:00Z": "2024-04-30T10:00:00Z",
		"2024-12-31T10:00:00Z": "2025-01-31T10:00:00Z",
		"2024-02-29T10:00:00Z": "2024-03-29T10:00:00Z",
	}
	for in, want := range cases {
		if got := NextRun(models.FrequencyMonthly, mustTime(t, in)); !got.Equal(mustTime(t, want)) {
			t.Fatalf("%s: got=%s want=%s", in, got.Format(time.RFC3339), want)
		}
	}
}

func TestNextRunCustom(t *testing.T) {
	// 2024-03-10 is a Sunday.
	got, err := NextRunCustom("0 9 * * 1", mustTime(t, "2024-03-10T08:30:00Z"))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := mustTime(t, "2024-03-11T09:00:00Z"); !got.Equal(want) {
		t.Fatalf("got=%s want=%s", got.Format(time.RFC3339), want.Format(time.RFC3339))
	}
	if _, err := NextRunCustom("not a cron", time.Now()); err == nil {
		t.Fatalf("expected error for invalid expression")
	}
}

type fakeExecutor struct {
	mu    sync.Mutex
	reqs  []engine.ExecuteRequest
	err   error
	block chan struct{}
}

func (f *fakeExecutor) Execute(_ context.Context, req engine.ExecuteRequest) (*engine.Result, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &engine.Result{Execution: &models.Execution{StrategyID: req.StrategyID, Status: models.ExecutionStatusCompleted}}, nil
}

func (f *fakeExecutor) calls() []engine.ExecuteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.ExecuteRequest(nil), f.reqs...)
}

func seedDue(t *testing.T, repo *memrepository.Store, now time.Time, mutate func(*models.Strategy)) *models.Strategy {
	t.Helper()
	ctx := context.Background()
	st := &models.Strategy{
		UserID:        1,
		ExchangeID:    1,
		Name:          "eth daily",
		Pair:          "ETH/USDT",
		BaseCurrency:  "ETH",
		QuoteCurrency: "USDT",
		Amount:        decimal.NewFromInt(100),
		AmountType:    models.AmountTypeFixed,
		Frequency:     models.FrequencyDaily,
		StartDate:     now.Add(-72 * time.Hour),
		IsActive:      true,
	}
	if mutate != nil {
		mutate(st)
	}
	if err := repo.CreateStrategy(ctx, st); err != nil {
		t.Fatalf("create strategy: %v", err)
	}
	last := now.Add(-25 * time.Hour)
	job := &models.ScheduledJob{StrategyID: st.ID, NextRunAt: last.Add(24 * time.Hour), IsActive: true}
	if err := repo.UpsertJob(ctx, job); err != nil {
		t.Fatalf("upsert job: %v", err)
	}
	return st
}

func newScheduler(repo *memrepository.Store, exec Executor, now time.Time, owner string) *Scheduler {
	return &Scheduler{
		Repo:   repo,
		Engine: exec,
		Owner:  owner,
		Now:    func() time.Time { return now },
	}
}

func TestScanFiresDueJobAndAdvances(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	repo := memrepository.New()
	st := seedDue(t, repo, now, nil)
	exec := &fakeExecutor{}
	s := newScheduler(repo, exec, now, "node-a")

	n, err := s.Scan(ctx)
	if err != nil || n != 1 {
		t.Fatalf("dispatched=%d err=%v", n, err)
	}
	s.Wait()

	calls := exec.calls()
	if len(calls) != 1 || calls[0].StrategyID != st.ID || calls[0].Type != models.ExecutionTypeScheduled || calls[0].LeaseOwner != "node-a" {
		t.Fatalf("calls=%+v", calls)
	}
	job, _ := repo.GetJobByStrategy(ctx, st.ID)
	if !job.NextRunAt.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("next=%s want=%s", job.NextRunAt, now.Add(24*time.Hour))
	}
	if job.RunCount != 1 || job.FailureCount != 0 {
		t.Fatalf("run=%d failure=%d", job.RunCount, job.FailureCount)
	}
	if job.LastRunAt == nil || !job.LastRunAt.Equal(now) {
		t.Fatalf("last run=%v want=%s", job.LastRunAt, now)
	}
	if job.LeaseOwner != "" {
		t.Fatalf("lease still held by %q", job.LeaseOwner)
	}

	// Not due again until tomorrow.
	if n, _ := s.Scan(ctx); n != 0 {
		t.Fatalf("second scan dispatched=%d want=0", n)
	}
}

func TestScanRecordsFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	repo := memrepository.New()
	st := seedDue(t, repo, now, nil)
	s := newScheduler(repo, &fakeExecutor{err: errors.New("order rejected: insufficient balance")}, now, "node-a")

	if _, err := s.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	s.Wait()
	job, _ := repo.GetJobByStrategy(ctx, st.ID)
	if job.FailureCount != 1 || job.RunCount != 0 {
		t.Fatalf("run=%d failure=%d", job.RunCount, job.FailureCount)
	}
	if !job.NextRunAt.After(now) {
		t.Fatalf("next run not advanced: %s", job.NextRunAt)
	}
	logs := repo.SystemLogs()
	if len(logs) != 1 || logs[0].Source != "scheduler" {
		t.Fatalf("system logs=%+v", logs)
	}
}

func TestLeasePreventsDoubleSelection(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	repo := memrepository.New()
	seedDue(t, repo, now, nil)
	block := make(chan struct{})
	first := &fakeExecutor{block: block}
	second := &fakeExecutor{}
	a := newScheduler(repo, first, now, "node-a")
	b := newScheduler(repo, second, now, "node-b")

	if n, _ := a.Scan(ctx); n != 1 {
		t.Fatalf("node-a dispatched=%d want=1", n)
	}
	if n, _ := b.Scan(ctx); n != 0 {
		t.Fatalf("node-b dispatched=%d want=0", n)
	}
	close(block)
	a.Wait()
	b.Wait()
	if len(second.calls()) != 0 {
		t.Fatalf("node-b fired a leased job")
	}
}

func TestScanSaturatedPoolLeavesJob(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	repo := memrepository.New()
	seedDue(t, repo, now, nil)
	seedDue(t, repo, now, func(s *models.Strategy) { s.Name = "btc daily" })
	block := make(chan struct{})
	s := newScheduler(repo, &fakeExecutor{block: block}, now, "node-a")
	s.Workers = 1

	if n, _ := s.Scan(ctx); n != 1 {
		t.Fatalf("dispatched=%d want=1", n)
	}
	close(block)
	s.Wait()
	// Whichever job lost the race is still due with no lease.
	due, _ := repo.ListDueJobs(ctx, now, 10)
	if len(due) != 1 {
		t.Fatalf("due=%d want=1", len(due))
	}
}

func TestScanDeactivatesEndedStrategy(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	repo := memrepository.New()
	ended := now.Add(-time.Hour)
	st := seedDue(t, repo, now, func(s *models.Strategy) { s.EndDate = &ended })
	exec := &fakeExecutor{}
	s := newScheduler(repo, exec, now, "node-a")

	if _, err := s.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	s.Wait()
	if len(exec.calls()) != 0 {
		t.Fatalf("ended strategy fired")
	}
	got, _ := repo.GetStrategy(ctx, st.ID)
	if got.IsActive {
		t.Fatalf("strategy still active")
	}
	job, _ := repo.GetJobByStrategy(ctx, st.ID)
	if job.IsActive {
		t.Fatalf("job still active")
	}
}

func TestScanAlreadyExecutingKeepsSchedule(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	repo := memrepository.New()
	st := seedDue(t, repo, now, nil)
	before, _ := repo.GetJobByStrategy(ctx, st.ID)
	s := newScheduler(repo, &fakeExecutor{err: engine.ErrAlreadyExecuting}, now, "node-a")

	if _, err := s.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	s.Wait()
	job, _ := repo.GetJobByStrategy(ctx, st.ID)
	if !job.NextRunAt.Equal(before.NextRunAt) || job.FailureCount != 0 || job.LeaseOwner != "" {
		t.Fatalf("job=%+v", job)
	}
}

func TestScanHonoursSwitch(t *testing.T) {
	now := time.Now().UTC()
	repo := memrepository.New()
	seedDue(t, repo, now, nil)
	s := newScheduler(repo, &fakeExecutor{}, now, "node-a")
	s.Switches = switchOff{}
	if n, _ := s.Scan(context.Background()); n != 0 {
		t.Fatalf("dispatched=%d want=0", n)
	}
}

type switchOff struct{}

func (switchOff) IsEnabled(context.Context, string, bool) bool { return false }

func TestEnsureJob(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	repo := memrepository.New()
	s := newScheduler(repo, &fakeExecutor{}, now, "node-a")

	future := &models.Strategy{ID: 10, Frequency: models.FrequencyWeekly, StartDate: now.Add(48 * time.Hour), IsActive: true}
	job, err := s.EnsureJob(ctx, future)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !job.NextRunAt.Equal(future.StartDate) {
		t.Fatalf("next=%s want start %s", job.NextRunAt, future.StartDate)
	}

	past := &models.Strategy{ID: 11, Frequency: models.FrequencyDaily, StartDate: now.Add(-48 * time.Hour), IsActive: true}
	job, err = s.EnsureJob(ctx, past)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !job.NextRunAt.Equal(now) {
		t.Fatalf("next=%s want now %s", job.NextRunAt, now)
	}

	past.IsActive = false
	if _, err := s.EnsureJob(ctx, past); err != nil {
		t.Fatalf("ensure inactive: %v", err)
	}
	got, _ := repo.GetJobByStrategy(ctx, past.ID)
	if got.IsActive {
		t.Fatalf("job still active")
	}

	next, _ := s.NextExecution(ctx, future)
	if next == nil || !next.Equal(future.StartDate) {
		t.Fatalf("next execution=%v", next)
	}
}
