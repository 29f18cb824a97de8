package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"dcabot/internal/engine"
	"dcabot/internal/metrics"
	"dcabot/internal/models"
	"dcabot/internal/realtime"
	"dcabot/internal/repository"
)

const FeatureScheduler = "feature.scheduler"

type Executor interface {
	Execute(ctx context.Context, req engine.ExecuteRequest) (*engine.Result, error)
}

// Scheduler claims due jobs and fires them on a bounded worker pool. A scan
// never waits for a firing to finish.
type Scheduler struct {
	Repo     repository.Repository
	Engine   Executor
	Switches engine.Switches
	Realtime realtime.Broadcaster
	Logger   *zap.Logger

	Workers  int
	LeaseTTL time.Duration
	BatchMax int
	Owner    string
	Now      func() time.Time

	once sync.Once
	sem  chan struct{}
	wg   sync.WaitGroup
}

func (s *Scheduler) init() {
	s.once.Do(func() {
		if s.Workers <= 0 {
			s.Workers = 8
		}
		if s.LeaseTTL <= 0 {
			s.LeaseTTL = 10 * time.Minute
		}
		if s.BatchMax <= 0 {
			s.BatchMax = 200
		}
		if s.Logger == nil {
			s.Logger = zap.NewNop()
		}
		if s.Now == nil {
			s.Now = time.Now
		}
		if strings.TrimSpace(s.Owner) == "" {
			host, _ := os.Hostname()
			s.Owner = fmt.Sprintf("scheduler-%s-%d", host, os.Getpid())
		}
		s.sem = make(chan struct{}, s.Workers)
	})
}

func (s *Scheduler) now() time.Time {
	return s.Now().UTC()
}

// Scan claims every due job it can and hands it to a worker. It returns how
// many firings were dispatched.
func (s *Scheduler) Scan(ctx context.Context) (int, error) {
	if s == nil || s.Repo == nil || s.Engine == nil {
		return 0, nil
	}
	s.init()
	if s.Switches != nil && !s.Switches.IsEnabled(ctx, FeatureScheduler, true) {
		return 0, nil
	}
	now := s.now()
	jobs, err := s.Repo.ListDueJobs(ctx, now, s.BatchMax)
	if err != nil {
		metrics.SchedulerScans.WithLabelValues("error").Inc()
		return 0, err
	}
	metrics.SchedulerDueJobs.Set(float64(len(jobs)))

	dispatched := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.Repo.ClaimJobLease(ctx, job.StrategyID, s.Owner, now, now.Add(s.LeaseTTL))
		if err != nil {
			s.Logger.Warn("claim job lease failed", zap.Uint64("strategy_id", job.StrategyID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		select {
		case s.sem <- struct{}{}:
		default:
			// Pool is saturated; leave the job for the next scan.
			s.release(ctx, job.StrategyID)
			continue
		}
		dispatched++
		s.wg.Add(1)
		go func(job models.ScheduledJob) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.fire(ctx, job, now)
		}(job)
	}
	metrics.SchedulerScans.WithLabelValues("ok").Inc()
	if len(jobs) > 0 {
		s.Logger.Info("scheduler scan", zap.Int("due", len(jobs)), zap.Int("dispatched", dispatched))
	}
	return dispatched, nil
}

func (s *Scheduler) fire(ctx context.Context, job models.ScheduledJob, firedAt time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("scheduled firing panicked", zap.Uint64("strategy_id", job.StrategyID), zap.Any("panic", r))
			s.release(ctx, job.StrategyID)
		}
	}()

	strategy, err := s.Repo.GetStrategy(ctx, job.StrategyID)
	if err != nil {
		s.Logger.Warn("load strategy failed", zap.Uint64("strategy_id", job.StrategyID), zap.Error(err))
		s.release(ctx, job.StrategyID)
		return
	}
	if strategy == nil || !strategy.IsActive {
		_ = s.Repo.DeactivateJob(ctx, job.StrategyID)
		s.release(ctx, job.StrategyID)
		return
	}
	if strategy.EndDate != nil && !firedAt.Before(*strategy.EndDate) {
		s.expire(ctx, strategy)
		return
	}

	_, execErr := s.Engine.Execute(ctx, engine.ExecuteRequest{
		StrategyID: strategy.ID,
		Type:       models.ExecutionTypeScheduled,
		LeaseOwner: s.Owner,
	})
	if errors.Is(execErr, engine.ErrAlreadyExecuting) {
		s.release(ctx, job.StrategyID)
		return
	}

	next, err := NextFor(strategy, firedAt)
	if err != nil {
		s.Logger.Warn("next run failed, falling back to daily", zap.Uint64("strategy_id", strategy.ID), zap.Error(err))
		next = NextRun(models.FrequencyDaily, firedAt)
	}
	run := repository.JobRun{
		StrategyID: strategy.ID,
		Owner:      s.Owner,
		FiredAt:    firedAt,
		NextRunAt:  next,
		Success:    execErr == nil,
	}
	if err := s.Repo.CompleteJobRun(context.WithoutCancel(ctx), run); err != nil {
		s.Logger.Error("complete job run failed", zap.Uint64("strategy_id", strategy.ID), zap.Error(err))
	}
	if execErr != nil {
		s.Logger.Warn("scheduled execution failed",
			zap.Uint64("strategy_id", strategy.ID),
			zap.String("pair", strategy.Pair),
			zap.Error(execErr),
		)
		s.systemLog(ctx, "warn", "scheduled execution failed", map[string]any{
			"strategyId": strategy.ID,
			"error":      execErr.Error(),
		})
	}
}

// expire deactivates a strategy whose end date has passed.
func (s *Scheduler) expire(ctx context.Context, strategy *models.Strategy) {
	defer s.release(ctx, strategy.ID)
	if err := s.Repo.SetStrategyActive(ctx, strategy.ID, false); err != nil {
		s.Logger.Warn("deactivate ended strategy failed", zap.Uint64("strategy_id", strategy.ID), zap.Error(err))
		return
	}
	_ = s.Repo.DeactivateJob(ctx, strategy.ID)
	strategy.IsActive = false
	if s.Realtime != nil {
		s.Realtime.SendToUser(strategy.UserID, realtime.TypeStrategyUpdate, map[string]any{"strategy": *strategy})
	}
	s.Logger.Info("strategy reached end date", zap.Uint64("strategy_id", strategy.ID))
}

func (s *Scheduler) release(ctx context.Context, strategyID uint64) {
	if err := s.Repo.ReleaseJobLease(context.WithoutCancel(ctx), strategyID, s.Owner); err != nil {
		s.Logger.Warn("release job lease failed", zap.Uint64("strategy_id", strategyID), zap.Error(err))
	}
}

func (s *Scheduler) systemLog(ctx context.Context, level, message string, data map[string]any) {
	raw, _ := json.Marshal(data)
	item := &models.SystemLog{
		Level:     level,
		Source:    "scheduler",
		Message:   message,
		Data:      datatypes.JSON(raw),
		CreatedAt: s.now(),
	}
	if err := s.Repo.InsertSystemLog(context.WithoutCancel(ctx), item); err != nil {
		s.Logger.Warn("insert system log failed", zap.Error(err))
	}
}

// Wait blocks until every dispatched firing returns.
func (s *Scheduler) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

// EnsureJob activates or refreshes the job of an active strategy and
// deactivates it otherwise. A job that never ran starts at the later of the
// start date and now.
func (s *Scheduler) EnsureJob(ctx context.Context, strategy *models.Strategy) (*models.ScheduledJob, error) {
	if s == nil || s.Repo == nil || strategy == nil {
		return nil, nil
	}
	s.init()
	if !strategy.IsActive {
		return nil, s.Repo.DeactivateJob(ctx, strategy.ID)
	}
	now := s.now()
	existing, err := s.Repo.GetJobByStrategy(ctx, strategy.ID)
	if err != nil {
		return nil, err
	}
	next := strategy.StartDate.UTC()
	if existing != nil && existing.LastRunAt != nil {
		n, err := NextFor(strategy, *existing.LastRunAt)
		if err != nil {
			return nil, err
		}
		next = n
	}
	if next.Before(now) {
		next = now
	}
	job := &models.ScheduledJob{StrategyID: strategy.ID, NextRunAt: next, IsActive: true}
	if err := s.Repo.UpsertJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Scheduler) DeactivateJob(ctx context.Context, strategyID uint64) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	return s.Repo.DeactivateJob(ctx, strategyID)
}

// NextExecution reports when the strategy fires next, or nil when it will not.
func (s *Scheduler) NextExecution(ctx context.Context, strategy *models.Strategy) (*time.Time, error) {
	if s == nil || s.Repo == nil || strategy == nil || !strategy.IsActive {
		return nil, nil
	}
	s.init()
	job, err := s.Repo.GetJobByStrategy(ctx, strategy.ID)
	if err != nil {
		return nil, err
	}
	if job != nil && job.IsActive {
		next := job.NextRunAt
		return &next, nil
	}
	next, err := NextFor(strategy, s.now())
	if err != nil {
		return nil, nil
	}
	return &next, nil
}
