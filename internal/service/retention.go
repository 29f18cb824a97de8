package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dcabot/internal/repository"
)

type RetentionService struct {
	Repo             repository.Repository
	Logger           *zap.Logger
	Flags            *SystemSettingsService
	SystemLogsMaxAge time.Duration
	ReadNotifsMaxAge time.Duration
	Now              func() time.Time
}

type RetentionResult struct {
	SystemLogs    int64
	Notifications int64
}

// RunOnce deletes system logs and read notifications older than their limits.
// A zero limit keeps everything of that kind.
func (s *RetentionService) RunOnce(ctx context.Context) (RetentionResult, error) {
	var out RetentionResult
	if s == nil || s.Repo == nil {
		return out, nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureRetention, true) {
		return out, nil
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	var err error
	if s.SystemLogsMaxAge > 0 {
		if out.SystemLogs, err = s.Repo.DeleteSystemLogsBefore(ctx, now.Add(-s.SystemLogsMaxAge)); err != nil {
			return out, err
		}
	}
	if s.ReadNotifsMaxAge > 0 {
		if out.Notifications, err = s.Repo.DeleteReadNotificationsBefore(ctx, now.Add(-s.ReadNotifsMaxAge)); err != nil {
			return out, err
		}
	}
	if s.Logger != nil && (out.SystemLogs > 0 || out.Notifications > 0) {
		s.Logger.Info("retention cleanup",
			zap.Int64("system_logs", out.SystemLogs),
			zap.Int64("notifications", out.Notifications),
		)
	}
	return out, nil
}
