package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dcabot/internal/engine"
	"dcabot/internal/models"
	"dcabot/internal/notify"
	"dcabot/internal/repository"
)

// DailySummaryService sends each user with recent executions a digest of the
// last 24 hours.
type DailySummaryService struct {
	Repo     repository.Repository
	Notifier engine.Notifier
	Logger   *zap.Logger
	Flags    *SystemSettingsService
	Now      func() time.Time
}

// RunOnce returns how many summaries were sent.
func (s *DailySummaryService) RunOnce(ctx context.Context) (int, error) {
	if s == nil || s.Repo == nil || s.Notifier == nil {
		return 0, nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureDailySummary, true) {
		return 0, nil
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	since := now.Add(-24 * time.Hour)
	users, err := s.Repo.ListUserIDsWithExecutionsSince(ctx, since)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		uid := userID
		st, err := s.Repo.ExecutionStats(ctx, repository.ExecutionStatsFilter{UserID: &uid, Since: &since})
		if err != nil {
			return sent, err
		}
		if st.Total == 0 {
			continue
		}
		_, err = s.Notifier.Notify(ctx, userID, notify.Event{
			Type:  models.NotificationDailySummary,
			Title: "Daily DCA Summary",
			Message: fmt.Sprintf("%d executions in the last 24h: %d completed, %d failed. Invested %s.",
				st.Total, st.Successful, st.Failed, st.TotalInvested.StringFixed(2)),
			Data: map[string]any{
				"since":         since,
				"total":         st.Total,
				"completed":     st.Successful,
				"failed":        st.Failed,
				"pending":       st.Pending,
				"totalInvested": st.TotalInvested.String(),
				"totalQuantity": st.TotalQuantity.String(),
			},
		})
		if err != nil {
			if s.Logger != nil {
				s.Logger.Warn("daily summary failed", zap.Uint64("user_id", userID), zap.Error(err))
			}
			continue
		}
		sent++
	}
	if s.Logger != nil && sent > 0 {
		s.Logger.Info("daily summaries sent", zap.Int("users", sent))
	}
	return sent, nil
}
