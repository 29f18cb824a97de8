// Package scheduler fires due strategies on their cadence.
package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"dcabot/internal/models"
)

// NextRun advances anchor by one period of frequency. Monthly runs keep the
// anchor's day, clamped to the last day of the target month. Unknown
// frequencies fall back to daily.
func NextRun(frequency string, anchor time.Time) time.Time {
	switch strings.ToLower(strings.TrimSpace(frequency)) {
	case models.FrequencyHourly:
		return anchor.Add(time.Hour)
	case models.FrequencyWeekly:
		return anchor.AddDate(0, 0, 7)
	case models.FrequencyMonthly:
		return addMonthClamped(anchor)
	}
	return anchor.AddDate(0, 0, 1)
}

func addMonthClamped(t time.Time) time.Time {
	y, m, d := t.Date()
	last := time.Date(y, m+2, 0, 0, 0, 0, 0, t.Location()).Day()
	if d > last {
		d = last
	}
	return time.Date(y, m+1, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// NextRunCustom returns the first tick of a five-field cron expression
// strictly after anchor.
func NextRunCustom(expr string, anchor time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if !ValidCron(expr) {
		return time.Time{}, fmt.Errorf("invalid cron expression %q", expr)
	}
	return gronx.NextTickAfter(expr, anchor, false)
}

func ValidCron(expr string) bool {
	expr = strings.TrimSpace(expr)
	return expr != "" && gronx.New().IsValid(expr)
}

// NextFor resolves the next run of a strategy from anchor.
func NextFor(strategy *models.Strategy, anchor time.Time) (time.Time, error) {
	if strategy.Frequency == models.FrequencyCustom {
		return NextRunCustom(strategy.CronExpression, anchor)
	}
	return NextRun(strategy.Frequency, anchor), nil
}
