package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"dcabot/internal/models"
)

// ErrDuplicate is returned when a unique key (user email, client order id)
// already exists.
var ErrDuplicate = errors.New("duplicate record")

type UserRepository interface {
	CreateUser(ctx context.Context, item *models.User) error
	GetUserByID(ctx context.Context, id uint64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	TouchUserLogin(ctx context.Context, id uint64, at time.Time) error
}

type ExchangeRepository interface {
	CreateExchange(ctx context.Context, item *models.Exchange) error
	GetExchange(ctx context.Context, id uint64) (*models.Exchange, error)
	ListExchangesByUser(ctx context.Context, userID uint64) ([]models.Exchange, error)
	// ListExchanges returns every account in id order.
	ListExchanges(ctx context.Context) ([]models.Exchange, error)
	UpdateExchange(ctx context.Context, item *models.Exchange) error
	DeleteExchange(ctx context.Context, id uint64) error
	TouchExchangeSync(ctx context.Context, id uint64, at time.Time) error
	CountActiveStrategiesByExchange(ctx context.Context, exchangeID uint64) (int64, error)
}

type StrategyRepository interface {
	// CreateStrategy inserts the strategy together with its conditions.
	CreateStrategy(ctx context.Context, item *models.Strategy) error
	// GetStrategy preloads conditions.
	GetStrategy(ctx context.Context, id uint64) (*models.Strategy, error)
	ListStrategies(ctx context.Context, params ListStrategiesParams) ([]models.Strategy, error)
	CountStrategies(ctx context.Context, params ListStrategiesParams) (int64, error)
	// UpdateStrategy saves the row and replaces its conditions.
	UpdateStrategy(ctx context.Context, item *models.Strategy) error
	SetStrategyActive(ctx context.Context, id uint64, active bool) error
	// DeleteStrategy removes the strategy, its conditions, executions and job.
	DeleteStrategy(ctx context.Context, id uint64) error
	ListActivePairs(ctx context.Context) ([]ActivePair, error)
}

type ExecutionRepository interface {
	CreateExecution(ctx context.Context, item *models.Execution) error
	GetExecution(ctx context.Context, id uint64) (*models.Execution, error)
	// FinishExecution moves a pending row to a terminal status. It reports
	// false when the row had already left pending.
	FinishExecution(ctx context.Context, id uint64, fin ExecutionFinish) (bool, error)
	SetExecutionOrderID(ctx context.Context, id uint64, orderID string) error
	SetExecutionMonitorAttempts(ctx context.Context, id uint64, attempts int) error
	ListExecutions(ctx context.Context, params ListExecutionsParams) ([]models.Execution, error)
	CountExecutions(ctx context.Context, params ListExecutionsParams) (int64, error)
	ListPendingExecutionsBefore(ctx context.Context, before time.Time, limit int) ([]models.Execution, error)
	ExecutionStats(ctx context.Context, filter ExecutionStatsFilter) (*ExecutionStats, error)
	DailyInvested(ctx context.Context, userID uint64, since time.Time) ([]DailyInvestment, error)
	InvestedByPair(ctx context.Context, userID uint64) ([]PairInvestment, error)
	ListUserIDsWithExecutionsSince(ctx context.Context, since time.Time) ([]uint64, error)
}

type JobRepository interface {
	GetJobByStrategy(ctx context.Context, strategyID uint64) (*models.ScheduledJob, error)
	// UpsertJob keys on strategy_id and refreshes next_run_at and is_active.
	UpsertJob(ctx context.Context, item *models.ScheduledJob) error
	DeactivateJob(ctx context.Context, strategyID uint64) error
	// ListDueJobs returns active jobs with next_run_at <= now whose lease is free.
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error)
	// ClaimJobLease takes the lease when it is free or expired.
	ClaimJobLease(ctx context.Context, strategyID uint64, owner string, now, until time.Time) (bool, error)
	ReleaseJobLease(ctx context.Context, strategyID uint64, owner string) error
	CompleteJobRun(ctx context.Context, run JobRun) error
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, item *models.Notification) error
	UpdateNotificationDelivery(ctx context.Context, id uint64, sentAt *time.Time, deliveryErr string) error
	ListNotifications(ctx context.Context, params ListNotificationsParams) ([]models.Notification, error)
	CountNotifications(ctx context.Context, params ListNotificationsParams) (int64, error)
	MarkNotificationRead(ctx context.Context, userID, id uint64) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userID uint64) (int64, error)
	DeleteReadNotificationsBefore(ctx context.Context, before time.Time) (int64, error)
	GetNotificationSetting(ctx context.Context, userID uint64) (*models.NotificationSetting, error)
	UpsertNotificationSetting(ctx context.Context, item *models.NotificationSetting) error
}

type SystemRepository interface {
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
	CountSystemSettings(ctx context.Context, params ListSystemSettingsParams) (int64, error)
	InsertSystemLog(ctx context.Context, item *models.SystemLog) error
	DeleteSystemLogsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Repository is everything the service needs from storage. Not-found lookups
// return (nil, nil).
type Repository interface {
	UserRepository
	ExchangeRepository
	StrategyRepository
	ExecutionRepository
	JobRepository
	NotificationRepository
	SystemRepository
}

type ListStrategiesParams struct {
	Limit      int
	Offset     int
	UserID     *uint64
	ExchangeID *uint64
	Active     *bool
	OrderBy    string
	Asc        *bool
}

type ListExecutionsParams struct {
	Limit      int
	Offset     int
	UserID     *uint64
	StrategyID *uint64
	Status     *string
	Since      *time.Time
	OrderBy    string
	Asc        *bool
}

type ListNotificationsParams struct {
	Limit      int
	Offset     int
	UserID     uint64
	UnreadOnly bool
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}

// ExecutionFinish is the terminal write for a pending execution.
type ExecutionFinish struct {
	Status          string
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	Fee             decimal.Decimal
	FeeAsset        string
	ExchangeOrderID string
	ErrorMessage    string
	CompletedAt     time.Time
}

type ExecutionStatsFilter struct {
	UserID     *uint64
	StrategyID *uint64
	Since      *time.Time
}

type ExecutionStats struct {
	Total         int64
	Successful    int64
	Failed        int64
	Pending       int64
	TotalInvested decimal.Decimal
	TotalQuantity decimal.Decimal
	TotalFees     decimal.Decimal
	LastExecution *time.Time
}

type DailyInvestment struct {
	Day        time.Time
	Invested   decimal.Decimal
	Executions int64
	Completed  int64
}

type PairInvestment struct {
	Pair     string
	Invested decimal.Decimal
	Quantity decimal.Decimal
}

// ActivePair is one (owner, venue, pair) combination with an active strategy.
type ActivePair struct {
	UserID       uint64
	Pair         string
	ExchangeType string
	Testnet      bool
}

type JobRun struct {
	StrategyID uint64
	Owner      string
	FiredAt    time.Time
	NextRunAt  time.Time
	Success    bool
}
