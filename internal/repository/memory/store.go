// Package memrepository is a process-local implementation of the repository
// contract. It backs tests and single-node runs without a database.
package memrepository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dcabot/internal/models"
	"dcabot/internal/repository"
)

type Store struct {
	mu sync.Mutex

	nextID uint64
	now    func() time.Time

	users         map[uint64]models.User
	exchanges     map[uint64]models.Exchange
	strategies    map[uint64]models.Strategy
	executions    map[uint64]models.Execution
	jobs          map[uint64]models.ScheduledJob // by strategy id
	notifications map[uint64]models.Notification
	notifySetting map[uint64]models.NotificationSetting // by user id
	settings      map[string]models.SystemSetting
	logs          []models.SystemLog
}

var _ repository.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		now:           func() time.Time { return time.Now().UTC() },
		users:         map[uint64]models.User{},
		exchanges:     map[uint64]models.Exchange{},
		strategies:    map[uint64]models.Strategy{},
		executions:    map[uint64]models.Execution{},
		jobs:          map[uint64]models.ScheduledJob{},
		notifications: map[uint64]models.Notification{},
		notifySetting: map[uint64]models.NotificationSetting{},
		settings:      map[string]models.SystemSetting{},
	}
}

// SetClock overrides the timestamp source for created/updated columns.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) id() uint64 {
	s.nextID++
	return s.nextID
}

func page[T any](items []T, limit, offset, fallback int) []T {
	if limit <= 0 {
		limit = fallback
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// --- users ---

func (s *Store) CreateUser(_ context.Context, item *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Email = strings.ToLower(strings.TrimSpace(item.Email))
	for _, u := range s.users {
		if u.Email == item.Email {
			return repository.ErrDuplicate
		}
	}
	item.ID = s.id()
	item.CreatedAt, item.UpdatedAt = s.now(), s.now()
	s.users[item.ID] = *item
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id uint64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) TouchUserLogin(_ context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.LastLoginAt = &at
		s.users[id] = u
	}
	return nil
}

// --- exchanges ---

func (s *Store) CreateExchange(_ context.Context, item *models.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.id()
	item.CreatedAt, item.UpdatedAt = s.now(), s.now()
	s.exchanges[item.ID] = *item
	return nil
}

func (s *Store) GetExchange(_ context.Context, id uint64) (*models.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, ok := s.exchanges[id]
	if !ok {
		return nil, nil
	}
	return &x, nil
}

func (s *Store) ListExchangesByUser(_ context.Context, userID uint64) ([]models.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Exchange{}
	for _, x := range s.exchanges {
		if x.UserID == userID {
			out = append(out, x)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) ListExchanges(_ context.Context) ([]models.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Exchange, 0, len(s.exchanges))
	for _, x := range s.exchanges {
		out = append(out, x)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateExchange(_ context.Context, item *models.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exchanges[item.ID]; !ok {
		return nil
	}
	item.UpdatedAt = s.now()
	s.exchanges[item.ID] = *item
	return nil
}

func (s *Store) DeleteExchange(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.exchanges, id)
	return nil
}

func (s *Store) TouchExchangeSync(_ context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if x, ok := s.exchanges[id]; ok {
		x.LastSyncAt = &at
		s.exchanges[id] = x
	}
	return nil
}

func (s *Store) CountActiveStrategiesByExchange(_ context.Context, exchangeID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, st := range s.strategies {
		if st.ExchangeID == exchangeID && st.IsActive {
			n++
		}
	}
	return n, nil
}

// --- strategies ---

func cloneStrategy(st models.Strategy) models.Strategy {
	st.Conditions = append([]models.StrategyCondition(nil), st.Conditions...)
	return st
}

func (s *Store) CreateStrategy(_ context.Context, item *models.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.id()
	item.CreatedAt, item.UpdatedAt = s.now(), s.now()
	for i := range item.Conditions {
		item.Conditions[i].ID = s.id()
		item.Conditions[i].StrategyID = item.ID
	}
	s.strategies[item.ID] = cloneStrategy(*item)
	return nil
}

func (s *Store) GetStrategy(_ context.Context, id uint64) (*models.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[id]
	if !ok {
		return nil, nil
	}
	out := cloneStrategy(st)
	return &out, nil
}

func (s *Store) filterStrategies(params repository.ListStrategiesParams) []models.Strategy {
	out := []models.Strategy{}
	for _, st := range s.strategies {
		if params.UserID != nil && st.UserID != *params.UserID {
			continue
		}
		if params.ExchangeID != nil && st.ExchangeID != *params.ExchangeID {
			continue
		}
		if params.Active != nil && st.IsActive != *params.Active {
			continue
		}
		out = append(out, cloneStrategy(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *Store) ListStrategies(_ context.Context, params repository.ListStrategiesParams) ([]models.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return page(s.filterStrategies(params), params.Limit, params.Offset, 100), nil
}

func (s *Store) CountStrategies(_ context.Context, params repository.ListStrategiesParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.filterStrategies(params))), nil
}

func (s *Store) UpdateStrategy(_ context.Context, item *models.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.strategies[item.ID]; !ok {
		return nil
	}
	item.UpdatedAt = s.now()
	for i := range item.Conditions {
		item.Conditions[i].ID = s.id()
		item.Conditions[i].StrategyID = item.ID
	}
	s.strategies[item.ID] = cloneStrategy(*item)
	return nil
}

func (s *Store) SetStrategyActive(_ context.Context, id uint64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.strategies[id]; ok {
		st.IsActive = active
		st.UpdatedAt = s.now()
		s.strategies[id] = st
	}
	return nil
}

func (s *Store) DeleteStrategy(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for eid, e := range s.executions {
		if e.StrategyID == id {
			delete(s.executions, eid)
		}
	}
	delete(s.jobs, id)
	delete(s.strategies, id)
	return nil
}

func (s *Store) ListActivePairs(_ context.Context) ([]repository.ActivePair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[repository.ActivePair]struct{}{}
	out := []repository.ActivePair{}
	for _, st := range s.strategies {
		x, ok := s.exchanges[st.ExchangeID]
		if !st.IsActive || !ok || !x.IsActive {
			continue
		}
		p := repository.ActivePair{UserID: st.UserID, Pair: st.Pair, ExchangeType: x.Type, Testnet: x.Testnet}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// --- executions ---

func (s *Store) CreateExecution(_ context.Context, item *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ClientOrderID != "" {
		for _, e := range s.executions {
			if e.ClientOrderID == item.ClientOrderID {
				return repository.ErrDuplicate
			}
		}
	}
	item.ID = s.id()
	item.CreatedAt, item.UpdatedAt = s.now(), s.now()
	if item.Timestamp.IsZero() {
		item.Timestamp = s.now()
	}
	s.executions[item.ID] = *item
	return nil
}

func (s *Store) GetExecution(_ context.Context, id uint64) (*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *Store) FinishExecution(_ context.Context, id uint64, fin repository.ExecutionFinish) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok || e.Status != models.ExecutionStatusPending {
		return false, nil
	}
	e.Status = fin.Status
	e.ErrorMessage = fin.ErrorMessage
	at := fin.CompletedAt
	e.CompletedAt = &at
	if fin.Status == models.ExecutionStatusCompleted {
		e.Quantity = fin.Quantity
		e.Price = fin.Price
		e.Fee = fin.Fee
		e.FeeAsset = fin.FeeAsset
	}
	if fin.ExchangeOrderID != "" {
		e.ExchangeOrderID = fin.ExchangeOrderID
	}
	e.UpdatedAt = s.now()
	s.executions[id] = e
	return true, nil
}

func (s *Store) SetExecutionOrderID(_ context.Context, id uint64, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.executions[id]; ok && e.Status == models.ExecutionStatusPending {
		e.ExchangeOrderID = orderID
		s.executions[id] = e
	}
	return nil
}

func (s *Store) SetExecutionMonitorAttempts(_ context.Context, id uint64, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.executions[id]; ok {
		e.MonitorAttempts = attempts
		s.executions[id] = e
	}
	return nil
}

func (s *Store) filterExecutions(params repository.ListExecutionsParams) []models.Execution {
	out := []models.Execution{}
	for _, e := range s.executions {
		if params.UserID != nil && e.UserID != *params.UserID {
			continue
		}
		if params.StrategyID != nil && e.StrategyID != *params.StrategyID {
			continue
		}
		if params.Status != nil && *params.Status != "" && e.Status != *params.Status {
			continue
		}
		if params.Since != nil && e.Timestamp.Before(*params.Since) {
			continue
		}
		out = append(out, e)
	}
	asc := params.Asc != nil && *params.Asc
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			if asc {
				return out[i].ID < out[j].ID
			}
			return out[i].ID > out[j].ID
		}
		if asc {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func (s *Store) ListExecutions(_ context.Context, params repository.ListExecutionsParams) ([]models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return page(s.filterExecutions(params), params.Limit, params.Offset, 50), nil
}

func (s *Store) CountExecutions(_ context.Context, params repository.ListExecutionsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.filterExecutions(params))), nil
}

func (s *Store) ListPendingExecutionsBefore(_ context.Context, before time.Time, limit int) ([]models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := models.ExecutionStatusPending
	asc := true
	items := s.filterExecutions(repository.ListExecutionsParams{Status: &pending, Asc: &asc})
	out := []models.Execution{}
	for _, e := range items {
		if e.Timestamp.Before(before) {
			out = append(out, e)
		}
	}
	return page(out, limit, 0, 200), nil
}

func (s *Store) ExecutionStats(_ context.Context, filter repository.ExecutionStatsFilter) (*repository.ExecutionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &repository.ExecutionStats{}
	for _, e := range s.filterExecutions(repository.ListExecutionsParams{UserID: filter.UserID, StrategyID: filter.StrategyID, Since: filter.Since}) {
		out.Total++
		switch e.Status {
		case models.ExecutionStatusCompleted:
			out.Successful++
			out.TotalInvested = out.TotalInvested.Add(e.Amount)
			out.TotalQuantity = out.TotalQuantity.Add(e.Quantity)
			out.TotalFees = out.TotalFees.Add(e.Fee)
		case models.ExecutionStatusFailed:
			out.Failed++
		case models.ExecutionStatusPending:
			out.Pending++
		}
		if out.LastExecution == nil || e.Timestamp.After(*out.LastExecution) {
			ts := e.Timestamp
			out.LastExecution = &ts
		}
	}
	return out, nil
}

func (s *Store) DailyInvested(_ context.Context, userID uint64, since time.Time) ([]repository.DailyInvestment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDay := map[time.Time]*repository.DailyInvestment{}
	for _, e := range s.filterExecutions(repository.ListExecutionsParams{UserID: &userID, Since: &since}) {
		t := e.Timestamp.UTC()
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		row, ok := byDay[day]
		if !ok {
			row = &repository.DailyInvestment{Day: day}
			byDay[day] = row
		}
		row.Executions++
		if e.Status == models.ExecutionStatusCompleted {
			row.Completed++
			row.Invested = row.Invested.Add(e.Amount)
		}
	}
	out := make([]repository.DailyInvestment, 0, len(byDay))
	for _, row := range byDay {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (s *Store) InvestedByPair(_ context.Context, userID uint64) ([]repository.PairInvestment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPair := map[string]*repository.PairInvestment{}
	for _, e := range s.executions {
		if e.UserID != userID || e.Status != models.ExecutionStatusCompleted {
			continue
		}
		st, ok := s.strategies[e.StrategyID]
		if !ok {
			continue
		}
		row, ok := byPair[st.Pair]
		if !ok {
			row = &repository.PairInvestment{Pair: st.Pair, Invested: decimal.Zero, Quantity: decimal.Zero}
			byPair[st.Pair] = row
		}
		row.Invested = row.Invested.Add(e.Amount)
		row.Quantity = row.Quantity.Add(e.Quantity)
	}
	out := make([]repository.PairInvestment, 0, len(byPair))
	for _, row := range byPair {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Invested.GreaterThan(out[j].Invested) })
	return out, nil
}

func (s *Store) ListUserIDsWithExecutionsSince(_ context.Context, since time.Time) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[uint64]struct{}{}
	out := []uint64{}
	for _, e := range s.executions {
		if e.Timestamp.Before(since) {
			continue
		}
		if _, ok := seen[e.UserID]; !ok {
			seen[e.UserID] = struct{}{}
			out = append(out, e.UserID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// --- jobs ---

func (s *Store) GetJobByStrategy(_ context.Context, strategyID uint64) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[strategyID]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (s *Store) UpsertJob(_ context.Context, item *models.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.jobs[item.StrategyID]; ok {
		cur.NextRunAt = item.NextRunAt
		cur.IsActive = item.IsActive
		cur.UpdatedAt = s.now()
		s.jobs[item.StrategyID] = cur
		*item = cur
		return nil
	}
	item.ID = s.id()
	item.CreatedAt, item.UpdatedAt = s.now(), s.now()
	s.jobs[item.StrategyID] = *item
	return nil
}

func (s *Store) DeactivateJob(_ context.Context, strategyID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[strategyID]; ok {
		j.IsActive = false
		s.jobs[strategyID] = j
	}
	return nil
}

func leaseFree(j models.ScheduledJob, now time.Time) bool {
	return j.LeaseUntil == nil || j.LeaseUntil.Before(now)
}

func (s *Store) ListDueJobs(_ context.Context, now time.Time, limit int) ([]models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.ScheduledJob{}
	for _, j := range s.jobs {
		if j.IsActive && !j.NextRunAt.After(now) && leaseFree(j, now) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].NextRunAt.Before(out[k].NextRunAt) })
	return page(out, limit, 0, 200), nil
}

func (s *Store) ClaimJobLease(_ context.Context, strategyID uint64, owner string, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[strategyID]
	if !ok {
		return true, nil
	}
	if !leaseFree(j, now) {
		return false, nil
	}
	j.LeaseOwner = owner
	j.LeaseUntil = &until
	s.jobs[strategyID] = j
	return true, nil
}

func (s *Store) ReleaseJobLease(_ context.Context, strategyID uint64, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[strategyID]; ok && j.LeaseOwner == owner {
		j.LeaseOwner = ""
		j.LeaseUntil = nil
		s.jobs[strategyID] = j
	}
	return nil
}

func (s *Store) CompleteJobRun(_ context.Context, run repository.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[run.StrategyID]
	if !ok || j.LeaseOwner != run.Owner {
		return nil
	}
	fired := run.FiredAt
	j.NextRunAt = run.NextRunAt
	j.LastRunAt = &fired
	if run.Success {
		j.RunCount++
	} else {
		j.FailureCount++
	}
	j.LeaseOwner = ""
	j.LeaseUntil = nil
	j.UpdatedAt = s.now()
	s.jobs[run.StrategyID] = j
	return nil
}

// --- notifications ---

func (s *Store) CreateNotification(_ context.Context, item *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.id()
	item.CreatedAt = s.now()
	s.notifications[item.ID] = *item
	return nil
}

func (s *Store) UpdateNotificationDelivery(_ context.Context, id uint64, sentAt *time.Time, deliveryErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.notifications[id]; ok {
		n.SentAt = sentAt
		n.DeliveryError = deliveryErr
		s.notifications[id] = n
	}
	return nil
}

func (s *Store) filterNotifications(params repository.ListNotificationsParams) []models.Notification {
	out := []models.Notification{}
	for _, n := range s.notifications {
		if n.UserID != params.UserID || (params.UnreadOnly && n.IsRead) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *Store) ListNotifications(_ context.Context, params repository.ListNotificationsParams) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return page(s.filterNotifications(params), params.Limit, params.Offset, 50), nil
}

func (s *Store) CountNotifications(_ context.Context, params repository.ListNotificationsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.filterNotifications(params))), nil
}

func (s *Store) MarkNotificationRead(_ context.Context, userID, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return false, nil
	}
	n.IsRead = true
	s.notifications[id] = n
	return true, nil
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, userID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, item := range s.notifications {
		if item.UserID == userID && !item.IsRead {
			item.IsRead = true
			s.notifications[id] = item
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteReadNotificationsBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, item := range s.notifications {
		if item.IsRead && item.CreatedAt.Before(before) {
			delete(s.notifications, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) GetNotificationSetting(_ context.Context, userID uint64) (*models.NotificationSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.notifySetting[userID]
	if !ok {
		return nil, nil
	}
	return &ns, nil
}

func (s *Store) UpsertNotificationSetting(_ context.Context, item *models.NotificationSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.notifySetting[item.UserID]; ok {
		item.ID = cur.ID
		item.CreatedAt = cur.CreatedAt
	} else {
		item.ID = s.id()
		item.CreatedAt = s.now()
	}
	item.UpdatedAt = s.now()
	s.notifySetting[item.UserID] = *item
	return nil
}

// --- system ---

func (s *Store) UpsertSystemSetting(_ context.Context, item *models.SystemSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	if cur, ok := s.settings[item.Key]; ok {
		item.ID = cur.ID
		item.CreatedAt = cur.CreatedAt
	} else {
		item.ID = s.id()
		item.CreatedAt = s.now()
	}
	item.UpdatedAt = s.now()
	s.settings[item.Key] = *item
	return nil
}

func (s *Store) GetSystemSettingByKey(_ context.Context, key string) (*models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.settings[strings.TrimSpace(key)]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *Store) filterSettings(params repository.ListSystemSettingsParams) []models.SystemSetting {
	out := []models.SystemSetting{}
	for _, item := range s.settings {
		if params.Prefix != nil && !strings.HasPrefix(item.Key, strings.TrimSpace(*params.Prefix)) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *Store) ListSystemSettings(_ context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return page(s.filterSettings(params), params.Limit, params.Offset, 500), nil
}

func (s *Store) CountSystemSettings(_ context.Context, params repository.ListSystemSettingsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.filterSettings(params))), nil
}

func (s *Store) InsertSystemLog(_ context.Context, item *models.SystemLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.id()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	s.logs = append(s.logs, *item)
	return nil
}

func (s *Store) DeleteSystemLogsBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.logs[:0]
	var n int64
	for _, l := range s.logs {
		if l.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	s.logs = kept
	return n, nil
}

// SystemLogs returns a copy of the stored log rows.
func (s *Store) SystemLogs() []models.SystemLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SystemLog(nil), s.logs...)
}
