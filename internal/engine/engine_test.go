package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dcabot/internal/exchange"
	"dcabot/internal/models"
	"dcabot/internal/notify"
	"dcabot/internal/repository"
	memrepository "dcabot/internal/repository/memory"
	"dcabot/internal/vault"
)

type fakeClient struct {
	mu          sync.Mutex
	ticker      *exchange.Ticker
	tickerErr   error
	candles     []exchange.Candle
	balances    []exchange.Balance
	order       *exchange.OrderResult
	orderErr    error
	statuses    []*exchange.OrderResult
	statusErr   error
	orders      []exchange.OrderRequest
	statusRefs  []string
	statusCalls int
}

func (c *fakeClient) GetTicker(context.Context, string) (*exchange.Ticker, error) {
	if c.tickerErr != nil {
		return nil, c.tickerErr
	}
	return c.ticker, nil
}

func (c *fakeClient) GetBalances(context.Context) ([]exchange.Balance, error) {
	return c.balances, nil
}

func (c *fakeClient) CreateMarketOrder(_ context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = append(c.orders, req)
	if c.orderErr != nil {
		return nil, c.orderErr
	}
	out := *c.order
	out.ClientOrderID = req.ClientOrderID
	return &out, nil
}

func (c *fakeClient) GetOrderStatus(_ context.Context, ref, _ string) (*exchange.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusRefs = append(c.statusRefs, ref)
	if c.statusErr != nil {
		return nil, c.statusErr
	}
	idx := c.statusCalls
	if idx >= len(c.statuses) {
		idx = len(c.statuses) - 1
	}
	c.statusCalls++
	out := *c.statuses[idx]
	return &out, nil
}

func (c *fakeClient) ValidateCredentials(context.Context) (bool, error) { return true, nil }

func (c *fakeClient) GetCandles(context.Context, string, string, int) ([]exchange.Candle, error) {
	return c.candles, nil
}

type fakeClients struct {
	client    *fakeClient
	authErr   error
	publicErr error
}

func (f *fakeClients) ForExchange(*models.Exchange) (exchange.Client, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return f.client, nil
}

func (f *fakeClients) Public(string, bool) (exchange.Client, error) {
	if f.publicErr != nil {
		return nil, f.publicErr
	}
	return f.client, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, _ uint64, ev notify.Event) (*models.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return &models.Notification{Type: ev.Type}, nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	statuses []string
}

func (b *recordingBroadcaster) SendToUser(_ uint64, _ string, data any) {
	payload, ok := data.(map[string]any)
	if !ok {
		return
	}
	exec, ok := payload["execution"].(models.Execution)
	if !ok {
		return
	}
	b.mu.Lock()
	b.statuses = append(b.statuses, exec.Status)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.statuses...)
}

type staticSwitches map[string]bool

func (s staticSwitches) IsEnabled(_ context.Context, key string, fallback bool) bool {
	if v, ok := s[key]; ok {
		return v
	}
	return fallback
}

type fixture struct {
	repo     *memrepository.Store
	strategy *models.Strategy
	account  *models.Exchange
	client   *fakeClient
	clients  *fakeClients
	notifier *recordingNotifier
	rt       *recordingBroadcaster
	engine   *Engine
}

func newFixture(t *testing.T, mutate func(*models.Strategy)) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := memrepository.New()
	account := &models.Exchange{UserID: 1, Name: "main", Type: models.ExchangeTypeBinance, IsActive: true, APIKeyEnc: "k", APISecretEnc: "s"}
	if err := repo.CreateExchange(ctx, account); err != nil {
		t.Fatalf("create exchange: %v", err)
	}
	st := &models.Strategy{
		UserID:        1,
		ExchangeID:    account.ID,
		Name:          "btc daily",
		Pair:          "BTC/USDT",
		BaseCurrency:  "BTC",
		QuoteCurrency: "USDT",
		Amount:        decimal.NewFromInt(100),
		AmountType:    models.AmountTypeFixed,
		Frequency:     models.FrequencyDaily,
		StartDate:     time.Now().Add(-48 * time.Hour),
		IsActive:      true,
	}
	if mutate != nil {
		mutate(st)
	}
	if err := repo.CreateStrategy(ctx, st); err != nil {
		t.Fatalf("create strategy: %v", err)
	}
	client := &fakeClient{
		ticker: &exchange.Ticker{Pair: "BTC/USDT", Price: decimal.NewFromInt(40000), Volume24h: decimal.NewFromInt(1200)},
		order: &exchange.OrderResult{
			OrderID:        "1001",
			Status:         exchange.StatusFilled,
			FilledQuantity: decimal.RequireFromString("0.0025"),
			AvgFillPrice:   decimal.NewFromInt(40000),
			QuoteFilled:    decimal.NewFromInt(100),
			Fee:            decimal.RequireFromString("0.0000025"),
			FeeAsset:       "BTC",
		},
	}
	clients := &fakeClients{client: client}
	notifier := &recordingNotifier{}
	rt := &recordingBroadcaster{}
	e := &Engine{
		Repo:     repo,
		Clients:  clients,
		Realtime: rt,
		Notifier: notifier,
		Config: Config{
			MonitorInterval:    5 * time.Millisecond,
			MonitorMaxAttempts: 3,
			ReconcileAfter:     time.Minute,
		},
		Owner: "test",
	}
	return &fixture{repo: repo, strategy: st, account: account, client: client, clients: clients, notifier: notifier, rt: rt, engine: e}
}

func (f *fixture) executions(t *testing.T) []models.Execution {
	t.Helper()
	items, err := f.repo.ListExecutions(context.Background(), repository.ListExecutionsParams{StrategyID: &f.strategy.ID})
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	return items
}

func TestExecuteInactiveStrategyIsPrecondition(t *testing.T) {
	f := newFixture(t, func(s *models.Strategy) { s.IsActive = false })
	_, err := f.engine.Execute(context.Background(), ExecuteRequest{StrategyID: f.strategy.ID, Type: models.ExecutionTypeManual})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("err=%v want precondition", err)
	}
	if n := len(f.executions(t)); n != 0 {
		t.Fatalf("rows=%d want=0", n)
	}
	if len(f.client.orders) != 0 {
		t.Fatalf("orders submitted for inactive strategy")
	}
}

func TestExecuteBeforeStartDateIsPrecondition(t *testing.T) {
	f := newFixture(t, func(s *models.Strategy) { s.StartDate = time.Now().Add(30 * 24 * time.Hour) })
	_, err := f.engine.Execute(context.Background(), ExecuteRequest{StrategyID: f.strategy.ID, Type: models.ExecutionTypeManual})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("err=%v want precondition", err)
	}
	if n := len(f.executions(t)); n != 0 {
		t.Fatalf("rows=%d want=0", n)
	}
	if len(f.client.orders) != 0 {
		t.Fatalf("orders submitted before start date")
	}
}

func TestExecuteScopedToOwner(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.Execute(context.Background(), ExecuteRequest{StrategyID: f.strategy.ID, UserID: 2})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("err=%v want precondition", err)
	}
}

func TestExecuteTradingSwitchOff(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.Switches = staticSwitches{FeatureTrading: false}
	_, err := f.engine.Execute(context.Background(), ExecuteRequest{StrategyID: f.strategy.ID})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("err=%v want precondition", err)
	}
}

func TestExecuteFilledOrderCompletes(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.engine.Execute(context.Background(), ExecuteRequest{StrategyID: f.strategy.ID, Type: models.ExecutionTypeManual})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Skipped || res.Execution == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	rows := f.executions(t)
	if len(rows) != 1 {
		t.Fatalf("rows=%d want=1", len(rows))
	}
	row := rows[0]
	if row.Status != models.ExecutionStatusCompleted {
		t.Fatalf("status=%s want completed", row.Status)
	}
	spent := row.Quantity.Mul(row.Price)
	if spent.Sub(row.Amount).Abs().GreaterThan(decimal.RequireFromString("0.01")) {
		t.Fatalf("quantity*price=%s want≈%s", spent, row.Amount)
	}
	if row.ExchangeOrderID != "1001" || row.CompletedAt == nil {
		t.Fatalf("order id=%q completed=%v", row.ExchangeOrderID, row.CompletedAt)
	}
	if row.ClientOrderID == "" || f.client.orders[0].ClientOrderID != row.ClientOrderID {
		t.Fatalf("client order id not propagated: %q vs %q", row.ClientOrderID, f.client.orders[0].ClientOrderID)
	}
	if got := f.client.orders[0]; got.Side != exchange.SideBuy || !got.QuoteAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("order request=%+v", got)
	}
	if got := f.rt.all(); strings.Join(got, ",") != "pending,completed" {
		t.Fatalf("broadcasts=%v", got)
	}
	if got := f.notifier.types(); len(got) != 1 || got[0] != models.NotificationExecutionSuccess {
		t.Fatalf("notifications=%v", got)
	}
	x, _ := f.repo.GetExchange(context.Background(), f.account.ID)
	if x.LastSyncAt == nil {
		t.Fatalf("exchange last sync not touched")
	}
}

func TestExecuteOrderErrorFailsRow(t *testing.T) {
	f := newFixture(t, nil)
	f.client.orderErr = fmt.Errorf("%w: dial tcp: connection refused", exchange.ErrOrderRejected)
	_, err := f.engine.Execute(context.Background(), ExecuteRequest{StrategyID: f.strategy.ID, Type: models.ExecutionTypeScheduled})
	if !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("err=%v want order rejected", err)
	}
	rows := f.executions(t)
	if len(rows) != 1 {
		t.Fatalf("rows=%d want=1", len(rows))
	}
	if rows[0].Status != models.ExecutionStatusFailed || rows[0].ErrorMessage == "" {
		t.Fatalf("row=%+v", rows[0])
	}
	if got := f.rt.all(); strings.Join(got, ",") != "pending,failed" {
		t.Fatalf("broadcasts=%v", got)
	}
	if got := f.notifier.types(); len(got) != 1 || got[0] != models.NotificationExecutionFailed {
		t.Fatalf("notifications=%v", got)
	}
	if logs := f.repo.SystemLogs(); len(logs) != 1 || logs[0].Source != "engine" {
		t.Fatalf("system logs=%+v", logs)
	}
}

func TestExecuteVenueRejectFailsRow(t *testing.T) {
	f := newFixture(t, nil)
	f.client.order.Status = exchange.StatusRejected
	_, err := f.engine.Execute(context.Background(), ExecuteRequest{StrategyID: f.strategy.ID})
	if !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("err=%v want order rejected", err)
	}
	if rows := f.executions(t); rows[0].Status != models.ExecutionStatusFailed {
		t.Fatalf("status=%s want failed", rows[0].Status)
	}
}

func TestExecuteDecryptionFailureFailsRow(t *testing.T) {
	f := newFixture(t, nil)
	f.clients.authErr = fmt.Errorf("decrypt api key: %w", vault.ErrDecryptionFailed)
	_, err := f.engine.Execute(context.Background(), ExecuteRequest{StrategyID: f.strategy.ID})
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("err=%v want decryption failed", err)
	}
	rows := f.executions(t)
	if len(rows) != 1 || rows[0].Status != models.ExecutionStatusFailed {
		t.Fatalf("rows=%+v", rows)
	}
	if len(f.client.orders) != 0 {
		t.Fatalf("order submitted without credentials")
	}
}

func TestExecuteConditionNotMetSkips(t *testing.T) {
	f := newFixture(t, func(s *models.Strategy) {
		s.Conditions = []models.StrategyCondition{{Type: models.ConditionPriceAbove, Value: decimal.NewFromInt(50000), IsActive: true}}
	})
	res, err := f.engine.Execute(context.Background(), ExecuteRequest{StrategyID: f.strategy.ID, Type: models.ExecutionTypeConditional})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Skipped || !errors.Is(res.Reason, ErrConditionsNotMet) {
		t.Fatalf("result=%+v want skipped", res)
	}
	if n := len(f.executions(t)); n != 0 {
		t.Fatalf("rows=%d want=0", n)
	}
	if got := f.notifier.types(); len(got) != 0 {
		t.Fatalf("notifications=%v want none", got)
	}
	if len(f.client.orders) != 0 {
		t.Fatalf("order submitted while conditions unmet")
	}
}

func TestExecuteConditionMetFires(t *testing.T) {
	f := newFixture(t, func(s *models.Strategy) {
		s.Conditions = []models.StrategyCondition{
			{Type: models.ConditionPriceBelow, Value: decimal.NewFromInt(45000), IsActive: true},
			{Type: models.ConditionPriceAbove, Value: decimal.NewFromInt(90000), IsActive: false},
		}
	})
	res, err := f.engine.Execute(context.Background(), ExecuteRequest{StrategyID: f.strategy.ID, Type: models.ExecutionTypeScheduled})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Skipped || res.Snapshot == nil || !res.Snapshot.Price.Equal(decimal.NewFromInt(40000)) {
		t.Fatalf("result=%+v", res)
	}
	if n := len(f.executions(t)); n != 1 {
		t.Fatalf("rows=%d want=1", n)
	}
}

func TestExecuteMarketDataFailure(t *testing.T) {
	f := newFixture(t, func(s *models.Strategy) {
		s.Conditions = []models.StrategyCondition{{Type: models.ConditionPriceBelow, Value: decimal.NewFromInt(45000), IsActive: true}}
	})
	f.client.tickerErr = errors.New("timeout")
	_, err := f.engine.Execute(context.Background(), ExecuteRequest{StrategyID: f.strategy.ID})
	if !errors.Is(err, ErrMarketDataUnavailable) {
		t.Fatalf("err=%v want market data unavailable", err)
	}
	if n := len(f.executions(t)); n != 0 {
		t.Fatalf("rows=%d want=0", n)
	}
}

func TestExecutePercentageAmount(t *testing.T) {
	f := newFixture(t, func(s *models.Strategy) {
		s.AmountType = models.AmountTypePercentage
		s.Amount = decimal.NewFromInt(10)
	})
	f.client.balances = []exchange.Balance{
		{Currency: "BTC", Free: decimal.NewFromInt(1)},
		{Currency: "USDT", Free: decimal.NewFromInt(1000)},
	}
	if _, err := f.engine.Execute(context.Background(), ExecuteRequest{StrategyID: f.strategy.ID}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := f.client.orders[0].QuoteAmount; !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("quote amount=%s want=100", got)
	}
}

func TestExecutePercentageWithoutBalance(t *testing.T) {
	f := newFixture(t, func(s *models.Strategy) {
		s.AmountType = models.AmountTypePercentage
		s.Amount = decimal.NewFromInt(10)
	})
	_, err := f.engine.Execute(context.Background(), ExecuteRequest{StrategyID: f.strategy.ID})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("err=%v want precondition", err)
	}
	if n := len(f.executions(t)); n != 0 {
		t.Fatalf("rows=%d want=0", n)
	}
}

func TestExecuteLeaseHeldIsAlreadyExecuting(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := f.repo.UpsertJob(ctx, &models.ScheduledJob{StrategyID: f.strategy.ID, NextRunAt: now, IsActive: true}); err != nil {
		t.Fatalf("upsert job: %v", err)
	}
	if ok, _ := f.repo.ClaimJobLease(ctx, f.strategy.ID, "scheduler-a", now, now.Add(time.Hour)); !ok {
		t.Fatalf("claim lease failed")
	}
	_, err := f.engine.Execute(ctx, ExecuteRequest{StrategyID: f.strategy.ID})
	if !errors.Is(err, ErrAlreadyExecuting) {
		t.Fatalf("err=%v want already executing", err)
	}
	if n := len(f.executions(t)); n != 0 {
		t.Fatalf("rows=%d want=0", n)
	}

	// The lease holder itself passes through.
	if _, err := f.engine.Execute(ctx, ExecuteRequest{StrategyID: f.strategy.ID, LeaseOwner: "scheduler-a"}); err != nil {
		t.Fatalf("execute with lease: %v", err)
	}
}

func TestExecuteReleasesManualLease(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	_ = f.repo.UpsertJob(ctx, &models.ScheduledJob{StrategyID: f.strategy.ID, NextRunAt: now.Add(time.Hour), IsActive: true})
	if _, err := f.engine.Execute(ctx, ExecuteRequest{StrategyID: f.strategy.ID}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	job, _ := f.repo.GetJobByStrategy(ctx, f.strategy.ID)
	if job.LeaseOwner != "" || job.LeaseUntil != nil {
		t.Fatalf("lease not released: %q", job.LeaseOwner)
	}
}

func TestSignalMismatchIsPrecondition(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.Execute(context.Background(), ExecuteRequest{
		StrategyID: f.strategy.ID,
		Type:       models.ExecutionTypeConditional,
		Signal:     &Signal{Source: "tradingview", Action: "buy", Symbol: "BINANCE:ETHUSDT"},
	})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("err=%v want precondition", err)
	}
}

func TestSignalWithoutConditionsFires(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.engine.Execute(context.Background(), ExecuteRequest{
		StrategyID: f.strategy.ID,
		Type:       models.ExecutionTypeConditional,
		Signal:     &Signal{Source: "tradingview", Action: "buy", Symbol: "BINANCE:BTCUSDT"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Execution == nil || res.Execution.Type != models.ExecutionTypeConditional {
		t.Fatalf("result=%+v", res)
	}
}

func TestMonitorCompletesAfterFill(t *testing.T) {
	f := newFixture(t, nil)
	f.client.order = &exchange.OrderResult{OrderID: "42", Status: exchange.StatusPending}
	f.client.statuses = []*exchange.OrderResult{
		{OrderID: "42", Status: exchange.StatusPartiallyFilled},
		{OrderID: "42", Status: exchange.StatusFilled, FilledQuantity: decimal.RequireFromString("0.002"), AvgFillPrice: decimal.NewFromInt(50000)},
	}
	res, err := f.engine.Execute(context.Background(), ExecuteRequest{StrategyID: f.strategy.ID})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Execution.Status != models.ExecutionStatusPending {
		t.Fatalf("status=%s want pending", res.Execution.Status)
	}
	f.engine.Wait()
	row, _ := f.repo.GetExecution(context.Background(), res.Execution.ID)
	if row.Status != models.ExecutionStatusCompleted || !row.Price.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("row=%+v", row)
	}
	if row.MonitorAttempts != 2 {
		t.Fatalf("attempts=%d want=2", row.MonitorAttempts)
	}
	if f.client.statusRefs[0] != "42" {
		t.Fatalf("polled ref=%q want=42", f.client.statusRefs[0])
	}
}

func TestMonitorTimeout(t *testing.T) {
	f := newFixture(t, nil)
	f.client.order = &exchange.OrderResult{OrderID: "42", Status: exchange.StatusPending}
	f.client.statuses = []*exchange.OrderResult{{OrderID: "42", Status: exchange.StatusPending}}
	res, err := f.engine.Execute(context.Background(), ExecuteRequest{StrategyID: f.strategy.ID})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	f.engine.Wait()
	row, _ := f.repo.GetExecution(context.Background(), res.Execution.ID)
	if row.Status != models.ExecutionStatusFailed || row.ErrorMessage != "monitoring timeout" {
		t.Fatalf("row=%+v", row)
	}
	if row.MonitorAttempts != 3 {
		t.Fatalf("attempts=%d want=3", row.MonitorAttempts)
	}
	if got := f.notifier.types(); len(got) != 1 || got[0] != models.NotificationExecutionFailed {
		t.Fatalf("notifications=%v", got)
	}
}

func TestMonitorStopsOnShutdown(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.engine.BaseContext = ctx
	f.engine.Config.MonitorInterval = time.Hour
	f.client.order = &exchange.OrderResult{OrderID: "42", Status: exchange.StatusPending}
	res, err := f.engine.Execute(context.Background(), ExecuteRequest{StrategyID: f.strategy.ID})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	cancel()
	f.engine.Wait()
	row, _ := f.repo.GetExecution(context.Background(), res.Execution.ID)
	if row.Status != models.ExecutionStatusPending || row.ExchangeOrderID != "42" {
		t.Fatalf("row=%+v want pending with order id", row)
	}
}

func (f *fixture) stalePending(t *testing.T, orderID string) *models.Execution {
	t.Helper()
	exec := &models.Execution{
		StrategyID:      f.strategy.ID,
		UserID:          f.strategy.UserID,
		Amount:          decimal.NewFromInt(100),
		Status:          models.ExecutionStatusPending,
		Type:            models.ExecutionTypeScheduled,
		ClientOrderID:   "c-" + orderID,
		ExchangeOrderID: orderID,
		Timestamp:       time.Now().UTC().Add(-time.Hour),
	}
	if err := f.repo.CreateExecution(context.Background(), exec); err != nil {
		t.Fatalf("create execution: %v", err)
	}
	return exec
}

func TestReconcileOrphanedExecution(t *testing.T) {
	f := newFixture(t, nil)
	exec := f.stalePending(t, "")
	f.client.statusErr = &exchange.APIError{Venue: exchange.VenueBinance, Status: 400, Body: `{"code":-2013,"msg":"Order does not exist."}`}
	n, err := f.engine.Reconcile(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("settled=%d err=%v", n, err)
	}
	row, _ := f.repo.GetExecution(context.Background(), exec.ID)
	if row.Status != models.ExecutionStatusFailed || row.ErrorMessage != "orphaned before order submission" {
		t.Fatalf("row=%+v", row)
	}
	if f.client.statusRefs[0] != exchange.ClientOrderRef("c-") {
		t.Fatalf("lookup ref=%q", f.client.statusRefs[0])
	}
}

func TestReconcileVenueCancelled(t *testing.T) {
	f := newFixture(t, nil)
	exec := f.stalePending(t, "7")
	f.client.statuses = []*exchange.OrderResult{{OrderID: "7", Status: exchange.StatusCancelled}}
	if _, err := f.engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	row, _ := f.repo.GetExecution(context.Background(), exec.ID)
	if row.Status != models.ExecutionStatusCancelled {
		t.Fatalf("status=%s want cancelled", row.Status)
	}
}

func TestReconcileFindsFillByClientOrderID(t *testing.T) {
	f := newFixture(t, nil)
	exec := f.stalePending(t, "")
	f.client.statuses = []*exchange.OrderResult{{
		OrderID:        "555",
		Status:         exchange.StatusFilled,
		FilledQuantity: decimal.RequireFromString("0.0025"),
		AvgFillPrice:   decimal.NewFromInt(40000),
	}}
	if _, err := f.engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	row, _ := f.repo.GetExecution(context.Background(), exec.ID)
	if row.Status != models.ExecutionStatusCompleted || row.ExchangeOrderID != "555" {
		t.Fatalf("row=%+v", row)
	}
}

func TestReconcileSkipsFreshRows(t *testing.T) {
	f := newFixture(t, nil)
	exec := f.stalePending(t, "9")
	f.engine.Config.ReconcileAfter = 2 * time.Hour
	n, err := f.engine.Reconcile(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("settled=%d err=%v", n, err)
	}
	row, _ := f.repo.GetExecution(context.Background(), exec.ID)
	if row.Status != models.ExecutionStatusPending {
		t.Fatalf("status=%s want pending", row.Status)
	}
}
