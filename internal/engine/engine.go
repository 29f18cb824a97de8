// Package engine fires strategies: it gates on conditions, sizes the buy,
// submits a market order and drives the execution row to a terminal state.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"dcabot/internal/exchange"
	"dcabot/internal/metrics"
	"dcabot/internal/models"
	"dcabot/internal/notify"
	"dcabot/internal/realtime"
	"dcabot/internal/repository"
)

const FeatureTrading = "feature.trading"

type Config struct {
	MonitorInterval    time.Duration
	MonitorMaxAttempts int
	ReconcileAfter     time.Duration
	RSIPeriod          int
	RSIInterval        string
	LeaseTTL           time.Duration
}

// Clients resolves exchange accounts into venue clients.
type Clients interface {
	ForExchange(x *models.Exchange) (exchange.Client, error)
	Public(exchangeType string, testnet bool) (exchange.Client, error)
}

type Switches interface {
	IsEnabled(ctx context.Context, key string, fallback bool) bool
}

type Notifier interface {
	Notify(ctx context.Context, userID uint64, ev notify.Event) (*models.Notification, error)
}

// Signal carries an external trigger such as a TradingView alert.
type Signal struct {
	Source string
	Action string
	Symbol string
	Price  decimal.Decimal
}

type ExecuteRequest struct {
	StrategyID uint64
	// UserID scopes the firing to the owner when non-zero.
	UserID uint64
	Type   string
	Signal *Signal
	// LeaseOwner is set when the caller already holds the job lease.
	LeaseOwner string
}

type Result struct {
	Execution *models.Execution
	Skipped   bool
	// Reason wraps ErrConditionsNotMet when Skipped.
	Reason   error
	Snapshot *Snapshot
}

type Engine struct {
	Repo     repository.Repository
	Clients  Clients
	Realtime realtime.Broadcaster
	Notifier Notifier
	Switches Switches
	Config   Config
	Logger   *zap.Logger

	// Owner identifies this process in job leases.
	Owner string
	// BaseContext bounds background monitors; they stop when it is done.
	BaseContext      context.Context
	Now              func() time.Time
	NewClientOrderID func() string

	once       sync.Once
	mu         sync.Mutex
	running    map[uint64]struct{}
	monitoring map[uint64]struct{}
	wg         sync.WaitGroup
}

func (e *Engine) init() {
	e.once.Do(func() {
		e.running = map[uint64]struct{}{}
		e.monitoring = map[uint64]struct{}{}
		if e.Logger == nil {
			e.Logger = zap.NewNop()
		}
		if e.Now == nil {
			e.Now = time.Now
		}
		if e.NewClientOrderID == nil {
			e.NewClientOrderID = func() string { return uuid.NewString() }
		}
		if e.BaseContext == nil {
			e.BaseContext = context.Background()
		}
		if strings.TrimSpace(e.Owner) == "" {
			host, _ := os.Hostname()
			e.Owner = fmt.Sprintf("%s-%d", host, os.Getpid())
		}
		if e.Config.MonitorInterval <= 0 {
			e.Config.MonitorInterval = 5 * time.Second
		}
		if e.Config.MonitorMaxAttempts <= 0 {
			e.Config.MonitorMaxAttempts = 12
		}
		if e.Config.ReconcileAfter <= 0 {
			e.Config.ReconcileAfter = e.Config.MonitorInterval*time.Duration(e.Config.MonitorMaxAttempts) + time.Minute
		}
		if e.Config.RSIPeriod <= 0 {
			e.Config.RSIPeriod = 14
		}
		if strings.TrimSpace(e.Config.RSIInterval) == "" {
			e.Config.RSIInterval = "1h"
		}
		if e.Config.LeaseTTL <= 0 {
			e.Config.LeaseTTL = 10 * time.Minute
		}
	})
}

func (e *Engine) now() time.Time {
	return e.Now().UTC()
}

// Execute fires one strategy. Precondition failures return before any
// execution row exists; once the pending row is written every outcome is
// recorded on it.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (*Result, error) {
	if e == nil || e.Repo == nil {
		return nil, fmt.Errorf("%w: engine not configured", ErrPreconditionFailed)
	}
	e.init()
	typ := strings.TrimSpace(req.Type)
	if typ == "" {
		typ = models.ExecutionTypeManual
	}
	if e.Switches != nil && !e.Switches.IsEnabled(ctx, FeatureTrading, true) {
		return nil, fmt.Errorf("%w: trading is disabled", ErrPreconditionFailed)
	}
	strategy, account, err := e.load(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := checkSignal(req.Signal, strategy.Pair); err != nil {
		return nil, err
	}

	if !e.acquire(strategy.ID) {
		return nil, ErrAlreadyExecuting
	}
	defer e.release(strategy.ID)

	if req.LeaseOwner == "" {
		owner := e.Owner + ":" + typ
		now := e.now()
		ok, err := e.Repo.ClaimJobLease(ctx, strategy.ID, owner, now, now.Add(e.Config.LeaseTTL))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrAlreadyExecuting
		}
		defer func() {
			if err := e.Repo.ReleaseJobLease(context.WithoutCancel(ctx), strategy.ID, owner); err != nil {
				e.Logger.Warn("release job lease failed", zap.Uint64("strategy_id", strategy.ID), zap.Error(err))
			}
		}()
	}

	var snap *Snapshot
	conditions := strategy.ActiveConditions()
	if typ == models.ExecutionTypeConditional || len(conditions) > 0 {
		s, unmet, err := e.evaluate(ctx, strategy, account, conditions)
		if err != nil {
			return nil, err
		}
		snap = s
		if unmet != nil {
			metrics.ExecutionsSkipped.Inc()
			reason := fmt.Errorf("%w: %s %s", ErrConditionsNotMet, unmet.Type, unmet.Value.String())
			e.Logger.Info("strategy skipped",
				zap.Uint64("strategy_id", strategy.ID),
				zap.String("type", typ),
				zap.String("condition", unmet.Type),
			)
			return &Result{Skipped: true, Reason: reason, Snapshot: snap}, nil
		}
	}

	amount, err := e.quoteAmount(ctx, strategy, account)
	if err != nil {
		return nil, err
	}

	exec := &models.Execution{
		StrategyID:    strategy.ID,
		UserID:        strategy.UserID,
		Amount:        amount,
		Status:        models.ExecutionStatusPending,
		Type:          typ,
		ClientOrderID: e.NewClientOrderID(),
		Timestamp:     e.now(),
	}
	if err := e.Repo.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	e.broadcast(exec)

	res, err := e.submit(ctx, strategy, account, exec)
	if res != nil {
		res.Snapshot = snap
	}
	return res, err
}

func (e *Engine) load(ctx context.Context, req ExecuteRequest) (*models.Strategy, *models.Exchange, error) {
	strategy, err := e.Repo.GetStrategy(ctx, req.StrategyID)
	if err != nil {
		return nil, nil, err
	}
	if strategy == nil || (req.UserID != 0 && strategy.UserID != req.UserID) {
		return nil, nil, fmt.Errorf("%w: strategy not found", ErrPreconditionFailed)
	}
	if !strategy.IsActive {
		return nil, nil, fmt.Errorf("%w: strategy is not active", ErrPreconditionFailed)
	}
	if e.now().Before(strategy.StartDate) {
		return nil, nil, fmt.Errorf("%w: strategy has not started", ErrPreconditionFailed)
	}
	if strategy.EndDate != nil && !e.now().Before(*strategy.EndDate) {
		return nil, nil, fmt.Errorf("%w: strategy has ended", ErrPreconditionFailed)
	}
	account, err := e.Repo.GetExchange(ctx, strategy.ExchangeID)
	if err != nil {
		return nil, nil, err
	}
	if account == nil || account.UserID != strategy.UserID {
		return nil, nil, fmt.Errorf("%w: exchange not found", ErrPreconditionFailed)
	}
	if !account.IsActive {
		return nil, nil, fmt.Errorf("%w: exchange is not active", ErrPreconditionFailed)
	}
	return strategy, account, nil
}

func checkSignal(sig *Signal, pair string) error {
	if sig == nil {
		return nil
	}
	if action := strings.ToLower(strings.TrimSpace(sig.Action)); action != "" && action != "buy" {
		return fmt.Errorf("%w: unsupported signal action %q", ErrPreconditionFailed, sig.Action)
	}
	if sig.Symbol != "" && compactSymbol(sig.Symbol) != compactSymbol(pair) {
		return fmt.Errorf("%w: signal symbol %s does not match %s", ErrPreconditionFailed, sig.Symbol, pair)
	}
	return nil
}

func compactSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	return strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
}

func (e *Engine) acquire(strategyID uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.running[strategyID]; busy {
		return false
	}
	e.running[strategyID] = struct{}{}
	return true
}

func (e *Engine) release(strategyID uint64) {
	e.mu.Lock()
	delete(e.running, strategyID)
	e.mu.Unlock()
}

func (e *Engine) evaluate(ctx context.Context, strategy *models.Strategy, account *models.Exchange, conditions []models.StrategyCondition) (*Snapshot, *models.StrategyCondition, error) {
	if len(conditions) == 0 {
		return nil, nil, nil
	}
	if e.Clients == nil {
		return nil, nil, fmt.Errorf("%w: no exchange clients", ErrMarketDataUnavailable)
	}
	client, err := e.Clients.Public(account.Type, account.Testnet)
	if err != nil {
		return nil, nil, marketData(err)
	}
	ticker, err := client.GetTicker(ctx, strategy.Pair)
	if err != nil {
		return nil, nil, marketData(err)
	}
	snap := &Snapshot{Price: ticker.Price, Volume24h: ticker.Volume24h}
	if needsRSI(conditions) {
		period := e.Config.RSIPeriod
		candles, err := client.GetCandles(ctx, strategy.Pair, e.Config.RSIInterval, period*4+1)
		if err != nil {
			return nil, nil, marketData(err)
		}
		closes := make([]decimal.Decimal, 0, len(candles))
		for _, c := range candles {
			closes = append(closes, c.Close)
		}
		rsi, err := RSI(closes, period)
		if err != nil {
			return nil, nil, marketData(err)
		}
		snap.RSI = &rsi
	}
	unmet, err := firstUnmet(conditions, *snap)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrPreconditionFailed, err)
	}
	return snap, unmet, nil
}

func marketData(err error) error {
	if errors.Is(err, ErrMarketDataUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrMarketDataUnavailable, err)
}

// quoteAmount resolves how much quote currency this firing spends. Percentage
// strategies spend amount% of the free quote balance.
func (e *Engine) quoteAmount(ctx context.Context, strategy *models.Strategy, account *models.Exchange) (decimal.Decimal, error) {
	if !strategy.Amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount must be positive", ErrPreconditionFailed)
	}
	if strategy.AmountType != models.AmountTypePercentage {
		return strategy.Amount, nil
	}
	if e.Clients == nil {
		return decimal.Zero, fmt.Errorf("%w: no exchange clients", ErrPreconditionFailed)
	}
	client, err := e.Clients.ForExchange(account)
	if err != nil {
		return decimal.Zero, err
	}
	balances, err := client.GetBalances(ctx)
	if err != nil {
		return decimal.Zero, marketData(err)
	}
	free := decimal.Zero
	for _, b := range balances {
		if strings.EqualFold(b.Currency, strategy.QuoteCurrency) {
			free = b.Free
			break
		}
	}
	amount := free.Mul(strategy.Amount).Div(hundred).Truncate(8)
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no free %s balance", ErrPreconditionFailed, strategy.QuoteCurrency)
	}
	return amount, nil
}

func (e *Engine) submit(ctx context.Context, strategy *models.Strategy, account *models.Exchange, exec *models.Execution) (*Result, error) {
	res := &Result{Execution: exec}
	if e.Clients == nil {
		return res, e.fail(ctx, strategy, exec, fmt.Errorf("%w: no exchange clients", ErrPreconditionFailed))
	}
	client, err := e.Clients.ForExchange(account)
	if err != nil {
		return res, e.fail(ctx, strategy, exec, err)
	}
	start := time.Now()
	order, err := client.CreateMarketOrder(ctx, exchange.OrderRequest{
		Pair:          strategy.Pair,
		Side:          exchange.SideBuy,
		QuoteAmount:   exec.Amount,
		ClientOrderID: exec.ClientOrderID,
	})
	metrics.ExecutionLatency.WithLabelValues(account.Type).Observe(time.Since(start).Seconds())
	if err != nil {
		return res, e.fail(ctx, strategy, exec, err)
	}
	if err := e.Repo.TouchExchangeSync(context.WithoutCancel(ctx), account.ID, e.now()); err != nil {
		e.Logger.Warn("touch exchange sync failed", zap.Uint64("exchange_id", account.ID), zap.Error(err))
	}
	if order.OrderID != "" {
		exec.ExchangeOrderID = order.OrderID
	}

	switch order.Status {
	case exchange.StatusFilled:
		e.complete(ctx, strategy, exec, order)
		return res, nil
	case exchange.StatusCancelled, exchange.StatusRejected:
		return res, e.fail(ctx, strategy, exec, fmt.Errorf("%w: order %s by exchange", ErrOrderRejected, strings.ToLower(string(order.Status))))
	}

	if err := e.Repo.SetExecutionOrderID(context.WithoutCancel(ctx), exec.ID, exec.ExchangeOrderID); err != nil {
		e.Logger.Warn("record exchange order id failed", zap.Uint64("execution_id", exec.ID), zap.Error(err))
	}
	e.startMonitor(strategy, exec, client, 0)
	return res, nil
}

// complete writes the fill. It reports false when the row had already left
// pending.
func (e *Engine) complete(ctx context.Context, strategy *models.Strategy, exec *models.Execution, order *exchange.OrderResult) bool {
	price := order.AvgFillPrice
	if price.IsZero() && order.FilledQuantity.IsPositive() && order.QuoteFilled.IsPositive() {
		price = order.QuoteFilled.Div(order.FilledQuantity)
	}
	fin := repository.ExecutionFinish{
		Status:          models.ExecutionStatusCompleted,
		Quantity:        order.FilledQuantity,
		Price:           price,
		Fee:             order.Fee,
		FeeAsset:        order.FeeAsset,
		ExchangeOrderID: order.OrderID,
		CompletedAt:     e.now(),
	}
	if !e.finish(ctx, exec, fin) {
		return false
	}
	e.Logger.Info("execution completed",
		zap.Uint64("execution_id", exec.ID),
		zap.Uint64("strategy_id", strategy.ID),
		zap.String("pair", strategy.Pair),
		zap.String("quantity", exec.Quantity.String()),
		zap.String("price", exec.Price.String()),
	)
	base := strategy.BaseCurrency
	quote := strategy.QuoteCurrency
	e.notify(ctx, exec.UserID, notify.Event{
		Type:    models.NotificationExecutionSuccess,
		Title:   "DCA Executed Successfully",
		Message: fmt.Sprintf("%s: bought %s %s at %s %s (spent %s %s)", strategy.Name, exec.Quantity.String(), base, exec.Price.StringFixed(2), quote, exec.Amount.String(), quote),
		Data:    executionData(strategy, exec),
	})
	return true
}

// fail records cause on the row and returns it for the caller.
func (e *Engine) fail(ctx context.Context, strategy *models.Strategy, exec *models.Execution, cause error) error {
	fin := repository.ExecutionFinish{
		Status:          models.ExecutionStatusFailed,
		ExchangeOrderID: exec.ExchangeOrderID,
		ErrorMessage:    cause.Error(),
		CompletedAt:     e.now(),
	}
	if !e.finish(ctx, exec, fin) {
		return cause
	}
	e.Logger.Warn("execution failed",
		zap.Uint64("execution_id", exec.ID),
		zap.Uint64("strategy_id", strategy.ID),
		zap.String("pair", strategy.Pair),
		zap.Error(cause),
	)
	e.systemLog(ctx, "error", "execution failed", map[string]any{
		"executionId": exec.ID,
		"strategyId":  strategy.ID,
		"error":       cause.Error(),
	})
	e.notify(ctx, exec.UserID, notify.Event{
		Type:    models.NotificationExecutionFailed,
		Title:   "DCA Execution Failed",
		Message: fmt.Sprintf("%s (%s): %s", strategy.Name, strategy.Pair, cause.Error()),
		Data:    executionData(strategy, exec),
	})
	return cause
}

// finish applies the terminal write and publishes it. The write is
// conditional on the row still being pending.
func (e *Engine) finish(ctx context.Context, exec *models.Execution, fin repository.ExecutionFinish) bool {
	ok, err := e.Repo.FinishExecution(context.WithoutCancel(ctx), exec.ID, fin)
	if err != nil {
		e.Logger.Error("finish execution failed", zap.Uint64("execution_id", exec.ID), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	exec.Status = fin.Status
	exec.ErrorMessage = fin.ErrorMessage
	completed := fin.CompletedAt
	exec.CompletedAt = &completed
	if fin.ExchangeOrderID != "" {
		exec.ExchangeOrderID = fin.ExchangeOrderID
	}
	if fin.Status == models.ExecutionStatusCompleted {
		exec.Quantity = fin.Quantity
		exec.Price = fin.Price
		exec.Fee = fin.Fee
		exec.FeeAsset = fin.FeeAsset
	}
	metrics.ExecutionsTotal.WithLabelValues(exec.Type, exec.Status).Inc()
	e.broadcast(exec)
	return true
}

func (e *Engine) broadcast(exec *models.Execution) {
	if e.Realtime == nil || exec == nil {
		return
	}
	snapshot := *exec
	e.Realtime.SendToUser(exec.UserID, realtime.TypeExecutionUpdate, map[string]any{"execution": snapshot})
}

func (e *Engine) notify(ctx context.Context, userID uint64, ev notify.Event) {
	if e.Notifier == nil {
		return
	}
	if _, err := e.Notifier.Notify(context.WithoutCancel(ctx), userID, ev); err != nil {
		e.Logger.Warn("notify failed", zap.Uint64("user_id", userID), zap.String("type", ev.Type), zap.Error(err))
	}
}

func (e *Engine) systemLog(ctx context.Context, level, message string, data map[string]any) {
	raw, _ := json.Marshal(data)
	item := &models.SystemLog{
		Level:     level,
		Source:    "engine",
		Message:   message,
		Data:      datatypes.JSON(raw),
		CreatedAt: e.now(),
	}
	if err := e.Repo.InsertSystemLog(context.WithoutCancel(ctx), item); err != nil {
		e.Logger.Warn("insert system log failed", zap.Error(err))
	}
}

func executionData(strategy *models.Strategy, exec *models.Execution) map[string]any {
	return map[string]any{
		"executionId":  exec.ID,
		"strategyId":   strategy.ID,
		"strategyName": strategy.Name,
		"pair":         strategy.Pair,
		"amount":       exec.Amount.String(),
		"quantity":     exec.Quantity.String(),
		"price":        exec.Price.String(),
		"status":       exec.Status,
		"error":        exec.ErrorMessage,
	}
}

// Wait blocks until background monitors exit. Cancel BaseContext first.
func (e *Engine) Wait() {
	if e == nil {
		return
	}
	e.wg.Wait()
}
