package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"dcabot/internal/exchange"
	"dcabot/internal/metrics"
	"dcabot/internal/models"
	"dcabot/internal/repository"
)

const reconcileBatch = 200

var (
	errOrphaned         = errors.New("orphaned before order submission")
	errOrderNotFound    = errors.New("order not found on exchange")
	errStrategyNotFound = errors.New("strategy no longer exists")
)

// Reconcile drives pending executions older than the monitoring window to a
// terminal state and resumes monitors lost to a restart. It returns how many
// rows it settled.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	if e == nil || e.Repo == nil {
		return 0, nil
	}
	e.init()
	before := e.now().Add(-e.Config.ReconcileAfter)
	items, err := e.Repo.ListPendingExecutionsBefore(ctx, before, reconcileBatch)
	if err != nil {
		return 0, err
	}
	settled := 0
	for i := range items {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		exec := items[i]
		if e.isMonitoring(exec.ID) {
			continue
		}
		if e.reconcileOne(ctx, &exec) {
			settled++
			metrics.ReconciledExecutions.WithLabelValues(exec.Status).Inc()
		}
	}
	if len(items) > 0 {
		e.Logger.Info("reconcile sweep finished", zap.Int("pending", len(items)), zap.Int("settled", settled))
	}
	return settled, nil
}

func (e *Engine) reconcileOne(ctx context.Context, exec *models.Execution) bool {
	strategy, err := e.Repo.GetStrategy(ctx, exec.StrategyID)
	if err != nil {
		e.Logger.Warn("reconcile load strategy failed", zap.Uint64("execution_id", exec.ID), zap.Error(err))
		return false
	}
	if strategy == nil {
		return e.finishBare(ctx, exec, models.ExecutionStatusFailed, errStrategyNotFound)
	}
	account, err := e.Repo.GetExchange(ctx, strategy.ExchangeID)
	if err != nil {
		e.Logger.Warn("reconcile load exchange failed", zap.Uint64("execution_id", exec.ID), zap.Error(err))
		return false
	}
	if account == nil {
		_ = e.fail(ctx, strategy, exec, fmt.Errorf("%w: exchange not found", ErrPreconditionFailed))
		return true
	}
	if e.Clients == nil {
		return false
	}
	client, err := e.Clients.ForExchange(account)
	if err != nil {
		_ = e.fail(ctx, strategy, exec, err)
		return true
	}

	ref := exec.ExchangeOrderID
	if ref == "" {
		ref = exchange.ClientOrderRef(exec.ClientOrderID)
	}
	order, err := client.GetOrderStatus(ctx, ref, strategy.Pair)
	if err != nil {
		if !exchange.IsOrderNotFound(err) {
			e.Logger.Warn("reconcile order status failed", zap.Uint64("execution_id", exec.ID), zap.Error(err))
			return false
		}
		cause := errOrderNotFound
		if exec.ExchangeOrderID == "" {
			cause = errOrphaned
		}
		_ = e.fail(ctx, strategy, exec, cause)
		return true
	}
	if exec.ExchangeOrderID == "" && order.OrderID != "" {
		exec.ExchangeOrderID = order.OrderID
		if err := e.Repo.SetExecutionOrderID(ctx, exec.ID, order.OrderID); err != nil {
			e.Logger.Warn("record exchange order id failed", zap.Uint64("execution_id", exec.ID), zap.Error(err))
		}
	}
	if e.settle(ctx, strategy, exec, order, true) {
		return true
	}
	e.startMonitor(strategy, exec, client, exec.MonitorAttempts)
	return false
}

// cancel records a venue-side cancellation.
func (e *Engine) cancel(ctx context.Context, exec *models.Execution, order *exchange.OrderResult) {
	fin := repository.ExecutionFinish{
		Status:          models.ExecutionStatusCancelled,
		ExchangeOrderID: order.OrderID,
		ErrorMessage:    "order cancelled by exchange",
		CompletedAt:     e.now(),
	}
	if e.finish(ctx, exec, fin) {
		e.Logger.Info("execution cancelled by exchange", zap.Uint64("execution_id", exec.ID))
	}
}

func (e *Engine) finishBare(ctx context.Context, exec *models.Execution, status string, cause error) bool {
	return e.finish(ctx, exec, repository.ExecutionFinish{
		Status:          status,
		ExchangeOrderID: exec.ExchangeOrderID,
		ErrorMessage:    cause.Error(),
		CompletedAt:     e.now(),
	})
}
