package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dcabot/internal/exchange"
	"dcabot/internal/models"
)

var errMonitorTimeout = errors.New("monitoring timeout")

// startMonitor polls an accepted order until it fills, is cancelled, or the
// attempt budget runs out. At most one monitor runs per execution.
func (e *Engine) startMonitor(strategy *models.Strategy, exec *models.Execution, client exchange.Client, attemptsUsed int) bool {
	e.mu.Lock()
	if _, ok := e.monitoring[exec.ID]; ok {
		e.mu.Unlock()
		return false
	}
	e.monitoring[exec.ID] = struct{}{}
	e.mu.Unlock()

	s := *strategy
	x := *exec
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.monitoring, x.ID)
			e.mu.Unlock()
		}()
		e.monitor(e.BaseContext, &s, &x, client, attemptsUsed)
	}()
	return true
}

func (e *Engine) isMonitoring(executionID uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.monitoring[executionID]
	return ok
}

func (e *Engine) monitor(ctx context.Context, strategy *models.Strategy, exec *models.Execution, client exchange.Client, attempt int) {
	ticker := time.NewTicker(e.Config.MonitorInterval)
	defer ticker.Stop()
	ref := exec.ExchangeOrderID
	if ref == "" {
		ref = exchange.ClientOrderRef(exec.ClientOrderID)
	}
	for attempt < e.Config.MonitorMaxAttempts {
		select {
		case <-ctx.Done():
			e.Logger.Debug("monitor stopped", zap.Uint64("execution_id", exec.ID))
			return
		case <-ticker.C:
		}
		attempt++
		if err := e.Repo.SetExecutionMonitorAttempts(ctx, exec.ID, attempt); err != nil {
			e.Logger.Warn("record monitor attempt failed", zap.Uint64("execution_id", exec.ID), zap.Error(err))
		}
		order, err := client.GetOrderStatus(ctx, ref, strategy.Pair)
		if err != nil {
			e.Logger.Warn("order status poll failed",
				zap.Uint64("execution_id", exec.ID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		if e.settle(ctx, strategy, exec, order, false) {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	_ = e.fail(ctx, strategy, exec, errMonitorTimeout)
}

// settle drives the row to the terminal state the venue reports. It returns
// false while the order is still open. cancelAsCancelled records a venue
// cancel as cancelled instead of failed.
func (e *Engine) settle(ctx context.Context, strategy *models.Strategy, exec *models.Execution, order *exchange.OrderResult, cancelAsCancelled bool) bool {
	switch order.Status {
	case exchange.StatusFilled:
		e.complete(ctx, strategy, exec, order)
		return true
	case exchange.StatusCancelled:
		if cancelAsCancelled {
			e.cancel(ctx, exec, order)
			return true
		}
		_ = e.fail(ctx, strategy, exec, fmt.Errorf("%w: order cancelled by exchange", ErrOrderRejected))
		return true
	case exchange.StatusRejected:
		_ = e.fail(ctx, strategy, exec, fmt.Errorf("%w: order rejected by exchange", ErrOrderRejected))
		return true
	}
	return false
}
