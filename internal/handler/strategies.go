package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dcabot/internal/engine"
	"dcabot/internal/models"
	"dcabot/internal/service"
)

// Executor fires a strategy once.
type Executor interface {
	Execute(ctx context.Context, req engine.ExecuteRequest) (*engine.Result, error)
}

type StrategyHandler struct {
	Service *service.StrategyService
	Engine  Executor
	Logger  *zap.Logger
}

func (h *StrategyHandler) Register(r gin.IRouter) {
	g := r.Group("/strategies")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.PATCH("/:id/toggle", h.toggle)
	g.POST("/:id/execute", h.execute)
	g.GET("/:id/stats", h.stats)
	g.GET("/:id/executions", h.executions)
}

// @Summary List strategies
// @Tags strategies
// @Produce json
// @Security BearerAuth
// @Param active query bool false "filter by active flag"
// @Param limit query int false "page size"
// @Param page query int false "1-based page"
// @Success 200 {object} apiResponse
// @Router /api/strategies [get]
func (h *StrategyHandler) list(c *gin.Context) {
	limit, offset := pageParams(c, 50)
	items, total, err := h.Service.List(c.Request.Context(), currentUser(c), boolQueryPtr(c, "active"), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Create a strategy
// @Tags strategies
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.StrategyInput true "strategy"
// @Success 201 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/strategies [post]
func (h *StrategyHandler) create(c *gin.Context) {
	var in service.StrategyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Service.Create(c.Request.Context(), currentUser(c), in)
	if err != nil {
		fail(c, err)
		return
	}
	Created(c, item)
}

func (h *StrategyHandler) get(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	item, err := h.Service.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, item, nil)
}

func (h *StrategyHandler) update(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var in service.StrategyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Service.Update(c.Request.Context(), currentUser(c), id, in)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, item, nil)
}

func (h *StrategyHandler) delete(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.Service.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		fail(c, err)
		return
	}
	Ok(c, gin.H{"deleted": id}, nil)
}

func (h *StrategyHandler) toggle(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	item, err := h.Service.Toggle(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, item, nil)
}

type executeResponse struct {
	ExecutionID uint64 `json:"executionId,omitempty"`
	OrderID     string `json:"orderId,omitempty"`
	Quantity    string `json:"quantity"`
	Price       string `json:"price"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

// @Summary Execute a strategy now
// @Description Places one market buy. Conditions still apply; an unmet
// @Description condition returns status "skipped".
// @Tags strategies
// @Produce json
// @Security BearerAuth
// @Param id path int true "strategy id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Failure 412 {object} apiResponse
// @Failure 500 {object} apiResponse
// @Router /api/strategies/{id}/execute [post]
func (h *StrategyHandler) execute(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	userID := currentUser(c)
	if _, err := h.Service.Get(c.Request.Context(), userID, id); err != nil {
		fail(c, err)
		return
	}
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "engine unavailable", nil)
		return
	}
	res, err := h.Engine.Execute(c.Request.Context(), engine.ExecuteRequest{
		StrategyID: id,
		UserID:     userID,
		Type:       models.ExecutionTypeManual,
	})
	if err != nil {
		var meta map[string]any
		if res != nil && res.Execution != nil {
			meta = map[string]any{"executionId": res.Execution.ID, "status": res.Execution.Status}
		}
		if h.Logger != nil && !errors.Is(err, engine.ErrPreconditionFailed) {
			h.Logger.Warn("manual execution failed", zap.Uint64("strategy_id", id), zap.Error(err))
		}
		Error(c, statusFor(err), err.Error(), meta)
		return
	}
	Ok(c, executeResult(res), nil)
}

func executeResult(res *engine.Result) executeResponse {
	if res == nil || (!res.Skipped && res.Execution == nil) {
		return executeResponse{Status: "unknown", Quantity: "0", Price: "0"}
	}
	if res.Skipped {
		out := executeResponse{Status: "skipped", Quantity: "0", Price: "0"}
		if res.Reason != nil {
			out.Reason = res.Reason.Error()
		}
		return out
	}
	e := res.Execution
	return executeResponse{
		ExecutionID: e.ID,
		OrderID:     e.ExchangeOrderID,
		Quantity:    e.Quantity.String(),
		Price:       e.Price.String(),
		Status:      e.Status,
	}
}

func (h *StrategyHandler) stats(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	st, err := h.Service.Stats(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, st, nil)
}

func (h *StrategyHandler) executions(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	limit, offset := pageParams(c, 50)
	items, total, err := h.Service.Executions(c.Request.Context(), currentUser(c), id, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
