package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"dcabot/internal/repository"
)

type ExecutionHandler struct {
	Repo repository.ExecutionRepository
}

func (h *ExecutionHandler) Register(r gin.IRouter) {
	r.GET("/executions", h.list)
}

// @Summary Execution history
// @Tags executions
// @Produce json
// @Security BearerAuth
// @Param strategyId query int false "strategy id"
// @Param status query string false "pending|completed|failed|cancelled"
// @Param page query int false "1-based page"
// @Param limit query int false "page size"
// @Success 200 {object} apiResponse
// @Router /api/executions [get]
func (h *ExecutionHandler) list(c *gin.Context) {
	userID := currentUser(c)
	limit, offset := pageParams(c, 50)
	params := repository.ListExecutionsParams{
		Limit:      limit,
		Offset:     offset,
		UserID:     &userID,
		StrategyID: uint64Query(c, "strategyId"),
	}
	if status := strings.ToLower(strings.TrimSpace(c.Query("status"))); status != "" {
		params.Status = &status
	}
	items, err := h.Repo.ListExecutions(c.Request.Context(), params)
	if err != nil {
		fail(c, err)
		return
	}
	total, err := h.Repo.CountExecutions(c.Request.Context(), params)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
