package handler

import (
	"github.com/gin-gonic/gin"

	"dcabot/internal/service"
)

type DashboardHandler struct {
	Service *service.DashboardService
}

func (h *DashboardHandler) Register(r gin.IRouter) {
	g := r.Group("/dashboard")
	g.GET("/stats", h.stats)
	g.GET("/performance", h.performance)
}

// @Summary Portfolio overview
// @Tags dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} apiResponse
// @Router /api/dashboard/stats [get]
func (h *DashboardHandler) stats(c *gin.Context) {
	st, err := h.Service.Stats(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, st, nil)
}

// @Summary Invested amount over time
// @Tags dashboard
// @Produce json
// @Security BearerAuth
// @Param days query int false "window in days (default 30, max 365)"
// @Success 200 {object} apiResponse
// @Router /api/dashboard/performance [get]
func (h *DashboardHandler) performance(c *gin.Context) {
	perf, err := h.Service.Performance(c.Request.Context(), currentUser(c), intQuery(c, "days", 30))
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, perf, nil)
}
