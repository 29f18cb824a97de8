package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dcabot/internal/service"
)

type ExchangeHandler struct {
	Service *service.ExchangeService
}

func (h *ExchangeHandler) Register(r gin.IRouter) {
	g := r.Group("/exchanges")
	g.GET("", h.list)
	g.POST("", h.create)
	g.POST("/test", h.test)
	g.PATCH("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.GET("/:id/balances", h.balances)
}

// @Summary List connected exchanges
// @Description Credentials are never returned.
// @Tags exchanges
// @Produce json
// @Security BearerAuth
// @Success 200 {object} apiResponse
// @Router /api/exchanges [get]
func (h *ExchangeHandler) list(c *gin.Context) {
	items, err := h.Service.List(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}

// @Summary Connect an exchange account
// @Tags exchanges
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.ExchangeInput true "account"
// @Success 201 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/exchanges [post]
func (h *ExchangeHandler) create(c *gin.Context) {
	var in service.ExchangeInput
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

func (h *ExchangeHandler) test(c *gin.Context) {
	var in service.ExchangeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	ok, err := h.Service.TestConnection(c.Request.Context(), in)
	if err != nil {
		Ok(c, gin.H{"success": false, "error": err.Error()}, nil)
		return
	}
	Ok(c, gin.H{"success": ok}, nil)
}

func (h *ExchangeHandler) update(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var patch service.ExchangePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Service.Update(c.Request.Context(), currentUser(c), id, patch)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, item, nil)
}

func (h *ExchangeHandler) delete(c *gin.Context) {
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

func (h *ExchangeHandler) balances(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	items, err := h.Service.Balances(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, items, nil)
}
