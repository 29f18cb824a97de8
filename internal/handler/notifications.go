package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dcabot/internal/service"
)

type NotificationHandler struct {
	Service *service.NotificationService
}

func (h *NotificationHandler) Register(r gin.IRouter) {
	g := r.Group("/notifications")
	g.GET("", h.list)
	g.POST("/read-all", h.readAll)
	g.GET("/settings", h.settings)
	g.PUT("/settings", h.updateSettings)
	g.POST("/:id/read", h.read)
}

func (h *NotificationHandler) list(c *gin.Context) {
	limit, offset := pageParams(c, 50)
	unreadOnly := false
	if v := boolQueryPtr(c, "unread"); v != nil {
		unreadOnly = *v
	}
	items, total, unread, err := h.Service.List(c.Request.Context(), currentUser(c), unreadOnly, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	meta := paginationMeta(limit, offset, total)
	meta["unread"] = unread
	Ok(c, items, meta)
}

func (h *NotificationHandler) read(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.Service.MarkRead(c.Request.Context(), currentUser(c), id); err != nil {
		fail(c, err)
		return
	}
	Ok(c, gin.H{"id": id, "isRead": true}, nil)
}

func (h *NotificationHandler) readAll(c *gin.Context) {
	n, err := h.Service.MarkAllRead(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, gin.H{"updated": n}, nil)
}

func (h *NotificationHandler) settings(c *gin.Context) {
	item, err := h.Service.Settings(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, item, nil)
}

func (h *NotificationHandler) updateSettings(c *gin.Context) {
	var in service.NotificationSettingsInput
	if err := c.ShouldBindJSON(&in); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Service.UpdateSettings(c.Request.Context(), currentUser(c), in)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, item, nil)
}
