package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dcabot/internal/service"
)

// SystemSettingsHandler exposes the key/value settings store and the
// feature.* switches that gate trading and background jobs.
type SystemSettingsHandler struct {
	Settings *service.SystemSettingsService
}

func (h *SystemSettingsHandler) Register(r gin.IRouter) {
	g := r.Group("/system-settings")
	g.GET("", h.list)
	g.GET("/switches", h.listSwitches)
	g.PUT("/switches/:name", h.putSwitch)
	g.PUT("/:key", h.put)
}

func (h *SystemSettingsHandler) list(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	limit, offset := pageParams(c, 200)
	items, total, err := h.Settings.List(c.Request.Context(), c.Query("prefix"), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

type putSystemSettingRequest struct {
	Value       json.RawMessage `json:"value"`
	Description string          `json:"description"`
}

func (h *SystemSettingsHandler) put(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	var req putSystemSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Value) == 0 {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Settings.Set(c.Request.Context(), c.Param("key"), req.Value, req.Description)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, item, nil)
}

func (h *SystemSettingsHandler) listSwitches(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	items, _, err := h.Settings.List(c.Request.Context(), "feature.", 200, 0)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		enabled := false
		_ = json.Unmarshal(it.Value, &enabled)
		out = append(out, map[string]any{
			"name":        strings.TrimPrefix(it.Key, "feature."),
			"key":         it.Key,
			"enabled":     enabled,
			"description": it.Description,
			"updated_at":  it.UpdatedAt,
		})
	}
	Ok(c, out, nil)
}

type putSwitchRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *SystemSettingsHandler) putSwitch(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		Error(c, http.StatusBadRequest, "invalid switch name", nil)
		return
	}
	var req putSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	key := "feature." + name
	if err := h.Settings.SetEnabled(c.Request.Context(), key, req.Enabled); err != nil {
		fail(c, err)
		return
	}
	Ok(c, map[string]any{"name": name, "key": key, "enabled": req.Enabled}, nil)
}
