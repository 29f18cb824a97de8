package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dcabot/internal/engine"
	"dcabot/internal/models"
)

// TradingViewHandler turns alert webhooks into conditional firings.
type TradingViewHandler struct {
	Secret string
	Engine Executor
	Logger *zap.Logger
}

func (h *TradingViewHandler) Register(r gin.IRouter) {
	r.POST("/external/tradingview", h.alert)
}

type tradingViewAlert struct {
	StrategyID uint64          `json:"strategyId"`
	Action     string          `json:"action"`
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
}

// @Summary TradingView alert
// @Description Requires the X-Webhook-Secret header. Only "buy" alerts whose
// @Description symbol matches the strategy pair fire.
// @Tags external
// @Accept json
// @Produce json
// @Param X-Webhook-Secret header string true "shared secret"
// @Param body body tradingViewAlert true "alert"
// @Success 200 {object} apiResponse
// @Failure 401 {object} apiResponse
// @Failure 412 {object} apiResponse
// @Router /api/external/tradingview [post]
func (h *TradingViewHandler) alert(c *gin.Context) {
	secret := strings.TrimSpace(h.Secret)
	given := strings.TrimSpace(c.GetHeader("X-Webhook-Secret"))
	if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(given)) != 1 {
		Error(c, http.StatusUnauthorized, "invalid webhook secret", nil)
		return
	}
	var req tradingViewAlert
	if err := c.ShouldBindJSON(&req); err != nil || req.StrategyID == 0 {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "engine unavailable", nil)
		return
	}
	res, err := h.Engine.Execute(c.Request.Context(), engine.ExecuteRequest{
		StrategyID: req.StrategyID,
		Type:       models.ExecutionTypeConditional,
		Signal: &engine.Signal{
			Source: "tradingview",
			Action: req.Action,
			Symbol: req.Symbol,
			Price:  req.Price,
		},
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("tradingview alert rejected", zap.Uint64("strategy_id", req.StrategyID), zap.String("action", req.Action), zap.Error(err))
		}
		fail(c, err)
		return
	}
	Ok(c, executeResult(res), nil)
}
