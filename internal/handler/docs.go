package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterDocs serves a short route overview next to the swagger UI.
func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, routeOverview)
	})
}

const routeOverview = `# dcabot

Recurring buys on Binance and Coinbase, driven by per-strategy schedules,
optional price/RSI conditions and TradingView alerts.

## Auth

POST /api/auth/register and POST /api/auth/login return a bearer token.
Every other /api route needs "Authorization: Bearer <token>".
The websocket at /ws takes the token as ?token=.
Health, metrics and the TradingView webhook are public; the webhook checks
the X-Webhook-Secret header instead.

## Routes

- GET /healthz, GET /readyz, GET /metrics, GET /swagger/index.html
- GET /api/auth/me
- GET|POST /api/exchanges, POST /api/exchanges/test
- PATCH|DELETE /api/exchanges/:id, GET /api/exchanges/:id/balances
- GET|POST /api/strategies, GET|PUT|DELETE /api/strategies/:id
- PATCH /api/strategies/:id/toggle, POST /api/strategies/:id/execute
- GET /api/strategies/:id/stats, GET /api/strategies/:id/executions
- GET /api/executions
- GET /api/notifications, POST /api/notifications/:id/read, POST /api/notifications/read-all
- GET|PUT /api/notifications/settings
- GET /api/dashboard/stats, GET /api/dashboard/performance
- GET /api/system-settings, GET /api/system-settings/switches
- PUT /api/system-settings/switches/:name, PUT /api/system-settings/:key
- POST /api/external/tradingview

## Websocket messages

execution_update, strategy_update, price_update, notification
`
