package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcabot/internal/auth"
	"dcabot/internal/engine"
	"dcabot/internal/exchange"
	"dcabot/internal/models"
	memrepository "dcabot/internal/repository/memory"
	"dcabot/internal/service"
)

type stubExecutor struct {
	mu   sync.Mutex
	reqs []engine.ExecuteRequest
	res  *engine.Result
	err  error
}

func (e *stubExecutor) Execute(_ context.Context, req engine.ExecuteRequest) (*engine.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs = append(e.reqs, req)
	return e.res, e.err
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

type testServer struct {
	router   *gin.Engine
	repo     *memrepository.Store
	jwt      auth.JWT
	executor *stubExecutor
	strategy *models.Strategy
	token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := memrepository.New()
	jwt := auth.JWT{Secret: []byte("handler-secret"), TokenTTL: time.Hour}
	ctx := context.Background()

	user := &models.User{Email: "dana@example.com", Name: "dana", PasswordHash: "x", IsActive: true}
	require.NoError(t, repo.CreateUser(ctx, user))
	x := &models.Exchange{UserID: user.ID, Name: "main", Type: models.ExchangeTypeBinance, APIKeyEnc: "k", APISecretEnc: "s", IsActive: true}
	require.NoError(t, repo.CreateExchange(ctx, x))
	st := &models.Strategy{UserID: user.ID, ExchangeID: x.ID, Name: "btc", Pair: "BTC/USDT", BaseCurrency: "BTC", QuoteCurrency: "USDT",
		Amount: decimal.NewFromInt(100), AmountType: models.AmountTypeFixed, Frequency: models.FrequencyDaily, IsActive: true}
	require.NoError(t, repo.CreateStrategy(ctx, st))
	token, _, err := jwt.Sign(user.ID, user.Email)
	require.NoError(t, err)

	executor := &stubExecutor{}
	r := gin.New()
	(&HealthHandler{}).Register(r)
	api := r.Group("/api")
	(&AuthHandler{Service: &service.AuthService{Repo: repo, JWT: jwt}}).Register(api, RequireAuth(jwt))
	(&TradingViewHandler{Secret: "tv-secret", Engine: executor}).Register(api)
	authed := api.Group("", RequireAuth(jwt))
	(&StrategyHandler{Service: &service.StrategyService{Repo: repo}, Engine: executor}).Register(authed)
	(&ExecutionHandler{Repo: repo}).Register(authed)
	(&NotificationHandler{Service: &service.NotificationService{Repo: repo}}).Register(authed)
	(&SystemSettingsHandler{Settings: &service.SystemSettingsService{Repo: repo}}).Register(authed)

	return &testServer{router: r, repo: repo, jwt: jwt, executor: executor, strategy: st, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func (s *testServer) bearer() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.token}
}

func TestRequireAuth(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, http.MethodGet, "/api/strategies", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/strategies", nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := s.do(t, http.MethodGet, "/api/strategies", nil, s.bearer())
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, env.Meta["total"])
}

func TestRegisterThenMe(t *testing.T) {
	s := newTestServer(t)
	w, env := s.do(t, http.MethodPost, "/api/auth/register", map[string]string{"email": "eve@example.com", "password": "long enough"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var sess struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sess))

	w, env = s.do(t, http.MethodGet, "/api/auth/me", nil, map[string]string{"Authorization": "Bearer " + sess.Token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "eve@example.com")

	w, _ = s.do(t, http.MethodPost, "/api/auth/register", map[string]string{"email": "eve@example.com", "password": "long enough"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w, _ = s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "eve@example.com", "password": "nope nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestManualExecuteSuccess(t *testing.T) {
	s := newTestServer(t)
	s.executor.res = &engine.Result{Execution: &models.Execution{
		ID: 9, ExchangeOrderID: "123", Quantity: decimal.RequireFromString("0.0025"), Price: decimal.NewFromInt(40000), Status: models.ExecutionStatusCompleted,
	}}
	w, env := s.do(t, http.MethodPost, fmt.Sprintf("/api/strategies/%d/execute", s.strategy.ID), nil, s.bearer())
	require.Equal(t, http.StatusOK, w.Code)

	var out executeResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, executeResponse{ExecutionID: 9, OrderID: "123", Quantity: "0.0025", Price: "40000", Status: "completed"}, out)
	require.Len(t, s.executor.reqs, 1)
	assert.Equal(t, models.ExecutionTypeManual, s.executor.reqs[0].Type)
	assert.Equal(t, s.strategy.UserID, s.executor.reqs[0].UserID)
}

func TestManualExecuteErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		res  *engine.Result
		err  error
		want int
	}{
		{"precondition", nil, fmt.Errorf("%w: strategy is not active", engine.ErrPreconditionFailed), http.StatusPreconditionFailed},
		{"already executing", nil, engine.ErrAlreadyExecuting, http.StatusConflict},
		{"order rejected", &engine.Result{Execution: &models.Execution{ID: 4, Status: models.ExecutionStatusFailed}},
			fmt.Errorf("%w: insufficient balance", engine.ErrOrderRejected), http.StatusInternalServerError},
		{"market data", nil, fmt.Errorf("%w: timeout", engine.ErrMarketDataUnavailable), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t)
			s.executor.res, s.executor.err = tc.res, tc.err
			w, env := s.do(t, http.MethodPost, fmt.Sprintf("/api/strategies/%d/execute", s.strategy.ID), nil, s.bearer())
			assert.Equal(t, tc.want, w.Code)
			assert.Equal(t, tc.err.Error(), env.Message)
			if tc.res != nil {
				assert.EqualValues(t, 4, env.Meta["executionId"])
			}
		})
	}
}

func TestManualExecuteUnknownStrategy(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, http.MethodPost, "/api/strategies/999/execute", nil, s.bearer())
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, s.executor.reqs)

	w, _ = s.do(t, http.MethodPost, "/api/strategies/abc/execute", nil, s.bearer())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTradingViewWebhook(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{"strategyId": s.strategy.ID, "action": "buy", "symbol": "BINANCE:BTCUSDT", "price": "41000"}

	w, _ := s.do(t, http.MethodPost, "/api/external/tradingview", body, map[string]string{"X-Webhook-Secret": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, s.executor.reqs)

	s.executor.res = &engine.Result{Skipped: true, Reason: engine.ErrConditionsNotMet}
	w, env := s.do(t, http.MethodPost, "/api/external/tradingview", body, map[string]string{"X-Webhook-Secret": "tv-secret"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"status":"skipped"`)
	require.Len(t, s.executor.reqs, 1)
	req := s.executor.reqs[0]
	assert.Equal(t, models.ExecutionTypeConditional, req.Type)
	require.NotNil(t, req.Signal)
	assert.Equal(t, "BINANCE:BTCUSDT", req.Signal.Symbol)
	assert.True(t, req.Signal.Price.Equal(decimal.NewFromInt(41000)))
}

func TestExecutionListFilters(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	for i, status := range []string{models.ExecutionStatusCompleted, models.ExecutionStatusFailed, models.ExecutionStatusCompleted} {
		require.NoError(t, s.repo.CreateExecution(ctx, &models.Execution{
			StrategyID: s.strategy.ID, UserID: s.strategy.UserID, Amount: decimal.NewFromInt(100),
			Status: status, Type: models.ExecutionTypeScheduled, ClientOrderID: fmt.Sprintf("c%d", i),
		}))
	}
	w, env := s.do(t, http.MethodGet, "/api/executions?status=completed&page=1&limit=1", nil, s.bearer())
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, env.Meta["total"])
	assert.Equal(t, true, env.Meta["has_next"])
}

func TestSystemSettingsRejectsNonBooleanSwitch(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, http.MethodPut, "/api/system-settings/feature.trading", map[string]any{"value": "on"}, s.bearer())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.do(t, http.MethodPut, "/api/system-settings/switches/trading", map[string]any{"enabled": false}, s.bearer())
	require.Equal(t, http.StatusOK, w.Code)
	settings := &service.SystemSettingsService{Repo: s.repo}
	assert.False(t, settings.IsEnabled(context.Background(), service.FeatureTrading, true))
}

func TestReadyOnMemoryStore(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(1, 2)
	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/x", func(c *gin.Context) { Ok(c, nil, nil) })

	codes := []int{}
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.Equal(t, 0, limiter.Sweep(time.Hour))
	assert.Equal(t, 1, limiter.Sweep(-time.Minute))
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		service.ErrNotFound:             http.StatusNotFound,
		service.ErrValidation:           http.StatusBadRequest,
		service.ErrConflict:             http.StatusConflict,
		service.ErrInvalidLogin:         http.StatusUnauthorized,
		exchange.ErrInvalidPair:         http.StatusBadRequest,
		engine.ErrPreconditionFailed:    http.StatusPreconditionFailed,
		engine.ErrAlreadyExecuting:      http.StatusConflict,
		engine.ErrDecryptionFailed:      http.StatusInternalServerError,
		engine.ErrOrderRejected:         http.StatusInternalServerError,
		engine.ErrMarketDataUnavailable: http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(fmt.Errorf("wrapped: %w", err)), err.Error())
	}
}

func TestDocsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDocs(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/docs", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/strategies/:id/execute")
}
