package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"dcabot/internal/auth"
	"dcabot/internal/cache"
	"dcabot/internal/config"
	cronrunner "dcabot/internal/cron"
	"dcabot/internal/db"
	"dcabot/internal/engine"
	"dcabot/internal/exchange"
	"dcabot/internal/handler"
	"dcabot/internal/logger"
	"dcabot/internal/notify"
	"dcabot/internal/realtime"
	"dcabot/internal/repository"
	gormrepository "dcabot/internal/repository/gorm"
	memrepository "dcabot/internal/repository/memory"
	"dcabot/internal/scheduler"
	"dcabot/internal/service"
	"dcabot/internal/vault"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("DCA_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("DCA_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store repository.Repository
	var gormDB *gorm.DB
	if strings.TrimSpace(cfg.DB.DSN) != "" {
		dbConn, err := db.Open(cfg.DB)
		if err != nil {
			logger.Fatal("db open failed", zap.Error(err))
		}
		defer db.Close(dbConn)

		if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
			logger.Warn("failed to set timezone", zap.Error(err))
		}
		if err := db.AutoMigrate(dbConn); err != nil {
			logger.Fatal("auto-migrate failed", zap.Error(err))
		}
		store = gormrepository.New(dbConn.Gorm)
		gormDB = dbConn.Gorm
	} else {
		logger.Warn("db dsn is empty, state is kept in memory only")
		store = memrepository.New()
	}

	checks := map[string]func(context.Context) error{}
	var tickerStore cache.Store
	var memCache *cache.MemoryStore
	if url := strings.TrimSpace(cfg.Cache.RedisURL); url != "" {
		rs, err := cache.NewRedisStoreFromURL(ctx, url, "dcabot:")
		if err != nil {
			logger.Warn("redis unavailable, using in-process cache", zap.Error(err))
		} else {
			defer rs.Close()
			tickerStore = rs
			checks["redis"] = func(ctx context.Context) error { return rs.Client.Ping(ctx).Err() }
		}
	}
	if tickerStore == nil {
		memCache = cache.NewMemoryStore()
		tickerStore = memCache
	}

	secrets, err := vault.New(cfg.Vault.Secret, cfg.Vault.PreviousSecret)
	if err != nil {
		logger.Fatal("vault init failed", zap.Error(err))
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatal("auth.jwt_secret is required")
	}
	tokens := auth.JWT{Secret: []byte(cfg.Auth.JWTSecret), TokenTTL: cfg.Auth.TokenTTL, Issuer: "dcabot"}

	factory := &exchange.Factory{
		Binance:  exchange.VenueConfig(cfg.Exchanges.Binance),
		Coinbase: exchange.VenueConfig(cfg.Exchanges.Coinbase),
		Timeout:  cfg.Exchanges.Timeout,
	}
	clients := &exchange.Provider{
		Builder:   factory,
		Vault:     secrets,
		Cache:     exchange.NewClientCache(cfg.Exchanges.ClientCacheMax, cfg.Exchanges.ClientCacheTTL),
		Tickers:   tickerStore,
		TickerTTL: cfg.Exchanges.TickerCacheTTL,
	}

	hub := realtime.NewHub(cfg.Realtime.SendBuffer)
	wsServer := &realtime.Server{
		Hub:          hub,
		Auth:         tokens,
		PingInterval: cfg.Realtime.PingInterval,
		Logger:       logger.Named("realtime"),
	}

	var publisher notify.Publisher
	if cfg.Notify.Queue.Enabled {
		conn, err := notify.Dial(ctx, cfg.Notify.Queue.URL, cfg.Notify.Queue.MaxRetries, cfg.Notify.Queue.RetryDelay, logger)
		if err != nil {
			logger.Warn("notification queue unavailable, delivering in process", zap.Error(err))
		} else {
			defer conn.Close()
			pub, err := notify.NewQueuePublisher(conn, cfg.Notify.Queue.Name)
			if err != nil {
				logger.Warn("notification queue declare failed, delivering in process", zap.Error(err))
			} else {
				defer pub.Close()
				publisher = pub
			}
		}
	}
	dispatcher := &notify.Dispatcher{
		Repo:     store,
		Realtime: hub,
		Senders:  notify.SendersFromConfig(cfg.Notify, logger),
		Queue:    publisher,
		Timeout:  cfg.Notify.Timeout,
		Logger:   logger.Named("notify"),
	}

	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(ctx); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	owner := fmt.Sprintf("dcabot-%s", uuid.NewString())
	eng := &engine.Engine{
		Repo:     store,
		Clients:  clients,
		Realtime: hub,
		Notifier: dispatcher,
		Switches: settingsSvc,
		Config: engine.Config{
			MonitorInterval:    cfg.Engine.MonitorInterval,
			MonitorMaxAttempts: cfg.Engine.MonitorMaxAttempts,
			ReconcileAfter:     cfg.Engine.ReconcileAfter,
			RSIPeriod:          cfg.Engine.RSIPeriod,
			RSIInterval:        cfg.Engine.RSIInterval,
			LeaseTTL:           cfg.Scheduler.LeaseTTL,
		},
		Logger:      logger.Named("engine"),
		Owner:       owner,
		BaseContext: ctx,
	}
	sched := &scheduler.Scheduler{
		Repo:     store,
		Engine:   eng,
		Switches: settingsSvc,
		Realtime: hub,
		Logger:   logger.Named("scheduler"),
		Workers:  cfg.Scheduler.Workers,
		LeaseTTL: cfg.Scheduler.LeaseTTL,
		BatchMax: cfg.Scheduler.BatchMax,
		Owner:    owner,
	}

	authSvc := &service.AuthService{Repo: store, JWT: tokens, Logger: logger}
	exchangeSvc := &service.ExchangeService{Repo: store, Vault: secrets, Builder: factory, Clients: clients, Logger: logger}
	strategySvc := &service.StrategyService{Repo: store, Jobs: sched, Notifier: dispatcher, Realtime: hub, Logger: logger}
	dashboardSvc := &service.DashboardService{Repo: store, Jobs: sched}
	notificationSvc := &service.NotificationService{Repo: store}
	dailySvc := &service.DailySummaryService{Repo: store, Notifier: dispatcher, Logger: logger, Flags: settingsSvc}
	retentionSvc := &service.RetentionService{
		Repo:             store,
		Logger:           logger,
		Flags:            settingsSvc,
		SystemLogsMaxAge: cfg.Retention.SystemLogs,
		ReadNotifsMaxAge: cfg.Retention.Notifications,
	}
	priceSvc := &service.PriceRefreshService{Repo: store, Clients: clients, Realtime: hub, Logger: logger, Flags: settingsSvc}

	if strings.TrimSpace(cfg.Vault.PreviousSecret) != "" {
		n, err := exchangeSvc.RotateCredentials(ctx)
		if err != nil {
			logger.Warn("credential rotation failed", zap.Error(err))
		} else {
			logger.Info("credential rotation done", zap.Int("rotated", n))
		}
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	limiter := handler.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	router.Use(gin.Recovery())
	router.Use(handler.RequestID())
	router.Use(handler.CORS())
	router.Use(handler.AccessLog(logger.Named("http")))
	router.Use(limiter.Middleware())

	healthHandler := &handler.HealthHandler{DB: gormDB, Checks: checks}
	healthHandler.Register(router)
	handler.RegisterDocs(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", gin.WrapH(wsServer))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := router.Group("/api")
	requireAuth := handler.RequireAuth(tokens)
	authHandler := &handler.AuthHandler{Service: authSvc}
	authHandler.Register(api, requireAuth)
	tvHandler := &handler.TradingViewHandler{Secret: cfg.Webhooks.TradingViewSecret, Engine: eng, Logger: logger}
	tvHandler.Register(api)

	authed := api.Group("", requireAuth)
	strategyHandler := &handler.StrategyHandler{Service: strategySvc, Engine: eng, Logger: logger}
	strategyHandler.Register(authed)
	exchangeHandler := &handler.ExchangeHandler{Service: exchangeSvc}
	exchangeHandler.Register(authed)
	executionHandler := &handler.ExecutionHandler{Repo: store}
	executionHandler.Register(authed)
	notificationHandler := &handler.NotificationHandler{Service: notificationSvc}
	notificationHandler.Register(authed)
	dashboardHandler := &handler.DashboardHandler{Service: dashboardSvc}
	dashboardHandler.Register(authed)
	settingsHandler := &handler.SystemSettingsHandler{Settings: settingsSvc}
	settingsHandler.Register(authed)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	cronRunner := cronrunner.New(logger, ctx)
	addJob := func(name, spec string, job func(context.Context)) {
		if strings.TrimSpace(spec) == "" {
			return
		}
		if _, err := cronRunner.Add(name, spec, job); err != nil {
			logger.Warn("cron register failed", zap.String("job", name), zap.Error(err))
		}
	}
	if cfg.Cron.Enabled {
		addJob("strategy_scan", cfg.Cron.StrategyScan, func(ctx context.Context) {
			n, err := sched.Scan(ctx)
			if err != nil {
				logger.Warn("strategy scan failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("strategy scan fired jobs", zap.Int("fired", n))
			}
		})
		addJob("reconcile", cfg.Cron.Reconcile, func(ctx context.Context) {
			if !settingsSvc.IsEnabled(ctx, service.FeatureReconciler, true) {
				return
			}
			n, err := eng.Reconcile(ctx)
			if err != nil {
				logger.Warn("reconcile failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("reconciled executions", zap.Int("count", n))
			}
		})
		addJob("price_refresh", cfg.Cron.PriceRefresh, func(ctx context.Context) {
			if _, err := priceSvc.RunOnce(ctx); err != nil {
				logger.Warn("price refresh failed", zap.Error(err))
			}
		})
		addJob("daily_summary", cfg.Cron.DailySummary, func(ctx context.Context) {
			n, err := dailySvc.RunOnce(ctx)
			if err != nil {
				logger.Warn("daily summary failed", zap.Error(err))
				return
			}
			logger.Info("daily summaries sent", zap.Int("users", n))
		})
		addJob("retention", cfg.Cron.CleanupLogs, func(ctx context.Context) {
			res, err := retentionSvc.RunOnce(ctx)
			if err != nil {
				logger.Warn("retention cleanup failed", zap.Error(err))
				return
			}
			logger.Info("retention cleanup done",
				zap.Int64("system_logs", res.SystemLogs),
				zap.Int64("notifications", res.Notifications),
			)
		})
	}
	addJob("housekeeping", "@every 10m", func(ctx context.Context) {
		evicted := limiter.Sweep(30 * time.Minute)
		expired := 0
		if memCache != nil {
			expired = memCache.Sweep()
		}
		if evicted > 0 || expired > 0 {
			logger.Debug("housekeeping", zap.Int("limiters", evicted), zap.Int("cache_entries", expired))
		}
	})
	cronRunner.Start()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}
	stop()

	wait := cfg.Server.ShutdownWait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	cronRunner.Stop()
	sched.Wait()
	eng.Wait()
	dispatcher.Wait()
	logger.Info("shutdown complete")
}
