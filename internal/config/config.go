package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Cron      CronConfig      `mapstructure:"cron"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Exchanges ExchangesConfig `mapstructure:"exchanges"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Webhooks  WebhooksConfig  `mapstructure:"webhooks"`
	Retention RetentionConfig `mapstructure:"retention"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr       string        `mapstructure:"http_addr"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	ShutdownWait   time.Duration `mapstructure:"shutdown_wait"`
}

type LogConfig struct {
	Level             string   `mapstructure:"level"`
	Encoding          string   `mapstructure:"encoding"`
	Development       bool     `mapstructure:"development"`
	Sampling          bool     `mapstructure:"sampling"`
	DisableCaller     bool     `mapstructure:"disable_caller"`
	DisableStacktrace bool     `mapstructure:"disable_stacktrace"`
	OutputPaths       []string `mapstructure:"output_paths"`
	Service           string   `mapstructure:"service"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

// CronConfig holds robfig/cron specs (seconds field first).
type CronConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	StrategyScan string `mapstructure:"strategy_scan"`
	Reconcile    string `mapstructure:"reconcile"`
	PriceRefresh string `mapstructure:"price_refresh"`
	DailySummary string `mapstructure:"daily_summary"`
	CleanupLogs  string `mapstructure:"cleanup_logs"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type VaultConfig struct {
	Secret         string `mapstructure:"secret"`
	PreviousSecret string `mapstructure:"previous_secret"`
}

type ExchangesConfig struct {
	Timeout        time.Duration       `mapstructure:"timeout"`
	ClientCacheMax int                 `mapstructure:"client_cache_max"`
	ClientCacheTTL time.Duration       `mapstructure:"client_cache_ttl"`
	TickerCacheTTL time.Duration       `mapstructure:"ticker_cache_ttl"`
	Binance        ExchangeVenueConfig `mapstructure:"binance"`
	Coinbase       ExchangeVenueConfig `mapstructure:"coinbase"`
}

type ExchangeVenueConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	TestnetBaseURL string  `mapstructure:"testnet_base_url"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
	Burst          int     `mapstructure:"burst"`
	RecvWindowMs   int64   `mapstructure:"recv_window_ms"`
}

type EngineConfig struct {
	MonitorInterval    time.Duration `mapstructure:"monitor_interval"`
	MonitorMaxAttempts int           `mapstructure:"monitor_max_attempts"`
	ReconcileAfter     time.Duration `mapstructure:"reconcile_after"`
	RSIPeriod          int           `mapstructure:"rsi_period"`
	RSIInterval        string        `mapstructure:"rsi_interval"`
}

type SchedulerConfig struct {
	Workers  int           `mapstructure:"workers"`
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
	BatchMax int           `mapstructure:"batch_max"`
}

type CacheConfig struct {
	RedisURL string `mapstructure:"redis_url"`
}

type RealtimeConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	SendBuffer   int           `mapstructure:"send_buffer"`
}

type NotifyConfig struct {
	Queue    QueueConfig    `mapstructure:"queue"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Line     LineConfig     `mapstructure:"line"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Timeout  time.Duration  `mapstructure:"timeout"`
}

type QueueConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URL        string        `mapstructure:"url"`
	Name       string        `mapstructure:"name"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

type LineConfig struct {
	ChannelToken string `mapstructure:"channel_token"`
	PushURL      string `mapstructure:"push_url"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type WebhooksConfig struct {
	TradingViewSecret string `mapstructure:"tradingview_secret"`
}

type RetentionConfig struct {
	SystemLogs    time.Duration `mapstructure:"system_logs"`
	Notifications time.Duration `mapstructure:"notifications"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DCA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.rate_limit_burst", 50)
	v.SetDefault("server.shutdown_wait", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("log.output_paths", []string{"stdout"})
	v.SetDefault("log.service", "dcabot")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.strategy_scan", "0 * * * * *")
	v.SetDefault("cron.reconcile", "30 * * * * *")
	v.SetDefault("cron.price_refresh", "0 */5 * * * *")
	v.SetDefault("cron.daily_summary", "0 0 20 * * *")
	v.SetDefault("cron.cleanup_logs", "0 0 2 * * *")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "168h")
	v.SetDefault("vault.secret", "")
	v.SetDefault("vault.previous_secret", "")

	v.SetDefault("exchanges.timeout", "10s")
	v.SetDefault("exchanges.client_cache_max", 256)
	v.SetDefault("exchanges.client_cache_ttl", "30m")
	v.SetDefault("exchanges.ticker_cache_ttl", "10s")
	v.SetDefault("exchanges.binance.base_url", "https://api.binance.com")
	v.SetDefault("exchanges.binance.testnet_base_url", "https://testnet.binance.vision")
	v.SetDefault("exchanges.binance.requests_per_sec", 10)
	v.SetDefault("exchanges.binance.burst", 20)
	v.SetDefault("exchanges.binance.recv_window_ms", 5000)
	v.SetDefault("exchanges.coinbase.base_url", "https://api.pro.coinbase.com")
	v.SetDefault("exchanges.coinbase.testnet_base_url", "https://api-public.sandbox.pro.coinbase.com")
	v.SetDefault("exchanges.coinbase.requests_per_sec", 5)
	v.SetDefault("exchanges.coinbase.burst", 10)

	v.SetDefault("engine.monitor_interval", "5s")
	v.SetDefault("engine.monitor_max_attempts", 12)
	v.SetDefault("engine.reconcile_after", "5m")
	v.SetDefault("engine.rsi_period", 14)
	v.SetDefault("engine.rsi_interval", "1h")

	v.SetDefault("scheduler.workers", 8)
	v.SetDefault("scheduler.lease_ttl", "10m")
	v.SetDefault("scheduler.batch_max", 200)

	v.SetDefault("cache.redis_url", "")
	v.SetDefault("realtime.ping_interval", "30s")
	v.SetDefault("realtime.send_buffer", 64)

	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("notify.queue.enabled", false)
	v.SetDefault("notify.queue.url", "")
	v.SetDefault("notify.queue.name", "dcabot.notifications")
	v.SetDefault("notify.queue.max_retries", 10)
	v.SetDefault("notify.queue.retry_delay", "3s")
	v.SetDefault("notify.telegram.bot_token", "")
	v.SetDefault("notify.line.channel_token", "")
	v.SetDefault("notify.line.push_url", "https://api.line.me/v2/bot/message/push")
	v.SetDefault("notify.smtp.host", "")
	v.SetDefault("notify.smtp.port", 587)

	v.SetDefault("webhooks.tradingview_secret", "")
	v.SetDefault("retention.system_logs", "720h")
	v.SetDefault("retention.notifications", "2160h")
}
