// Package config defines the top-level configuration for the trading bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADEBOT_* environment variables.
type Config struct {
	Trading    TradingConfig    `toml:"trading"`
	Live       LiveConfig       `toml:"live"`
	Backtest   BacktestConfig   `toml:"backtest"`
	Model      ModelConfig      `toml:"model"`
	Storage    StorageConfig    `toml:"storage"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	SQLite     SQLiteConfig     `toml:"sqlite"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// TradingConfig holds the signal, sizing and risk parameters shared by live
// trading and backtests. Fractions are of portfolio value.
type TradingConfig struct {
	MinEdge                float64 `toml:"min_edge"`
	MinConfidence          float64 `toml:"min_confidence"`
	MinLiquidity           float64 `toml:"min_liquidity"`
	KellyFraction          float64 `toml:"kelly_fraction"`
	MaxPositionPct         float64 `toml:"max_position_pct"`
	MaxTotalExposure       float64 `toml:"max_total_exposure"`
	MaxPositions           int     `toml:"max_positions"`
	MaxDailyLoss           float64 `toml:"max_daily_loss"`
	MaxDrawdown            float64 `toml:"max_drawdown"`
	ConsecutiveLossesLimit int     `toml:"consecutive_losses_limit"`
	CooldownMinutes        int     `toml:"cooldown_minutes"`
	FeeRate                float64 `toml:"fee_rate"`
	MinPositionSize        float64 `toml:"min_position_size"`
}

// Cooldown returns the breaker cooldown as a duration.
func (t TradingConfig) Cooldown() time.Duration {
	return time.Duration(t.CooldownMinutes) * time.Minute
}

// LiveConfig holds parameters for the live trading loop.
type LiveConfig struct {
	InitialCapital float64  `toml:"initial_capital"`
	Interval       duration `toml:"interval"`
	MarketLimit    int      `toml:"market_limit"`
	Workers        int      `toml:"workers"`
	StreamPrices   bool     `toml:"stream_prices"`
	SessionID      string   `toml:"session_id"`
	LockTTL        duration `toml:"lock_ttl"`
}

// BacktestConfig holds parameters for offline replays.
type BacktestConfig struct {
	InitialCapital    float64 `toml:"initial_capital"`
	StartDate         string  `toml:"start_date"`
	EndDate           string  `toml:"end_date"`
	DaysBefore        []int   `toml:"days_before"`
	Source            string  `toml:"source"`
	DatasetPath       string  `toml:"dataset_path"`
	Predictor         string  `toml:"predictor"`
	EnforceRiskLimits bool    `toml:"enforce_risk_limits"`
	Archive           bool    `toml:"archive"`
}

// Start parses StartDate.
func (b BacktestConfig) Start() (time.Time, error) { return parseDate(b.StartDate) }

// End parses EndDate. The end date is inclusive, so the returned time is the
// last instant of that day.
func (b BacktestConfig) End() (time.Time, error) {
	t, err := parseDate(b.EndDate)
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(24*time.Hour - time.Nanosecond), nil
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, s, time.UTC)
}

// ModelConfig selects and weights the probability models.
type ModelConfig struct {
	GBDTPath         string   `toml:"gbdt_path"`
	GBDTWeight       float64  `toml:"gbdt_weight"`
	MLPPath          string   `toml:"mlp_path"`
	MLPWeight        float64  `toml:"mlp_weight"`
	NLPEnabled       bool     `toml:"nlp_enabled"`
	NLPWeight        float64  `toml:"nlp_weight"`
	Cache            string   `toml:"cache"`
	CacheTTL         duration `toml:"cache_ttl"`
	MaxPriceDelta    float64  `toml:"max_price_delta"`
	ResolutionWindow duration `toml:"resolution_window"`
}

// StorageConfig selects where trades, snapshots and backtest runs are kept.
type StorageConfig struct {
	Backend string `toml:"backend"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the local journal database path.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PolymarketConfig holds Polymarket API endpoints and client limits.
type PolymarketConfig struct {
	GammaHost         string  `toml:"gamma_host"`
	WsHost            string  `toml:"ws_host"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	MaxRetries        int     `toml:"max_retries"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   float64  `toml:"rate_limit"`
	RateBurst   int      `toml:"rate_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Trading: TradingConfig{
			MinEdge:                0.05,
			MinConfidence:          0.60,
			MinLiquidity:           1000,
			KellyFraction:          0.25,
			MaxPositionPct:         0.05,
			MaxTotalExposure:       0.50,
			MaxPositions:           20,
			MaxDailyLoss:           0.05,
			MaxDrawdown:            0.15,
			ConsecutiveLossesLimit: 5,
			CooldownMinutes:        60,
			FeeRate:                0.02,
			MinPositionSize:        0,
		},
		Live: LiveConfig{
			InitialCapital: 10_000,
			Interval:       duration{5 * time.Minute},
			MarketLimit:    200,
			Workers:        8,
			StreamPrices:   true,
			SessionID:      "live",
			LockTTL:        duration{2 * time.Minute},
		},
		Backtest: BacktestConfig{
			InitialCapital: 10_000,
			DaysBefore:     []int{14, 7, 3, 1},
			Source:         "dataset",
			DatasetPath:    "data/markets.yaml",
			Predictor:      "dataset",
		},
		Model: ModelConfig{
			GBDTWeight:       0.5,
			MLPWeight:        0.3,
			NLPEnabled:       true,
			NLPWeight:        0.2,
			Cache:            "memory",
			CacheTTL:         duration{15 * time.Minute},
			MaxPriceDelta:    0.05,
			ResolutionWindow: duration{24 * time.Hour},
		},
		Storage: StorageConfig{
			Backend: "sqlite",
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "data/tradebot.db",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "tradebot",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradebot-data",
			ForcePathStyle: true,
		},
		Polymarket: PolymarketConfig{
			GammaHost:         "https://gamma-api.polymarket.com",
			WsHost:            "wss://ws-subscriptions-clob.polymarket.com",
			RequestsPerSecond: 5,
			MaxRetries:        3,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   20,
			RateBurst:   40,
		},
		Notify: NotifyConfig{
			Events: []string{"circuit_transition", "position_closed", "backtest_finished", "error"},
		},
		Mode:     "live",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"live":     true,
	"backtest": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"postgres": true,
	"sqlite":   true,
	"none":     true,
}

var validCaches = map[string]bool{
	"memory": true,
	"redis":  true,
	"none":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, backtest)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	errs = append(errs, c.Trading.validate()...)

	// Live
	if c.Live.InitialCapital <= 0 {
		errs = append(errs, "live: initial_capital must be > 0")
	}
	if c.Live.Interval.Duration <= 0 {
		errs = append(errs, "live: interval must be > 0")
	}
	if c.Live.Workers < 1 {
		errs = append(errs, "live: workers must be >= 1")
	}
	if c.Live.MarketLimit < 1 {
		errs = append(errs, "live: market_limit must be >= 1")
	}

	// Backtest
	if strings.ToLower(c.Mode) == "backtest" {
		errs = append(errs, c.Backtest.validate()...)
	}

	// Model
	if !validCaches[c.Model.Cache] {
		errs = append(errs, fmt.Sprintf("model: unknown cache %q (valid: memory, redis, none)", c.Model.Cache))
	}
	if c.Model.Cache == "redis" && !c.Redis.Enabled {
		errs = append(errs, "model: cache = redis requires redis.enabled")
	}
	if c.Model.GBDTWeight < 0 || c.Model.MLPWeight < 0 || c.Model.NLPWeight < 0 {
		errs = append(errs, "model: weights must be >= 0")
	}

	// Storage
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: postgres, sqlite, none)", c.Storage.Backend))
	}
	if c.Storage.Backend == "postgres" {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 {
			errs = append(errs, "supabase: pool_min_conns must be >= 0")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.Storage.Backend == "sqlite" && c.SQLite.Path == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Polymarket
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.RequestsPerSecond <= 0 {
		errs = append(errs, "polymarket: requests_per_second must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (t TradingConfig) validate() []string {
	var errs []string
	unit := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("trading: %s must be in [0, 1], got %v", name, v))
		}
	}
	unit("min_edge", t.MinEdge)
	unit("min_confidence", t.MinConfidence)
	unit("kelly_fraction", t.KellyFraction)
	unit("max_position_pct", t.MaxPositionPct)
	unit("max_total_exposure", t.MaxTotalExposure)
	unit("max_daily_loss", t.MaxDailyLoss)
	unit("max_drawdown", t.MaxDrawdown)
	unit("fee_rate", t.FeeRate)

	if t.MinLiquidity < 0 {
		errs = append(errs, "trading: min_liquidity must be >= 0")
	}
	if t.MaxPositions < 1 {
		errs = append(errs, "trading: max_positions must be >= 1")
	}
	if t.ConsecutiveLossesLimit < 0 {
		errs = append(errs, "trading: consecutive_losses_limit must be >= 0")
	}
	if t.CooldownMinutes < 0 {
		errs = append(errs, "trading: cooldown_minutes must be >= 0")
	}
	if t.MinPositionSize < 0 {
		errs = append(errs, "trading: min_position_size must be >= 0")
	}
	return errs
}

func (b BacktestConfig) validate() []string {
	var errs []string
	if b.InitialCapital <= 0 {
		errs = append(errs, "backtest: initial_capital must be > 0")
	}
	start, err := b.Start()
	if err != nil {
		errs = append(errs, fmt.Sprintf("backtest: start_date %q is not YYYY-MM-DD", b.StartDate))
	}
	end, err2 := b.End()
	if err2 != nil {
		errs = append(errs, fmt.Sprintf("backtest: end_date %q is not YYYY-MM-DD", b.EndDate))
	}
	if err == nil && err2 == nil && end.Before(start) {
		errs = append(errs, "backtest: end_date must not be before start_date")
	}
	for _, d := range b.DaysBefore {
		if d < 0 {
			errs = append(errs, fmt.Sprintf("backtest: days_before entries must be >= 0, got %d", d))
			break
		}
	}
	switch b.Source {
	case "dataset":
		if b.DatasetPath == "" {
			errs = append(errs, "backtest: dataset_path is required for source = dataset")
		}
	case "polymarket":
		if b.Predictor == "dataset" {
			errs = append(errs, "backtest: predictor = dataset requires source = dataset")
		}
	default:
		errs = append(errs, fmt.Sprintf("backtest: unknown source %q (valid: dataset, polymarket)", b.Source))
	}
	if b.Predictor != "dataset" && b.Predictor != "model" {
		errs = append(errs, fmt.Sprintf("backtest: unknown predictor %q (valid: dataset, model)", b.Predictor))
	}
	return errs
}
