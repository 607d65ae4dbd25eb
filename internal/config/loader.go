package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Trading ──
	setFloat64(&cfg.Trading.MinEdge, "TRADEBOT_TRADING_MIN_EDGE")
	setFloat64(&cfg.Trading.MinConfidence, "TRADEBOT_TRADING_MIN_CONFIDENCE")
	setFloat64(&cfg.Trading.MinLiquidity, "TRADEBOT_TRADING_MIN_LIQUIDITY")
	setFloat64(&cfg.Trading.KellyFraction, "TRADEBOT_TRADING_KELLY_FRACTION")
	setFloat64(&cfg.Trading.MaxPositionPct, "TRADEBOT_TRADING_MAX_POSITION_PCT")
	setFloat64(&cfg.Trading.MaxTotalExposure, "TRADEBOT_TRADING_MAX_TOTAL_EXPOSURE")
	setInt(&cfg.Trading.MaxPositions, "TRADEBOT_TRADING_MAX_POSITIONS")
	setFloat64(&cfg.Trading.MaxDailyLoss, "TRADEBOT_TRADING_MAX_DAILY_LOSS")
	setFloat64(&cfg.Trading.MaxDrawdown, "TRADEBOT_TRADING_MAX_DRAWDOWN")
	setInt(&cfg.Trading.ConsecutiveLossesLimit, "TRADEBOT_TRADING_CONSECUTIVE_LOSSES_LIMIT")
	setInt(&cfg.Trading.CooldownMinutes, "TRADEBOT_TRADING_COOLDOWN_MINUTES")
	setFloat64(&cfg.Trading.FeeRate, "TRADEBOT_TRADING_FEE_RATE")
	setFloat64(&cfg.Trading.MinPositionSize, "TRADEBOT_TRADING_MIN_POSITION_SIZE")

	// ── Live ──
	setFloat64(&cfg.Live.InitialCapital, "TRADEBOT_LIVE_INITIAL_CAPITAL")
	setDuration(&cfg.Live.Interval, "TRADEBOT_LIVE_INTERVAL")
	setInt(&cfg.Live.MarketLimit, "TRADEBOT_LIVE_MARKET_LIMIT")
	setInt(&cfg.Live.Workers, "TRADEBOT_LIVE_WORKERS")
	setBool(&cfg.Live.StreamPrices, "TRADEBOT_LIVE_STREAM_PRICES")
	setStr(&cfg.Live.SessionID, "TRADEBOT_LIVE_SESSION_ID")
	setDuration(&cfg.Live.LockTTL, "TRADEBOT_LIVE_LOCK_TTL")

	// ── Backtest ──
	setFloat64(&cfg.Backtest.InitialCapital, "TRADEBOT_BACKTEST_INITIAL_CAPITAL")
	setStr(&cfg.Backtest.StartDate, "TRADEBOT_BACKTEST_START_DATE")
	setStr(&cfg.Backtest.EndDate, "TRADEBOT_BACKTEST_END_DATE")
	setIntSlice(&cfg.Backtest.DaysBefore, "TRADEBOT_BACKTEST_DAYS_BEFORE")
	setStr(&cfg.Backtest.Source, "TRADEBOT_BACKTEST_SOURCE")
	setStr(&cfg.Backtest.DatasetPath, "TRADEBOT_BACKTEST_DATASET_PATH")
	setStr(&cfg.Backtest.Predictor, "TRADEBOT_BACKTEST_PREDICTOR")
	setBool(&cfg.Backtest.EnforceRiskLimits, "TRADEBOT_BACKTEST_ENFORCE_RISK_LIMITS")
	setBool(&cfg.Backtest.Archive, "TRADEBOT_BACKTEST_ARCHIVE")

	// ── Model ──
	setStr(&cfg.Model.GBDTPath, "TRADEBOT_MODEL_GBDT_PATH")
	setStr(&cfg.Model.MLPPath, "TRADEBOT_MODEL_MLP_PATH")
	setBool(&cfg.Model.NLPEnabled, "TRADEBOT_MODEL_NLP_ENABLED")
	setStr(&cfg.Model.Cache, "TRADEBOT_MODEL_CACHE")
	setDuration(&cfg.Model.CacheTTL, "TRADEBOT_MODEL_CACHE_TTL")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "TRADEBOT_STORAGE_BACKEND")
	setStr(&cfg.SQLite.Path, "TRADEBOT_SQLITE_PATH")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "TRADEBOT_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "TRADEBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "TRADEBOT_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "TRADEBOT_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "TRADEBOT_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "TRADEBOT_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "TRADEBOT_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "TRADEBOT_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "TRADEBOT_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "TRADEBOT_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "TRADEBOT_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADEBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "TRADEBOT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRADEBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEBOT_S3_FORCE_PATH_STYLE")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "TRADEBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "TRADEBOT_POLYMARKET_WS_HOST")
	setFloat64(&cfg.Polymarket.RequestsPerSecond, "TRADEBOT_POLYMARKET_REQUESTS_PER_SECOND")
	setInt(&cfg.Polymarket.MaxRetries, "TRADEBOT_POLYMARKET_MAX_RETRIES")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADEBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADEBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRADEBOT_SERVER_API_KEY")
	setFloat64(&cfg.Server.RateLimit, "TRADEBOT_SERVER_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "TRADEBOT_SERVER_RATE_BURST")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADEBOT_MODE")
	setStr(&cfg.LogLevel, "TRADEBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		if cleaned := splitList(v); len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

func setIntSlice(dst *[]int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := splitList(v)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return
		}
		out = append(out, n)
	}
	if len(out) > 0 {
		*dst = out
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}
