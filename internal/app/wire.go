package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	s3blob "github.com/iambrands/ai-ml-trading-bot/internal/blob/s3"
	"github.com/iambrands/ai-ml-trading-bot/internal/cache/redis"
	"github.com/iambrands/ai-ml-trading-bot/internal/config"
	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/model"
	"github.com/iambrands/ai-ml-trading-bot/internal/notify"
	"github.com/iambrands/ai-ml-trading-bot/internal/platform/polymarket"
	"github.com/iambrands/ai-ml-trading-bot/internal/store/postgres"
	"github.com/iambrands/ai-ml-trading-bot/internal/store/sqlite"
)

// Dependencies bundles the infrastructure the modes run on. Every field
// except Markets may be nil when the corresponding backend is disabled.
type Dependencies struct {
	// Stores
	Trades    domain.TradeStore
	Snapshots domain.SnapshotStore
	Runs      domain.BacktestStore
	Audit     domain.AuditStore

	// Caches
	Predictions domain.PredictionCache
	Locks       domain.LockManager
	Bus         domain.SignalBus

	// Blob storage
	Archiver *s3blob.ReportArchiver

	// Notifications
	Notifier *notify.Notifier

	// Market data
	Markets *polymarket.GammaClient
}

// Wire constructs the concrete backends selected by cfg and returns them
// together with a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{}

	// --- Journal storage ---
	switch cfg.Storage.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Snapshots = postgres.NewSnapshotStore(pool)
		deps.Runs = postgres.NewBacktestStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)

	case "sqlite":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fail("sqlite", err)
			}
		}
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fail("sqlite", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Trades = db
		deps.Snapshots = db
		deps.Runs = db
		deps.Audit = db
	}

	// --- Redis ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
	}

	switch cfg.Model.Cache {
	case "memory":
		deps.Predictions = model.NewMemoryCache()
	case "redis":
		if redisClient == nil {
			return fail("prediction cache", fmt.Errorf("model.cache = redis requires redis.enabled"))
		}
		deps.Predictions = redis.NewPredictionCache(redisClient)
	}

	// --- S3 report archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		reports := s3blob.NewReportStore(s3Client)
		deps.Archiver = s3blob.NewReportArchiver(reports, reports, deps.Audit)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Market data ---
	deps.Markets = polymarket.NewGammaClient(polymarket.GammaConfig{
		BaseURL:           cfg.Polymarket.GammaHost,
		RequestsPerSecond: cfg.Polymarket.RequestsPerSecond,
		MaxRetries:        cfg.Polymarket.MaxRetries,
	}, logger)

	return deps, cleanup, nil
}

// buildPredictor assembles the model ensemble described by cfg.Model.
func buildPredictor(cfg config.ModelConfig, cache domain.PredictionCache, logger *slog.Logger) (*model.Ensemble, error) {
	var models []model.Model
	weights := map[model.Kind]float64{}

	if cfg.GBDTPath != "" {
		m, err := model.LoadGradientBoosted(cfg.GBDTPath)
		if err != nil {
			return nil, fmt.Errorf("app: load gradient boosted model: %w", err)
		}
		models = append(models, m)
		weights[model.KindGradientBoosted] = cfg.GBDTWeight
	}
	if cfg.MLPPath != "" {
		m, err := model.LoadNeural(cfg.MLPPath)
		if err != nil {
			return nil, fmt.Errorf("app: load neural model: %w", err)
		}
		models = append(models, m)
		weights[model.KindNeural] = cfg.MLPWeight
	}
	if cfg.NLPEnabled {
		models = append(models, model.NewNLP(model.DefaultNLPConfig()))
		weights[model.KindNLP] = cfg.NLPWeight
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("app: no prediction model configured (set model.gbdt_path, model.mlp_path or model.nlp_enabled)")
	}

	policy := model.CachePolicy{
		TTL:              cfg.CacheTTL.Duration,
		MaxPriceDelta:    cfg.MaxPriceDelta,
		ResolutionWindow: cfg.ResolutionWindow.Duration,
	}
	return model.NewEnsemble(models, weights, cache, policy, logger), nil
}
