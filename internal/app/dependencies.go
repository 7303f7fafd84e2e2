package app

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/browser"
	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/voiceorder/internal/health"
	"github.com/vladislavdragonenkov/voiceorder/internal/messaging"
	"github.com/vladislavdragonenkov/voiceorder/internal/metrics"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/matcher"
	"github.com/vladislavdragonenkov/voiceorder/internal/storage/memory"
	"github.com/vladislavdragonenkov/voiceorder/internal/storage/postgres"
	"github.com/vladislavdragonenkov/voiceorder/internal/storage/rediscache"
	"github.com/vladislavdragonenkov/voiceorder/internal/version"
)

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Runs        domain.RunRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository
	Matcher     domain.Matcher
	// Extractor: nil, если бэкенд матчера не openai.
	Extractor *matcher.OrderExtractor
	Launcher  browser.Launcher
	// Publisher: nil, если ни один брокер не настроен.
	Publisher *messaging.Fanout
	Metrics   *metrics.PipelineMetrics
	Health    *healthcheck.Handler
	Logger    *log.Entry

	store *postgres.Store
	cache *rediscache.Cache
}

// NewDependencies создаёт и инициализирует все зависимости приложения.
// Необязательные компоненты (Redis, брокеры) при недоступности отключаются
// с предупреждением, обязательные (Postgres, матчер) возвращают ошибку.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Metrics: metrics.NewPipelineMetrics(),
		Health:  healthcheck.NewHandler(version.GetVersion()),
		Logger:  logger,
	}

	if err := deps.initStorage(ctx, cfg); err != nil {
		return nil, err
	}

	var cache matcher.Cache
	if cfg.RedisAddr != "" {
		deps.cache = rediscache.New(cfg.RedisAddr, "voiceorder")
		deps.Health.Optional("redis", deps.cache.Ping)
		cache = deps.cache
		logger.WithField("addr", cfg.RedisAddr).Info("matcher cache enabled")
	}

	m, err := matcher.New(cfg.MatcherChainConfig(), cache, logger.WithField("component", "matcher"))
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("build matcher: %w", err)
	}
	deps.Matcher = m

	if cfg.ExtractionEnabled() {
		deps.Extractor = matcher.NewOrderExtractor(cfg.MatcherChainConfig().OpenAI, logger.WithField("component", "order-extractor"))
	}

	sessionCfg := cfg.BrowserSessionConfig()
	deps.Launcher = browser.NewRodLauncher(sessionCfg, logger.WithField("component", "browser"))
	deps.Health.Critical("browser-profile", func(context.Context) error {
		return os.MkdirAll(sessionCfg.ProfileDir, 0o755)
	})

	deps.Publisher = newEventPublisher(cfg, logger)
	return deps, nil
}

func (d *Dependencies) initStorage(ctx context.Context, cfg Config) error {
	switch cfg.Storage.Driver {
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		if cfg.Storage.AutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return fmt.Errorf("migrate postgres: %w", err)
			}
		}
		d.store = store
		d.Runs = postgres.NewRunRepository(store)
		d.Timeline = postgres.NewTimelineRepository(store)
		d.Idempotency = postgres.NewIdempotencyRepository(store)
		d.Health.Critical("postgres", store.Ping)
		d.Logger.WithField("auto_migrate", cfg.Storage.AutoMigrate).Info("postgres storage initialized")
	default:
		d.Runs = memory.NewRunRepository()
		d.Timeline = memory.NewTimelineRepository()
		d.Idempotency = memory.NewIdempotencyRepository()
		d.Logger.Info("in-memory storage initialized")
	}
	return nil
}

// Close освобождает подключения к внешним системам.
func (d *Dependencies) Close() {
	closePublisher(d.Publisher, d.Logger)
	if d.cache != nil {
		if err := d.cache.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}
