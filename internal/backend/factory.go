package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/ledger"
	"fintrack/internal/ledger/memory"
	"fintrack/internal/storage"
	"fintrack/internal/storage/postgres"
)

const cacheCleanupInterval = time.Minute

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend opens the ledger store, then the statistics cache and the
// event publisher. Cache and publisher problems degrade to in-process cache
// and no publishing; only a store failure is fatal.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := f.openStore(ctx, config)
	if err != nil {
		return nil, err
	}

	var cleanups []CleanupFunc
	res := &BackendResult{Store: store}

	res.Stats, cleanups = f.openStatsCache(ctx, config, cleanups)

	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without ledger events", "error", err)
		} else {
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
			res.Publisher = client
			cleanups = append(cleanups, client.Close)
		}
	}

	cleanups = append(cleanups, store.Close)
	res.Cleanup = func() error {
		var errs []error
		for _, c := range cleanups {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	_, redis := res.Stats.(*cache.RedisStatsCache)
	f.logger.Info("Initialized backend",
		"type", config.Type,
		"amqp_enabled", res.Publisher != nil,
		"redis_enabled", redis)
	return res, nil
}

func (f *DefaultFactory) openStore(ctx context.Context, config Config) (ledger.Store, error) {
	switch config.Type {
	case MemoryBackend:
		f.logger.Info("Using in-memory ledger store; data is lost on exit")
		return memory.New(), nil
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite store", "db_path", config.SQLiteDBPath)
		return repo, nil
	case PostgresBackend:
		store, err := postgres.Open(ctx, config.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres store: %w", err)
		}
		f.logger.Info("Initialized Postgres store")
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) openStatsCache(ctx context.Context, config Config, cleanups []CleanupFunc) (cache.StatsCache, []CleanupFunc) {
	ttl := config.StatsCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	if config.RedisAddr != "" {
		rc, err := cache.NewRedisStatsCache(ctx, config.RedisAddr, ttl)
		if err == nil {
			return rc, append(cleanups, rc.Close)
		}
		f.logger.Warn("Redis unavailable, falling back to in-process statistics cache", "error", err)
	}

	size := config.StatsCacheSize
	if size <= 0 {
		size = defaultStatsCacheSize
	}
	lru := cache.NewLRUStatsCache(size, ttl)
	manager := cache.NewManager(f.logger)
	manager.Register(lru)
	manager.StartCleanup(cacheCleanupInterval)

	return lru, append(cleanups, func() error {
		manager.Stop()
		return nil
	})
}
