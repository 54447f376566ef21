package cache

import (
	"context"
	"log/slog"
	"time"

	"fintrack/internal/core"
)

// Cache defines a generic in-process cache.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	// DeletePrefix removes every key starting with prefix and returns how many went.
	DeletePrefix(prefix string) int
	Size() int
}

// StatsCache memoises monthly statistics per user. Implementations never fail
// the caller: a broken cache behaves like an empty one.
//
// Entries belong to a per-user generation. Callers read the generation before
// summing the ledger and pass it back to SetStats; a fill whose generation was
// superseded by InvalidateUser in the meantime is discarded.
type StatsCache interface {
	// Generation returns the user's current generation. ok is false when the
	// cache cannot answer; the caller then neither reads nor fills.
	Generation(ctx context.Context, userID string) (gen uint64, ok bool)
	GetStats(ctx context.Context, userID string, gen uint64, key string) (core.MonthlyStatistics, bool)
	SetStats(ctx context.Context, userID string, gen uint64, key string, stats core.MonthlyStatistics)
	// InvalidateUser starts a new generation. Called after each ledger commit.
	InvalidateUser(ctx context.Context, userID string)
}

// Cleaner is implemented by caches that expire entries lazily.
type Cleaner interface {
	CleanExpired() int
}

// Manager runs periodic cleanup of registered caches.
type Manager struct {
	caches      []Cleaner
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	logger      *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
		logger:      logger,
	}
}

func (m *Manager) Register(cache Cleaner) {
	m.caches = append(m.caches, cache)
}

func (m *Manager) StartCleanup(interval time.Duration) {
	go m.cleanup(interval)
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			totalCleaned := 0
			for _, cache := range m.caches {
				totalCleaned += cache.CleanExpired()
			}
			if totalCleaned > 0 {
				m.logger.Debug("Expired cache entries removed", "count", totalCleaned)
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// Stop must only be called after StartCleanup.
func (m *Manager) Stop() {
	if m.stopCleanup != nil {
		close(m.stopCleanup)
		<-m.cleanupDone
		m.stopCleanup = nil
	}
}
