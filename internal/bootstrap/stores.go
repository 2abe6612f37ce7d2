package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/eleven-am/stt-gateway/internal/history"
	"github.com/eleven-am/stt-gateway/internal/session"
	"github.com/eleven-am/stt-gateway/internal/usage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const historyPruneInterval = time.Hour

func ProvideSessionStore(redisClient *redis.Client) *session.Store {
	return session.NewStore(redisClient)
}

func ProvideUsageStore(redisClient *redis.Client) *usage.Store {
	return usage.NewStore(redisClient)
}

func ProvideHistoryStore(db *gorm.DB) *history.Store {
	if db == nil {
		return nil
	}
	return history.NewStore(db)
}

func RunMigrations(historyStore *history.Store) error {
	if historyStore == nil {
		return nil
	}
	return historyStore.Migrate()
}

func pruneHistory(ctx context.Context, store *history.Store, retention time.Duration, logger *slog.Logger) {
	n, err := store.DeleteBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		logger.Warn("history prune failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("history pruned", "deleted", n)
	}
}

// StartHistoryPruner deletes history rows older than the configured
// retention. A zero retention keeps everything.
func StartHistoryPruner(lc fx.Lifecycle, store *history.Store, cfg *Config, logger *slog.Logger) {
	if store == nil || cfg.HistoryRetention <= 0 {
		return
	}
	logger = logger.With("component", "history_pruner")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(historyPruneInterval)
				defer ticker.Stop()
				for {
					pruneHistory(ctx, store, cfg.HistoryRetention, logger)
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideSessionStore,
		ProvideUsageStore,
		ProvideHistoryStore,
	),
	fx.Invoke(RunMigrations),
	fx.Invoke(StartHistoryPruner),
)
