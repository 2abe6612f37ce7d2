package bootstrap

import (
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func ProvideRedisClient(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// ProvideDatabase returns a nil *gorm.DB when no DSN is set; session history
// is then disabled.
func ProvideDatabase(cfg *Config, log *slog.Logger) (*gorm.DB, error) {
	if cfg.DatabaseDSN == "" {
		log.Info("DATABASE_DSN not set, session history disabled")
		return nil, nil
	}
	return gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

var InfrastructureModule = fx.Options(
	fx.Provide(
		ProvideRedisClient,
		ProvideDatabase,
	),
)
