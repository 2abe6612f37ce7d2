package bootstrap

import (
	"github.com/eleven-am/stt-gateway/internal/gateway"
	"github.com/eleven-am/stt-gateway/internal/health"
	"github.com/eleven-am/stt-gateway/internal/transcription"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const version = "1.0.0"

func ProvideHealthHandler(
	db *gorm.DB,
	redis *redis.Client,
	registry *gateway.Registry,
	router *transcription.Router,
) *health.Handler {
	return health.NewHandler(db, redis, registry, router, version)
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	e.Use(h.Middleware())
	h.RegisterRoutes(e)
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
