package bootstrap

import (
	"log/slog"

	"github.com/eleven-am/stt-gateway/internal/gateway"
	"github.com/eleven-am/stt-gateway/internal/history"
	"github.com/eleven-am/stt-gateway/internal/metrics"
	"github.com/eleven-am/stt-gateway/internal/session"
	"github.com/eleven-am/stt-gateway/internal/transcription"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

func ProvideGatewayConfig(cfg *Config) gateway.Config {
	return gateway.Config{
		Provider:             cfg.STT.Provider,
		Language:             cfg.STT.Language,
		SampleRate:           cfg.STT.SampleRate,
		Channels:             cfg.STT.Channels,
		ChunkedIdleTimeout:   cfg.STT.ChunkedIdleTimeout,
		StreamingIdleTimeout: cfg.STT.StreamingIdleTimeout,
	}
}

func ProvideSTTHandlerConfig(cfg *Config) gateway.STTConfig {
	return gateway.STTConfig{
		Provider:   transcription.ProviderWhisper,
		Language:   cfg.STT.Language,
		SampleRate: cfg.STT.SampleRate,
	}
}

func ProvideSessionHandler(store *session.Store, logger *slog.Logger) *session.Handler {
	return session.NewHandler(store, logger.With("handler", "session"))
}

func ProvideHistoryHandler(store *history.Store, logger *slog.Logger) *history.Handler {
	if store == nil {
		return nil
	}
	return history.NewHandler(store, logger.With("handler", "history"))
}

type HandlerParams struct {
	fx.In

	GatewayHandler *gateway.Handler
	SessionHandler *session.Handler
	HistoryHandler *history.Handler
	Metrics        *metrics.Metrics
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	api := e.Group("/v1")

	params.GatewayHandler.RegisterRoutes(api)
	params.SessionHandler.RegisterRoutes(api.Group("/stats"))
	if params.HistoryHandler != nil {
		params.HistoryHandler.RegisterRoutes(api)
	}

	e.GET("/metrics", echo.WrapHandler(params.Metrics.Handler()))
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideGatewayConfig,
		ProvideSTTHandlerConfig,
		ProvideSessionHandler,
		ProvideHistoryHandler,
	),
	fx.Invoke(RegisterRoutes),
)
