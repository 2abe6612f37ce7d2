package gateway

import (
	"log/slog"

	"github.com/eleven-am/stt-gateway/internal/history"
	"github.com/eleven-am/stt-gateway/internal/metrics"
	"github.com/eleven-am/stt-gateway/internal/session"
	"github.com/eleven-am/stt-gateway/internal/transcription"
	"github.com/eleven-am/stt-gateway/internal/usage"
	"go.uber.org/fx"
)

type GatewayParams struct {
	fx.In

	Router   *transcription.Router
	Registry *Registry
	Config   Config
	Logger   *slog.Logger

	Sessions *session.Store   `optional:"true"`
	History  *history.Store   `optional:"true"`
	Usage    *usage.Store     `optional:"true"`
	Metrics  *metrics.Metrics `optional:"true"`
}

func ProvideRegistry() *Registry {
	return NewRegistry()
}

func ProvideGateway(p GatewayParams) *Gateway {
	var opts []Option
	if p.Sessions != nil {
		opts = append(opts, WithMirror(p.Sessions))
	}
	if p.History != nil {
		opts = append(opts, WithHistory(p.History))
	}
	if p.Usage != nil {
		opts = append(opts, WithUsage(p.Usage))
	}
	if p.Metrics != nil {
		opts = append(opts, WithRecorder(p.Metrics))
	}
	return New(p.Router, p.Registry, p.Config, p.Logger, opts...)
}

func ProvideWSServer(gw *Gateway, logger *slog.Logger) *WSServer {
	return NewWSServer(gw, logger)
}

func ProvideSTTHandler(transcriber transcription.ChunkTranscriber, usageStore *usage.Store, cfg STTConfig, logger *slog.Logger) *STTHandler {
	var recorder UsageRecorder
	if usageStore != nil {
		recorder = usageStore
	}
	return NewSTTHandler(transcriber, recorder, cfg, logger)
}

func ProvideHandler(wsServer *WSServer, stt *STTHandler, registry *Registry) *Handler {
	return NewHandler(wsServer, stt, registry)
}

var Module = fx.Options(
	fx.Provide(
		ProvideRegistry,
		ProvideGateway,
		ProvideWSServer,
		ProvideSTTHandler,
		ProvideHandler,
	),
)
