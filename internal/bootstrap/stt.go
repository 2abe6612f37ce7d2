package bootstrap

import (
	"errors"
	"log/slog"

	"github.com/eleven-am/stt-gateway/internal/audio"
	"github.com/eleven-am/stt-gateway/internal/metrics"
	"github.com/eleven-am/stt-gateway/internal/provider/deepgram"
	"github.com/eleven-am/stt-gateway/internal/provider/soniox"
	"github.com/eleven-am/stt-gateway/internal/provider/whisper"
	"github.com/eleven-am/stt-gateway/internal/transcription"
	"go.uber.org/fx"
)

func ProvideMetrics() *metrics.Metrics {
	return metrics.New()
}

func ProvideBufferManager(cfg *Config) (*audio.Manager, error) {
	return audio.NewManager(audio.Policy{
		MinBytes:       cfg.STT.MinBufferBytes,
		MaxBytes:       cfg.STT.MaxBufferBytes,
		SilenceTimeout: cfg.STT.SilenceTimeout,
		SampleRate:     cfg.STT.SampleRate,
		Channels:       cfg.STT.Channels,
	})
}

// ProvideChunkTranscriber returns nil when Whisper is not configured. Callers
// treat a nil transcriber as an unavailable chunked backend.
func ProvideChunkTranscriber(cfg *Config, logger *slog.Logger) (transcription.ChunkTranscriber, error) {
	t, err := whisper.New(whisper.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.WhisperModel,
	}, logger)
	if errors.Is(err, transcription.ErrBackendUnavailable) {
		logger.Info("whisper not configured, chunked transcription disabled")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ProvideRouter registers every provider that has credentials. Requests for
// anything else are routed to the default provider.
func ProvideRouter(
	cfg *Config,
	transcriber transcription.ChunkTranscriber,
	buffers *audio.Manager,
	m *metrics.Metrics,
	logger *slog.Logger,
) *transcription.Router {
	router := transcription.NewRouter(cfg.STT.DefaultProvider, logger)

	if transcriber != nil {
		router.Register(transcription.NewChunkedBackend(
			transcription.ProviderWhisper, transcriber, buffers, logger,
			transcription.WithChunkObserver(m),
		))
	}
	if cfg.Deepgram.APIKey != "" {
		dialer := deepgram.NewDialer(deepgram.Config{
			APIKey: cfg.Deepgram.APIKey,
			URL:    cfg.Deepgram.URL,
			Model:  cfg.Deepgram.Model,
		}, logger)
		router.Register(transcription.NewStreamingBackend(
			transcription.ProviderDeepgram, dialer, logger,
			transcription.WithStreamObserver(m),
		))
	}
	if cfg.Soniox.APIKey != "" {
		dialer := soniox.NewDialer(soniox.Config{
			APIKey: cfg.Soniox.APIKey,
			URL:    cfg.Soniox.URL,
			Model:  cfg.Soniox.Model,
		}, logger)
		router.Register(transcription.NewStreamingBackend(
			transcription.ProviderSoniox, dialer, logger,
			transcription.WithStreamObserver(m),
		))
	}

	logger.Info("transcription providers configured",
		"providers", router.Providers(),
		"default", router.Default())
	return router
}

var STTModule = fx.Options(
	fx.Provide(
		ProvideMetrics,
		ProvideBufferManager,
		ProvideChunkTranscriber,
		ProvideRouter,
	),
)
