package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/eleven-am/stt-gateway/internal/audio"
)

type ChunkedBackend struct {
	provider    string
	transcriber ChunkTranscriber
	buffers     *audio.Manager
	observer    Observer
	now         func() time.Time
	logger      *slog.Logger
}

type ChunkedOption func(*ChunkedBackend)

func WithClock(now func() time.Time) ChunkedOption {
	return func(b *ChunkedBackend) {
		b.now = now
	}
}

func WithChunkObserver(o Observer) ChunkedOption {
	return func(b *ChunkedBackend) {
		if o != nil {
			b.observer = o
		}
	}
}

func NewChunkedBackend(provider string, transcriber ChunkTranscriber, buffers *audio.Manager, logger *slog.Logger, opts ...ChunkedOption) *ChunkedBackend {
	if logger == nil {
		logger = slog.Default()
	}
	b := &ChunkedBackend{
		provider:    provider,
		transcriber: transcriber,
		buffers:     buffers,
		observer:    nopObserver{},
		now:         time.Now,
		logger:      logger.With("component", "chunked_backend", "provider", provider),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *ChunkedBackend) Provider() string { return b.provider }

func (b *ChunkedBackend) Kind() Kind { return KindChunked }

func (b *ChunkedBackend) Start(_ context.Context, cfg StartConfig) (Handle, error) {
	if b.transcriber == nil || b.buffers == nil {
		return nil, fmt.Errorf("%w: %s is not configured", ErrBackendUnavailable, b.provider)
	}
	if err := b.buffers.CreateSession(cfg.SessionID, b.now()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendStartFailed, err)
	}

	policy := b.buffers.Policy()
	opts := ChunkOptions{
		Language:   cfg.Language,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = policy.SampleRate
	}
	if opts.Channels <= 0 {
		opts.Channels = policy.Channels
	}

	return &chunkedHandle{
		backend: b,
		id:      cfg.SessionID,
		opts:    opts,
		cb:      cfg.Callbacks,
		logger:  b.logger.With("session_id", cfg.SessionID),
	}, nil
}

type chunkedHandle struct {
	backend *ChunkedBackend
	id      string
	opts    ChunkOptions
	cb      Callbacks
	logger  *slog.Logger

	mu      sync.Mutex
	drained bool
	stopped bool
	stop    sync.Once
}

// Feed buffers pcm and, once the policy says so, transcribes the buffer
// before returning.
func (h *chunkedHandle) Feed(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return ErrStreamClosed
	}

	now := h.backend.now()
	if !h.backend.buffers.Append(h.id, pcm, now) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, h.id)
	}

	data, ok := h.backend.buffers.TryExtract(h.id, now)
	if !ok {
		return nil
	}
	h.submit(ctx, data)
	return nil
}

// Drain transcribes whatever is left in the buffer exactly once. Errors are
// logged only; the session is closing anyway.
func (h *chunkedHandle) Drain(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.drained || h.stopped {
		return nil
	}
	h.drained = true

	data := h.backend.buffers.FinalFlush(h.id)
	if len(data) == 0 {
		return nil
	}
	h.logger.Debug("final flush", "bytes", len(data))
	h.submit(ctx, data)
	return nil
}

func (h *chunkedHandle) submit(ctx context.Context, data []byte) {
	b := h.backend
	padded := audio.PadEven(data)
	if len(padded) != len(data) {
		b.observer.ObservePadding(b.provider)
		h.logger.Debug("padded odd-length buffer", "bytes", len(data))
	}

	start := time.Now()
	res, err := b.transcriber.Transcribe(ctx, padded, h.opts)
	b.observer.ObserveTranscription(b.provider, time.Since(start), err)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
		h.logger.Warn("chunk transcription failed", "bytes", len(padded), "error", err)
		h.cb.error(err)
		return
	}

	res.Text = strings.TrimSpace(res.Text)
	if res.Text == "" {
		return
	}
	res.IsFinal = true
	res.Provider = b.provider
	if res.Language == "" {
		res.Language = h.opts.Language
	}
	h.cb.result(res)
}

func (h *chunkedHandle) Stop() error {
	h.stop.Do(func() {
		h.mu.Lock()
		h.stopped = true
		h.mu.Unlock()
		h.backend.buffers.DestroySession(h.id)
	})
	return nil
}

func (h *chunkedHandle) Done() <-chan struct{} { return nil }

func (h *chunkedHandle) Err() error { return nil }
