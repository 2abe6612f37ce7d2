package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/eleven-am/stt-gateway/internal/shared"
	"golang.org/x/sync/errgroup"
)

type StreamingBackend struct {
	provider string
	dialer   StreamDialer
	backoff  shared.BackoffConfig
	observer Observer
	logger   *slog.Logger
}

type StreamingOption func(*StreamingBackend)

func WithBackoff(cfg shared.BackoffConfig) StreamingOption {
	return func(b *StreamingBackend) {
		b.backoff = cfg.Normalize()
	}
}

func WithStreamObserver(o Observer) StreamingOption {
	return func(b *StreamingBackend) {
		if o != nil {
			b.observer = o
		}
	}
}

func NewStreamingBackend(provider string, dialer StreamDialer, logger *slog.Logger, opts ...StreamingOption) *StreamingBackend {
	if logger == nil {
		logger = slog.Default()
	}
	b := &StreamingBackend{
		provider: provider,
		dialer:   dialer,
		backoff:  shared.BackoffConfig{}.Normalize(),
		observer: nopObserver{},
		logger:   logger.With("component", "streaming_backend", "provider", provider),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *StreamingBackend) Provider() string { return b.provider }

func (b *StreamingBackend) Kind() Kind { return KindStreaming }

// Start opens the remote session and starts consuming its results before
// returning, so nothing the provider sends early is lost.
func (b *StreamingBackend) Start(ctx context.Context, cfg StartConfig) (Handle, error) {
	if b.dialer == nil {
		return nil, fmt.Errorf("%w: %s is not configured", ErrBackendUnavailable, b.provider)
	}

	remote, err := b.dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	h := &streamingHandle{
		provider: b.provider,
		language: cfg.Language,
		remote:   remote,
		cb:       cfg.Callbacks,
		cancel:   cancel,
		group:    g,
		done:     make(chan struct{}),
		logger:   b.logger.With("session_id", cfg.SessionID),
	}
	g.Go(func() error {
		return h.consume(gctx)
	})

	b.logger.Info("stream started", "session_id", cfg.SessionID)
	return h, nil
}

func (b *StreamingBackend) dial(ctx context.Context, cfg StartConfig) (RemoteStream, error) {
	backoff := b.backoff.Initial
	var lastErr error

	for attempt := 1; attempt <= b.backoff.MaxAttempts; attempt++ {
		remote, err := b.dialer.Dial(ctx, cfg)
		if err == nil {
			b.observer.ObserveDial(b.provider, attempt, nil)
			return remote, nil
		}
		lastErr = err

		if errors.Is(err, ErrBackendUnavailable) {
			b.observer.ObserveDial(b.provider, attempt, err)
			return nil, err
		}

		b.logger.Warn("stream dial attempt failed",
			"attempt", attempt,
			"max_attempts", b.backoff.MaxAttempts,
			"error", err)

		if attempt == b.backoff.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			b.observer.ObserveDial(b.provider, attempt, ctx.Err())
			return nil, fmt.Errorf("%w: %w", ErrBackendStartFailed, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = b.backoff.Next(backoff)
	}

	b.observer.ObserveDial(b.provider, b.backoff.MaxAttempts, lastErr)
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrBackendStartFailed, b.provider, b.backoff.MaxAttempts, lastErr)
}

type streamingHandle struct {
	provider string
	language string
	remote   RemoteStream
	cb       Callbacks
	cancel   context.CancelFunc
	group    *errgroup.Group
	logger   *slog.Logger

	mu      sync.Mutex
	err     error
	stopped bool
	done    chan struct{}
	stop    sync.Once
	stopErr error
}

func (h *streamingHandle) consume(ctx context.Context) error {
	defer close(h.done)

	for {
		ev, err := h.remote.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			err = fmt.Errorf("%w: %w", ErrStreamClosed, err)
			h.mu.Lock()
			h.err = err
			h.mu.Unlock()
			h.logger.Warn("result stream ended", "error", err)
			h.cb.error(err)
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		switch ev.Type {
		case EventSpeechStarted:
			h.cb.speechStart()
		case EventUtteranceEnd:
			h.cb.utteranceEnd()
		case EventTranscript:
			res := ev.Result
			res.Text = strings.TrimSpace(res.Text)
			if res.Text == "" {
				continue
			}
			res.Provider = h.provider
			if res.Language == "" {
				res.Language = h.language
			}
			h.cb.result(res)
		}
	}
}

// Feed forwards pcm as-is. A send error is transient unless the result
// stream has already died, in which case ErrStreamClosed is returned.
func (h *streamingHandle) Feed(_ context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}

	h.mu.Lock()
	stopped, err := h.stopped, h.err
	h.mu.Unlock()
	if stopped {
		return ErrStreamClosed
	}
	if err != nil {
		return err
	}

	if err := h.remote.Send(pcm); err != nil {
		return fmt.Errorf("%w: send audio: %w", ErrTranscriptionFailed, err)
	}
	return nil
}

func (h *streamingHandle) Drain(context.Context) error { return nil }

// Stop cancels the consumer, closes the remote session and waits for the
// consumer to exit. Safe to call more than once.
func (h *streamingHandle) Stop() error {
	h.stop.Do(func() {
		h.mu.Lock()
		h.stopped = true
		h.mu.Unlock()

		h.cancel()
		h.stopErr = h.remote.Close()
		if err := h.group.Wait(); err != nil {
			h.logger.Debug("consumer exited with error", "error", err)
		}
		h.logger.Info("stream stopped")
	})
	return h.stopErr
}

func (h *streamingHandle) Done() <-chan struct{} { return h.done }

func (h *streamingHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
