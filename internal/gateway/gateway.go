package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/stt-gateway/internal/history"
	"github.com/eleven-am/stt-gateway/internal/session"
	"github.com/eleven-am/stt-gateway/internal/transcription"
	"github.com/eleven-am/stt-gateway/internal/usage"
	"github.com/google/uuid"
)

const (
	defaultChunkedIdleTimeout   = 30 * time.Second
	defaultStreamingIdleTimeout = 60 * time.Second
	defaultDrainTimeout         = 15 * time.Second
	defaultReportTimeout        = 2 * time.Second
)

type Config struct {
	Provider             string
	Language             string
	SampleRate           int
	Channels             int
	ChunkedIdleTimeout   time.Duration
	StreamingIdleTimeout time.Duration
	DrainTimeout         time.Duration
	ReportTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkedIdleTimeout <= 0 {
		c.ChunkedIdleTimeout = defaultChunkedIdleTimeout
	}
	if c.StreamingIdleTimeout <= 0 {
		c.StreamingIdleTimeout = defaultStreamingIdleTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = defaultReportTimeout
	}
	return c
}

func (c Config) idleTimeout(kind transcription.Kind) time.Duration {
	if kind == transcription.KindStreaming {
		return c.StreamingIdleTimeout
	}
	return c.ChunkedIdleTimeout
}

// Request carries what the transport knows about a new connection. Identity
// is opaque and only forwarded to usage accounting.
type Request struct {
	Provider string
	Identity string
}

// Mirror keeps a redis copy of live sessions and hourly provider counters.
type Mirror interface {
	CreateSession(ctx context.Context, sess *session.Session) error
	EndSession(ctx context.Context, id string, status session.Status, reason string) error
	IncrementSessions(ctx context.Context, provider string) error
	IncrementErrors(ctx context.Context, provider string) error
	IncrementIdleTimeouts(ctx context.Context, provider string) error
	RecordResult(ctx context.Context, provider string, words int) error
	RecordFirstResultLatency(ctx context.Context, provider string, latencyMs int64) error
}

type HistoryWriter interface {
	Create(ctx context.Context, rec *history.Record) error
}

type UsageRecorder interface {
	Record(ctx context.Context, identity, provider string, words int) error
}

// Recorder receives gateway-level measurements.
type Recorder interface {
	SessionStarted(provider, kind string)
	SessionClosed(provider, reason string, started bool, lifetime time.Duration)
	StartFailed(provider string)
	FellBack(provider string)
	FrameReceived(n int)
	ResultSent(provider string, final bool, words int)
}

type Option func(*Gateway)

func WithMirror(m Mirror) Option {
	return func(g *Gateway) { g.mirror = m }
}

func WithHistory(h HistoryWriter) Option {
	return func(g *Gateway) { g.history = h }
}

func WithUsage(u UsageRecorder) Option {
	return func(g *Gateway) { g.usage = u }
}

func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(g *Gateway) { g.newID = newID }
}

// Gateway pairs each client connection with one transcription backend and
// owns the session from accept to teardown.
type Gateway struct {
	router   *transcription.Router
	registry *Registry
	cfg      Config
	mirror   Mirror
	history  HistoryWriter
	usage    UsageRecorder
	recorder Recorder
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

func New(router *transcription.Router, registry *Registry, cfg Config, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	g := &Gateway{
		router:   router,
		registry: registry,
		cfg:      cfg.withDefaults(),
		recorder: nopRecorder{},
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger.With("component", "stt_gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Registry() *Registry {
	return g.registry
}

// liveSession bundles what the serving goroutine and the result callbacks
// share for one connection.
type liveSession struct {
	gw      *Gateway
	sess    *Session
	conn    Conn
	logger  *slog.Logger
	errOnce sync.Once
	reports sync.WaitGroup

	// ready gates result delivery until session_start has been written.
	ready     chan struct{}
	readyOnce sync.Once

	watchStop chan struct{}
	watchDone chan struct{}
}

// Serve runs one session to completion. It returns once the backend is
// stopped, the session is unregistered and conn is closed, whichever way the
// session ended.
func (g *Gateway) Serve(ctx context.Context, conn Conn, req Request) (err error) {
	requested := req.Provider
	if requested == "" {
		requested = g.cfg.Provider
	}
	sess := newSession(g.newID(), req.Identity, requested, g.now())
	ls := &liveSession{
		gw:     g,
		sess:   sess,
		conn:   conn,
		logger: g.logger.With("session_id", sess.ID),
		ready:  make(chan struct{}),
	}

	var (
		handle     transcription.Handle
		registered bool
	)
	defer func() {
		if r := recover(); r != nil {
			ls.logger.Error("session panicked", "panic", r)
			if sess.markClosing(ReasonBackendError) {
				ls.sendError(CodeBackendError, "internal error, please reconnect", true)
			}
			err = fmt.Errorf("session panicked: %v", r)
		}
		g.teardown(ls, handle, registered)
	}()

	route, err := g.router.Start(ctx, requested, transcription.StartConfig{
		SessionID:  sess.ID,
		Language:   g.cfg.Language,
		SampleRate: g.cfg.SampleRate,
		Channels:   g.cfg.Channels,
		Callbacks:  ls.callbacks(),
	})
	provider := requested
	if route.Backend != nil {
		provider = route.Backend.Provider()
		sess.bind(provider, route.Backend.Kind())
		if route.FellBack {
			g.recorder.FellBack(provider)
		}
	}
	if err != nil {
		sess.markClosing(ReasonStartFailed)
		g.recorder.StartFailed(provider)
		code := CodeStartFailed
		if errors.Is(err, transcription.ErrBackendUnavailable) {
			code = CodeBackendUnavailable
		}
		ls.sendError(code, "transcription backend failed to start, please reconnect", true)
		return fmt.Errorf("start session: %w", err)
	}
	handle = route.Handle

	if err := g.registry.Add(sess); err != nil {
		ls.logger.Error("failed to register session", "error", err)
		sess.markClosing(ReasonStartFailed)
		ls.sendError(CodeStartFailed, "session could not be registered, please reconnect", true)
		return err
	}
	registered = true

	g.recorder.SessionStarted(provider, sess.Kind().String())
	ls.mirrorStart()
	ls.logger.Info("session started",
		"provider", provider,
		"requested", requested,
		"kind", sess.Kind().String(),
		"fell_back", route.FellBack)

	if err := conn.WriteJSON(SessionStartEvent{
		Type:      EventTypeSessionStart,
		SessionID: sess.ID,
		Provider:  provider,
		Streaming: sess.Kind() == transcription.KindStreaming,
	}); err != nil {
		ls.logger.Debug("session_start not delivered", "error", err)
	}
	ls.markReady()

	ls.watch(ctx, handle)
	return ls.readLoop(ctx, handle, g.cfg.idleTimeout(sess.Kind()))
}

func (ls *liveSession) readLoop(ctx context.Context, handle transcription.Handle, idle time.Duration) error {
	g := ls.gw
	for {
		frame, err := ls.conn.ReadFrame(idle)
		if err != nil {
			reason := ReasonTransportClosed
			if errors.Is(err, ErrIdleTimeout) {
				reason = ReasonIdleTimeout
			}
			ls.sess.markClosing(reason)
			return nil
		}

		g.recorder.FrameReceived(len(frame))
		if len(frame) == 0 {
			continue
		}
		ls.sess.recordFrame(len(frame), g.now())

		if err := handle.Feed(ctx, frame); err != nil {
			if errors.Is(err, transcription.ErrTranscriptionFailed) {
				ls.logger.Warn("audio frame not processed", "error", err)
				continue
			}
			if ls.sess.markClosing(ReasonBackendError) {
				ls.sendError(CodeBackendError, "transcription stream failed, please reconnect", true)
			}
			return fmt.Errorf("feed audio: %w", err)
		}
	}
}

// watch closes the transport when the backend's result stream dies or ctx
// ends, which unblocks the read loop.
func (ls *liveSession) watch(ctx context.Context, handle transcription.Handle) {
	ls.watchStop = make(chan struct{})
	ls.watchDone = make(chan struct{})

	go func() {
		defer close(ls.watchDone)
		select {
		case <-handle.Done():
			if err := handle.Err(); err != nil {
				if ls.sess.markClosing(ReasonBackendError) {
					ls.logger.Warn("backend stream ended", "error", err)
					ls.sendError(CodeBackendError, "transcription stream ended, please reconnect", true)
				}
				_ = ls.conn.Close()
			}
		case <-ctx.Done():
			ls.sess.markClosing(ReasonTransportClosed)
			_ = ls.conn.Close()
		case <-ls.watchStop:
		}
	}()
}

func (ls *liveSession) stopWatch() {
	if ls.watchStop == nil {
		return
	}
	close(ls.watchStop)
	<-ls.watchDone
}

// teardown is the only exit path of a session: drain, stop, unregister,
// close, then record.
func (g *Gateway) teardown(ls *liveSession, handle transcription.Handle, registered bool) {
	sess := ls.sess
	ls.markReady()

	// A session whose backend never started has nothing to drain.
	if handle != nil {
		sess.transition(StateDraining, g.now())
		ls.stopWatch()

		drainCtx, cancel := context.WithTimeout(context.Background(), g.cfg.DrainTimeout)
		if err := handle.Drain(drainCtx); err != nil {
			ls.logger.Warn("final flush failed", "error", err)
		}
		cancel()

		if err := handle.Stop(); err != nil {
			ls.logger.Debug("backend stop returned error", "error", err)
		}
	}
	if registered {
		g.registry.Remove(sess.ID)
	}
	if err := ls.conn.Close(); err != nil {
		ls.logger.Debug("transport close failed", "error", err)
	}
	ls.reports.Wait()

	sess.transition(StateClosed, g.now())
	ls.recordClose(handle != nil)

	stats := sess.Stats()
	ls.logger.Info("session closed",
		"provider", stats.Provider,
		"reason", stats.CloseReason,
		"frames", stats.Frames,
		"bytes_in", stats.BytesIn,
		"results", stats.Results,
		"drained", sess.drained(),
		"duration", sess.lifetime())
}

func (ls *liveSession) callbacks() transcription.Callbacks {
	return transcription.Callbacks{
		OnResult: ls.deliver,
		OnSpeechStart: func() {
			ls.logger.Debug("speech started")
		},
		OnUtteranceEnd: func() {
			ls.logger.Debug("utterance ended")
		},
		OnError: func(err error) {
			ls.logger.Debug("backend reported error", "error", err)
		},
	}
}

// deliver forwards one result to the client, then accounts for it. Reporting
// happens off the delivery path and never blocks it.
func (ls *liveSession) deliver(r transcription.Result) {
	g := ls.gw
	<-ls.ready
	if err := ls.conn.WriteJSON(newTranscriptEvent(ls.sess.ID, r)); err != nil {
		ls.logger.Debug("result not delivered", "error", err)
	}

	words := 0
	if r.IsFinal {
		words = usage.CountWords(r.Text)
	}
	now := g.now()
	first := ls.sess.recordResult(r.IsFinal, words, now)
	g.recorder.ResultSent(r.Provider, r.IsFinal, words)

	latency := now.Sub(ls.sess.CreatedAt)
	ls.report(func(ctx context.Context) {
		if g.mirror != nil {
			if first {
				if err := g.mirror.RecordFirstResultLatency(ctx, r.Provider, latency.Milliseconds()); err != nil {
					ls.logger.Warn("failed to record first result latency", "error", err)
				}
			}
			if r.IsFinal {
				if err := g.mirror.RecordResult(ctx, r.Provider, words); err != nil {
					ls.logger.Warn("failed to record result", "error", err)
				}
			}
		}
		if g.usage != nil && words > 0 {
			if err := g.usage.Record(ctx, ls.sess.Identity, r.Provider, words); err != nil {
				ls.logger.Warn("failed to report usage", "error", err)
			}
		}
	})
}

func (ls *liveSession) markReady() {
	ls.readyOnce.Do(func() { close(ls.ready) })
}

func (ls *liveSession) report(fn func(ctx context.Context)) {
	ls.reports.Add(1)
	go func() {
		defer ls.reports.Done()
		ctx, cancel := context.WithTimeout(context.Background(), ls.gw.cfg.ReportTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (ls *liveSession) sendError(code, message string, reconnect bool) {
	ls.errOnce.Do(func() {
		if err := ls.conn.WriteJSON(newErrorEvent(code, message, reconnect)); err != nil {
			ls.logger.Debug("error event not delivered", "error", err)
		}
	})
}

func (ls *liveSession) mirrorStart() {
	g := ls.gw
	if g.mirror == nil {
		return
	}
	sess := ls.sess
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.ReportTimeout)
	defer cancel()

	if err := g.mirror.CreateSession(ctx, &session.Session{
		ID:        sess.ID,
		Identity:  sess.Identity,
		Provider:  sess.Provider(),
		Requested: sess.Requested,
		Kind:      sess.Kind().String(),
		StartedAt: sess.CreatedAt,
	}); err != nil {
		ls.logger.Warn("failed to mirror session", "error", err)
	}
	if err := g.mirror.IncrementSessions(ctx, sess.Provider()); err != nil {
		ls.logger.Warn("failed to count session", "error", err)
	}
}

func (ls *liveSession) recordClose(started bool) {
	g := ls.gw
	sess := ls.sess
	stats := sess.Stats()
	reason := sess.Reason()

	g.recorder.SessionClosed(stats.Provider, string(reason), started, sess.lifetime())

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.ReportTimeout)
	defer cancel()

	if g.mirror != nil {
		if started {
			status := session.StatusEnded
			if reason == ReasonBackendError {
				status = session.StatusError
			}
			if err := g.mirror.EndSession(ctx, sess.ID, status, string(reason)); err != nil {
				ls.logger.Warn("failed to end mirrored session", "error", err)
			}
		}
		var err error
		switch reason {
		case ReasonIdleTimeout:
			err = g.mirror.IncrementIdleTimeouts(ctx, stats.Provider)
		case ReasonBackendError, ReasonStartFailed:
			err = g.mirror.IncrementErrors(ctx, stats.Provider)
		}
		if err != nil {
			ls.logger.Warn("failed to count close reason", "error", err)
		}
	}

	if g.history != nil {
		rec := &history.Record{
			ID:                sess.ID,
			Identity:          sess.Identity,
			Provider:          stats.Provider,
			RequestedProvider: sess.Requested,
			Kind:              stats.Kind,
			State:             stats.State,
			CloseReason:       string(reason),
			BytesIn:           stats.BytesIn,
			Frames:            stats.Frames,
			Results:           stats.Results,
			Words:             stats.Words,
			StartedAt:         sess.CreatedAt,
			EndedAt:           sess.CreatedAt.Add(sess.lifetime()),
		}
		if err := g.history.Create(ctx, rec); err != nil {
			ls.logger.Warn("failed to write session history", "error", err)
		}
	}
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted(string, string)                     {}
func (nopRecorder) SessionClosed(string, string, bool, time.Duration) {}
func (nopRecorder) StartFailed(string)                                {}
func (nopRecorder) FellBack(string)                                   {}
func (nopRecorder) FrameReceived(int)                                 {}
func (nopRecorder) ResultSent(string, bool, int)                      {}
