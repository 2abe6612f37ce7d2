package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/stt-gateway/internal/audio"
	"github.com/eleven-am/stt-gateway/internal/history"
	"github.com/eleven-am/stt-gateway/internal/session"
	"github.com/eleven-am/stt-gateway/internal/shared"
	"github.com/eleven-am/stt-gateway/internal/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type readResult struct {
	data []byte
	err  error
}

// fakeConn replays frames pushed by the test. Writes made after Close are
// counted separately so tests can assert delivery happened before close.
type fakeConn struct {
	frames chan readResult
	closed chan struct{}
	once   sync.Once

	mu           sync.Mutex
	writes       []any
	lateWrites   int
	closeCount   int
	lastDeadline time.Duration
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan readResult, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) push(data []byte) {
	c.frames <- readResult{data: data}
}

func (c *fakeConn) disconnect() {
	c.frames <- readResult{err: ErrTransportClosed}
}

func (c *fakeConn) ReadFrame(timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	c.lastDeadline = timeout
	c.mu.Unlock()

	select {
	case r := <-c.frames:
		return r.data, r.err
	case <-c.closed:
		return nil, ErrTransportClosed
	case <-time.After(timeout):
		return nil, ErrIdleTimeout
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		c.lateWrites++
		return ErrTransportClosed
	default:
	}
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closeCount++
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) transcripts() []TranscriptEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []TranscriptEvent
	for _, w := range c.writes {
		if ev, ok := w.(TranscriptEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) errorEvents() []ErrorEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ErrorEvent
	for _, w := range c.writes {
		if ev, ok := w.(ErrorEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) Writes() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.writes...)
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls [][]byte
	text  string
	err   error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, pcm []byte, opts transcription.ChunkOptions) (transcription.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]byte(nil), pcm...))
	if f.err != nil {
		return transcription.Result{}, f.err
	}
	return transcription.Result{Text: f.text, Language: opts.Language, Confidence: 0.9}, nil
}

func (f *fakeTranscriber) Calls() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.calls...)
}

type fakeRemote struct {
	events chan transcription.Event
	errs   chan error
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		events: make(chan transcription.Event, 8),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (r *fakeRemote) Send([]byte) error {
	r.mu.Lock()
	r.sent++
	r.mu.Unlock()
	return nil
}

func (r *fakeRemote) Recv() (transcription.Event, error) {
	select {
	case ev := <-r.events:
		return ev, nil
	case err := <-r.errs:
		return transcription.Event{}, err
	case <-r.closed:
		return transcription.Event{}, io.EOF
	}
}

func (r *fakeRemote) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func (r *fakeRemote) Sent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

type fakeDialer struct {
	remote *fakeRemote
	err    error
}

func (d *fakeDialer) Dial(context.Context, transcription.StartConfig) (transcription.RemoteStream, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.remote, nil
}

type fakeMirror struct {
	mu           sync.Mutex
	created      []*session.Session
	ended        map[string]string
	sessions     int
	errors       int
	idleTimeouts int
	words        int
	latencies    int
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{ended: make(map[string]string)}
}

func (m *fakeMirror) CreateSession(_ context.Context, sess *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, sess)
	return nil
}

func (m *fakeMirror) EndSession(_ context.Context, id string, status session.Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended[id] = string(status) + ":" + reason
	return nil
}

func (m *fakeMirror) IncrementSessions(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions++
	return nil
}

func (m *fakeMirror) IncrementErrors(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
	return nil
}

func (m *fakeMirror) IncrementIdleTimeouts(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idleTimeouts++
	return nil
}

func (m *fakeMirror) RecordResult(_ context.Context, _ string, words int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.words += words
	return nil
}

func (m *fakeMirror) RecordFirstResultLatency(context.Context, string, int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies++
	return nil
}

type fakeHistory struct {
	mu      sync.Mutex
	records []*history.Record
}

func (h *fakeHistory) Create(_ context.Context, rec *history.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

func (h *fakeHistory) Records() []*history.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*history.Record(nil), h.records...)
}

type usageCall struct {
	identity string
	provider string
	words    int
}

type fakeUsage struct {
	mu    sync.Mutex
	calls []usageCall
	err   error
}

func (u *fakeUsage) Record(_ context.Context, identity, provider string, words int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, usageCall{identity, provider, words})
	return u.err
}

func (u *fakeUsage) Calls() []usageCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]usageCall(nil), u.calls...)
}

type fakeRecorder struct {
	mu          sync.Mutex
	started     int
	closed      map[string]int
	startFailed int
	fellBack    int
	keepalives  int
	frames      int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{closed: make(map[string]int)}
}

func (r *fakeRecorder) SessionStarted(string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *fakeRecorder) SessionClosed(_ string, reason string, _ bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed[reason]++
}

func (r *fakeRecorder) StartFailed(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startFailed++
}

func (r *fakeRecorder) FellBack(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fellBack++
}

func (r *fakeRecorder) FrameReceived(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n == 0 {
		r.keepalives++
		return
	}
	r.frames++
}

func (r *fakeRecorder) ResultSent(string, bool, int) {}

var errUpstream = errors.New("upstream refused")

func testPolicy() audio.Policy {
	return audio.Policy{
		MinBytes:       16000,
		MaxBytes:       32000,
		SilenceTimeout: 400 * time.Millisecond,
		SampleRate:     16000,
		Channels:       1,
	}
}

func newChunkedBackend(t *testing.T, tr *fakeTranscriber) *transcription.ChunkedBackend {
	t.Helper()
	buffers, err := audio.NewManager(testPolicy())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return transcription.NewChunkedBackend(transcription.ProviderWhisper, tr, buffers, testLogger())
}

func newStreamingBackend(provider string, d *fakeDialer) *transcription.StreamingBackend {
	return transcription.NewStreamingBackend(provider, d, testLogger(),
		transcription.WithBackoff(shared.BackoffConfig{Initial: time.Millisecond, MaxAttempts: 1}))
}
