package transcription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTranscriber struct {
	mu      sync.Mutex
	calls   [][]byte
	results []Result
	errs    []error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, pcm []byte, _ ChunkOptions) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.calls)
	f.calls = append(f.calls, append([]byte(nil), pcm...))

	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return Result{}, err
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return Result{Text: "hello"}, nil
}

func (f *fakeTranscriber) Calls() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.calls...)
}

type fakeRemote struct {
	events chan Event
	errs   chan error
	closed chan struct{}

	closeOnce  sync.Once
	closeCount atomic.Int32
	sendErr    error

	mu   sync.Mutex
	sent [][]byte
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		events: make(chan Event),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeRemote) Send(pcm []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, pcm)
	f.mu.Unlock()
	return nil
}

func (f *fakeRemote) Recv() (Event, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case err := <-f.errs:
		return Event{}, err
	case <-f.closed:
		return Event{}, io.EOF
	}
}

func (f *fakeRemote) Close() error {
	f.closeOnce.Do(func() {
		f.closeCount.Add(1)
		close(f.closed)
	})
	return nil
}

func (f *fakeRemote) Sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeDialer struct {
	mu       sync.Mutex
	attempts int
	failures []error
	remote   *fakeRemote
}

func (d *fakeDialer) Dial(context.Context, StartConfig) (RemoteStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.attempts
	d.attempts++
	if i < len(d.failures) && d.failures[i] != nil {
		return nil, d.failures[i]
	}
	return d.remote, nil
}

type recorder struct {
	mu      sync.Mutex
	results []Result
	errs    []error
	starts  int
	ends    int
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnResult: func(res Result) {
			r.mu.Lock()
			r.results = append(r.results, res)
			r.mu.Unlock()
		},
		OnSpeechStart: func() {
			r.mu.Lock()
			r.starts++
			r.mu.Unlock()
		},
		OnUtteranceEnd: func() {
			r.mu.Lock()
			r.ends++
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

type countingObserver struct {
	mu       sync.Mutex
	calls    int
	failures int
	padded   int
	dials    []int
}

func (o *countingObserver) ObserveTranscription(_ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if err != nil {
		o.failures++
	}
}

func (o *countingObserver) ObservePadding(string) {
	o.mu.Lock()
	o.padded++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveDial(_ string, attempts int, _ error) {
	o.mu.Lock()
	o.dials = append(o.dials, attempts)
	o.mu.Unlock()
}

var errUpstream = errors.New("upstream exploded")
