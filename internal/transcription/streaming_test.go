package transcription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eleven-am/stt-gateway/internal/shared"
)

func fastBackoff() shared.BackoffConfig {
	return shared.BackoffConfig{Initial: time.Millisecond, MaxAttempts: 3, MaxDelay: 2 * time.Millisecond}
}

func startStreaming(t *testing.T, remote *fakeRemote, rec *recorder) (*StreamingBackend, Handle) {
	t.Helper()
	b := NewStreamingBackend(ProviderDeepgram, &fakeDialer{remote: remote}, testLogger(), WithBackoff(fastBackoff()))
	h, err := b.Start(context.Background(), StartConfig{SessionID: "s1", Language: "en", Callbacks: rec.callbacks()})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return b, h
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

func TestStreamingBackend_StartUnavailable(t *testing.T) {
	b := NewStreamingBackend(ProviderDeepgram, nil, testLogger())
	_, err := b.Start(context.Background(), StartConfig{SessionID: "s1"})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestStreamingBackend_DeliversInOrderAndFiltersMarkers(t *testing.T) {
	remote := newFakeRemote()
	rec := &recorder{}
	_, h := startStreaming(t, remote, rec)

	remote.events <- Event{Type: EventSpeechStarted}
	remote.events <- Event{Type: EventTranscript, Result: Result{Text: "hel", IsFinal: false}}
	remote.events <- Event{Type: EventTranscript, Result: Result{Text: "  "}}
	remote.events <- Event{Type: EventTranscript, Result: Result{Text: "hello", IsFinal: true, Confidence: 0.9, Language: "de"}}
	remote.events <- Event{Type: EventUtteranceEnd}
	waitFor(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.ends == 1
	})

	if err := h.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	results := rec.Results()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %+v", results)
	}
	if results[0].Text != "hel" || results[0].IsFinal {
		t.Errorf("unexpected interim %+v", results[0])
	}
	if results[0].Language != "en" || results[0].Provider != ProviderDeepgram {
		t.Errorf("expected defaults filled, got %+v", results[0])
	}
	if results[1].Text != "hello" || !results[1].IsFinal || results[1].Language != "de" {
		t.Errorf("unexpected final %+v", results[1])
	}
	if rec.starts != 1 || rec.ends != 1 {
		t.Errorf("expected one speech start and one utterance end, got %d/%d", rec.starts, rec.ends)
	}
}

func TestStreamingBackend_FeedForwardsImmediately(t *testing.T) {
	remote := newFakeRemote()
	_, h := startStreaming(t, remote, &recorder{})
	defer h.Stop()

	for i := 0; i < 3; i++ {
		if err := h.Feed(context.Background(), []byte{1, 2, 3}); err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
	}
	h.Feed(context.Background(), nil)

	if remote.Sent() != 3 {
		t.Errorf("expected 3 frames forwarded, got %d", remote.Sent())
	}
}

func TestStreamingBackend_SendErrorIsTransient(t *testing.T) {
	remote := newFakeRemote()
	remote.sendErr = errUpstream
	_, h := startStreaming(t, remote, &recorder{})
	defer h.Stop()

	err := h.Feed(context.Background(), []byte{1, 2})
	if !errors.Is(err, ErrTranscriptionFailed) {
		t.Errorf("expected ErrTranscriptionFailed, got %v", err)
	}
	if errors.Is(err, ErrStreamClosed) {
		t.Error("send failure should not be reported as a closed stream")
	}
}

func TestStreamingBackend_StopHaltsDelivery(t *testing.T) {
	remote := newFakeRemote()
	rec := &recorder{}
	_, h := startStreaming(t, remote, rec)

	remote.events <- Event{Type: EventTranscript, Result: Result{Text: "before"}}
	waitFor(t, func() bool { return len(rec.Results()) == 1 })

	if err := h.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case <-h.Done():
	default:
		t.Fatal("expected consumer to have exited when Stop returned")
	}

	select {
	case remote.events <- Event{Type: EventTranscript, Result: Result{Text: "after"}}:
		t.Fatal("consumer still receiving after stop")
	case <-time.After(20 * time.Millisecond):
	}

	if len(rec.Results()) != 1 {
		t.Errorf("expected no delivery after stop, got %+v", rec.Results())
	}
	if err := h.Feed(context.Background(), []byte{1, 2}); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected ErrStreamClosed after stop, got %v", err)
	}
}

func TestStreamingBackend_StopIdempotent(t *testing.T) {
	remote := newFakeRemote()
	_, h := startStreaming(t, remote, &recorder{})

	if err := h.Stop(); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if n := remote.closeCount.Load(); n != 1 {
		t.Errorf("expected remote closed once, got %d", n)
	}
}

func TestStreamingBackend_RemoteFailureClosesStream(t *testing.T) {
	remote := newFakeRemote()
	rec := &recorder{}
	_, h := startStreaming(t, remote, rec)
	defer h.Stop()

	remote.errs <- errUpstream

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected consumer to exit on remote failure")
	}

	if !errors.Is(h.Err(), ErrStreamClosed) {
		t.Errorf("expected ErrStreamClosed, got %v", h.Err())
	}
	if err := h.Feed(context.Background(), []byte{1, 2}); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected Feed to report closed stream, got %v", err)
	}
	if errs := rec.Errors(); len(errs) != 1 {
		t.Errorf("expected one error callback, got %d", len(errs))
	}
}

func TestStreamingBackend_DialRetries(t *testing.T) {
	remote := newFakeRemote()
	dialer := &fakeDialer{remote: remote, failures: []error{errUpstream, errUpstream}}
	obs := &countingObserver{}
	b := NewStreamingBackend(ProviderSoniox, dialer, testLogger(), WithBackoff(fastBackoff()), WithStreamObserver(obs))

	h, err := b.Start(context.Background(), StartConfig{SessionID: "s1"})
	if err != nil {
		t.Fatalf("expected third attempt to succeed, got %v", err)
	}
	defer h.Stop()

	if dialer.attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", dialer.attempts)
	}
	if len(obs.dials) != 1 || obs.dials[0] != 3 {
		t.Errorf("expected one dial observation with 3 attempts, got %v", obs.dials)
	}
}

func TestStreamingBackend_DialExhausted(t *testing.T) {
	dialer := &fakeDialer{failures: []error{errUpstream, errUpstream, errUpstream}}
	b := NewStreamingBackend(ProviderSoniox, dialer, testLogger(), WithBackoff(fastBackoff()))

	_, err := b.Start(context.Background(), StartConfig{SessionID: "s1"})
	if !errors.Is(err, ErrBackendStartFailed) {
		t.Errorf("expected ErrBackendStartFailed, got %v", err)
	}
	if !errors.Is(err, errUpstream) {
		t.Errorf("expected upstream error wrapped, got %v", err)
	}
	if dialer.attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", dialer.attempts)
	}
}

func TestStreamingBackend_UnavailableNotRetried(t *testing.T) {
	dialer := &fakeDialer{failures: []error{ErrBackendUnavailable}}
	b := NewStreamingBackend(ProviderSoniox, dialer, testLogger(), WithBackoff(fastBackoff()))

	_, err := b.Start(context.Background(), StartConfig{SessionID: "s1"})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
	if dialer.attempts != 1 {
		t.Errorf("expected a single attempt, got %d", dialer.attempts)
	}
}

func TestStreamingBackend_DialCancelled(t *testing.T) {
	dialer := &fakeDialer{failures: []error{errUpstream, errUpstream, errUpstream}}
	b := NewStreamingBackend(ProviderSoniox, dialer, testLogger(),
		WithBackoff(shared.BackoffConfig{Initial: time.Hour, MaxAttempts: 3, MaxDelay: time.Hour}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Start(ctx, StartConfig{SessionID: "s1"})
	if !errors.Is(err, ErrBackendStartFailed) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancelled start failure, got %v", err)
	}
}
