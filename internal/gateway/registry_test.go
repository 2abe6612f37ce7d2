package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/eleven-am/stt-gateway/internal/transcription"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	base := time.Unix(1_700_000_000, 0)

	a := newSession("a", "", "deepgram", base.Add(time.Second))
	a.bind(transcription.ProviderDeepgram, transcription.KindStreaming)
	b := newSession("b", "", "whisper", base)
	b.bind(transcription.ProviderWhisper, transcription.KindChunked)

	if err := r.Add(a); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Add(b); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Add(a); !errors.Is(err, ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}

	list := r.List()
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "a" {
		t.Errorf("expected oldest first, got %+v", list)
	}
	counts := r.CountByProvider()
	if counts[transcription.ProviderDeepgram] != 1 || counts[transcription.ProviderWhisper] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}

	r.Remove("a")
	r.Remove("a")
	if r.Count() != 1 {
		t.Errorf("expected 1 session, got %d", r.Count())
	}
	if _, ok := r.Get("a"); ok {
		t.Error("expected a to be removed")
	}
}

func TestSession_Transitions(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := newSession("s", "", "", now)

	s.transition(StateDraining, now)
	s.transition(StateActive, now)
	if s.State() != StateDraining {
		t.Errorf("state must not move backwards, got %s", s.State())
	}
	s.transition(StateClosed, now.Add(3*time.Second))
	if s.lifetime() != 3*time.Second {
		t.Errorf("expected 3s lifetime, got %v", s.lifetime())
	}

	if !s.markClosing(ReasonIdleTimeout) || s.markClosing(ReasonTransportClosed) {
		t.Error("expected the first close reason to win")
	}
	if s.Reason() != ReasonIdleTimeout {
		t.Errorf("expected idle_timeout, got %s", s.Reason())
	}
}

func TestSession_Counters(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := newSession("s", "", "", now)

	s.recordFrame(320, now)
	s.recordFrame(320, now)
	if !s.recordResult(false, 0, now) {
		t.Error("expected first result")
	}
	if s.recordResult(true, 4, now) {
		t.Error("expected only one first result")
	}

	st := s.Stats()
	if st.Frames != 2 || st.BytesIn != 640 || st.Results != 2 || st.Words != 4 {
		t.Errorf("unexpected stats: %+v", st)
	}
}
