package audio

import (
	"errors"
	"testing"
	"time"
)

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr bool
	}{
		{"defaults", func(p *Policy) {}, false},
		{"min equals max", func(p *Policy) { p.MinBytes = p.MaxBytes }, true},
		{"min above max", func(p *Policy) { p.MinBytes = p.MaxBytes + 1 }, true},
		{"negative min", func(p *Policy) { p.MinBytes = -1 }, true},
		{"zero silence", func(p *Policy) { p.SilenceTimeout = 0 }, true},
		{"zero sample rate", func(p *Policy) { p.SampleRate = 0 }, true},
		{"zero channels", func(p *Policy) { p.Channels = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("expected ErrInvalidPolicy, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestPolicy_Ready(t *testing.T) {
	p := Policy{MinBytes: 100, MaxBytes: 200, SilenceTimeout: time.Second, SampleRate: 16000, Channels: 1}

	tests := []struct {
		name    string
		size    int
		elapsed time.Duration
		want    bool
	}{
		{"empty never ready", 0, time.Hour, false},
		{"below min after silence", 99, time.Hour, false},
		{"at min before silence", 100, 999 * time.Millisecond, false},
		{"at min after silence", 100, time.Second, true},
		{"at max without silence", 200, 0, true},
		{"above max", 250, 0, true},
		{"between with no elapsed", 150, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ready(tt.size, tt.elapsed); got != tt.want {
				t.Errorf("ready(%d, %v) = %v, want %v", tt.size, tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestPolicy_BytesPerSecond(t *testing.T) {
	if got := DefaultPolicy().BytesPerSecond(); got != 32000 {
		t.Errorf("expected 32000, got %d", got)
	}
}
