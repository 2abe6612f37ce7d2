package shared

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

func NewID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// BackoffConfig bounds retries of remote session opens.
type BackoffConfig struct {
	Initial     time.Duration
	MaxAttempts int
	MaxDelay    time.Duration
}

func (b BackoffConfig) Normalize() BackoffConfig {
	if b.Initial <= 0 {
		b.Initial = 100 * time.Millisecond
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = 3
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = 2 * time.Second
	}
	return b
}

func (b BackoffConfig) Next(current time.Duration) time.Duration {
	return minDuration(current*2, b.MaxDelay)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
