package audio

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownPolicy = errors.New("no buffer policy configured")
	ErrInvalidPolicy = errors.New("invalid buffer policy")
)

const (
	DefaultMinBytes       = 12000
	DefaultMaxBytes       = 28000
	DefaultSilenceTimeout = 400 * time.Millisecond
	DefaultSampleRate     = 16000
	DefaultChannels       = 1
)

// Policy is the immutable threshold set deciding when buffered audio is flushed.
type Policy struct {
	MinBytes       int
	MaxBytes       int
	SilenceTimeout time.Duration
	SampleRate     int
	Channels       int
}

func DefaultPolicy() Policy {
	return Policy{
		MinBytes:       DefaultMinBytes,
		MaxBytes:       DefaultMaxBytes,
		SilenceTimeout: DefaultSilenceTimeout,
		SampleRate:     DefaultSampleRate,
		Channels:       DefaultChannels,
	}
}

func (p Policy) Validate() error {
	if p.MinBytes < 0 {
		return fmt.Errorf("%w: min bytes %d is negative", ErrInvalidPolicy, p.MinBytes)
	}
	if p.MinBytes >= p.MaxBytes {
		return fmt.Errorf("%w: min bytes %d must be below max bytes %d", ErrInvalidPolicy, p.MinBytes, p.MaxBytes)
	}
	if p.SilenceTimeout <= 0 {
		return fmt.Errorf("%w: silence timeout must be positive", ErrInvalidPolicy)
	}
	if p.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive", ErrInvalidPolicy)
	}
	if p.Channels <= 0 {
		return fmt.Errorf("%w: channels must be positive", ErrInvalidPolicy)
	}
	return nil
}

// BytesPerSecond assumes 16-bit samples.
func (p Policy) BytesPerSecond() int {
	return p.SampleRate * p.Channels * 2
}

func (p Policy) ready(size int, sinceProcessed time.Duration) bool {
	if size == 0 {
		return false
	}
	if size >= p.MaxBytes {
		return true
	}
	return size >= p.MinBytes && sinceProcessed >= p.SilenceTimeout
}
