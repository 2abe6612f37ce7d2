package transcription

import (
	"time"
)

type Kind int

const (
	KindChunked Kind = iota
	KindStreaming
)

func (k Kind) String() string {
	switch k {
	case KindChunked:
		return "chunked"
	case KindStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

const (
	ProviderWhisper  = "openai_whisper"
	ProviderDeepgram = "deepgram"
	ProviderSoniox   = "soniox"
)

type Result struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Language   string
	Provider   string
}

type Callbacks struct {
	OnResult       func(Result)
	OnSpeechStart  func()
	OnUtteranceEnd func()
	OnError        func(error)
}

func (c Callbacks) result(r Result) {
	if c.OnResult != nil {
		c.OnResult(r)
	}
}

func (c Callbacks) speechStart() {
	if c.OnSpeechStart != nil {
		c.OnSpeechStart()
	}
}

func (c Callbacks) utteranceEnd() {
	if c.OnUtteranceEnd != nil {
		c.OnUtteranceEnd()
	}
}

func (c Callbacks) error(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

type StartConfig struct {
	SessionID  string
	Language   string
	SampleRate int
	Channels   int
	Callbacks  Callbacks
}

type ChunkOptions struct {
	Language   string
	SampleRate int
	Channels   int
}

type EventType int

const (
	EventTranscript EventType = iota
	EventSpeechStarted
	EventUtteranceEnd
)

type Event struct {
	Type   EventType
	Result Result
}

// Observer receives adapter-level measurements. All methods must be safe for
// concurrent use.
type Observer interface {
	ObserveTranscription(provider string, took time.Duration, err error)
	ObservePadding(provider string)
	ObserveDial(provider string, attempts int, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveTranscription(string, time.Duration, error) {}
func (nopObserver) ObservePadding(string)                             {}
func (nopObserver) ObserveDial(string, int, error)                    {}
