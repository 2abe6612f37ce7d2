package gateway

import "github.com/eleven-am/stt-gateway/internal/transcription"

const (
	EventTypeTranscript   = "transcript"
	EventTypeError        = "error"
	EventTypeSessionStart = "session_start"
)

const (
	CodeStartFailed        = "start_failed"
	CodeBackendUnavailable = "backend_unavailable"
	CodeBackendError       = "backend_error"
)

type TranscriptEvent struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"session_id"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Provider   string  `json:"provider"`
}

type ErrorEvent struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	Reconnect bool   `json:"reconnect"`
}

type SessionStartEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Provider  string `json:"provider"`
	Streaming bool   `json:"streaming"`
}

func newTranscriptEvent(sessionID string, r transcription.Result) TranscriptEvent {
	return TranscriptEvent{
		Type:       EventTypeTranscript,
		SessionID:  sessionID,
		Text:       r.Text,
		IsFinal:    r.IsFinal,
		Language:   r.Language,
		Confidence: r.Confidence,
		Provider:   r.Provider,
	}
}

func newErrorEvent(code, message string, reconnect bool) ErrorEvent {
	return ErrorEvent{
		Type:      EventTypeError,
		Error:     message,
		Code:      code,
		Reconnect: reconnect,
	}
}
