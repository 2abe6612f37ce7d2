package soniox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/eleven-am/stt-gateway/internal/provider/wsstream"
	"github.com/eleven-am/stt-gateway/internal/transcription"
	"github.com/gorilla/websocket"
)

const (
	DefaultURL   = "wss://stt-rt.soniox.com/transcribe-websocket"
	DefaultModel = "stt-rt-preview"

	endpointToken = "<end>"
)

type Config struct {
	APIKey string
	URL    string
	Model  string
	Dialer *websocket.Dialer
}

type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		cfg:    cfg,
		logger: logger.With("component", "soniox"),
	}
}

type startRequest struct {
	APIKey                       string   `json:"api_key"`
	Model                        string   `json:"model"`
	AudioFormat                  string   `json:"audio_format"`
	SampleRate                   int      `json:"sample_rate"`
	NumChannels                  int      `json:"num_channels"`
	LanguageHints                []string `json:"language_hints,omitempty"`
	EnableLanguageIdentification bool     `json:"enable_language_identification"`
	EnableEndpointDetection      bool     `json:"enable_endpoint_detection"`
}

func (d *Dialer) Dial(ctx context.Context, cfg transcription.StartConfig) (transcription.RemoteStream, error) {
	if d.cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: soniox api key not set", transcription.ErrBackendUnavailable)
	}

	conn, err := wsstream.Dial(ctx, d.cfg.Dialer, d.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	req := startRequest{
		APIKey:                       d.cfg.APIKey,
		Model:                        d.cfg.Model,
		AudioFormat:                  "pcm_s16le",
		SampleRate:                   cfg.SampleRate,
		NumChannels:                  cfg.Channels,
		EnableLanguageIdentification: true,
		EnableEndpointDetection:      true,
	}
	if req.SampleRate <= 0 {
		req.SampleRate = 16000
	}
	if req.NumChannels <= 0 {
		req.NumChannels = 1
	}
	if cfg.Language != "" {
		req.LanguageHints = []string{cfg.Language}
	}

	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send soniox config: %w", err)
	}

	d.logger.Debug("connected", "session_id", cfg.SessionID, "model", d.cfg.Model)
	return wsstream.New(conn, decode, wsstream.Options{
		Finish: func(conn *websocket.Conn) error {
			return conn.WriteMessage(websocket.BinaryMessage, []byte{})
		},
	}, d.logger.With("session_id", cfg.SessionID)), nil
}

type token struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

type response struct {
	Tokens       []token `json:"tokens"`
	Finished     bool    `json:"finished"`
	ErrorCode    int     `json:"error_code"`
	ErrorMessage string  `json:"error_message"`
}

type textAccumulator struct {
	text       strings.Builder
	confidence float64
	count      int
	language   string
}

func (a *textAccumulator) add(t token) {
	a.text.WriteString(t.Text)
	a.confidence += t.Confidence
	a.count++
	if a.language == "" {
		a.language = t.Language
	}
}

func (a *textAccumulator) event(final bool) (transcription.Event, bool) {
	text := strings.TrimSpace(a.text.String())
	if text == "" {
		return transcription.Event{}, false
	}
	return transcription.Event{
		Type: transcription.EventTranscript,
		Result: transcription.Result{
			Text:       text,
			IsFinal:    final,
			Confidence: a.confidence / float64(a.count),
			Language:   a.language,
		},
	}, true
}

// decode splits a token response into a final event and an interim event.
// Endpoint tokens become utterance-end markers.
func decode(data []byte) ([]transcription.Event, error) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode soniox response: %w", err)
	}
	if resp.ErrorCode != 0 {
		return nil, fmt.Errorf("soniox error %d: %s", resp.ErrorCode, resp.ErrorMessage)
	}

	var final, interim textAccumulator
	var endpoint bool
	for _, t := range resp.Tokens {
		switch {
		case t.Text == endpointToken:
			endpoint = true
		case t.IsFinal:
			final.add(t)
		default:
			interim.add(t)
		}
	}

	var events []transcription.Event
	if ev, ok := final.event(true); ok {
		events = append(events, ev)
	}
	if ev, ok := interim.event(false); ok {
		events = append(events, ev)
	}
	if endpoint {
		events = append(events, transcription.Event{Type: transcription.EventUtteranceEnd})
	}
	if resp.Finished {
		if len(events) > 0 {
			return events, nil
		}
		return nil, io.EOF
	}
	return events, nil
}
