package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/eleven-am/stt-gateway/internal/provider/wsstream"
	"github.com/eleven-am/stt-gateway/internal/transcription"
	"github.com/gorilla/websocket"
)

const (
	DefaultURL   = "wss://api.deepgram.com/v1/listen"
	DefaultModel = "nova-2"

	keepAliveInterval = 5 * time.Second
	utteranceEndMs    = 1500
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
		logger: logger.With("component", "deepgram"),
	}
}

func (d *Dialer) Dial(ctx context.Context, cfg transcription.StartConfig) (transcription.RemoteStream, error) {
	if d.cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: deepgram api key not set", transcription.ErrBackendUnavailable)
	}

	endpoint, err := d.listenURL(cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, err := wsstream.Dial(ctx, d.cfg.Dialer, endpoint, header)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("connected", "session_id", cfg.SessionID, "model", d.cfg.Model)
	return wsstream.New(conn, decode, wsstream.Options{
		Finish: func(conn *websocket.Conn) error {
			return conn.WriteJSON(controlMessage{Type: "CloseStream"})
		},
		KeepAlive:        keepAliveInterval,
		KeepAliveMessage: []byte(`{"type":"KeepAlive"}`),
	}, d.logger.With("session_id", cfg.SessionID)), nil
}

func (d *Dialer) listenURL(cfg transcription.StartConfig) (string, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse deepgram url: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	q := u.Query()
	q.Set("model", d.cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", strconv.Itoa(channels))
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("vad_events", "true")
	q.Set("utterance_end_ms", strconv.Itoa(utteranceEndMs))
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type controlMessage struct {
	Type string `json:"type"`
}

// results is only decoded for Results messages. VAD messages carry channel
// as an index array instead of an object.
type results struct {
	IsFinal bool `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Confidence float64  `json:"confidence"`
			Languages  []string `json:"languages"`
		} `json:"alternatives"`
		DetectedLanguage string `json:"detected_language"`
	} `json:"channel"`
}

func decode(data []byte) ([]transcription.Event, error) {
	var env controlMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode deepgram message: %w", err)
	}

	switch env.Type {
	case "SpeechStarted":
		return []transcription.Event{{Type: transcription.EventSpeechStarted}}, nil
	case "UtteranceEnd":
		return []transcription.Event{{Type: transcription.EventUtteranceEnd}}, nil
	case "Results":
		var msg results
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode deepgram results: %w", err)
		}
		if len(msg.Channel.Alternatives) == 0 {
			return nil, nil
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return nil, nil
		}
		language := msg.Channel.DetectedLanguage
		if language == "" && len(alt.Languages) > 0 {
			language = alt.Languages[0]
		}
		return []transcription.Event{{
			Type: transcription.EventTranscript,
			Result: transcription.Result{
				Text:       alt.Transcript,
				IsFinal:    msg.IsFinal,
				Confidence: alt.Confidence,
				Language:   language,
			},
		}}, nil
	default:
		return nil, nil
	}
}
