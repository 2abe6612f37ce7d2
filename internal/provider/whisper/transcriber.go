package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/eleven-am/stt-gateway/internal/audio"
	"github.com/eleven-am/stt-gateway/internal/transcription"
	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultModel   = openai.Whisper1
	requestTimeout = 60 * time.Second
)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

type Transcriber struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// New builds a Whisper transcriber. A base URL without a key is accepted so
// self-hosted OpenAI-compatible servers work.
func New(cfg Config, logger *slog.Logger) (*Transcriber, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: openai api key not set", transcription.ErrBackendUnavailable)
	}
	if logger == nil {
		logger = slog.Default()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	} else {
		config.HTTPClient = &http.Client{Timeout: requestTimeout}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Transcriber{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logger.With("component", "whisper"),
	}, nil
}

func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, opts transcription.ChunkOptions) (transcription.Result, error) {
	if len(pcm) == 0 {
		return transcription.Result{}, errors.New("empty audio")
	}

	wav, err := audio.EncodeWAV(pcm, opts.SampleRate, opts.Channels)
	if err != nil {
		return transcription.Result{}, fmt.Errorf("encode wav: %w", err)
	}

	req := openai.AudioRequest{
		Model:    t.model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(wav),
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	if lang := strings.TrimSpace(opts.Language); lang != "" && lang != "auto" {
		req.Language = lang
	}

	resp, err := t.client.CreateTranscription(ctx, req)
	if err != nil {
		return transcription.Result{}, fmt.Errorf("whisper request: %w", err)
	}

	language := normalizeLanguage(resp.Language)
	if language == "" {
		language = opts.Language
	}

	t.logger.Debug("chunk transcribed", "bytes", len(pcm), "chars", len(resp.Text), "language", language)
	return transcription.Result{
		Text:       strings.TrimSpace(resp.Text),
		IsFinal:    true,
		Confidence: segmentConfidence(resp),
		Language:   language,
	}, nil
}

// segmentConfidence is exp(mean avg_logprob) over segments, in [0, 1].
func segmentConfidence(resp openai.AudioResponse) float64 {
	if len(resp.Segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range resp.Segments {
		sum += s.AvgLogprob
	}
	c := math.Exp(sum / float64(len(resp.Segments)))
	return math.Max(0, math.Min(1, c))
}

var languageCodes = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"russian":    "ru",
	"chinese":    "zh",
	"japanese":   "ja",
	"korean":     "ko",
	"arabic":     "ar",
	"hindi":      "hi",
}

// normalizeLanguage maps verbose_json language names to ISO 639-1 codes.
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageCodes[lang]; ok {
		return code
	}
	return lang
}
