package gateway

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/eleven-am/stt-gateway/internal/audio"
	"github.com/eleven-am/stt-gateway/internal/shared"
	"github.com/eleven-am/stt-gateway/internal/transcription"
	"github.com/eleven-am/stt-gateway/internal/usage"
	"github.com/labstack/echo/v4"
)

const defaultMaxUploadBytes = 25 << 20

type STTConfig struct {
	Provider       string
	Language       string
	SampleRate     int
	MaxUploadBytes int64
}

// STTHandler transcribes a whole uploaded file in one chunk call.
type STTHandler struct {
	transcriber transcription.ChunkTranscriber
	usage       UsageRecorder
	cfg         STTConfig
	logger      *slog.Logger
}

// NewSTTHandler accepts a nil transcriber; requests are then answered with 503.
func NewSTTHandler(transcriber transcription.ChunkTranscriber, usage UsageRecorder, cfg STTConfig, logger *slog.Logger) *STTHandler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	return &STTHandler{
		transcriber: transcriber,
		usage:       usage,
		cfg:         cfg,
		logger:      logger.With("component", "stt_handler"),
	}
}

type STTResponse struct {
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Provider   string  `json:"provider"`
	Words      int     `json:"words"`
	DurationMs int64   `json:"duration_ms"`
}

var errUploadTooLarge = errors.New("upload too large")

// Transcribe accepts WAV or raw 16-bit PCM either as the request body or as
// the "file" field of a multipart form. Raw PCM is read at the sample_rate
// and channels query parameters.
func (h *STTHandler) Transcribe(c echo.Context) error {
	if h.transcriber == nil {
		return shared.ServiceUnavailable("stt_unavailable", "no chunk transcriber is configured")
	}

	data, err := h.readUpload(c)
	if err != nil {
		if errors.Is(err, errUploadTooLarge) {
			return shared.PayloadTooLarge("upload_too_large", "audio exceeds the upload limit")
		}
		return shared.BadRequest("invalid_upload", err.Error())
	}
	if len(data) == 0 {
		return shared.BadRequest("empty_audio", "no audio provided")
	}

	pcm, err := h.toPCM(c, data)
	if err != nil {
		return shared.BadRequest("invalid_audio", err.Error())
	}
	if len(pcm) == 0 {
		return shared.BadRequest("empty_audio", "audio contains no samples")
	}

	language := c.QueryParam("language")
	if language == "" {
		language = h.cfg.Language
	}

	ctx := c.Request().Context()
	res, err := h.transcriber.Transcribe(ctx, audio.PadEven(pcm), transcription.ChunkOptions{
		Language:   language,
		SampleRate: h.cfg.SampleRate,
		Channels:   1,
	})
	if err != nil {
		h.logger.Error("transcription failed", "bytes", len(pcm), "error", err)
		return shared.InternalError("transcription_failed", "transcription failed")
	}

	text := strings.TrimSpace(res.Text)
	words := usage.CountWords(text)
	if h.usage != nil && words > 0 {
		if err := h.usage.Record(ctx, identityFrom(c), h.cfg.Provider, words); err != nil {
			h.logger.Warn("failed to report usage", "error", err)
		}
	}
	if res.Language == "" {
		res.Language = language
	}

	bytesPerSecond := h.cfg.SampleRate * 2
	return c.JSON(http.StatusOK, STTResponse{
		Text:       text,
		Language:   res.Language,
		Confidence: res.Confidence,
		Provider:   h.cfg.Provider,
		Words:      words,
		DurationMs: int64(len(pcm)) * 1000 / int64(bytesPerSecond),
	})
}

func (h *STTHandler) readUpload(c echo.Context) ([]byte, error) {
	var r io.Reader = c.Request().Body
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, err
		}
		if fh.Size > h.cfg.MaxUploadBytes {
			return nil, errUploadTooLarge
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, h.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if n > h.cfg.MaxUploadBytes {
		return nil, errUploadTooLarge
	}
	return buf.Bytes(), nil
}

// toPCM returns mono 16-bit PCM at the configured rate.
func (h *STTHandler) toPCM(c echo.Context, data []byte) ([]byte, error) {
	if audio.IsWAV(data) {
		pcm, info, err := audio.DecodeWAV(data)
		if err != nil {
			return nil, err
		}
		return audio.NormalizePCM(pcm, info.Channels, info.SampleRate, h.cfg.SampleRate), nil
	}

	rate := queryInt(c, "sample_rate", h.cfg.SampleRate)
	channels := queryInt(c, "channels", 1)
	return audio.NormalizePCM(data, channels, rate, h.cfg.SampleRate), nil
}

func queryInt(c echo.Context, name string, fallback int) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
