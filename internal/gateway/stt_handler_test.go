package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eleven-am/stt-gateway/internal/audio"
	"github.com/eleven-am/stt-gateway/internal/transcription"
	"github.com/labstack/echo/v4"
)

func callSTT(t *testing.T, h *STTHandler, req *http.Request) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	return rec, h.Transcribe(e.NewContext(req, rec))
}

func httpStatus(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return 0
}

func TestSTTHandler_RawPCM(t *testing.T) {
	tr := &fakeTranscriber{text: " one two three "}
	usage := &fakeUsage{}
	h := NewSTTHandler(tr, usage, STTConfig{Provider: transcription.ProviderWhisper, Language: "en"}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/stt?token=tok-9", bytes.NewReader(make([]byte, 32001)))
	rec, err := callSTT(t, h, req)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	var resp STTResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.Text != "one two three" || resp.Words != 3 || resp.Language != "en" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.DurationMs != 1000 {
		t.Errorf("expected 1000ms of audio, got %d", resp.DurationMs)
	}

	calls := tr.Calls()
	if len(calls) != 1 || len(calls[0])%2 != 0 {
		t.Fatalf("expected one even-length call, got %d calls", len(calls))
	}
	if u := usage.Calls(); len(u) != 1 || u[0].identity != "tok-9" || u[0].words != 3 {
		t.Errorf("unexpected usage: %+v", u)
	}
}

func TestSTTHandler_MultipartWAVIsNormalized(t *testing.T) {
	tr := &fakeTranscriber{text: "stereo"}
	h := NewSTTHandler(tr, nil, STTConfig{Provider: transcription.ProviderWhisper, SampleRate: 16000}, testLogger())

	stereo := make([]byte, 32000*2*2)
	wav, err := audio.EncodeWAV(stereo, 32000, 2)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "clip.wav")
	fw.Write(wav)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/stt", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	if _, err := callSTT(t, h, req); err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	calls := tr.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if got := len(calls[0]); got != 32000 {
		t.Errorf("expected one second of mono 16kHz audio (32000 bytes), got %d", got)
	}
}

func TestSTTHandler_Errors(t *testing.T) {
	tests := []struct {
		name        string
		transcriber transcription.ChunkTranscriber
		body        []byte
		maxBytes    int64
		wantStatus  int
	}{
		{"no transcriber", nil, make([]byte, 100), 0, http.StatusServiceUnavailable},
		{"empty body", &fakeTranscriber{}, nil, 0, http.StatusBadRequest},
		{"too large", &fakeTranscriber{}, make([]byte, 2048), 1024, http.StatusRequestEntityTooLarge},
		{"upstream failure", &fakeTranscriber{err: errUpstream}, make([]byte, 100), 0, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSTTHandler(tt.transcriber, nil, STTConfig{MaxUploadBytes: tt.maxBytes}, testLogger())
			req := httptest.NewRequest(http.MethodPost, "/v1/stt", bytes.NewReader(tt.body))
			_, err := callSTT(t, h, req)
			if got := httpStatus(err); got != tt.wantStatus {
				t.Errorf("expected status %d, got %d (%v)", tt.wantStatus, got, err)
			}
		})
	}
}
