package history

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *Store) {
	t.Helper()
	store := setupTestStore(t)
	return NewHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestHandler_List(t *testing.T) {
	h, store := newTestHandler(t)
	seed(t, store)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"recent", "/history", 4},
		{"by identity", "/history?identity=u2", 2},
		{"by provider", "/history?provider=soniox", 1},
		{"limited", "/history?limit=1", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, tt.query, nil), rec)

			if err := h.List(c); err != nil {
				t.Fatalf("List failed: %v", err)
			}
			var out []Record
			json.Unmarshal(rec.Body.Bytes(), &out)
			if len(out) != tt.want {
				t.Errorf("expected %d records, got %d", tt.want, len(out))
			}
		})
	}
}

func TestHandler_Get(t *testing.T) {
	h, store := newTestHandler(t)
	r := &Record{Provider: "deepgram", Kind: "streaming", State: "closed", StartedAt: time.Now(), EndedAt: time.Now()}
	store.Create(context.Background(), r)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(r.ID)

	if err := h.Get(c); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")
	httpErr, ok := h.Get(c).(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing record")
	}
}

func TestHandler_Summary(t *testing.T) {
	h, store := newTestHandler(t)
	now := time.Now().UTC()
	store.Create(context.Background(), &Record{Provider: "deepgram", Kind: "streaming", State: "closed", Words: 4, StartedAt: now, EndedAt: now})

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/history/summary?days=2", nil), rec)

	if err := h.Summary(c); err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	var out struct {
		Days      int               `json:"days"`
		Providers []ProviderSummary `json:"providers"`
	}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Days != 2 || len(out.Providers) != 1 || out.Providers[0].Words != 4 {
		t.Errorf("unexpected summary %s", rec.Body.String())
	}
}
