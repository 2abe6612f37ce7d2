package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

var providerAliases = map[string]string{
	"whisper": ProviderWhisper,
	"openai":  ProviderWhisper,
}

// Router picks a backend by provider name. Unknown or unconfigured names
// fall back to the default backend instead of failing the connection.
type Router struct {
	mu       sync.RWMutex
	backends map[string]Backend
	fallback string
	logger   *slog.Logger
}

func NewRouter(fallback string, logger *slog.Logger, backends ...Backend) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		backends: make(map[string]Backend),
		fallback: normalizeProvider(fallback),
		logger:   logger.With("component", "provider_router"),
	}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

func (r *Router) Register(b Backend) {
	if b == nil {
		return
	}
	r.mu.Lock()
	r.backends[normalizeProvider(b.Provider())] = b
	r.mu.Unlock()
}

func (r *Router) Default() string {
	return r.fallback
}

func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) Lookup(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[normalizeProvider(name)]
	return b, ok
}

// Select resolves name to a backend. fellBack reports that the default was
// used in place of the requested provider.
func (r *Router) Select(name string) (b Backend, fellBack bool, err error) {
	if b, ok := r.Lookup(name); ok {
		return b, false, nil
	}

	fb, ok := r.Lookup(r.fallback)
	if !ok {
		return nil, false, fmt.Errorf("%w: no backend for %q and default %q is not configured", ErrBackendUnavailable, name, r.fallback)
	}
	if fb.Kind() != KindStreaming {
		r.logger.Warn("default provider is not a streaming backend", "provider", r.fallback)
	}
	r.logger.Warn("unknown provider, using default", "requested", name, "provider", fb.Provider())
	return fb, true, nil
}

// Route is the outcome of Start. Backend is set even when the start failed so
// callers can attribute the failure.
type Route struct {
	Backend   Backend
	Handle    Handle
	Requested string
	FellBack  bool
}

// Start selects a backend and opens a handle on it. A start failure is
// returned as is; the caller must not retry another backend on the same
// connection.
func (r *Router) Start(ctx context.Context, name string, cfg StartConfig) (Route, error) {
	route := Route{Requested: name}
	b, fellBack, err := r.Select(name)
	if err != nil {
		return route, err
	}
	route.Backend = b
	route.FellBack = fellBack

	h, err := b.Start(ctx, cfg)
	if err != nil {
		r.logger.Error("backend start failed", "provider", b.Provider(), "session_id", cfg.SessionID, "error", err)
		return route, err
	}
	route.Handle = h
	return route, nil
}

func normalizeProvider(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := providerAliases[name]; ok {
		return alias
	}
	return name
}
