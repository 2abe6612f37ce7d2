package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stt_gateway"

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions   *prometheus.GaugeVec
	SessionsStarted  *prometheus.CounterVec
	SessionsClosed   *prometheus.CounterVec
	SessionDuration  *prometheus.HistogramVec
	StartFailures    *prometheus.CounterVec
	ProviderFallback *prometheus.CounterVec

	FramesReceived   prometheus.Counter
	BytesReceived    prometheus.Counter
	Keepalives       prometheus.Counter
	ResultsSent      *prometheus.CounterVec
	WordsTranscribed *prometheus.CounterVec

	TranscriptionRequests *prometheus.CounterVec
	TranscriptionFailures *prometheus.CounterVec
	TranscriptionDuration *prometheus.HistogramVec
	PaddedBuffers         *prometheus.CounterVec
	DialAttempts          *prometheus.HistogramVec
	DialFailures          *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		ActiveSessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Current number of open transcription sessions",
		}, []string{"provider"}),
		SessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of sessions whose backend started",
		}, []string{"provider", "kind"}),
		SessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of closed sessions by close reason",
		}, []string{"provider", "reason"}),
		SessionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of transcription sessions",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"provider"}),
		StartFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_start_failures_total",
			Help:      "Total number of backend start failures",
		}, []string{"provider"}),
		ProviderFallback: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fallback_total",
			Help:      "Sessions routed to the default provider",
		}, []string{"provider"}),

		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of non-empty audio frames received",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total number of audio bytes received",
		}),
		Keepalives: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_received_total",
			Help:      "Total number of zero-length keepalive frames",
		}),
		ResultsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_sent_total",
			Help:      "Total number of transcript events sent to clients",
		}, []string{"provider", "final"}),
		WordsTranscribed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "words_transcribed_total",
			Help:      "Words in final results sent to clients",
		}, []string{"provider"}),

		TranscriptionRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_transcriptions_total",
			Help:      "Total number of chunk transcription calls",
		}, []string{"provider"}),
		TranscriptionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_transcription_failures_total",
			Help:      "Total number of failed chunk transcription calls",
		}, []string{"provider"}),
		TranscriptionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_transcription_duration_seconds",
			Help:      "Duration of chunk transcription calls",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"provider"}),
		PaddedBuffers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "padded_buffers_total",
			Help:      "Odd-length buffers padded before submission",
		}, []string{"provider"}),
		DialAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_dial_attempts",
			Help:      "Attempts needed to open a provider stream",
			Buckets:   prometheus.LinearBuckets(1, 1, 5),
		}, []string{"provider"}),
		DialFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_dial_failures_total",
			Help:      "Provider streams that could not be opened",
		}, []string{"provider"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveTranscription(provider string, took time.Duration, err error) {
	m.TranscriptionRequests.WithLabelValues(provider).Inc()
	m.TranscriptionDuration.WithLabelValues(provider).Observe(took.Seconds())
	if err != nil {
		m.TranscriptionFailures.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) ObservePadding(provider string) {
	m.PaddedBuffers.WithLabelValues(provider).Inc()
}

func (m *Metrics) ObserveDial(provider string, attempts int, err error) {
	m.DialAttempts.WithLabelValues(provider).Observe(float64(attempts))
	if err != nil {
		m.DialFailures.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) SessionStarted(provider, kind string) {
	m.SessionsStarted.WithLabelValues(provider, kind).Inc()
	m.ActiveSessions.WithLabelValues(provider).Inc()
}

func (m *Metrics) SessionClosed(provider, reason string, started bool, lifetime time.Duration) {
	m.SessionsClosed.WithLabelValues(provider, reason).Inc()
	if started {
		m.ActiveSessions.WithLabelValues(provider).Dec()
		m.SessionDuration.WithLabelValues(provider).Observe(lifetime.Seconds())
	}
}

func (m *Metrics) StartFailed(provider string) {
	m.StartFailures.WithLabelValues(provider).Inc()
}

func (m *Metrics) FellBack(provider string) {
	m.ProviderFallback.WithLabelValues(provider).Inc()
}

func (m *Metrics) FrameReceived(n int) {
	if n == 0 {
		m.Keepalives.Inc()
		return
	}
	m.FramesReceived.Inc()
	m.BytesReceived.Add(float64(n))
}

func (m *Metrics) ResultSent(provider string, final bool, words int) {
	label := "false"
	if final {
		label = "true"
	}
	m.ResultsSent.WithLabelValues(provider, label).Inc()
	if final && words > 0 {
		m.WordsTranscribed.WithLabelValues(provider).Add(float64(words))
	}
}
