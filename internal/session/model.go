package session

import (
	"strconv"
	"time"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
	StatusError  Status = "error"
)

// Session is the redis mirror of a live gateway session.
type Session struct {
	ID           string    `json:"id"`
	Identity     string    `json:"identity,omitempty"`
	Provider     string    `json:"provider"`
	Requested    string    `json:"requested_provider,omitempty"`
	Kind         string    `json:"kind"`
	Status       Status    `json:"status"`
	CloseReason  string    `json:"close_reason,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

func (s *Session) RedisKey() string {
	return SessionRedisKey(s.ID)
}

func SessionRedisKey(id string) string {
	return "stt:session:" + id
}

const (
	FieldSessions     = "sessions"
	FieldResults      = "results"
	FieldWords        = "words"
	FieldErrors       = "errors"
	FieldIdleTimeouts = "idle_timeouts"
	FieldLatencyTotal = "total_first_result_ms"
	FieldLatencyCount = "first_result_count"
)

type Metrics struct {
	Provider                string `json:"provider"`
	Date                    string `json:"date"`
	Hour                    int    `json:"hour"`
	Sessions                int64  `json:"sessions"`
	Results                 int64  `json:"results"`
	Words                   int64  `json:"words"`
	Errors                  int64  `json:"errors"`
	IdleTimeouts            int64  `json:"idle_timeouts"`
	AvgFirstResultLatencyMs int64  `json:"avg_first_result_latency_ms"`
}

func MetricsRedisKey(provider, date string, hour int) string {
	return "stt:provider:" + provider + ":metrics:" + date + ":" + strconv.Itoa(hour)
}
