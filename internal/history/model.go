package history

import "time"

// Record is one closed gateway session.
type Record struct {
	ID                string    `gorm:"primaryKey" json:"id"`
	Identity          string    `gorm:"index" json:"identity,omitempty"`
	Provider          string    `gorm:"not null;index" json:"provider"`
	RequestedProvider string    `json:"requested_provider,omitempty"`
	Kind              string    `gorm:"not null" json:"kind"`
	State             string    `gorm:"not null" json:"state"`
	CloseReason       string    `gorm:"index" json:"close_reason"`
	BytesIn           int64     `json:"bytes_in"`
	Frames            int64     `json:"frames"`
	Results           int64     `json:"results"`
	Words             int64     `json:"words"`
	StartedAt         time.Time `gorm:"index" json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
	CreatedAt         time.Time `json:"created_at"`
}

func (Record) TableName() string {
	return "stt_session_history"
}

func (r *Record) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

type ProviderSummary struct {
	Provider string `json:"provider"`
	Sessions int64  `json:"sessions"`
	Words    int64  `json:"words"`
	BytesIn  int64  `json:"bytes_in"`
}
