package history

import (
	"context"
	"errors"
	"time"

	"github.com/eleven-am/stt-gateway/internal/shared"
	"gorm.io/gorm"
)

const defaultListLimit = 50

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Record{})
}

func (s *Store) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = shared.NewID("hist_")
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *Store) GetByID(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListByIdentity(ctx context.Context, identity string, limit int) ([]*Record, error) {
	var recs []*Record
	err := s.db.WithContext(ctx).
		Where("identity = ?", identity).
		Order("started_at DESC").
		Limit(normalizeLimit(limit)).
		Find(&recs).Error
	return recs, err
}

func (s *Store) ListRecent(ctx context.Context, provider string, limit int) ([]*Record, error) {
	q := s.db.WithContext(ctx).Order("started_at DESC").Limit(normalizeLimit(limit))
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	var recs []*Record
	err := q.Find(&recs).Error
	return recs, err
}

func (s *Store) SummarizeSince(ctx context.Context, since time.Time) ([]ProviderSummary, error) {
	var out []ProviderSummary
	err := s.db.WithContext(ctx).
		Model(&Record{}).
		Select("provider, COUNT(*) AS sessions, COALESCE(SUM(words), 0) AS words, COALESCE(SUM(bytes_in), 0) AS bytes_in").
		Where("started_at >= ?", since).
		Group("provider").
		Order("provider").
		Scan(&out).Error
	return out, err
}

func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("ended_at < ?", cutoff).Delete(&Record{})
	return res.RowsAffected, res.Error
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
