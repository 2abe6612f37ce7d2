package usage

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	usageTTL  = 400 * 24 * time.Hour
	anonymous = "anonymous"

	FieldWords    = "stt_words"
	FieldRequests = "stt_requests"
)

// Store keeps daily per-identity transcription counters in redis hashes.
type Store struct {
	redis *redis.Client
	now   func() time.Time
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient, now: time.Now}
}

type Stats struct {
	Identity   string           `json:"identity"`
	Date       string           `json:"date"`
	Words      int64            `json:"stt_words"`
	Requests   int64            `json:"stt_requests"`
	ByProvider map[string]int64 `json:"by_provider,omitempty"`
}

func RedisKey(identity, date string) string {
	if identity == "" {
		identity = anonymous
	}
	return "usage:" + identity + ":" + date
}

// Record adds words for one delivered result. Zero-word results are ignored.
func (s *Store) Record(ctx context.Context, identity, provider string, words int) error {
	if words <= 0 {
		return nil
	}
	key := RedisKey(identity, s.now().UTC().Format(time.DateOnly))

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, FieldWords, int64(words))
	pipe.HIncrBy(ctx, key, FieldRequests, 1)
	if provider != "" {
		pipe.HIncrBy(ctx, key, FieldWords+":"+provider, int64(words))
	}
	pipe.Expire(ctx, key, usageTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Get(ctx context.Context, identity string, day time.Time) (*Stats, error) {
	date := day.UTC().Format(time.DateOnly)
	data, err := s.redis.HGetAll(ctx, RedisKey(identity, date)).Result()
	if err != nil {
		return nil, err
	}

	if identity == "" {
		identity = anonymous
	}
	stats := &Stats{Identity: identity, Date: date}
	for field, raw := range data {
		n, _ := strconv.ParseInt(raw, 10, 64)
		switch {
		case field == FieldWords:
			stats.Words = n
		case field == FieldRequests:
			stats.Requests = n
		case strings.HasPrefix(field, FieldWords+":"):
			if stats.ByProvider == nil {
				stats.ByProvider = make(map[string]int64)
			}
			stats.ByProvider[strings.TrimPrefix(field, FieldWords+":")] = n
		}
	}
	return stats, nil
}
