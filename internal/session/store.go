package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/eleven-am/stt-gateway/internal/shared"
	"github.com/redis/go-redis/v9"
)

const (
	sessionTTL = 24 * time.Hour
	metricsTTL = 7 * 24 * time.Hour
)

type Store struct {
	redis *redis.Client
	now   func() time.Time
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient, now: time.Now}
}

func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = shared.NewID("stt_")
	}
	now := s.now()
	sess.Status = StatusActive
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	sess.LastActiveAt = now
	return s.put(ctx, sess)
}

func (s *Store) put(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, sess.RedisKey(), data, sessionTTL).Err()
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, SessionRedisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *Session) error {
	sess.LastActiveAt = s.now()
	return s.put(ctx, sess)
}

func (s *Store) EndSession(ctx context.Context, id string, status Status, reason string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	sess.Status = status
	sess.CloseReason = reason
	return s.UpdateSession(ctx, sess)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.redis.Del(ctx, SessionRedisKey(id)).Err()
}

// ActiveSessions scans the mirror for active sessions, optionally filtered
// by provider.
func (s *Store) ActiveSessions(ctx context.Context, provider string) ([]*Session, error) {
	var sessions []*Session
	iter := s.redis.Scan(ctx, 0, SessionRedisKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.redis.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		if sess.Status != StatusActive {
			continue
		}
		if provider != "" && sess.Provider != provider {
			continue
		}
		sessions = append(sessions, &sess)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) IncrementMetric(ctx context.Context, provider string, field string, value int64) error {
	now := s.now().UTC()
	key := MetricsRedisKey(provider, now.Format("2006-01-02"), now.Hour())

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, field, value)
	pipe.Expire(ctx, key, metricsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) IncrementSessions(ctx context.Context, provider string) error {
	return s.IncrementMetric(ctx, provider, FieldSessions, 1)
}

func (s *Store) IncrementErrors(ctx context.Context, provider string) error {
	return s.IncrementMetric(ctx, provider, FieldErrors, 1)
}

func (s *Store) IncrementIdleTimeouts(ctx context.Context, provider string) error {
	return s.IncrementMetric(ctx, provider, FieldIdleTimeouts, 1)
}

// RecordResult counts one delivered final result and its words.
func (s *Store) RecordResult(ctx context.Context, provider string, words int) error {
	now := s.now().UTC()
	key := MetricsRedisKey(provider, now.Format("2006-01-02"), now.Hour())

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, FieldResults, 1)
	pipe.HIncrBy(ctx, key, FieldWords, int64(words))
	pipe.Expire(ctx, key, metricsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) RecordFirstResultLatency(ctx context.Context, provider string, latencyMs int64) error {
	now := s.now().UTC()
	key := MetricsRedisKey(provider, now.Format("2006-01-02"), now.Hour())

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, FieldLatencyTotal, latencyMs)
	pipe.HIncrBy(ctx, key, FieldLatencyCount, 1)
	pipe.Expire(ctx, key, metricsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetMetrics(ctx context.Context, provider string, hours int) ([]*Metrics, error) {
	now := s.now().UTC()
	var metrics []*Metrics

	for i := 0; i < hours; i++ {
		t := now.Add(-time.Duration(i) * time.Hour)
		key := MetricsRedisKey(provider, t.Format("2006-01-02"), t.Hour())

		data, err := s.redis.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}

		m := &Metrics{
			Provider: provider,
			Date:     t.Format("2006-01-02"),
			Hour:     t.Hour(),
		}
		m.Sessions = parseInt(data[FieldSessions])
		m.Results = parseInt(data[FieldResults])
		m.Words = parseInt(data[FieldWords])
		m.Errors = parseInt(data[FieldErrors])
		m.IdleTimeouts = parseInt(data[FieldIdleTimeouts])
		if count := parseInt(data[FieldLatencyCount]); count > 0 {
			m.AvgFirstResultLatencyMs = parseInt(data[FieldLatencyTotal]) / count
		}

		metrics = append(metrics, m)
	}

	return metrics, nil
}

func parseInt(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}
