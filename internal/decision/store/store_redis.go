package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"kinguard/internal/decision"
	"kinguard/pkg/platform/sentinel"
)

const (
	decisionKeyPrefix = "kinguard:decision:"
	historyKeyPrefix  = "kinguard:subject-decisions:"
)

// RedisStore implements decision.Store on Redis. Each decision is a JSON value
// whose key TTL matches the decision TTL, so Redis expires decisions on its
// own and DeleteExpired has nothing to do.
type RedisStore struct {
	client      redis.UniversalClient
	historySize int
}

type RedisOption func(*RedisStore)

func WithRedisHistorySize(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.historySize = n
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, historySize: DefaultHistorySize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Save(ctx context.Context, d *decision.Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	ttl := d.ExpiresAt.Sub(d.Timestamp)
	if ttl < time.Second {
		ttl = time.Second
	}
	historyKey := historyKeyPrefix + d.SubjectID

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, decisionKeyPrefix+d.ID, data, ttl)
		p.LPush(ctx, historyKey, d.ID)
		p.LTrim(ctx, historyKey, 0, int64(s.historySize-1))
		p.Expire(ctx, historyKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save decision: %w", err)
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, id string) (*decision.Decision, error) {
	data, err := s.client.Get(ctx, decisionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	var d decision.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal decision: %w", err)
	}
	return &d, nil
}

func (s *RedisStore) ListBySubject(ctx context.Context, subjectID string, limit int) ([]*decision.Decision, error) {
	ids, err := s.client.LRange(ctx, historyKeyPrefix+subjectID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list decision ids: %w", err)
	}
	if len(ids) == 0 {
		return []*decision.Decision{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = decisionKeyPrefix + id
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load decisions: %w", err)
	}

	out := make([]*decision.Decision, 0, min(limit, len(values)))
	for _, v := range values {
		if len(out) >= limit {
			break
		}
		raw, ok := v.(string)
		if !ok {
			continue // expired
		}
		var d decision.Decision
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("unmarshal decision: %w", err)
		}
		out = append(out, &d)
	}
	return out, nil
}

// DeleteExpired is a no-op; key TTLs expire decisions.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
