package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisKey is where the risk snapshot lives when the redis backend is
// selected.
const DefaultRedisKey = "polyarb:risk:snapshot"

// RedisStore keeps the snapshot in a single redis key so several hosts can
// share one daily-loss ledger.
type RedisStore struct {
	client  redis.Cmdable
	key     string
	timeout time.Duration
}

func NewRedisStore(client redis.Cmdable, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key, timeout: 5 * time.Second}
}

func (s *RedisStore) Load() (Snapshot, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	b, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("redis load %s: %w", s.key, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("parse risk snapshot %s: %w", s.key, err)
	}
	return snap, true, nil
}

func (s *RedisStore) Save(snap Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.key, b, 0).Err(); err != nil {
		return fmt.Errorf("redis save %s: %w", s.key, err)
	}
	return nil
}
