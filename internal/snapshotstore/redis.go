package snapshotstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists snapshots in Redis, the external key-value store
// named at spec's interface boundary. One client instance is also
// reused by internal/broker for the pub/sub bridge.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, docID string) (Record, error) {
	data, err := s.client.Get(ctx, Key(docID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}

	if err != nil {
		return Record{}, fmt.Errorf("snapshotstore: load %s: %w", docID, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("snapshotstore: decode %s: %w", docID, err)
	}

	return rec, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, docID string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("snapshotstore: encode %s: %w", docID, err)
	}

	if err := s.client.Set(ctx, Key(docID), data, 0).Err(); err != nil {
		return fmt.Errorf("snapshotstore: save %s: %w", docID, err)
	}

	return nil
}

var _ Store = (*RedisStore)(nil)
