// Package redisstore backs the stream replay buffer with Redis, so
// completed streams stay resumable across local retention and restarts.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomchat/loomchat/internal/ai"
	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

// Ping verifies connectivity at startup.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error { return s.rdb.Close() }

func partsKey(streamID string) string { return "stream:" + streamID + ":parts" }
func doneKey(streamID string) string  { return "stream:" + streamID + ":done" }

func (s *Store) Append(ctx context.Context, streamID string, part ai.Part) error {
	b, err := json.Marshal(part)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, partsKey(streamID), b)
	pipe.Expire(ctx, partsKey(streamID), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) MarkDone(ctx context.Context, streamID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, doneKey(streamID), "1", s.ttl)
	pipe.Expire(ctx, partsKey(streamID), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Load(ctx context.Context, streamID string) ([]ai.Part, bool, error) {
	raw, err := s.rdb.LRange(ctx, partsKey(streamID), 0, -1).Result()
	if err != nil {
		return nil, false, err
	}

	parts := make([]ai.Part, 0, len(raw))
	for i, item := range raw {
		var p ai.Part
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			return nil, false, fmt.Errorf("replay entry %d: %w", i, err)
		}
		parts = append(parts, p)
	}

	done, err := s.rdb.Exists(ctx, doneKey(streamID)).Result()
	if err != nil {
		return nil, false, err
	}
	return parts, done > 0, nil
}
