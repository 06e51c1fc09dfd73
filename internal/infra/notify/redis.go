package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/you-humble/recuploader/internal/domain"
)

// RedisSink mirrors the latest snapshot into Redis so other processes can
// read the upload state, and publishes it on <key>:events.
type RedisSink struct {
	rdb redis.Cmdable
	key string
	ttl time.Duration
}

func NewRedisSink(rdb redis.Cmdable, key string, ttl time.Duration) *RedisSink {
	return &RedisSink{rdb: rdb, key: key, ttl: ttl}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	mem, err := json.Marshal(snap.Memory)
	if err != nil {
		return fmt.Errorf("marshal memory summary: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.key, data, s.ttl)
	pipe.Set(ctx, memoryKey(s.key), mem, s.ttl)
	pipe.Publish(ctx, eventsChannel(s.key), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror snapshot to %s: %w", s.key, err)
	}
	return nil
}

func memoryKey(key string) string     { return key + ":memory" }
func eventsChannel(key string) string { return key + ":events" }
