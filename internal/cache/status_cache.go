package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"rfi-copilot/internal/pipeline"
)

// StatusCache shares pipeline statuses between the API and worker processes.
type StatusCache struct {
	client      *redisv9.Client
	inflightTTL time.Duration
	terminalTTL time.Duration
}

func NewStatusCache(client *redisv9.Client, inflightTTL, terminalTTL time.Duration) *StatusCache {
	if inflightTTL <= 0 {
		inflightTTL = 24 * time.Hour
	}
	if terminalTTL <= 0 {
		terminalTTL = time.Hour
	}
	return &StatusCache{
		client:      client,
		inflightTTL: inflightTTL,
		terminalTTL: terminalTTL,
	}
}

func (c *StatusCache) Get(ctx context.Context, documentID uint) (*pipeline.Status, error) {
	raw, err := c.client.Get(ctx, statusKey(documentID)).Result()
	if err == redisv9.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get status failed: %w", err)
	}

	var st pipeline.Status
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("unmarshal cached status failed: %w", err)
	}
	return &st, nil
}

func (c *StatusCache) Set(ctx context.Context, status pipeline.Status) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status cache failed: %w", err)
	}
	if err := c.client.Set(ctx, statusKey(status.DocumentID), payload, c.ttlFor(status)).Err(); err != nil {
		return fmt.Errorf("redis set status failed: %w", err)
	}
	return nil
}

func (c *StatusCache) Delete(ctx context.Context, documentID uint) error {
	if err := c.client.Del(ctx, statusKey(documentID)).Err(); err != nil {
		return fmt.Errorf("redis delete status failed: %w", err)
	}
	return nil
}

// ttlFor keeps unfinished statuses long enough to outlive slow runs but not
// forever, so a crashed worker cannot pin a document.
func (c *StatusCache) ttlFor(status pipeline.Status) time.Duration {
	if status.Step.Terminal() {
		return c.terminalTTL
	}
	return c.inflightTTL
}

func statusKey(documentID uint) string {
	return fmt.Sprintf("rfi:status:%d", documentID)
}
