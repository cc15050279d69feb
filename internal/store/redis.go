package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend selection, configured via redis.mode.
const (
	ModeQueue  = "queue"
	ModeStream = "stream"
)

// Open connects to Redis and returns the store backend for the
// configured mode. The connection is verified before use.
func Open(redisURL, mode, prefix string) (Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	switch mode {
	case ModeQueue:
		return NewQueue(client, prefix), nil
	case ModeStream, "":
		return NewStream(client, prefix), nil
	default:
		client.Close()
		return nil, fmt.Errorf("unknown store mode: %s (supported: queue, stream)", mode)
	}
}
