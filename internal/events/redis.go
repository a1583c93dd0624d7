package events

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// streamClient is the part of *redis.Client the sink uses.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// Redis appends events to a stream, trimmed to roughly maxLen entries.
type Redis struct {
	stream string
	maxLen int64
	client streamClient
}

// NewRedis connects to addr. A maxLen of 0 keeps every entry.
func NewRedis(addr, password string, db int, stream string, maxLen int64) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{stream: stream, maxLen: maxLen, client: client}
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	c, ok := r.client.(*redis.Client)
	if !ok {
		return nil
	}
	return c.Ping(ctx).Err()
}

func (r *Redis) Publish(ctx context.Context, e Event) error {
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"id":          e.ID,
			"run_id":      e.RunID,
			"type":        string(e.Type),
			"target":      e.Target,
			"call":        e.Call,
			"status":      e.Status,
			"error":       e.Error,
			"duration_ms": strconv.FormatInt(e.Duration.Milliseconds(), 10),
			"time":        e.Time.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("appending to stream %s: %w", r.stream, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
