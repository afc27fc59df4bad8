package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DedupeTTL bounds how long a processed webhook event id is remembered.
// Processors retry failed deliveries for up to ~72 hours, so the window
// matches that horizon.
const DedupeTTL = 72 * time.Hour

// Deduper records processed webhook event ids so redeliveries can be
// acknowledged without reprocessing.
type Deduper interface {
	// Seen reports whether the event id was already processed.
	Seen(ctx context.Context, eventID string) (bool, error)
	// Mark records the event id as processed.
	Mark(ctx context.Context, eventID string) error
}

// RedisDeduper stores event ids in Redis with a TTL. Marking uses SETNX
// so concurrent webhook workers race safely.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper connects to Redis at the given URL.
func NewRedisDeduper(redisURL string) (*RedisDeduper, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisDeduper{client: client, ttl: DedupeTTL}, nil
}

// NewRedisDeduperFromClient wraps an existing client (tests use miniredis).
func NewRedisDeduperFromClient(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: DedupeTTL}
}

func (d *RedisDeduper) key(eventID string) string {
	return fmt.Sprintf("webhook:event:%s", eventID)
}

func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, eventID string) error {
	if err := d.client.SetNX(ctx, d.key(eventID), "1", d.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	return nil
}

// Close closes the underlying Redis connection.
func (d *RedisDeduper) Close() error {
	return d.client.Close()
}

// NopDeduper never dedupes; useful when Redis is not configured.
// Handlers remain idempotent, so redeliveries are merely redundant work.
type NopDeduper struct{}

func (NopDeduper) Seen(context.Context, string) (bool, error) { return false, nil }
func (NopDeduper) Mark(context.Context, string) error         { return nil }
