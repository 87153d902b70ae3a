package events

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"novatrading/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: plenty for a trading day of signals and fills.
	streamMaxLen     = 10000
	defaultLatestTTL = 30 * time.Minute
)

// RedisConfig configures the Redis event publisher.
type RedisConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// RedisPublisher writes events to per-kind Redis Streams and mirrors them on
// pubsub channels for live subscribers (dashboards, bots).
type RedisPublisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *RedisPublisher) Client() *goredis.Client { return p.client }

// NewRedisPublisher connects and pings the server.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[events] connected to redis at %s", cfg.Addr)
	return &RedisPublisher{client: client}, nil
}

// Publish pipelines XADD + SET latest + PUBLISH in one roundtrip.
func (p *RedisPublisher) Publish(ctx context.Context, ev model.Event) error {
	kind := strings.ToLower(string(ev.Kind))
	streamKey := "events:" + kind
	jsonData := string(ev.JSON())

	pipe := p.client.Pipeline()

	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})

	if ev.Symbol != "" {
		latestKey := "events:" + kind + ":latest:" + ev.Symbol
		pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	}

	pipe.Publish(ctx, "pub:events:"+kind, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis event pipeline: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
