// Package redis implements reliable list queues on Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"threatlens/internal/bus"
	"threatlens/internal/logger"
)

// Config configures the Redis queues.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	BlockTimeout time.Duration
}

func newClient(cfg Config) *redis.Client {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Consumer moves messages from a list into a per-queue processing list and
// removes them from there on ack.
type Consumer struct {
	client       *redis.Client
	key          string
	processing   string
	blockTimeout time.Duration
}

var _ bus.Consumer = (*Consumer)(nil)

// NewConsumer connects and requeues messages left unacknowledged by a
// previous run.
func NewConsumer(ctx context.Context, cfg Config) (*Consumer, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	client := newClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	c := &Consumer{
		client:       client,
		key:          cfg.Key,
		processing:   ProcessingKey(cfg.Key),
		blockTimeout: cfg.BlockTimeout,
	}
	if err := c.requeue(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return c, nil
}

// ProcessingKey names the list holding unacknowledged messages of a queue.
func ProcessingKey(key string) string {
	return key + ":processing"
}

func (c *Consumer) requeue(ctx context.Context) error {
	moved := 0
	for {
		err := c.client.LMove(ctx, c.processing, c.key, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return fmt.Errorf("redis requeue: %w", err)
		}
		moved++
	}
	if moved > 0 {
		logger.Infof("Requeued %d unacknowledged messages on %s", moved, c.key)
	}
	return nil
}

// Pop moves one message into the processing list.
func (c *Consumer) Pop(ctx context.Context) (*bus.Delivery, error) {
	res, err := c.client.BLMove(ctx, c.key, c.processing, "RIGHT", "LEFT", c.blockTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return bus.NewDelivery([]byte(res), func(ctx context.Context) error {
		return c.client.LRem(ctx, c.processing, 1, res).Err()
	}), nil
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}

// Publisher pushes messages onto the head of a list; consumers pop the tail.
type Publisher struct {
	client *redis.Client
}

var _ bus.Publisher = (*Publisher)(nil)

// NewPublisher connects a publisher.
func NewPublisher(ctx context.Context, cfg Config) (*Publisher, error) {
	client := newClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Publisher{client: client}, nil
}

// Publish appends body to queue.
func (p *Publisher) Publish(ctx context.Context, queue string, body []byte) error {
	return p.client.LPush(ctx, queue, body).Err()
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return p.client.Close()
}
