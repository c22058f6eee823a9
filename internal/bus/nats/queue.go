// Package nats implements queues on NATS JetStream pull consumers.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"threatlens/internal/bus"
	"threatlens/internal/logger"
)

// Config configures the JetStream connection.
type Config struct {
	URL          string
	Stream       string
	Durable      string
	FetchTimeout time.Duration
}

func connect(cfg Config) (*nats.Conn, nats.JetStreamContext, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("nats jetstream: %w", err)
	}
	logger.Infof("Connected to NATS server at %s", cfg.URL)
	return nc, js, nil
}

// ensureStream creates the stream covering subject if it is missing.
func ensureStream(js nats.JetStreamContext, stream, subject string) error {
	if stream == "" {
		stream = streamName(subject)
	}
	info, err := js.StreamInfo(stream)
	if err == nil {
		for _, s := range info.Config.Subjects {
			if s == subject {
				return nil
			}
		}
		cfg := info.Config
		cfg.Subjects = append(cfg.Subjects, subject)
		_, err = js.UpdateStream(&cfg)
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{subject},
		Retention: nats.WorkQueuePolicy,
	})
	return err
}

func streamName(subject string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(subject))
}

// Consumer fetches one message at a time from a durable pull subscription.
type Consumer struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	timeout time.Duration
}

var _ bus.Consumer = (*Consumer)(nil)

// NewConsumer subscribes to subject with explicit acknowledgement.
func NewConsumer(cfg Config, subject string) (*Consumer, error) {
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.Durable == "" {
		cfg.Durable = "threatlens"
	}
	nc, js, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := ensureStream(js, cfg.Stream, subject); err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats stream: %w", err)
	}
	durable := cfg.Durable + "_" + streamName(subject)
	sub, err := js.PullSubscribe(subject, durable, nats.AckExplicit())
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	return &Consumer{nc: nc, sub: sub, timeout: cfg.FetchTimeout}, nil
}

// Pop fetches one message or returns nil after the fetch timeout.
func (c *Consumer) Pop(ctx context.Context) (*bus.Delivery, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	msgs, err := c.sub.Fetch(1, nats.Context(fetchCtx))
	if err != nil {
		if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout)) {
			return nil, nil
		}
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	msg := msgs[0]
	return bus.NewDelivery(msg.Data, func(ctx context.Context) error {
		return msg.AckSync(nats.Context(ctx))
	}), nil
}

// Close unsubscribes and closes the connection.
func (c *Consumer) Close() error {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	c.nc.Close()
	return nil
}

// Publisher publishes to JetStream subjects, creating streams on first use.
type Publisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	stream string

	mu    sync.Mutex
	known map[string]bool
}

var _ bus.Publisher = (*Publisher)(nil)

// NewPublisher connects a publisher.
func NewPublisher(cfg Config) (*Publisher, error) {
	nc, js, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, js: js, stream: cfg.Stream, known: make(map[string]bool)}, nil
}

// Publish waits for the stream to persist body.
func (p *Publisher) Publish(ctx context.Context, queue string, body []byte) error {
	p.mu.Lock()
	if !p.known[queue] {
		if err := ensureStream(p.js, p.stream, queue); err != nil {
			p.mu.Unlock()
			return fmt.Errorf("nats stream: %w", err)
		}
		p.known[queue] = true
	}
	p.mu.Unlock()
	_, err := p.js.Publish(queue, body, nats.Context(ctx))
	return err
}

// Close drains the connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}
