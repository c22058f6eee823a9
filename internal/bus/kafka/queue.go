// Package kafka implements queues as Kafka topics read by a consumer group.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"threatlens/internal/bus"
)

// Config configures the Kafka connection.
type Config struct {
	Brokers      []string
	GroupID      string
	FetchTimeout time.Duration
}

func (c Config) brokers() []string {
	if len(c.Brokers) == 0 {
		return []string{"localhost:9092"}
	}
	return c.Brokers
}

// Consumer reads one topic and commits offsets on ack.
type Consumer struct {
	reader  *kafka.Reader
	timeout time.Duration
}

var _ bus.Consumer = (*Consumer)(nil)

// NewConsumer joins the consumer group for topic.
func NewConsumer(cfg Config, topic string) (*Consumer, error) {
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "threatlens"
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.brokers(),
		GroupID:  cfg.GroupID + "-" + topic,
		Topic:    topic,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader, timeout: cfg.FetchTimeout}, nil
}

// Pop fetches the next message without committing it.
func (c *Consumer) Pop(ctx context.Context) (*bus.Delivery, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	msg, err := c.reader.FetchMessage(fetchCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	return bus.NewDelivery(msg.Value, func(ctx context.Context) error {
		return c.reader.CommitMessages(ctx, msg)
	}), nil
}

// Close leaves the group.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Publisher writes to any topic; the topic is set per message.
type Publisher struct {
	writer *kafka.Writer
}

var _ bus.Publisher = (*Publisher)(nil)

// NewPublisher creates a writer for the brokers.
func NewPublisher(cfg Config) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.brokers()...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish writes body to the queue topic.
func (p *Publisher) Publish(ctx context.Context, queue string, body []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{Topic: queue, Value: body})
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
