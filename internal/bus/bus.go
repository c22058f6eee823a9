// Package bus defines durable queues with manual acknowledgement.
package bus

import (
	"context"
	"sync"
)

// Delivery is one message popped from a queue. It stays owned by the
// consumer until Ack is called.
type Delivery struct {
	Body []byte

	once sync.Once
	ack  func(context.Context) error
	err  error
}

// NewDelivery wraps a message body and the backend's acknowledgement.
func NewDelivery(body []byte, ack func(context.Context) error) *Delivery {
	return &Delivery{Body: body, ack: ack}
}

// Ack settles the message. Repeated calls return the first result.
func (d *Delivery) Ack(ctx context.Context) error {
	d.once.Do(func() {
		if d.ack != nil {
			d.err = d.ack(ctx)
		}
	})
	return d.err
}

// Consumer pops messages from one queue.
type Consumer interface {
	// Pop blocks for the backend's poll interval and returns a nil delivery
	// when nothing arrived.
	Pop(ctx context.Context) (*Delivery, error)
	Close() error
}

// Publisher sends messages to named queues.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
	Close() error
}
