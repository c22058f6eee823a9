// Package memory is an in-process bus used by tests and single-process runs.
package memory

import (
	"context"
	"sync"
	"time"

	"threatlens/internal/bus"
)

// Broker holds every queue in memory.
type Broker struct {
	mu      sync.Mutex
	queues  map[string][][]byte
	notify  map[string]chan struct{}
	pending map[string]int
	closed  bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		queues:  make(map[string][][]byte),
		notify:  make(map[string]chan struct{}),
		pending: make(map[string]int),
	}
}

var _ bus.Publisher = (*Broker)(nil)

func (b *Broker) signal(queue string) chan struct{} {
	ch, ok := b.notify[queue]
	if !ok {
		ch = make(chan struct{}, 1)
		b.notify[queue] = ch
	}
	return ch
}

// Publish appends a copy of body to queue.
func (b *Broker) Publish(_ context.Context, queue string, body []byte) error {
	msg := append([]byte(nil), body...)
	b.mu.Lock()
	b.queues[queue] = append(b.queues[queue], msg)
	ch := b.signal(queue)
	b.mu.Unlock()
	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}

// Close is a no-op; the broker outlives its publishers.
func (b *Broker) Close() error { return nil }

// Len returns the number of messages waiting on queue.
func (b *Broker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// Pending returns the number of popped but unacknowledged messages of queue.
func (b *Broker) Pending(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending[queue]
}

// Drain removes and returns every waiting message of queue.
func (b *Broker) Drain(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.queues[queue]
	delete(b.queues, queue)
	return msgs
}

func (b *Broker) take(queue string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.queues[queue]
	if len(msgs) == 0 {
		return nil, false
	}
	b.queues[queue] = msgs[1:]
	b.pending[queue]++
	return msgs[0], true
}

// Consumer returns a consumer of queue polling for at most wait per Pop.
func (b *Broker) Consumer(queue string, wait time.Duration) *Consumer {
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}
	b.mu.Lock()
	ch := b.signal(queue)
	b.mu.Unlock()
	return &Consumer{broker: b, queue: queue, wait: wait, notify: ch}
}

// Consumer pops messages from one broker queue.
type Consumer struct {
	broker *Broker
	queue  string
	wait   time.Duration
	notify chan struct{}
}

var _ bus.Consumer = (*Consumer)(nil)

// Pop returns the oldest message or nil after the wait interval.
func (c *Consumer) Pop(ctx context.Context) (*bus.Delivery, error) {
	timer := time.NewTimer(c.wait)
	defer timer.Stop()
	for {
		if body, ok := c.broker.take(c.queue); ok {
			return bus.NewDelivery(body, func(context.Context) error {
				c.broker.mu.Lock()
				c.broker.pending[c.queue]--
				c.broker.mu.Unlock()
				return nil
			}), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-c.notify:
		}
	}
}

// Close is a no-op.
func (c *Consumer) Close() error { return nil }
