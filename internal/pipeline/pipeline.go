package pipeline

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"threatlens/internal/bus"
	"threatlens/internal/logger"
	"threatlens/internal/metrics"
)

// Handler processes one message body.
type Handler func(ctx context.Context, body []byte) error

// KeyFunc extracts the routing key of a message. Messages with equal keys
// are handled by the same worker in arrival order.
type KeyFunc func(body []byte) string

// Options configures a Pipeline.
type Options struct {
	Service         string
	Workers         int
	Key             KeyFunc
	DeadLetter      bus.Publisher
	DeadLetterQueue string
	Metrics         *metrics.Metrics
}

// DeadLetter is published for messages whose handler failed.
type DeadLetter struct {
	ID       string    `json:"id"`
	Service  string    `json:"service"`
	Key      string    `json:"key,omitempty"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
	Payload  string    `json:"payload"`
}

// Pipeline consumes a queue and settles every delivery after its handler ran.
type Pipeline struct {
	consumer bus.Consumer
	handler  Handler
	opts     Options
}

// New creates a pipeline.
func New(consumer bus.Consumer, handler Handler, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Service == "" {
		opts.Service = "pipeline"
	}
	return &Pipeline{consumer: consumer, handler: handler, opts: opts}
}

// Run consumes until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	logger.Infof("%s pipeline started with %d workers", p.opts.Service, p.opts.Workers)

	lanes := make([]chan *bus.Delivery, p.opts.Workers)
	for i := range lanes {
		lanes[i] = make(chan *bus.Delivery, 4)
	}

	var wg sync.WaitGroup
	for _, lane := range lanes {
		wg.Add(1)
		go func(in <-chan *bus.Delivery) {
			defer wg.Done()
			p.workerLoop(ctx, in)
		}(lane)
	}

	p.readLoop(ctx, lanes)
	for _, lane := range lanes {
		close(lane)
	}
	wg.Wait()
	return ctx.Err()
}

// Close releases the consumer.
func (p *Pipeline) Close() error {
	if p.consumer != nil {
		return p.consumer.Close()
	}
	return nil
}

func (p *Pipeline) readLoop(ctx context.Context, lanes []chan *bus.Delivery) {
	for {
		if ctx.Err() != nil {
			return
		}
		d, err := p.consumer.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop %s message: %v", p.opts.Service, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if d == nil {
			continue
		}
		select {
		case lanes[p.lane(d.Body, len(lanes))] <- d:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) lane(body []byte, n int) int {
	if n <= 1 || p.opts.Key == nil {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(p.opts.Key(body)))
	return int(h.Sum32() % uint32(n))
}

func (p *Pipeline) workerLoop(ctx context.Context, in <-chan *bus.Delivery) {
	for d := range in {
		// Deliveries left after shutdown stay unacknowledged for redelivery.
		if ctx.Err() != nil {
			continue
		}
		p.process(ctx, d)
	}
}

func (p *Pipeline) process(ctx context.Context, d *bus.Delivery) {
	err := p.handler(ctx, d.Body)
	if err != nil && ctx.Err() != nil {
		return
	}

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeFailed
		key := ""
		if p.opts.Key != nil {
			key = p.opts.Key(d.Body)
		}
		logger.Warnw("Message processing failed",
			"service", p.opts.Service,
			"key", key,
			"bytes", len(d.Body),
			"error", err,
		)
		if p.deadLetter(ctx, key, d.Body, err) {
			outcome = metrics.OutcomeDeadLetter
		}
	}
	if p.opts.Metrics != nil {
		p.opts.Metrics.Messages.WithLabelValues(p.opts.Service, outcome).Inc()
	}

	if ackErr := d.Ack(ctx); ackErr != nil {
		logger.Errorf("Failed to ack %s message: %v", p.opts.Service, ackErr)
	}
}

func (p *Pipeline) deadLetter(ctx context.Context, key string, body []byte, cause error) bool {
	if p.opts.DeadLetter == nil || p.opts.DeadLetterQueue == "" {
		return false
	}
	msg, err := json.Marshal(DeadLetter{
		ID:       uuid.NewString(),
		Service:  p.opts.Service,
		Key:      key,
		Error:    cause.Error(),
		FailedAt: time.Now().UTC(),
		Payload:  string(body),
	})
	if err != nil {
		logger.Errorf("Failed to encode dead letter: %v", err)
		return false
	}
	if err := p.opts.DeadLetter.Publish(ctx, p.opts.DeadLetterQueue, msg); err != nil {
		logger.Errorf("Failed to publish dead letter to %s: %v", p.opts.DeadLetterQueue, err)
		return false
	}
	if p.opts.Metrics != nil {
		p.opts.Metrics.Published.WithLabelValues(p.opts.DeadLetterQueue).Inc()
	}
	return true
}
