// Package ingest splits agent batches into one raw session message each.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"threatlens/internal/bus"
	"threatlens/internal/logger"
	"threatlens/internal/metrics"
	"threatlens/internal/normalize"
)

// ErrInvalidBatch is returned when a batch carries no sessions list.
var ErrInvalidBatch = errors.New("invalid data format")

// DefaultRecent bounds the number of sessions kept for inspection.
const DefaultRecent = 1000

// Options configures a Normalizer.
type Options struct {
	Queue   string
	Recent  int
	Metrics *metrics.Metrics
}

// Normalizer publishes every session of a batch to the raw queue.
type Normalizer struct {
	publisher bus.Publisher
	opts      Options
	now       func() time.Time

	mu     sync.Mutex
	recent []map[string]interface{}
}

// New creates a normalizer.
func New(publisher bus.Publisher, opts Options) *Normalizer {
	if opts.Queue == "" {
		opts.Queue = "snaplog"
	}
	if opts.Recent <= 0 {
		opts.Recent = DefaultRecent
	}
	return &Normalizer{publisher: publisher, opts: opts, now: time.Now}
}

// Accept publishes each session of a batch body. It returns the number of
// sessions published before any failure.
func (n *Normalizer) Accept(ctx context.Context, body []byte) (int, error) {
	batch, err := normalize.Decode(body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	sessions, ok := batch["sessions"].([]interface{})
	if !ok {
		return 0, ErrInvalidBatch
	}

	receivedAt := n.now().UTC().Format(time.RFC3339Nano)
	device := batch["device_info"]

	published := 0
	for i, item := range sessions {
		session, ok := item.(map[string]interface{})
		if !ok {
			logger.Warnf("Skipping session %d: not an object", i)
			continue
		}
		msg := make(map[string]interface{}, len(session)+3)
		for k, v := range session {
			msg[k] = v
		}
		msg["device_info"] = device
		msg["received_at"] = receivedAt
		if normalize.String(msg, "session_id") == "" {
			msg["session_id"] = uuid.NewString()
		}

		payload, err := json.Marshal(msg)
		if err != nil {
			return published, fmt.Errorf("encode session %d: %w", i, err)
		}
		if err := n.publisher.Publish(ctx, n.opts.Queue, payload); err != nil {
			return published, fmt.Errorf("publish to %s: %w", n.opts.Queue, err)
		}
		published++
		n.remember(msg)
		if n.opts.Metrics != nil {
			n.opts.Metrics.SessionsIngested.Inc()
			n.opts.Metrics.Published.WithLabelValues(n.opts.Queue).Inc()
		}
	}
	logger.Debugf("Accepted %d of %d sessions", published, len(sessions))
	return published, nil
}

func (n *Normalizer) remember(msg map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recent = append(n.recent, msg)
	if over := len(n.recent) - n.opts.Recent; over > 0 {
		n.recent = append(n.recent[:0:0], n.recent[over:]...)
	}
}

// Recent returns the most recently accepted sessions, oldest first.
func (n *Normalizer) Recent() []map[string]interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]map[string]interface{}, len(n.recent))
	copy(out, n.recent)
	return out
}
