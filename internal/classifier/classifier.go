// Package classifier turns raw sessions into enriched records: it asks the
// oracle about sources it has not seen, records every flow in the graph and
// publishes one record per session to the incident queue.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"threatlens/internal/bus"
	"threatlens/internal/graph"
	"threatlens/internal/logger"
	"threatlens/internal/metrics"
	"threatlens/internal/normalize"
	"threatlens/internal/oracle"
	"threatlens/internal/rules"
	"threatlens/internal/verdict"
	"threatlens/pkg/models"
)

// ErrMalformedMessage is returned for bodies that are not a JSON object.
var ErrMalformedMessage = errors.New("malformed session message")

// DefaultOracleTimeout bounds a single oracle call.
const DefaultOracleTimeout = 30 * time.Second

// Fallback reasons recorded in metrics.
const (
	reasonTimeout     = "timeout"
	reasonError       = "error"
	reasonUnparseable = "unparseable"
)

// Options configures a Classifier.
type Options struct {
	IncidentQueue string
	OracleTimeout time.Duration
	Rules         rules.Engine
	Metrics       *metrics.Metrics
}

// Result is the classification of one flow.
type Result struct {
	Classification string
	Description    string
	Actions        []string
	Known          bool
	Parsed         bool
}

// Classifier is the threat classification service.
type Classifier struct {
	store     graph.Store
	oracle    oracle.Oracle
	publisher bus.Publisher
	opts      Options
	now       func() time.Time
}

// New creates a classifier.
func New(store graph.Store, o oracle.Oracle, publisher bus.Publisher, opts Options) *Classifier {
	if opts.OracleTimeout <= 0 {
		opts.OracleTimeout = DefaultOracleTimeout
	}
	if opts.IncidentQueue == "" {
		opts.IncidentQueue = "incident_queue"
	}
	if opts.Rules == nil {
		opts.Rules = &rules.NoopEngine{}
	}
	return &Classifier{
		store:     store,
		oracle:    o,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}
}

// Handle processes one raw session message end to end. The enriched record is
// published only after the graph write succeeded.
func (c *Classifier) Handle(ctx context.Context, body []byte) error {
	raw, err := normalize.Decode(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	flow := normalize.Normalize(raw, c.now())
	tags := c.opts.Rules.Apply(&flow)

	res, err := c.Classify(ctx, flow)
	if err != nil {
		return err
	}

	rec := models.NewEnrichedRecord(flow, res.Classification, res.Actions)
	rec.RuleTags = tags
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode enriched record: %w", err)
	}
	if err := c.publisher.Publish(ctx, c.opts.IncidentQueue, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", c.opts.IncidentQueue, err)
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.Published.WithLabelValues(c.opts.IncidentQueue).Inc()
	}
	return nil
}

// Classify decides the verdict for a flow. Only flows from unseen sources are
// written to the graph; known sources short-circuit before the oracle and the
// graph write.
func (c *Classifier) Classify(ctx context.Context, flow models.NormalizedFlow) (Result, error) {
	known, err := c.store.SourceExists(ctx, flow.SourceIP)
	if err != nil {
		c.graphError("source_exists")
		return Result{}, fmt.Errorf("source lookup %s: %w", flow.SourceIP, err)
	}

	if known {
		logger.Debugf("Known source %s, skipping oracle and graph write", flow.SourceIP)
		if c.opts.Metrics != nil {
			c.opts.Metrics.DedupHits.Inc()
		}
		return Result{
			Classification: graph.KnownClassification,
			Description:    "Previously identified source",
			Actions:        []string{models.MonitorTraffic},
			Known:          true,
		}, nil
	}

	res := c.ask(ctx, flow)
	err = c.store.MergeFlow(ctx, graph.FlowFact{
		SourceIP:         flow.SourceIP,
		DestinationIP:    flow.DestinationIP,
		Classification:   res.Classification,
		Description:      res.Description,
		Packets:          flow.Packets,
		BytesTransferred: flow.BytesTransferred,
	})
	if err != nil {
		c.graphError("merge_flow")
		return Result{}, fmt.Errorf("record flow %s->%s: %w", flow.SourceIP, flow.DestinationIP, err)
	}
	return res, nil
}

func (c *Classifier) ask(ctx context.Context, flow models.NormalizedFlow) Result {
	logger.Infof("New source %s, asking oracle", flow.SourceIP)
	if c.opts.Metrics != nil {
		c.opts.Metrics.OracleCalls.Inc()
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.OracleTimeout)
	text, err := c.oracle.Classify(callCtx, oracle.Prompt(flow))
	cancel()

	var parsed verdict.Result
	if err != nil {
		reason := reasonError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = reasonTimeout
		}
		logger.Warnw("Oracle call failed, using fallback verdict",
			"source_ip", flow.SourceIP,
			"destination_ip", flow.DestinationIP,
			"reason", reason,
			"error", err,
		)
		c.fallback(reason)
		parsed = verdict.Fallback()
	} else {
		parsed = verdict.Parse(text)
		if !parsed.Parsed {
			logger.Warnw("Oracle output missing markers",
				"source_ip", flow.SourceIP,
				"classification", parsed.Classification,
			)
			c.fallback(reasonUnparseable)
		}
	}

	return Result{
		Classification: parsed.Classification,
		Description:    "Classified by oracle: " + parsed.Classification,
		Actions:        parsed.Actions,
		Parsed:         parsed.Parsed,
	}
}

func (c *Classifier) fallback(reason string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.OracleFallbacks.WithLabelValues(reason).Inc()
	}
}

func (c *Classifier) graphError(op string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.GraphErrors.WithLabelValues(op).Inc()
	}
}

// SourceKey routes raw session messages by normalized source IP.
func SourceKey(body []byte) string {
	raw, err := normalize.Decode(body)
	if err != nil {
		return ""
	}
	return normalize.SourceIP(raw)
}
