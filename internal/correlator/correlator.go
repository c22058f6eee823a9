// Package correlator scores enriched records, attaches graph insights and
// maintains the aggregated view served to readers.
package correlator

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
	"threatlens/internal/pipeline"
	"threatlens/internal/view"
	"threatlens/pkg/models"
)

// ErrMalformedMessage is returned for bodies that are not a JSON object.
var ErrMalformedMessage = errors.New("malformed enriched record")

// Defaults for graph analytics.
const (
	DefaultTopNodes = 3
	DefaultMaxHops  = 5
)

// Options configures a Correlator.
type Options struct {
	ResponseQueue   string
	ActionThreshold int
	TopNodes        int
	MaxHops         int
	Sink            pipeline.ViewWriter
	Metrics         *metrics.Metrics
}

// Correlator is the incident correlation service.
type Correlator struct {
	store     graph.Store
	scorer    *Scorer
	views     *view.Store
	publisher bus.Publisher
	opts      Options
	now       func() time.Time
}

// New creates a correlator. A nil scorer uses the default malicious set.
func New(store graph.Store, scorer *Scorer, views *view.Store, publisher bus.Publisher, opts Options) *Correlator {
	if scorer == nil {
		scorer = NewScorer(nil)
	}
	if opts.ResponseQueue == "" {
		opts.ResponseQueue = "security_responses"
	}
	if opts.ActionThreshold <= 0 {
		opts.ActionThreshold = DefaultActionThreshold
	}
	if opts.TopNodes <= 0 {
		opts.TopNodes = DefaultTopNodes
	}
	if opts.MaxHops <= 0 {
		opts.MaxHops = DefaultMaxHops
	}
	return &Correlator{
		store:     store,
		scorer:    scorer,
		views:     views,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}
}

// Handle decodes one enriched record and correlates it.
func (c *Correlator) Handle(ctx context.Context, body []byte) error {
	rec, err := Decode(body)
	if err != nil {
		return err
	}
	_, err = c.Correlate(ctx, rec)
	return err
}

// Correlate builds the view for rec, makes it current and publishes it.
// Graph failures only empty the insights; a publish failure is returned after
// the view has been swapped in.
func (c *Correlator) Correlate(ctx context.Context, rec models.EnrichedRecord) (models.AggregatedView, error) {
	score := c.scorer.Score(rec)
	if c.opts.Metrics != nil {
		c.opts.Metrics.RiskScore.Observe(float64(score))
	}

	oracleActions := rec.RecommendedActions
	if len(oracleActions) == 0 {
		oracleActions = []string{models.MonitorTraffic}
	}

	v := models.AggregatedView{
		Analysis: models.Analysis{
			SessionID:          rec.SessionID,
			SourceIP:           rec.SourceIP,
			DestinationIP:      rec.DestinationIP,
			Protocol:           rec.Protocol,
			Classification:     rec.Classification,
			RecommendedActions: RecommendedActions(score, c.opts.ActionThreshold),
			OracleActions:      oracleActions,
			RiskScore:          score,
			RuleTags:           rec.RuleTags,
		},
		GraphInsights: c.GraphInsights(ctx, rec.SourceIP, rec.DestinationIP),
		UpdatedAt:     c.now().UTC(),
	}
	c.views.Store(&v)

	if c.opts.Sink != nil {
		if err := c.opts.Sink.WriteView(&v); err != nil {
			logger.Errorf("Failed to write view to sink: %v", err)
		}
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return v, fmt.Errorf("encode view: %w", err)
	}
	if err := c.publisher.Publish(ctx, c.opts.ResponseQueue, payload); err != nil {
		return v, fmt.Errorf("publish to %s: %w", c.opts.ResponseQueue, err)
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.Published.WithLabelValues(c.opts.ResponseQueue).Inc()
	}
	logger.Infow("Correlated flow",
		"source_ip", rec.SourceIP,
		"destination_ip", rec.DestinationIP,
		"classification", rec.Classification,
		"risk_score", score,
	)
	return v, nil
}

// GraphInsights queries the most central nodes and the shortest path between
// the endpoints. Each query degrades to an empty list on failure.
func (c *Correlator) GraphInsights(ctx context.Context, src, dst string) models.GraphInsights {
	insights := models.EmptyInsights()

	nodes, err := c.store.TopCentral(ctx, c.opts.TopNodes)
	if err != nil {
		c.graphError("top_central", err)
	} else if len(nodes) > 0 {
		insights.CriticalNodes = nodes
	}

	hops, found, err := c.store.ShortestPath(ctx, src, dst, c.opts.MaxHops)
	if err != nil {
		c.graphError("shortest_path", err)
	} else if found {
		insights.AttackPaths = append(insights.AttackPaths, models.AttackPath{
			Source:      src,
			Destination: dst,
			Hops:        hops,
		})
	}
	return insights
}

func (c *Correlator) graphError(op string, err error) {
	logger.Warnf("Graph %s failed, continuing without it: %v", op, err)
	if c.opts.Metrics != nil {
		c.opts.Metrics.GraphErrors.WithLabelValues(op).Inc()
	}
}

// Decode reads an enriched record leniently: missing or non-numeric metrics
// become zero and missing actions fall back to monitoring.
func Decode(body []byte) (models.EnrichedRecord, error) {
	raw, err := normalize.Decode(body)
	if err != nil {
		return models.EnrichedRecord{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	rec := models.EnrichedRecord{
		SessionID:          normalize.String(raw, "session_id"),
		SourceIP:           normalize.StringOr(raw, models.Unknown, "source_ip"),
		DestinationIP:      normalize.StringOr(raw, models.Unknown, "destination_ip"),
		Protocol:           normalize.StringOr(raw, models.Unknown, "protocol"),
		Classification:     normalize.StringOr(raw, "unknown", "classification"),
		RecommendedActions: normalize.Flags(raw, "recommended_actions"),
		SourcePort:         int(normalize.NonNegative(normalize.Int(raw, "source_port"))),
		DestinationPort:    int(normalize.NonNegative(normalize.Int(raw, "destination_port"))),
		Packets:            normalize.NonNegative(normalize.Int(raw, "packets")),
		BytesTransferred:   normalize.StringOr(raw, normalize.DefaultBytes, "bytes_transferred"),
		Duration:           normalize.Float(raw, "duration"),
	}
	if rec.Duration < 0 {
		rec.Duration = 0
	}
	if len(rec.RecommendedActions) == 0 {
		rec.RecommendedActions = []string{models.MonitorTraffic}
	}
	if ts, ok := normalize.Time(raw, "received_at"); ok {
		rec.ReceivedAt = ts
	}
	if tags, ok := raw["rule_tags"]; ok {
		rec.RuleTags = decodeTags(tags)
	}
	return rec, nil
}

func decodeTags(v interface{}) []models.RuleTag {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var tags []models.RuleTag
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil
	}
	return tags
}
