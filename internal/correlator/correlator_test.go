package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"threatlens/internal/bus/memory"
	"threatlens/internal/graph"
	graphmemory "threatlens/internal/graph/memory"
	"threatlens/internal/metrics"
	"threatlens/internal/view"
	"threatlens/pkg/models"
)

type brokenStore struct {
	graph.Store
}

func (brokenStore) TopCentral(context.Context, int) ([]models.CriticalNode, error) {
	return nil, errors.New("store offline")
}

func (brokenStore) ShortestPath(context.Context, string, string, int) (int, bool, error) {
	return 0, false, errors.New("store offline")
}

type recordingSink struct {
	views []*models.AggregatedView
}

func (s *recordingSink) WriteView(v *models.AggregatedView) error {
	s.views = append(s.views, v)
	return nil
}

func (s *recordingSink) Close() error { return nil }

var fixedTime = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestCorrelator(store graph.Store, sink *recordingSink) (*Correlator, *view.Store, *memory.Broker, *metrics.Metrics) {
	views := view.NewStore()
	broker := memory.NewBroker()
	m := metrics.New()
	opts := Options{ResponseQueue: "security_responses", Metrics: m}
	if sink != nil {
		opts.Sink = sink
	}
	c := New(store, nil, views, broker, opts)
	c.now = func() time.Time { return fixedTime }
	return c, views, broker, m
}

func seededStore(t *testing.T) *graphmemory.Store {
	t.Helper()
	s := graphmemory.New()
	for _, f := range [][2]string{
		{"185.220.101.45", "10.0.0.5"},
		{"10.0.0.5", "10.0.0.9"},
		{"10.0.0.7", "10.0.0.5"},
	} {
		err := s.MergeFlow(context.Background(), graph.FlowFact{SourceIP: f[0], DestinationIP: f[1], Classification: "Suspicious"})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return s
}

func TestHandleBuildsAndPublishesView(t *testing.T) {
	sink := &recordingSink{}
	c, views, broker, m := newTestCorrelator(seededStore(t), sink)

	body := []byte(`{
		"session_id": "s-1",
		"source_ip": "185.220.101.45",
		"destination_ip": "10.0.0.9",
		"protocol": "TCP",
		"classification": "Malicious",
		"recommended_actions": ["Block 185.220.101.45"],
		"destination_port": 3389,
		"packets": 20000,
		"bytes_transferred": "0.5M",
		"duration": 2000
	}`)
	if err := c.Handle(context.Background(), body); err != nil {
		t.Fatalf("handle: %v", err)
	}

	v := views.Load()
	if v.Analysis.Classification != "Malicious" || v.Analysis.SessionID != "s-1" {
		t.Fatalf("unexpected analysis: %+v", v.Analysis)
	}
	if v.Analysis.RiskScore != 20 {
		t.Fatalf("risk score = %d, want 20", v.Analysis.RiskScore)
	}
	if !reflect.DeepEqual(v.Analysis.RecommendedActions, ElevatedActions) {
		t.Fatalf("actions = %v", v.Analysis.RecommendedActions)
	}
	if !reflect.DeepEqual(v.Analysis.OracleActions, []string{"Block 185.220.101.45"}) {
		t.Fatalf("oracle actions = %v", v.Analysis.OracleActions)
	}
	if len(v.GraphInsights.CriticalNodes) != 3 {
		t.Fatalf("critical nodes = %+v", v.GraphInsights.CriticalNodes)
	}
	central := map[string]bool{}
	for _, n := range v.GraphInsights.CriticalNodes {
		central[n.IP] = true
	}
	if !central["10.0.0.5"] || !central["10.0.0.9"] {
		t.Fatalf("expected the relay and its target to be central: %+v", v.GraphInsights.CriticalNodes)
	}
	want := []models.AttackPath{{Source: "185.220.101.45", Destination: "10.0.0.9", Hops: 2}}
	if !reflect.DeepEqual(v.GraphInsights.AttackPaths, want) {
		t.Fatalf("attack paths = %+v", v.GraphInsights.AttackPaths)
	}
	if !v.UpdatedAt.Equal(fixedTime) {
		t.Fatalf("updated_at = %v", v.UpdatedAt)
	}

	published := broker.Drain("security_responses")
	if len(published) != 1 {
		t.Fatalf("expected one published view, got %d", len(published))
	}
	var out models.AggregatedView
	if err := json.Unmarshal(published[0], &out); err != nil {
		t.Fatalf("decode published view: %v", err)
	}
	if out.Analysis.RiskScore != 20 {
		t.Fatalf("published risk score = %d", out.Analysis.RiskScore)
	}
	if len(sink.views) != 1 {
		t.Fatalf("sink received %d views", len(sink.views))
	}
	if got := testutil.ToFloat64(m.Published.WithLabelValues("security_responses")); got != 1 {
		t.Fatalf("published metric = %v", got)
	}
}

func TestGraphFailureDegradesToEmptyInsights(t *testing.T) {
	c, views, broker, m := newTestCorrelator(brokenStore{}, nil)

	rec := models.EnrichedRecord{SourceIP: "10.0.0.1", DestinationIP: "10.0.0.2", Classification: "Benign", RecommendedActions: []string{"Monitor traffic"}}
	v, err := c.Correlate(context.Background(), rec)
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if v.GraphInsights.CriticalNodes == nil || len(v.GraphInsights.CriticalNodes) != 0 {
		t.Fatalf("critical nodes = %#v", v.GraphInsights.CriticalNodes)
	}
	if v.GraphInsights.AttackPaths == nil || len(v.GraphInsights.AttackPaths) != 0 {
		t.Fatalf("attack paths = %#v", v.GraphInsights.AttackPaths)
	}
	if views.Load().Analysis.SourceIP != "10.0.0.1" {
		t.Fatalf("view not swapped in")
	}
	if broker.Len("security_responses") != 1 {
		t.Fatalf("view not published")
	}
	if got := testutil.ToFloat64(m.GraphErrors.WithLabelValues("top_central")); got != 1 {
		t.Fatalf("graph errors = %v", got)
	}

	data, _ := json.Marshal(v)
	var generic map[string]map[string]interface{}
	_ = json.Unmarshal(data, &generic)
	if _, ok := generic["graph_insights"]["critical_nodes"].([]interface{}); !ok {
		t.Fatalf("critical_nodes must encode as a list: %s", data)
	}
}

func TestDecodeIsTolerant(t *testing.T) {
	rec, err := Decode([]byte(`{"source_ip":"10.0.0.1","packets":"lots","duration":-5,"destination_port":"443","rule_tags":[{"id":"r1","severity":"high"}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Packets != 0 || rec.Duration != 0 || rec.DestinationPort != 443 {
		t.Fatalf("unexpected metrics: %+v", rec)
	}
	if rec.DestinationIP != models.Unknown || rec.Classification != "unknown" {
		t.Fatalf("unexpected defaults: %+v", rec)
	}
	if len(rec.RecommendedActions) != 1 || rec.RecommendedActions[0] != models.MonitorTraffic {
		t.Fatalf("actions = %v", rec.RecommendedActions)
	}
	if len(rec.RuleTags) != 1 || rec.RuleTags[0].Severity != "high" {
		t.Fatalf("rule tags = %+v", rec.RuleTags)
	}
}

func TestHandleMalformed(t *testing.T) {
	c, views, broker, _ := newTestCorrelator(graphmemory.New(), nil)
	err := c.Handle(context.Background(), []byte(`[1,2`))
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
	if views.Load().Analysis.Classification != "No data yet" {
		t.Fatalf("view must stay the placeholder")
	}
	if broker.Len("security_responses") != 0 {
		t.Fatalf("nothing should be published")
	}
}
