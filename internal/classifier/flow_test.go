package classifier_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"threatlens/internal/bus/memory"
	"threatlens/internal/classifier"
	"threatlens/internal/correlator"
	graphmemory "threatlens/internal/graph/memory"
	"threatlens/internal/oracle"
	"threatlens/internal/pipeline"
	"threatlens/internal/view"
	"threatlens/pkg/models"
)

const (
	rawQueue      = "snaplog"
	incidentQueue = "incident_queue"
	responseQueue = "security_responses"
)

// flowHarness wires classifier and correlator pipelines over one in-memory
// broker and graph, the way the all-in-one command does.
type flowHarness struct {
	broker *memory.Broker
	store  *graphmemory.Store
	views  *view.Store
	calls  atomic.Int32
}

func newFlowHarness() *flowHarness {
	return &flowHarness{
		broker: memory.NewBroker(),
		store:  graphmemory.New(),
		views:  view.NewStore(),
	}
}

func (h *flowHarness) oracle() oracle.Oracle {
	return oracle.Func(func(ctx context.Context, _ string) (string, error) {
		h.calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return "### Classification: Malicious\nrecommended security measures:\n- Block the source\n- Reset credentials", nil
	})
}

// run starts both pipelines and stops them once want responses were published.
func (h *flowHarness) run(t *testing.T, classifierWorkers, want int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := classifier.New(h.store, h.oracle(), h.broker, classifier.Options{
		IncidentQueue: incidentQueue,
		OracleTimeout: time.Second,
	})
	corr := correlator.New(h.store, nil, h.views, h.broker, correlator.Options{ResponseQueue: responseQueue})

	pipes := []*pipeline.Pipeline{
		pipeline.New(h.broker.Consumer(rawQueue, 10*time.Millisecond), c.Handle, pipeline.Options{
			Service: "classifier",
			Workers: classifierWorkers,
			Key:     classifier.SourceKey,
		}),
		pipeline.New(h.broker.Consumer(incidentQueue, 10*time.Millisecond), corr.Handle, pipeline.Options{
			Service: "correlator",
			Workers: 1,
		}),
	}

	var wg sync.WaitGroup
	for _, p := range pipes {
		wg.Add(1)
		go func(p *pipeline.Pipeline) {
			defer wg.Done()
			_ = p.Run(ctx)
		}(p)
	}

	deadline := time.Now().Add(5 * time.Second)
	for h.broker.Len(responseQueue) < want {
		if time.Now().After(deadline) {
			cancel()
			wg.Wait()
			t.Fatalf("timed out: %d of %d responses", h.broker.Len(responseQueue), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	wg.Wait()
}

func (h *flowHarness) responses(t *testing.T) []models.AggregatedView {
	t.Helper()
	var out []models.AggregatedView
	for _, msg := range h.broker.Drain(responseQueue) {
		var v models.AggregatedView
		if err := json.Unmarshal(msg, &v); err != nil {
			t.Fatalf("decode view: %v", err)
		}
		out = append(out, v)
	}
	return out
}

func publishConcurrently(t *testing.T, b *memory.Broker, bodies [][]byte) {
	t.Helper()
	var wg sync.WaitGroup
	for _, body := range bodies {
		wg.Add(1)
		go func(body []byte) {
			defer wg.Done()
			if err := b.Publish(context.Background(), rawQueue, body); err != nil {
				t.Errorf("publish: %v", err)
			}
		}(body)
	}
	wg.Wait()
}

func TestSessionFlowsThroughClassifierAndCorrelator(t *testing.T) {
	session := []byte(`{"Source IP":"10.0.0.5","Destination IP":"10.0.0.9","Protocol":"TCP","Packets":"12000","Bytes":"5.0 M","Duration":"400"}`)
	h := newFlowHarness()
	publishConcurrently(t, h.broker, [][]byte{session, session})

	h.run(t, 1, 2)

	if got := h.calls.Load(); got != 1 {
		t.Fatalf("oracle called %d times, want 1", got)
	}

	snap, err := h.store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Links) != 1 || snap.Links[0].Source != "10.0.0.5" || snap.Links[0].Target != "10.0.0.9" {
		t.Fatalf("unexpected links: %+v", snap.Links)
	}
	if snap.Links[0].Packets != 12000 {
		t.Fatalf("edge packets = %d", snap.Links[0].Packets)
	}

	views := h.responses(t)
	if len(views) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(views))
	}
	first, second := views[0], views[1]
	if first.Analysis.Classification != "Malicious" {
		t.Fatalf("first classification = %q", first.Analysis.Classification)
	}
	if second.Analysis.Classification != "known" {
		t.Fatalf("second classification = %q", second.Analysis.Classification)
	}
	for i, v := range views {
		// packets > 5000 (+2) and > 10000 (+3), duration > 300 (+2); 5 MB adds nothing
		if v.Analysis.RiskScore != 7 {
			t.Fatalf("view %d risk score = %d, want 7", i, v.Analysis.RiskScore)
		}
		if len(v.Analysis.RecommendedActions) != len(correlator.ElevatedActions) {
			t.Fatalf("view %d actions = %v", i, v.Analysis.RecommendedActions)
		}
		found := false
		for _, n := range v.GraphInsights.CriticalNodes {
			if n.IP == "10.0.0.5" || n.IP == "10.0.0.9" {
				found = true
			}
		}
		if !found {
			t.Fatalf("view %d critical nodes miss both endpoints: %+v", i, v.GraphInsights.CriticalNodes)
		}
		if len(v.GraphInsights.AttackPaths) != 1 || v.GraphInsights.AttackPaths[0].Hops != 1 {
			t.Fatalf("view %d attack paths = %+v", i, v.GraphInsights.AttackPaths)
		}
	}

	if latest := h.views.Load(); latest.Analysis.Classification != "known" {
		t.Fatalf("latest view classification = %q", latest.Analysis.Classification)
	}
}

func TestKeyedWorkersAskOncePerSource(t *testing.T) {
	sources := []string{"10.1.0.1", "10.1.0.2", "10.1.0.3"}
	var bodies [][]byte
	for i := 0; i < 8; i++ {
		for _, src := range sources {
			bodies = append(bodies, []byte(fmt.Sprintf(`{"Source IP":%q,"Destination IP":"10.1.9.%d","Packets":10}`, src, i)))
		}
	}
	h := newFlowHarness()
	publishConcurrently(t, h.broker, bodies)

	h.run(t, 4, len(bodies))

	if got := h.calls.Load(); got != int32(len(sources)) {
		t.Fatalf("oracle called %d times, want %d", got, len(sources))
	}
	known := 0
	for _, v := range h.responses(t) {
		if v.Analysis.Classification == "known" {
			known++
		}
	}
	if want := len(bodies) - len(sources); known != want {
		t.Fatalf("known verdicts = %d, want %d", known, want)
	}
}
