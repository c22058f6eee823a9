package hoststate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"threatlens/pkg/models"
)

func newTestStore(t *testing.T, clock *time.Time) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr(), KeyPrefix: "test"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	s.now = func() time.Time { return *clock }
	return s
}

func viewFor(ip, classification string, risk int, at time.Time) *models.AggregatedView {
	return &models.AggregatedView{
		Analysis: models.Analysis{
			SourceIP:       ip,
			Classification: classification,
			RiskScore:      risk,
		},
		GraphInsights: models.EmptyInsights(),
		UpdatedAt:     at,
	}
}

func TestWriteViewAccumulatesPerHost(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := t0
	s := newTestStore(t, &clock)

	if err := s.WriteView(viewFor("10.0.0.5", "Suspicious", 13, t0)); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock = t0.Add(time.Minute)
	if err := s.WriteView(viewFor("10.0.0.5", "known", 4, t0.Add(time.Minute))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.WriteView(viewFor(models.Unknown, "unknown", 20, t0)); err != nil {
		t.Fatalf("write unknown source: %v", err)
	}

	states, err := s.FetchActiveSince(ctx, t0.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("expected one host, got %+v", states)
	}
	st := states[0]
	if st.IP != "10.0.0.5" || st.IncidentCount != 2 || st.MaxRiskScore != 13 {
		t.Fatalf("unexpected counters: %+v", st)
	}
	if st.Classification != "known" {
		t.Fatalf("expected last classification, got %q", st.Classification)
	}
	if !st.FirstSeen.Equal(t0) || !st.LastSeen.Equal(t0.Add(time.Minute)) {
		t.Fatalf("unexpected first/last seen: %s %s", st.FirstSeen, st.LastSeen)
	}
}

func TestFetchActiveSinceKeepsNewestUnderLimit(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := t0
	s := newTestStore(t, &clock)

	for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		clock = t0.Add(time.Duration(i) * time.Minute)
		if err := s.WriteView(viewFor(ip, "Benign", 1, clock)); err != nil {
			t.Fatalf("write %s: %v", ip, err)
		}
	}

	states, err := s.FetchActiveSince(ctx, t0, 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(states) != 2 || states[0].IP != "10.0.0.3" || states[1].IP != "10.0.0.2" {
		t.Fatalf("expected newest hosts first, got %+v", states)
	}

	states, err = s.FetchActiveSince(ctx, t0.Add(90*time.Second), 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(states) != 1 || states[0].IP != "10.0.0.3" {
		t.Fatalf("window not applied: %+v", states)
	}
}

func TestWatchlist(t *testing.T) {
	states := []HostState{
		{IP: "10.0.0.1", IncidentCount: 1, MaxRiskScore: 2},
		{IP: "10.0.0.2", IncidentCount: 4, MaxRiskScore: 1},
		{IP: "10.0.0.3", IncidentCount: 1, MaxRiskScore: 13},
		{IP: "10.0.0.4", IncidentCount: 3, MaxRiskScore: 8},
	}

	got := Watchlist(states, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(got), got)
	}
	if got[0].IP != "10.0.0.2" || !got[0].Repeat || got[0].HighRisk {
		t.Fatalf("unexpected repeat entry: %+v", got[0])
	}
	if got[1].IP != "10.0.0.3" || got[1].Repeat || !got[1].HighRisk {
		t.Fatalf("unexpected high-risk entry: %+v", got[1])
	}
	if !got[2].Repeat || !got[2].HighRisk {
		t.Fatalf("expected both flags: %+v", got[2])
	}
}

func TestWatchlistThresholdIsExclusive(t *testing.T) {
	got := Watchlist([]HostState{{IP: "10.0.0.1", IncidentCount: 1, MaxRiskScore: 3}}, 3)
	if len(got) != 0 {
		t.Fatalf("score equal to threshold should not be flagged: %+v", got)
	}
}

func TestStateFromHash(t *testing.T) {
	st := stateFromHash("10.0.0.5", map[string]string{
		"incident_count": "7",
		"classification": "Malicious",
		"updated_at":     "1700000000",
	})
	if st.IP != "10.0.0.5" || st.IncidentCount != 7 || st.Classification != "Malicious" {
		t.Fatalf("unexpected state: %+v", st)
	}
	if !st.UpdatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected updated_at: %s", st.UpdatedAt)
	}
}

func TestStateFromHashToleratesGarbage(t *testing.T) {
	st := stateFromHash("10.0.0.5", map[string]string{"incident_count": "x", "updated_at": ""})
	if st.IncidentCount != 0 || !st.UpdatedAt.IsZero() {
		t.Fatalf("expected zero values, got %+v", st)
	}
}

func TestKeysUsePrefix(t *testing.T) {
	s := &RedisStore{prefix: "p"}
	if s.hostKey("10.0.0.1") != "p:host:10.0.0.1" || s.activeSetKey() != "p:active" || s.riskSetKey() != "p:max_risk" {
		t.Fatalf("unexpected keys")
	}
}
