package correlator

import (
	"math"
	"reflect"
	"testing"

	"threatlens/pkg/models"
)

func TestScoreWeights(t *testing.T) {
	s := NewScorer(nil)
	cases := []struct {
		name string
		rec  models.EnrichedRecord
		want int
	}{
		{"quiet flow", models.EnrichedRecord{DestinationPort: 80, Packets: 10, BytesTransferred: "0.5M"}, 0},
		{"ssh", models.EnrichedRecord{DestinationPort: 22}, 2},
		{"rdp", models.EnrichedRecord{DestinationPort: 3389}, 5},
		{"smb", models.EnrichedRecord{DestinationPort: 445}, 5},
		{"tls source port", models.EnrichedRecord{SourcePort: 443}, 1},
		{"malicious source", models.EnrichedRecord{SourceIP: "185.220.101.45"}, 5},
		{"both malicious", models.EnrichedRecord{SourceIP: "185.220.101.45", DestinationIP: "192.168.1.21"}, 10},
		{"packets 6000", models.EnrichedRecord{Packets: 6000}, 2},
		{"packets 20000", models.EnrichedRecord{Packets: 20000}, 5},
		{"packets at boundary", models.EnrichedRecord{Packets: 5000}, 0},
		{"volume", models.EnrichedRecord{BytesTransferred: "12M"}, 2},
		{"volume in gigabytes", models.EnrichedRecord{BytesTransferred: "1G"}, 2},
		{"volume in kilobytes is converted", models.EnrichedRecord{BytesTransferred: "800K"}, 0},
		{"bare volume is megabytes", models.EnrichedRecord{BytesTransferred: "800"}, 2},
		{"huge packet count", models.EnrichedRecord{Packets: math.MaxInt64}, 5},
		{"unreadable volume", models.EnrichedRecord{BytesTransferred: "lots"}, 0},
		{"duration 600", models.EnrichedRecord{Duration: 600}, 2},
		{"duration 2000", models.EnrichedRecord{Duration: 2000}, 5},
		{"rule tag", models.EnrichedRecord{RuleTags: []models.RuleTag{{Severity: "high"}, {Severity: "low"}}}, 6},
	}
	for _, tc := range cases {
		if got := s.Score(tc.rec); got != tc.want {
			t.Fatalf("%s: score = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestScoreRDPHeavyLongFlow(t *testing.T) {
	rec := models.EnrichedRecord{
		SourceIP:         "10.0.0.7",
		DestinationIP:    "10.0.0.8",
		DestinationPort:  3389,
		Packets:          20000,
		BytesTransferred: "0.5M",
		Duration:         2000,
	}
	score := NewScorer(nil).Score(rec)
	if score < 13 {
		t.Fatalf("score = %d, want at least 13", score)
	}
	want := []string{"Block suspicious traffic", "Inspect logs for anomalies", "Enable deep packet inspection"}
	if got := RecommendedActions(score, DefaultActionThreshold); !reflect.DeepEqual(got, want) {
		t.Fatalf("actions = %v", got)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	s := NewScorer(nil)
	rec := models.EnrichedRecord{SourceIP: "185.220.101.45", DestinationPort: 445, Packets: 7000, Duration: 400}
	first := s.Score(rec)
	for i := 0; i < 10; i++ {
		if got := s.Score(rec); got != first {
			t.Fatalf("score changed from %d to %d", first, got)
		}
	}
}

func TestCustomMaliciousSet(t *testing.T) {
	s := NewScorer([]string{" 203.0.113.9 ", ""})
	if !s.IsMalicious("203.0.113.9") || s.IsMalicious("185.220.101.45") {
		t.Fatalf("custom set not applied")
	}
}

func TestRecommendedActionsThreshold(t *testing.T) {
	if got := RecommendedActions(3, 3); !reflect.DeepEqual(got, []string{"Monitor traffic"}) {
		t.Fatalf("score at threshold = %v", got)
	}
	if got := RecommendedActions(4, 3); len(got) != 3 {
		t.Fatalf("score above threshold = %v", got)
	}
	got := RecommendedActions(0, 3)
	got[0] = "mutated"
	if RoutineActions[0] != "Monitor traffic" {
		t.Fatalf("shared action list was mutated")
	}
}
