package viewclickhouse

import (
	"reflect"
	"testing"
	"time"

	"threatlens/pkg/models"
)

func TestRowFlattensView(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	v := &models.AggregatedView{
		Analysis: models.Analysis{
			SourceIP:           "10.0.0.1",
			DestinationIP:      "10.0.0.2",
			Classification:     "Suspicious",
			RecommendedActions: []string{"Monitor traffic"},
			RiskScore:          4,
		},
		GraphInsights: models.GraphInsights{
			CriticalNodes: []models.CriticalNode{{IP: "10.0.0.2", Score: 0.4}, {IP: "10.0.0.1", Score: 0.2}},
			AttackPaths:   []models.AttackPath{{Source: "10.0.0.1", Destination: "10.0.0.2", Hops: 1}},
		},
		UpdatedAt: at,
	}
	row := Row(v)
	if !row.UpdatedAt.Equal(at) || row.RiskScore != 4 || row.AttackHops != 1 {
		t.Fatalf("unexpected row: %+v", row)
	}
	if !reflect.DeepEqual(row.CriticalNodes, []string{"10.0.0.2", "10.0.0.1"}) {
		t.Fatalf("critical nodes = %v", row.CriticalNodes)
	}
	if row.OracleActions == nil {
		t.Fatalf("array columns must not be nil")
	}
}

func TestRowWithoutPath(t *testing.T) {
	v := models.PlaceholderView()
	if row := Row(&v); row.AttackHops != -1 || row.UpdatedAt.IsZero() {
		t.Fatalf("unexpected row: %+v", row)
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := quoteIdent("db`x"); got != "`dbx`" {
		t.Fatalf("quoteIdent = %q", got)
	}
}

func TestNewWriterRequiresAddr(t *testing.T) {
	if _, err := NewWriter(t.Context(), Config{}); err == nil {
		t.Fatalf("expected error")
	}
}
