package models

import "time"

// CriticalNode is a graph node ranked by centrality.
type CriticalNode struct {
	IP    string  `json:"ip"`
	Score float64 `json:"score"`
}

// AttackPath is the shortest observed path between two endpoints.
type AttackPath struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Hops        int    `json:"hops"`
}

// GraphInsights holds the graph analytics attached to a view.
type GraphInsights struct {
	CriticalNodes []CriticalNode `json:"critical_nodes"`
	AttackPaths   []AttackPath   `json:"attack_paths"`
}

// EmptyInsights returns insights with non-nil empty lists.
func EmptyInsights() GraphInsights {
	return GraphInsights{
		CriticalNodes: []CriticalNode{},
		AttackPaths:   []AttackPath{},
	}
}

// Analysis is the enrichment part of an aggregated view.
type Analysis struct {
	SessionID          string    `json:"session_id,omitempty"`
	SourceIP           string    `json:"source_ip"`
	DestinationIP      string    `json:"destination_ip"`
	Protocol           string    `json:"protocol"`
	Classification     string    `json:"classification"`
	RecommendedActions []string  `json:"recommended_actions"`
	OracleActions      []string  `json:"oracle_actions,omitempty"`
	RiskScore          int       `json:"risk_score"`
	RuleTags           []RuleTag `json:"rule_tags,omitempty"`
}

// AggregatedView is the latest security posture. It is replaced wholesale, never mutated.
type AggregatedView struct {
	Analysis      Analysis      `json:"analysis"`
	GraphInsights GraphInsights `json:"graph_insights"`
	UpdatedAt     time.Time     `json:"updated_at,omitzero"`
}

// PlaceholderView is served until the first record has been correlated.
func PlaceholderView() AggregatedView {
	return AggregatedView{
		Analysis: Analysis{
			Classification:     "No data yet",
			RecommendedActions: []string{"Waiting for data"},
		},
		GraphInsights: EmptyInsights(),
	}
}
