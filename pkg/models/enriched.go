package models

import "time"

// MonitorTraffic is the fallback recommendation used whenever nothing better is known.
const MonitorTraffic = "Monitor traffic"

// EnrichedRecord is published by the classifier to the incident queue.
type EnrichedRecord struct {
	SessionID          string    `json:"session_id,omitempty"`
	SourceIP           string    `json:"source_ip"`
	DestinationIP      string    `json:"destination_ip"`
	Protocol           string    `json:"protocol"`
	Classification     string    `json:"classification"`
	RecommendedActions []string  `json:"recommended_actions"`
	SourcePort         int       `json:"source_port"`
	DestinationPort    int       `json:"destination_port"`
	Packets            int64     `json:"packets"`
	BytesTransferred   string    `json:"bytes_transferred"`
	Duration           float64   `json:"duration"`
	ReceivedAt         time.Time `json:"received_at,omitzero"`
	RuleTags           []RuleTag `json:"rule_tags,omitempty"`
}

// NewEnrichedRecord copies the identifying fields and metrics of a flow into a record.
func NewEnrichedRecord(flow NormalizedFlow, classification string, actions []string) EnrichedRecord {
	if len(actions) == 0 {
		actions = []string{MonitorTraffic}
	}
	return EnrichedRecord{
		SessionID:          flow.SessionID,
		SourceIP:           flow.SourceIP,
		DestinationIP:      flow.DestinationIP,
		Protocol:           flow.Protocol,
		Classification:     classification,
		RecommendedActions: actions,
		SourcePort:         flow.SourcePort,
		DestinationPort:    flow.DestinationPort,
		Packets:            flow.Packets,
		BytesTransferred:   flow.BytesTransferred,
		Duration:           flow.Duration,
		ReceivedAt:         flow.ReceivedAt,
	}
}
