package correlator

import (
	"strings"

	"threatlens/internal/normalize"
	"threatlens/pkg/models"
)

// DefaultMaliciousIPs seeds the known-malicious set when none is configured.
var DefaultMaliciousIPs = []string{"185.220.101.45", "192.168.1.21"}

var (
	highRiskPorts = map[int]bool{22: true, 3389: true, 445: true, 8080: true, 53: true, 3306: true}
	criticalPorts = map[int]bool{3389: true, 445: true}
)

// Scorer computes the risk score of enriched records. It holds no mutable state.
type Scorer struct {
	malicious map[string]struct{}
}

// NewScorer creates a scorer with the given known-malicious addresses.
func NewScorer(maliciousIPs []string) *Scorer {
	if maliciousIPs == nil {
		maliciousIPs = DefaultMaliciousIPs
	}
	set := make(map[string]struct{}, len(maliciousIPs))
	for _, ip := range maliciousIPs {
		if ip = strings.TrimSpace(ip); ip != "" {
			set[ip] = struct{}{}
		}
	}
	return &Scorer{malicious: set}
}

// Score weighs ports, endpoint reputation, volume, duration and rule matches.
func (s *Scorer) Score(rec models.EnrichedRecord) int {
	score := 0

	if highRiskPorts[rec.DestinationPort] {
		score += 2
	}
	if criticalPorts[rec.DestinationPort] {
		score += 3
	}
	if rec.SourcePort == 443 {
		score++
	}

	if s.IsMalicious(rec.SourceIP) {
		score += 5
	}
	if s.IsMalicious(rec.DestinationIP) {
		score += 5
	}

	if rec.Packets > 5000 {
		score += 2
	}
	if rec.Packets > 10000 {
		score += 3
	}
	if normalize.Megabytes(rec.BytesTransferred) > 10 {
		score += 2
	}

	if rec.Duration > 300 {
		score += 2
	}
	if rec.Duration > 1800 {
		score += 3
	}

	for _, tag := range rec.RuleTags {
		score += severityWeight(tag.Severity)
	}
	return score
}

// IsMalicious reports whether ip is in the known-malicious set.
func (s *Scorer) IsMalicious(ip string) bool {
	_, ok := s.malicious[ip]
	return ok
}

func severityWeight(level string) int {
	switch strings.ToLower(level) {
	case "critical":
		return 7
	case "high":
		return 5
	case "medium":
		return 3
	case "low":
		return 1
	default:
		return 1
	}
}

// Recommended actions for scores above and at or below the threshold.
var (
	ElevatedActions = []string{"Block suspicious traffic", "Inspect logs for anomalies", "Enable deep packet inspection"}
	RoutineActions  = []string{models.MonitorTraffic}
)

// DefaultActionThreshold separates routine from elevated recommendations.
const DefaultActionThreshold = 3

// RecommendedActions returns a fresh action list for score.
func RecommendedActions(score, threshold int) []string {
	src := RoutineActions
	if score > threshold {
		src = ElevatedActions
	}
	return append([]string(nil), src...)
}
