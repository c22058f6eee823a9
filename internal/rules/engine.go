package rules

import "threatlens/pkg/models"

// Engine tags flows with matching detection rules.
type Engine interface {
	Apply(flow *models.NormalizedFlow) []models.RuleTag
}

// NoopEngine returns no tags.
type NoopEngine struct{}

// Apply returns an empty tag list.
func (n *NoopEngine) Apply(flow *models.NormalizedFlow) []models.RuleTag {
	return nil
}
