// Package verdict extracts a classification label and recommended actions
// from the free text returned by the classification oracle.
package verdict

import (
	"regexp"
	"strings"

	"threatlens/pkg/models"
)

// UnknownClassification is used when no classification marker is present.
const UnknownClassification = "unknown"

var (
	classificationPattern = regexp.MustCompile(`(?m)^[ \t]*(#{0,6})[ \t]*\**Classification\**:\**[ \t]*(\S.*)$`)
	actionsPattern        = regexp.MustCompile(`(?is)recommended security measures\s*:\s*(.*)`)
	bulletPrefix          = regexp.MustCompile(`^(?:[-*•]+\s*|\d+[.)]\s+)`)
)

// Result is the outcome of parsing oracle output. Parsed reports whether both
// markers were found; missing parts already hold their fallback values.
type Result struct {
	Parsed         bool
	Classification string
	Actions        []string
}

// Fallback is the result used when the oracle output cannot be used at all.
func Fallback() Result {
	return Result{
		Classification: UnknownClassification,
		Actions:        []string{models.MonitorTraffic},
	}
}

// Parse never fails: absent markers fall back field by field.
func Parse(text string) Result {
	res := Fallback()
	classified := false

	if label := classificationLabel(text); label != "" {
		res.Classification = label
		classified = true
	}

	var actions []string
	if m := actionsPattern.FindStringSubmatch(text); m != nil {
		actions = splitActions(m[1])
	}
	if len(actions) > 0 {
		res.Actions = actions
	}

	res.Parsed = classified && len(actions) > 0
	return res
}

// classificationLabel returns the first non-empty label on a marker line,
// preferring heading markers ("### Classification:") over bare ones.
func classificationLabel(text string) string {
	var bare string
	for _, m := range classificationPattern.FindAllStringSubmatch(text, -1) {
		label := cleanLabel(m[2])
		if label == "" {
			continue
		}
		if m[1] != "" {
			return label
		}
		if bare == "" {
			bare = label
		}
	}
	return bare
}

func cleanLabel(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_`\"' ")
	s = strings.TrimRight(s, ".:;,")
	return strings.TrimSpace(s)
}

func splitActions(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			if len(out) > 0 {
				break
			}
			continue
		}
		line = bulletPrefix.ReplaceAllString(line, "")
		line = strings.TrimSpace(strings.Trim(line, "*_`"))
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
