package graph

import (
	"strings"
	"unicode"
)

// Threat levels stored on graph nodes, in increasing severity.
const (
	LevelUnknown    = "Unknown"
	LevelBenign     = "Benign"
	LevelSuspicious = "Suspicious"
	LevelMalicious  = "Malicious"
)

// KnownClassification is reported for sources that were classified before.
const KnownClassification = "known"

var severity = map[string]int{
	LevelUnknown:    0,
	LevelBenign:     1,
	LevelSuspicious: 2,
	LevelMalicious:  3,
}

// Severity returns the rank of a stored level; unrecognized levels rank as Unknown.
func Severity(level string) int {
	return severity[level]
}

var labelLevels = map[string]string{
	"malicious":  LevelMalicious,
	"suspicious": LevelSuspicious,
	"benign":     LevelBenign,
	"normal":     LevelBenign,
	"safe":       LevelBenign,
}

// Hedges that may precede the label word without changing it.
var labelQualifiers = map[string]bool{
	"likely":      true,
	"possibly":    true,
	"potentially": true,
	"probably":    true,
	"highly":      true,
}

// LevelFor maps a free-form classification onto a stored threat level. Only
// the leading label word counts; a negated label ("not malicious",
// "non-suspicious") maps to Benign and anything else unrecognized, including
// the "known" classification, maps to Unknown.
func LevelFor(classification string) string {
	words := strings.FieldsFunc(strings.ToLower(classification), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	for len(words) > 0 && labelQualifiers[words[0]] {
		words = words[1:]
	}
	if len(words) == 0 {
		return LevelUnknown
	}

	first := words[0]
	negated := false
	switch {
	case first == "not" || first == "no" || first == "non":
		negated = true
		if len(words) < 2 {
			return LevelUnknown
		}
		first = words[1]
	case strings.HasPrefix(first, "non-"):
		negated = true
		first = strings.TrimPrefix(first, "non-")
	}
	first = strings.Trim(first, "-")

	level, ok := labelLevels[first]
	if !ok {
		return LevelUnknown
	}
	if negated {
		if level == LevelMalicious || level == LevelSuspicious {
			return LevelBenign
		}
		return LevelUnknown
	}
	return level
}

// Escalate returns the level a node holds after a new verdict. The stored level
// never decreases in severity, so Malicious is retained once reached.
func Escalate(current, incoming string) string {
	if current == "" {
		return incoming
	}
	if Severity(incoming) > Severity(current) {
		return incoming
	}
	return current
}
