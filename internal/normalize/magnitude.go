package normalize

import (
	"strconv"
	"strings"
	"unicode"
)

// Megabytes reads a byte magnitude such as "2.1M", "5.0 M", "800K" or "1.2 GB"
// and returns it in megabytes. A bare number is taken as megabytes; anything
// unreadable is zero.
func Megabytes(s string) float64 {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := rune(s[end])
		if unicode.IsDigit(c) || c == '.' || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil || v < 0 {
		return 0
	}

	unit := strings.ToUpper(strings.TrimSpace(s[end:]))
	switch {
	case strings.HasPrefix(unit, "K"):
		return v / 1024
	case strings.HasPrefix(unit, "G"):
		return v * 1024
	case strings.HasPrefix(unit, "T"):
		return v * 1024 * 1024
	case unit == "B" || strings.HasPrefix(unit, "BYTE"):
		return v / (1024 * 1024)
	default:
		return v
	}
}
