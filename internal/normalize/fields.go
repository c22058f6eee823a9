package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// String returns the first non-empty value among keys, rendered as text.
func String(root map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := root[key]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(stringify(v)); s != "" {
			return s
		}
	}
	return ""
}

// StringOr is String with a default.
func StringOr(root map[string]interface{}, def string, keys ...string) string {
	if s := String(root, keys...); s != "" {
		return s
	}
	return def
}

// Int returns the first numeric value among keys. Fractions are truncated,
// values outside the int64 range saturate and non-numeric values count as
// absent.
func Int(root map[string]interface{}, keys ...string) int64 {
	for _, key := range keys {
		if f, ok := number(root[key]); ok {
			return saturate(f)
		}
	}
	return 0
}

func saturate(f float64) int64 {
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(f)
	}
}

// Float returns the first numeric value among keys.
func Float(root map[string]interface{}, keys ...string) float64 {
	for _, key := range keys {
		if f, ok := number(root[key]); ok {
			return f
		}
	}
	return 0
}

func number(v interface{}) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case nil:
		return 0, false
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case int32:
		f = float64(val)
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case bool:
		return 0, false
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case map[string]interface{}, []interface{}:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
