package parsers

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseFloat accepts JSON numbers, plain floats, and numeric strings.
func ParseFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ParseTokenCount reads a non-negative token count. Fractional values are
// truncated; values that do not fit in an int64 are rejected.
func ParseTokenCount(val any) (int64, bool) {
	f, ok := ParseFloat(val)
	if !ok || f < 0 || math.IsNaN(f) || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// ParseTimestamp accepts RFC3339 strings and epoch values. Epoch numbers above
// 1e12 are milliseconds, smaller ones seconds.
func ParseTimestamp(val any) (time.Time, bool) {
	if s, ok := val.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z0700", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}

	f, ok := ParseFloat(val)
	if !ok || f <= 0 {
		return time.Time{}, false
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	return time.Unix(int64(f), 0).UTC(), true
}

func stringValue(val any) string {
	s, ok := val.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// contentText flattens message content: either a string or a list of parts
// whose text members are joined with a single space.
func contentText(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			switch part := item.(type) {
			case string:
				parts = append(parts, part)
			case map[string]any:
				parts = append(parts, stringOrEmpty(part["text"]))
			default:
				parts = append(parts, "")
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

func stringOrEmpty(val any) string {
	s, _ := val.(string)
	return s
}
