// Package extract resolves dot/bracket paths against arbitrary JSON payloads
// and coerces the addressed values to their declared field types.
package extract

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/salespulse/sp-ingest/internal/domain"
	"github.com/salespulse/sp-ingest/internal/store/schema"
)

// Fields resolves every mapped field definition against the payload and
// returns a flat slug-keyed map. Fields that fail to resolve or coerce are
// omitted, never present with a null placeholder.
func Fields(payload any, defs []*schema.FieldDefinition) map[string]any {
	fields := make(map[string]any)
	for _, def := range defs {
		if def.Source != domain.FieldSourceMapped || def.SourcePath == "" {
			continue
		}

		raw, ok := Value(payload, def.SourcePath)
		if !ok {
			continue
		}

		coerced, ok := Coerce(raw, def.FieldType)
		if !ok {
			continue
		}

		fields[def.Slug] = coerced
	}
	return fields
}

// Value resolves a dot/bracket path against a decoded JSON value. The second
// return is false when any intermediate segment is absent; traversal never
// panics.
//
// Grammar: an optional leading "$" or "$." is stripped; segments are separated
// by "."; a segment may carry one or more trailing "[<integer>]" suffixes to
// index into arrays reached at that key, e.g. "data.customer[0].email".
func Value(payload any, path string) (any, bool) {
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return nil, false
	}

	current := payload
	for _, segment := range strings.Split(path, ".") {
		key, indexes, ok := parseSegment(segment)
		if !ok {
			return nil, false
		}

		if key != "" {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = obj[key]
			if !ok {
				return nil, false
			}
		}

		for _, idx := range indexes {
			arr, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]
		}
	}

	if current == nil {
		return nil, false
	}
	return current, true
}

// parseSegment splits one path segment into its key and array indexes
func parseSegment(segment string) (string, []int, bool) {
	if segment == "" {
		return "", nil, false
	}

	key := segment
	var indexes []int
	for {
		open := strings.LastIndex(key, "[")
		if open < 0 {
			break
		}
		if !strings.HasSuffix(key, "]") {
			return "", nil, false
		}
		idx, err := strconv.Atoi(key[open+1 : len(key)-1])
		if err != nil {
			return "", nil, false
		}
		indexes = append([]int{idx}, indexes...)
		key = key[:open]
	}

	return key, indexes, true
}

// Coerce converts a raw extracted value to the declared field type. The
// second return is false when the field should be dropped from the extracted
// map (currently only unparseable dates).
func Coerce(value any, fieldType domain.FieldType) (any, bool) {
	switch fieldType {
	case domain.FieldTypeNumber:
		return toNumber(value), true
	case domain.FieldTypeBoolean:
		return truthy(value), true
	case domain.FieldTypeDate:
		t, ok := toTime(value)
		if !ok {
			// Unparseable dates are rejected rather than stored as a sentinel
			return nil, false
		}
		return t.UTC().Format(time.RFC3339), true
	default:
		return toString(value), true
	}
}

// toNumber parses the value as a float; non-numeric input coerces to 0
func toNumber(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// truthy applies JavaScript-style truthiness to the raw value
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		// Objects and arrays are always truthy
		return true
	}
}

// dateLayouts are tried in order when parsing string timestamps
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// toTime parses the value as a timestamp. Numeric values are interpreted as
// milliseconds since the Unix epoch, matching how the upstream platforms
// serialize event times.
func toTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case float64:
		return time.UnixMilli(int64(v)), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		// Numeric strings fall back to epoch milliseconds
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// toString stringifies the value; composite values are JSON-encoded
func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
