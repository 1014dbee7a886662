package extract_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salespulse/sp-ingest/internal/domain"
	"github.com/salespulse/sp-ingest/internal/extract"
	"github.com/salespulse/sp-ingest/internal/store/schema"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var payload any
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	return payload
}

func TestValue(t *testing.T) {
	payload := decode(t, `{
		"event": "invoice.paid",
		"data": {
			"customer": [
				{"email": "ada@example.com", "vip": true},
				{"email": "grace@example.com"}
			],
			"amount": 1250.5,
			"note": null,
			"matrix": [[1, 2], [3, 4]]
		}
	}`)

	tests := []struct {
		name     string
		path     string
		expected any
		found    bool
	}{
		{
			name:     "top-level key",
			path:     "event",
			expected: "invoice.paid",
			found:    true,
		},
		{
			name:     "nested key",
			path:     "data.amount",
			expected: 1250.5,
			found:    true,
		},
		{
			name:     "array index then key",
			path:     "data.customer[0].email",
			expected: "ada@example.com",
			found:    true,
		},
		{
			name:     "second array element",
			path:     "data.customer[1].email",
			expected: "grace@example.com",
			found:    true,
		},
		{
			name:     "repeated index suffixes",
			path:     "data.matrix[1][0]",
			expected: float64(3),
			found:    true,
		},
		{
			name:     "leading dollar prefix",
			path:     "$.data.amount",
			expected: 1250.5,
			found:    true,
		},
		{
			name:  "missing key",
			path:  "data.total",
			found: false,
		},
		{
			name:  "missing intermediate key",
			path:  "meta.source.id",
			found: false,
		},
		{
			name:  "index out of range",
			path:  "data.customer[5].email",
			found: false,
		},
		{
			name:  "negative index",
			path:  "data.customer[-1].email",
			found: false,
		},
		{
			name:  "index into non-array",
			path:  "data.amount[0]",
			found: false,
		},
		{
			name:  "key into scalar",
			path:  "event.name",
			found: false,
		},
		{
			name:  "null value treated as absent",
			path:  "data.note",
			found: false,
		},
		{
			name:  "malformed index",
			path:  "data.customer[one].email",
			found: false,
		},
		{
			name:  "empty path",
			path:  "",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, ok := extract.Value(payload, tt.path)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.expected, value)
			}
		})
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name      string
		value     any
		fieldType domain.FieldType
		expected  any
		kept      bool
	}{
		// Numbers
		{name: "number passthrough", value: 42.5, fieldType: domain.FieldTypeNumber, expected: 42.5, kept: true},
		{name: "numeric string", value: "19.99", fieldType: domain.FieldTypeNumber, expected: 19.99, kept: true},
		{name: "non-numeric string coerces to zero", value: "abc", fieldType: domain.FieldTypeNumber, expected: float64(0), kept: true},
		{name: "true coerces to one", value: true, fieldType: domain.FieldTypeNumber, expected: float64(1), kept: true},
		{name: "false coerces to zero", value: false, fieldType: domain.FieldTypeNumber, expected: float64(0), kept: true},

		// Booleans follow JavaScript truthiness
		{name: "boolean passthrough", value: true, fieldType: domain.FieldTypeBoolean, expected: true, kept: true},
		{name: "zero is falsy", value: float64(0), fieldType: domain.FieldTypeBoolean, expected: false, kept: true},
		{name: "nonzero is truthy", value: 0.1, fieldType: domain.FieldTypeBoolean, expected: true, kept: true},
		{name: "empty string is falsy", value: "", fieldType: domain.FieldTypeBoolean, expected: false, kept: true},
		{name: "string false is truthy", value: "false", fieldType: domain.FieldTypeBoolean, expected: true, kept: true},
		{name: "object is truthy", value: map[string]any{}, fieldType: domain.FieldTypeBoolean, expected: true, kept: true},

		// Dates
		{name: "rfc3339 date", value: "2026-03-01T12:00:00Z", fieldType: domain.FieldTypeDate, expected: "2026-03-01T12:00:00Z", kept: true},
		{name: "date only", value: "2026-03-01", fieldType: domain.FieldTypeDate, expected: "2026-03-01T00:00:00Z", kept: true},
		{name: "epoch milliseconds", value: float64(1767225600000), fieldType: domain.FieldTypeDate, expected: "2026-01-01T00:00:00Z", kept: true},
		{name: "numeric string epoch", value: "1767225600000", fieldType: domain.FieldTypeDate, expected: "2026-01-01T00:00:00Z", kept: true},
		{name: "unparseable date dropped", value: "next tuesday", fieldType: domain.FieldTypeDate, kept: false},
		{name: "boolean date dropped", value: true, fieldType: domain.FieldTypeDate, kept: false},

		// Strings
		{name: "string passthrough", value: "hello", fieldType: domain.FieldTypeString, expected: "hello", kept: true},
		{name: "number to string", value: 12.5, fieldType: domain.FieldTypeString, expected: "12.5", kept: true},
		{name: "integer-valued float to string", value: float64(100), fieldType: domain.FieldTypeString, expected: "100", kept: true},
		{name: "bool to string", value: true, fieldType: domain.FieldTypeString, expected: "true", kept: true},
		{name: "object to json string", value: map[string]any{"a": float64(1)}, fieldType: domain.FieldTypeString, expected: `{"a":1}`, kept: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, ok := extract.Coerce(tt.value, tt.fieldType)
			assert.Equal(t, tt.kept, ok)
			if tt.kept {
				assert.Equal(t, tt.expected, value)
			}
		})
	}
}

func TestFields(t *testing.T) {
	payload := decode(t, `{
		"data": {
			"customer": [{"email": "ada@example.com"}],
			"amount": "249.00",
			"paid_at": "2026-02-14T09:30:00Z"
		}
	}`)

	defs := []*schema.FieldDefinition{
		{Slug: "email", Source: domain.FieldSourceMapped, SourcePath: "data.customer[0].email", FieldType: domain.FieldTypeString},
		{Slug: "amount", Source: domain.FieldSourceMapped, SourcePath: "data.amount", FieldType: domain.FieldTypeNumber},
		{Slug: "paid_at", Source: domain.FieldSourceMapped, SourcePath: "data.paid_at", FieldType: domain.FieldTypeDate},
		{Slug: "missing", Source: domain.FieldSourceMapped, SourcePath: "data.absent", FieldType: domain.FieldTypeString},
		{Slug: "manual_note", Source: domain.FieldSourceManual, SourcePath: "data.amount", FieldType: domain.FieldTypeString},
		{Slug: "unmapped", Source: domain.FieldSourceMapped, SourcePath: "", FieldType: domain.FieldTypeString},
	}

	fields := extract.Fields(payload, defs)

	assert.Equal(t, map[string]any{
		"email":   "ada@example.com",
		"amount":  249.0,
		"paid_at": "2026-02-14T09:30:00Z",
	}, fields)
}
