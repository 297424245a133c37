// Package output writes run summaries: one record per converted report.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Format represents output format types.
type Format string

const (
	FormatNone  Format = "none"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a format name; the empty string means FormatNone.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatNone:
		return FormatNone, nil
	case FormatJSON, FormatJSONL, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported summary format: %s (use json, jsonl, yaml or none)", s)
	}
}

// Writer handles summary serialization.
type Writer interface {
	// Write records one summary entry.
	Write(data any) error

	// Close writes anything buffered.
	Close() error
}

// NewWriter creates a writer for the specified format.
func NewWriter(w io.Writer, format Format) (Writer, error) {
	switch format {
	case FormatNone, "":
		return discardWriter{}, nil
	case FormatJSON:
		return NewJSONWriter(w, "  "), nil
	case FormatJSONL:
		return NewJSONLWriter(w), nil
	case FormatYAML:
		return NewYAMLWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported summary format: %s", format)
	}
}

type discardWriter struct{}

func (discardWriter) Write(any) error { return nil }
func (discardWriter) Close() error    { return nil }
