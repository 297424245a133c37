package output

import (
	"bufio"
	"encoding/json"
	"io"
)

// JSONWriter buffers entries and writes them as one JSON array on Close.
type JSONWriter struct {
	w      *bufio.Writer
	indent string
	items  []any
}

// NewJSONWriter creates a JSON writer; an empty indent produces compact output.
func NewJSONWriter(w io.Writer, indent string) *JSONWriter {
	return &JSONWriter{
		w:      bufio.NewWriter(w),
		indent: indent,
		items:  make([]any, 0),
	}
}

// Write buffers a single entry.
func (w *JSONWriter) Write(data any) error {
	w.items = append(w.items, data)
	return nil
}

// Close writes the buffered entries as a JSON array.
func (w *JSONWriter) Close() error {
	var (
		out []byte
		err error
	)
	if w.indent != "" {
		out, err = json.MarshalIndent(w.items, "", w.indent)
	} else {
		out, err = json.Marshal(w.items)
	}
	if err != nil {
		return err
	}

	if _, err := w.w.Write(out); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// JSONLWriter writes newline-delimited JSON as entries arrive.
type JSONLWriter struct {
	w *bufio.Writer
}

// NewJSONLWriter creates a JSONL writer.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{w: bufio.NewWriter(w)}
}

// Write writes a single entry as a JSON line.
func (w *JSONLWriter) Write(data any) error {
	out, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(out); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// Close flushes the writer.
func (w *JSONLWriter) Close() error {
	return w.w.Flush()
}
