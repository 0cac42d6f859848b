package report

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONWriter outputs pretty-printed JSON, one document per report.
type JSONWriter struct {
	baseWriter
}

// NewJSONWriter creates a JSONWriter that outputs to output.
func NewJSONWriter(output io.Writer) *JSONWriter {
	return &JSONWriter{baseWriter: baseWriter{output: output}}
}

// Write encodes report followed by a newline.
func (w *JSONWriter) Write(report *Report) error {
	enc := json.NewEncoder(w.output)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode json report: %w", err)
	}
	return nil
}
