package report

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLWriter outputs a YAML document per report.
type YAMLWriter struct {
	baseWriter
}

// NewYAMLWriter creates a YAMLWriter that outputs to output.
func NewYAMLWriter(output io.Writer) *YAMLWriter {
	return &YAMLWriter{baseWriter: baseWriter{output: output}}
}

// Write encodes report with two-space indentation.
func (w *YAMLWriter) Write(report *Report) error {
	enc := yaml.NewEncoder(w.output)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode yaml report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush yaml report: %w", err)
	}
	return nil
}
