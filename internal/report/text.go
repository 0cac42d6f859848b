package report

import (
	"fmt"
	"io"
	"strings"
)

// TextWriter prints the indented lists the command line shows by default.
type TextWriter struct {
	baseWriter
}

// NewTextWriter creates a TextWriter that outputs to output.
func NewTextWriter(output io.Writer) *TextWriter {
	return &TextWriter{baseWriter: baseWriter{output: output}}
}

// Write prints the downloads, then the failures if there are any.
func (w *TextWriter) Write(report *Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Downloaded (%d):\n", len(report.Downloaded))
	for _, id := range report.Downloaded {
		fmt.Fprintf(&b, "  %s\n", id)
	}
	if len(report.Failures) > 0 {
		fmt.Fprintf(&b, "Errors (%d):\n", len(report.Failures))
		for _, f := range report.Failures {
			fmt.Fprintf(&b, "  %s: %s\n", f.ID, f.Reason)
		}
	}
	if report.Error != "" {
		fmt.Fprintf(&b, "Stopped early: %s\n", report.Error)
	}
	_, err := io.WriteString(w.output, b.String())
	return err
}
