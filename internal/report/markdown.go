package report

import (
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
)

// MarkdownWriter outputs a Markdown document suitable for issues and wikis.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to output.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: baseWriter{output: output}}
}

// Write renders the summary table, the downloads and the failures.
func (w *MarkdownWriter) Write(report *Report) error {
	md := markdown.NewMarkdown(w.output)

	md.H1("Crawl Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Seed", "`" + report.Seed + "`"},
			{"Depth", strconv.Itoa(report.Depth)},
			{"Excludes", excludesText(report.Excludes)},
			{"Downloaded", strconv.Itoa(len(report.Downloaded))},
			{"Errors", strconv.Itoa(len(report.Failures))},
			{"Status", statusText(report)},
		},
	})
	md.PlainText("")
	if report.Error != "" {
		md.PlainText("Stopped early: " + report.Error)
		md.PlainText("")
	}

	md.H2("Downloaded")
	md.PlainText("")
	if len(report.Downloaded) == 0 {
		md.PlainText("Nothing was downloaded.")
	} else {
		md.BulletList(report.Downloaded...)
	}
	md.PlainText("")

	md.H2("Errors")
	md.PlainText("")
	if len(report.Failures) == 0 {
		md.PlainText("No errors.")
	} else {
		rows := make([][]string, 0, len(report.Failures))
		for _, f := range report.Failures {
			rows = append(rows, []string{"`" + f.ID + "`", strings.ReplaceAll(f.Reason, "|", `\|`)})
		}
		md.Table(markdown.TableSet{
			Header: []string{"Identifier", "Reason"},
			Rows:   rows,
		})
	}
	md.PlainText("")

	return md.Build()
}

func excludesText(excludes []string) string {
	if len(excludes) == 0 {
		return "none"
	}
	quoted := make([]string, len(excludes))
	for i, e := range excludes {
		quoted[i] = "`" + e + "`"
	}
	return strings.Join(quoted, ", ")
}

func statusText(report *Report) string {
	if report.Error != "" {
		return "Partial"
	}
	return "Complete"
}
