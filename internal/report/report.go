package report

import (
	"github.com/JakeFAU/layered-crawler/internal/crawler"
)

// Failure is one identifier that could not be fetched or extracted.
type Failure struct {
	ID     string `json:"id" yaml:"id"`
	Reason string `json:"reason" yaml:"reason"`
}

// Report is the rendered view of one crawl.
type Report struct {
	Seed       string    `json:"url" yaml:"url"`
	Depth      int       `json:"depth" yaml:"depth"`
	Excludes   []string  `json:"excludes,omitempty" yaml:"excludes,omitempty"`
	Downloaded []string  `json:"downloaded" yaml:"downloaded"`
	Failures   []Failure `json:"errors" yaml:"errors"`
	// Error is set when the crawl stopped before finishing; the lists then
	// hold the partial result.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// New builds a Report from a crawl result. Downloads keep completion order;
// failures are sorted by identifier.
func New(seed string, depth int, excludes []string, result crawler.Result, crawlErr error) *Report {
	r := &Report{
		Seed:       seed,
		Depth:      depth,
		Excludes:   excludes,
		Downloaded: []string{},
		Failures:   []Failure{},
	}
	for _, o := range result.Outcomes() {
		if o.Failed {
			r.Failures = append(r.Failures, Failure{ID: o.ID, Reason: o.Reason})
			continue
		}
		r.Downloaded = append(r.Downloaded, o.ID)
	}
	if crawlErr != nil {
		r.Error = crawlErr.Error()
	}
	return r
}
