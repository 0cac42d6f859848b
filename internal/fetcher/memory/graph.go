// Package memory provides an in-memory link graph that satisfies
// crawler.Downloader. It backs dry runs and tests, and records every fetch
// so concurrency limits can be checked afterwards.
package memory

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/layered-crawler/internal/crawler"
)

// ErrNotFound is returned for identifiers that are not in the graph.
var ErrNotFound = errors.New("page not found")

// EventKind tags a fetch log entry.
type EventKind string

// Fetch log entry kinds.
const (
	FetchStarted  EventKind = "start"
	FetchFinished EventKind = "finish"
)

// Event is one entry in the fetch log.
type Event struct {
	ID   string
	Host string
	Kind EventKind
	At   time.Time
}

type page struct {
	links      []string
	fetchErr   error
	extractErr error
	delay      time.Duration
}

// Graph is a static link graph. Configure it before crawling; Download is
// safe for concurrent use.
type Graph struct {
	mu      sync.Mutex
	pages   map[string]*page
	delay   time.Duration
	fetches map[string]int
	active  map[string]int
	peak    map[string]int
	events  []Event
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		pages:   make(map[string]*page),
		fetches: make(map[string]int),
		active:  make(map[string]int),
		peak:    make(map[string]int),
	}
}

// AddPage registers id with its outgoing links.
func (g *Graph) AddPage(id string, links ...string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pageLocked(id).links = append([]string(nil), links...)
	return g
}

// FailFetch makes every download of id fail with err.
func (g *Graph) FailFetch(id string, err error) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pageLocked(id).fetchErr = err
	return g
}

// FailExtract makes link extraction for id fail with err.
func (g *Graph) FailExtract(id string, err error) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pageLocked(id).extractErr = err
	return g
}

// SetDelay makes every download take at least d.
func (g *Graph) SetDelay(d time.Duration) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delay = d
	return g
}

// SetPageDelay overrides the download delay for one identifier.
func (g *Graph) SetPageDelay(id string, d time.Duration) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pageLocked(id).delay = d
	return g
}

func (g *Graph) pageLocked(id string) *page {
	p, ok := g.pages[id]
	if !ok {
		p = &page{}
		g.pages[id] = p
	}
	return p
}

// Download implements crawler.Downloader.
func (g *Graph) Download(ctx context.Context, id string) (crawler.Document, error) {
	host, err := crawler.HostOf(id)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	p, ok := g.pages[id]
	delay := g.delay
	if ok && p.delay > 0 {
		delay = p.delay
	}
	g.fetches[id]++
	g.active[host]++
	if g.active[host] > g.peak[host] {
		g.peak[host] = g.active[host]
	}
	g.events = append(g.events, Event{ID: id, Host: host, Kind: FetchStarted, At: time.Now()})
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.active[host]--
		g.events = append(g.events, Event{ID: id, Host: host, Kind: FetchFinished, At: time.Now()})
		g.mu.Unlock()
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("download %s: %w", id, ctx.Err())
		case <-timer.C:
		}
	}

	if !ok {
		return nil, fmt.Errorf("download %s: %w", id, ErrNotFound)
	}
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	return &Document{
		URL:        id,
		links:      append([]string(nil), p.links...),
		extractErr: p.extractErr,
	}, nil
}

// Fetches reports how many times id was downloaded.
func (g *Graph) Fetches(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches[id]
}

// TotalFetches reports the number of downloads across all identifiers.
func (g *Graph) TotalFetches() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.fetches {
		total += n
	}
	return total
}

// PeakConcurrency reports the most downloads ever in flight at once for host.
func (g *Graph) PeakConcurrency(host string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak[host]
}

// Events returns a copy of the fetch log in the order entries were recorded.
func (g *Graph) Events() []Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Event, len(g.events))
	copy(out, g.events)
	return out
}

// Document is a page served from the graph.
type Document struct {
	URL        string
	links      []string
	extractErr error
}

// ExtractLinks implements crawler.Document.
func (d *Document) ExtractLinks() ([]string, error) {
	if d.extractErr != nil {
		return nil, d.extractErr
	}
	return append([]string(nil), d.links...), nil
}

// Body renders a minimal HTML page listing the links.
func (d *Document) Body() []byte {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, l := range d.links {
		esc := html.EscapeString(l)
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, esc, esc)
	}
	b.WriteString("</body></html>")
	return []byte(b.String())
}

// ContentType implements crawler.Payload.
func (d *Document) ContentType() string {
	return "text/html; charset=utf-8"
}
