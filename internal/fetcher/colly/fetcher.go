// Package collyfetcher implements crawler.Downloader using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/layered-crawler/internal/crawler"
	"github.com/JakeFAU/layered-crawler/internal/fetcher"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	Headers      http.Header
}

// Downloader fetches pages with one cloned Colly collector per request.
type Downloader struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Downloader.
func New(cfg Config) *Downloader {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Downloader{cfg: cfg, baseCollector: c}
}

// Download executes a single HTTP GET. Non-2xx responses are failures.
func (d *Downloader) Download(ctx context.Context, id string) (crawler.Document, error) {
	var (
		page     *fetcher.Page
		fetchErr error
	)
	start := time.Now()
	collector := d.buildCollector(ctx)
	d.configureCollectorHooks(collector, &page, &fetchErr)

	if err := d.runCollector(ctx, collector, id, &fetchErr); err != nil {
		return nil, err
	}
	if page == nil {
		return nil, fmt.Errorf("colly fetch %s: no response", id)
	}
	page.URL = id
	page.Duration = time.Since(start)
	return page, nil
}

func (d *Downloader) buildCollector(ctx context.Context) *colly.Collector {
	collector := d.baseCollector.Clone()
	if d.cfg.UserAgent != "" {
		collector.UserAgent = d.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	// the engine owns deduplication
	collector.AllowURLRevisit = true
	if d.cfg.MaxBodyBytes > 0 {
		collector.MaxBodySize = d.cfg.MaxBodyBytes
	}
	timeout := d.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.Context = ctx
	return collector
}

func (d *Downloader) configureCollectorHooks(hooks collectorHooks, page **fetcher.Page, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range d.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		var header http.Header
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		*page = fetcher.NewPage(r.Request.URL.String(), r.Request.URL.String(), r.StatusCode, header, r.Body)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (d *Downloader) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
