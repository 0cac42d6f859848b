// Package fetcher holds the page type shared by the network downloaders.
package fetcher

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Page is a fetched HTML document. It satisfies crawler.Document and
// crawler.Payload.
type Page struct {
	URL          string
	FinalURL     string
	StatusCode   int
	Header       http.Header
	Duration     time.Duration
	UsedHeadless bool

	body []byte
}

// NewPage copies body into a new Page.
func NewPage(requested, final string, status int, header http.Header, body []byte) *Page {
	if final == "" {
		final = requested
	}
	return &Page{
		URL:        requested,
		FinalURL:   final,
		StatusCode: status,
		Header:     header,
		body:       append([]byte(nil), body...),
	}
}

// Body returns the raw response body.
func (p *Page) Body() []byte { return p.body }

// ContentType returns the response content type, defaulting to HTML.
func (p *Page) ContentType() string {
	if ct := p.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "text/html; charset=utf-8"
}

// ExtractLinks returns the absolute http(s) targets of every a[href] in the
// page, resolved against the final URL, without fragments, deduplicated in
// document order.
func (p *Page) ExtractLinks() ([]string, error) {
	base, err := url.Parse(p.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if len(p.body) == 0 {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = b
		}
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
			return
		}
		u, err := base.Parse(href)
		if err != nil {
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		u.Fragment = ""
		u.RawFragment = ""
		key := u.String()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		links = append(links, key)
	})
	return links, nil
}
