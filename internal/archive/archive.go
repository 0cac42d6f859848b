// Package archive stores a copy of every fetched document while passing it
// through to the crawl engine unchanged.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/layered-crawler/internal/crawler"
	"github.com/JakeFAU/layered-crawler/internal/metrics"
)

// Config controls where archived documents land.
type Config struct {
	Prefix      string
	ContentType string
}

// Downloader wraps another Downloader and archives every successful
// download that carries a body. Archive failures are logged and counted but
// never fail the fetch.
type Downloader struct {
	next   crawler.Downloader
	blobs  crawler.BlobStore
	hasher crawler.Hasher
	cfg    Config
	logger *zap.Logger
}

// New builds an archiving Downloader.
func New(next crawler.Downloader, blobs crawler.BlobStore, hasher crawler.Hasher, cfg Config, logger *zap.Logger) (*Downloader, error) {
	if next == nil {
		return nil, fmt.Errorf("archive: downloader is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("archive: blob store is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("archive: hasher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		next:   next,
		blobs:  blobs,
		hasher: hasher,
		cfg:    cfg,
		logger: logger.Named("archive"),
	}, nil
}

// Download implements crawler.Downloader.
func (d *Downloader) Download(ctx context.Context, id string) (crawler.Document, error) {
	doc, err := d.next.Download(ctx, id)
	if err != nil {
		return nil, err
	}
	payload, ok := doc.(crawler.Payload)
	if !ok || len(payload.Body()) == 0 {
		return doc, nil
	}
	uri, err := d.store(ctx, id, payload)
	if err != nil {
		metrics.ObserveArchiveError()
		d.logger.Warn("archive document failed", zap.String("url", id), zap.Error(err))
		return doc, nil
	}
	d.logger.Debug("archived document", zap.String("url", id), zap.String("uri", uri))
	return doc, nil
}

func (d *Downloader) store(ctx context.Context, id string, payload crawler.Payload) (string, error) {
	body := payload.Body()
	digest, err := d.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash body: %w", err)
	}
	host, err := crawler.HostOf(id)
	if err != nil {
		host = "unknown"
	}
	contentType := payload.ContentType()
	if contentType == "" {
		contentType = d.cfg.ContentType
	}
	key := ObjectPath(d.cfg.Prefix, host, digest)
	uri, err := d.blobs.PutObject(ctx, key, contentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

// ObjectPath builds the content-addressed key for a document.
func ObjectPath(prefix, host, digest string) string {
	prefix = strings.Trim(prefix, "/")
	name := digest + ".html"
	if prefix == "" {
		return path.Join(host, name)
	}
	return path.Join(prefix, host, name)
}
