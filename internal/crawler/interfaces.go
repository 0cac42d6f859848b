package crawler

import (
	"context"
	"io"
	"time"
)

// Downloader fetches a single identifier and returns the parsed document.
type Downloader interface {
	Download(ctx context.Context, id string) (Document, error)
}

// Document is a fetched page that can report its outgoing links.
type Document interface {
	ExtractLinks() ([]string, error)
}

// Payload is implemented by documents that carry a raw body worth archiving.
type Payload interface {
	Body() []byte
	ContentType() string
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RunStore tracks crawl runs and their results.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
}

// ResultRecorder durably records a finished run.
type ResultRecorder interface {
	RecordRun(ctx context.Context, run Run) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Observer receives engine lifecycle notifications. Implementations must not
// block; they are called from worker goroutines.
type Observer interface {
	LayerStarted(ctx context.Context, layer, size int)
	LayerFinished(ctx context.Context, layer, discovered int, elapsed time.Duration)
	Fetched(ctx context.Context, id string, err error, elapsed time.Duration)
	Extracted(ctx context.Context, id string, links int, err error)
}

type nopObserver struct{}

func (nopObserver) LayerStarted(context.Context, int, int) {}

func (nopObserver) LayerFinished(context.Context, int, int, time.Duration) {}

func (nopObserver) Fetched(context.Context, string, error, time.Duration) {}

func (nopObserver) Extracted(context.Context, string, int, error) {}
