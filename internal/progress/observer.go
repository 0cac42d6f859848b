package progress

import (
	"context"
	"time"

	"github.com/JakeFAU/layered-crawler/internal/crawler"
)

type runIDKey struct{}

// WithRunID tags ctx so engine notifications made under it are attributed
// to runID.
func WithRunID(ctx context.Context, runID [16]byte) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom returns the run ID stored by WithRunID.
func RunIDFrom(ctx context.Context) ([16]byte, bool) {
	id, ok := ctx.Value(runIDKey{}).([16]byte)
	return id, ok
}

// Observer turns engine notifications into events. Notifications made under
// a context without a run ID are ignored.
type Observer struct {
	emitter Emitter
	now     func() time.Time
}

var _ crawler.Observer = (*Observer)(nil)

// NewObserver returns an Observer feeding emitter.
func NewObserver(emitter Emitter) *Observer {
	return &Observer{emitter: emitter, now: func() time.Time { return time.Now().UTC() }}
}

func (o *Observer) emit(ctx context.Context, evt Event) {
	id, ok := RunIDFrom(ctx)
	if !ok || o.emitter == nil {
		return
	}
	evt.RunID = id
	evt.TS = o.now()
	o.emitter.Emit(evt)
}

// LayerStarted implements crawler.Observer.
func (o *Observer) LayerStarted(ctx context.Context, layer, size int) {
	o.emit(ctx, Event{Stage: StageLayerStart, Layer: layer, Count: size})
}

// LayerFinished implements crawler.Observer.
func (o *Observer) LayerFinished(ctx context.Context, layer, discovered int, elapsed time.Duration) {
	o.emit(ctx, Event{Stage: StageLayerDone, Layer: layer, Count: discovered, Dur: elapsed})
}

// Fetched implements crawler.Observer.
func (o *Observer) Fetched(ctx context.Context, id string, err error, elapsed time.Duration) {
	evt := Event{Stage: StageFetchDone, URL: id, Site: siteOf(id), Dur: elapsed}
	if err != nil {
		evt.Failed = true
		evt.Note = err.Error()
	}
	o.emit(ctx, evt)
}

// Extracted implements crawler.Observer.
func (o *Observer) Extracted(ctx context.Context, id string, links int, err error) {
	evt := Event{Stage: StageExtractDone, URL: id, Site: siteOf(id), Count: links}
	if err != nil {
		evt.Failed = true
		evt.Note = err.Error()
	}
	o.emit(ctx, evt)
}

func siteOf(id string) string {
	host, err := crawler.HostOf(id)
	if err != nil {
		return "unknown"
	}
	return host
}
