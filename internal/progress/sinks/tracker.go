package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/layered-crawler/internal/progress"
)

// RunProgress is the live view of one run assembled from its events.
type RunProgress struct {
	Layer          int       `json:"layer"`
	Frontier       int       `json:"frontier"`
	Fetched        int       `json:"fetched"`
	FetchFailed    int       `json:"fetch_failed"`
	Extracted      int       `json:"extracted"`
	ExtractFailed  int       `json:"extract_failed"`
	LinksKept      int       `json:"links_kept"`
	Done           bool      `json:"done"`
	LastUpdate     time.Time `json:"last_update"`
	LayersFinished int       `json:"layers_finished"`
}

// Tracker keeps a RunProgress per run. Each batch is collapsed into one delta
// per run before it is applied.
type Tracker struct {
	mu   sync.RWMutex
	runs map[[16]byte]*RunProgress
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{runs: make(map[[16]byte]*RunProgress)}
}

// Consume folds batch into the per-run views.
func (t *Tracker) Consume(_ context.Context, batch []progress.Event) error {
	deltas := make(map[[16]byte]*RunProgress)
	for _, evt := range batch {
		d := deltas[evt.RunID]
		if d == nil {
			d = &RunProgress{Layer: -1}
			deltas[evt.RunID] = d
		}
		switch evt.Stage {
		case progress.StageLayerStart:
			d.Layer = evt.Layer
			d.Frontier = evt.Count
		case progress.StageLayerDone:
			d.LayersFinished++
		case progress.StageFetchDone:
			if evt.Failed {
				d.FetchFailed++
			} else {
				d.Fetched++
			}
		case progress.StageExtractDone:
			if evt.Failed {
				d.ExtractFailed++
			} else {
				d.Extracted++
				d.LinksKept += evt.Count
			}
		case progress.StageRunDone, progress.StageRunError:
			d.Done = true
		}
		if evt.TS.After(d.LastUpdate) {
			d.LastUpdate = evt.TS
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, d := range deltas {
		cur := t.runs[id]
		if cur == nil {
			cur = &RunProgress{}
			t.runs[id] = cur
		}
		if d.Layer >= 0 {
			cur.Layer = d.Layer
			cur.Frontier = d.Frontier
		}
		cur.LayersFinished += d.LayersFinished
		cur.Fetched += d.Fetched
		cur.FetchFailed += d.FetchFailed
		cur.Extracted += d.Extracted
		cur.ExtractFailed += d.ExtractFailed
		cur.LinksKept += d.LinksKept
		cur.Done = cur.Done || d.Done
		if d.LastUpdate.After(cur.LastUpdate) {
			cur.LastUpdate = d.LastUpdate
		}
	}
	return nil
}

// Progress returns the view for runID.
func (t *Tracker) Progress(runID string) (RunProgress, bool) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return RunProgress{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.runs[[16]byte(id)]
	if !ok {
		return RunProgress{}, false
	}
	return *p, true
}

// Forget drops the view for runID.
func (t *Tracker) Forget(runID string) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.runs, [16]byte(id))
}

// Close implements progress.Sink.
func (t *Tracker) Close(context.Context) error {
	return nil
}
