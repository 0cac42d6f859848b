package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/layered-crawler/internal/crawler"
)

// RunStore keeps crawl runs in memory. Runs are copied on the way in and
// out so callers never share slices with the store.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]crawler.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]crawler.Run)}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run crawler.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("create run %s: %w", run.ID, crawler.ErrRunExists)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// UpdateRun replaces a stored run.
func (s *RunStore) UpdateRun(_ context.Context, run crawler.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("update run %s: %w", run.ID, crawler.ErrRunNotFound)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// GetRun returns a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.Run{}, fmt.Errorf("get run %s: %w", runID, crawler.ErrRunNotFound)
	}
	return cloneRun(run), nil
}

// Len reports how many runs are stored.
func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

func cloneRun(run crawler.Run) crawler.Run {
	out := run
	out.Parameters.Excludes = slices.Clone(run.Parameters.Excludes)
	out.Started = cloneTime(run.Started)
	out.Finished = cloneTime(run.Finished)
	if run.Result != nil {
		res := crawler.Result{
			Downloaded: slices.Clone(run.Result.Downloaded),
			Errors:     maps.Clone(run.Result.Errors),
		}
		out.Result = &res
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	ts := *t
	return &ts
}
