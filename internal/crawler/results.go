package crawler

import (
	"context"
	"maps"
	"sync"
)

// results aggregates fetch outcomes from concurrent units.
type results struct {
	mu         sync.Mutex
	downloaded []string
	seen       map[string]struct{}
	errors     map[string]error
}

func newResults() *results {
	return &results{
		seen:   make(map[string]struct{}),
		errors: make(map[string]error),
	}
}

func (r *results) addDownloaded(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addDownloadedLocked(id)
}

func (r *results) addDownloadedLocked(id string) {
	if _, ok := r.seen[id]; ok {
		return
	}
	r.seen[id] = struct{}{}
	r.downloaded = append(r.downloaded, id)
}

func (r *results) addError(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[id] = err
}

// recordDownloaded adds id unless ctx has already ended. The check and the
// insert share the lock with releaseUnrecorded, so a unit either lands in the
// Result or is released, never both and never neither.
func (r *results) recordDownloaded(ctx context.Context, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	r.addDownloadedLocked(id)
	return true
}

// recordError is recordDownloaded for failures.
func (r *results) recordError(ctx context.Context, id string, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	r.errors[id] = err
	return true
}

// releaseUnrecorded forgets every id in ids that has neither downloaded nor
// failed. Call it only after the ctx of the units owning ids has ended.
func (r *results) releaseUnrecorded(visited *visitedSet, ids []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	released := 0
	for _, id := range ids {
		if _, ok := r.seen[id]; ok {
			continue
		}
		if _, ok := r.errors[id]; ok {
			continue
		}
		visited.forget(id)
		released++
	}
	return released
}

// snapshot copies the current state so callers can keep it after more work lands.
func (r *results) snapshot() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	downloaded := make([]string, len(r.downloaded))
	copy(downloaded, r.downloaded)
	return Result{
		Downloaded: downloaded,
		Errors:     maps.Clone(r.errors),
	}
}
