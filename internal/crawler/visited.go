package crawler

import "sync"

// visitedSet remembers every identifier admitted to scheduling.
type visitedSet struct {
	seen sync.Map
}

// markIfNew records id and reports whether this call was the first to do so.
func (v *visitedSet) markIfNew(id string) bool {
	_, loaded := v.seen.LoadOrStore(id, struct{}{})
	return !loaded
}

// forget drops id so a later crawl may schedule it again.
func (v *visitedSet) forget(id string) {
	v.seen.Delete(id)
}

func (v *visitedSet) contains(id string) bool {
	_, ok := v.seen.Load(id)
	return ok
}
