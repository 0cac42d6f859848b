package crawler

import "fmt"

// StateScope controls how long visited/downloaded/error state lives.
type StateScope string

const (
	// ScopeEngine keeps one state for the engine lifetime: later Crawl calls
	// skip identifiers seen by earlier ones and their Results accumulate.
	ScopeEngine StateScope = "engine"
	// ScopeCall gives every Crawl call fresh state.
	ScopeCall StateScope = "call"
)

// ZeroDepthPolicy decides what Crawl does with depth < 1.
type ZeroDepthPolicy string

const (
	// ZeroDepthNothing fetches nothing and leaves the seed unvisited.
	ZeroDepthNothing ZeroDepthPolicy = "nothing"
	// ZeroDepthSeedOnly fetches the seed without expanding it.
	ZeroDepthSeedOnly ZeroDepthPolicy = "seed"
)

// Options sizes the engine and selects its open-ended behaviors.
type Options struct {
	FetchWorkers   int
	ExtractWorkers int
	PerHost        int
	Scope          StateScope
	ZeroDepth      ZeroDepthPolicy
	Observer       Observer
}

func (o Options) withDefaults() Options {
	if o.Scope == "" {
		o.Scope = ScopeEngine
	}
	if o.ZeroDepth == "" {
		o.ZeroDepth = ZeroDepthNothing
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

// Validate checks for obviously bad configuration combinations.
func (o Options) Validate() error {
	if o.FetchWorkers <= 0 {
		return fmt.Errorf("engine.fetch_workers must be > 0")
	}
	if o.ExtractWorkers <= 0 {
		return fmt.Errorf("engine.extract_workers must be > 0")
	}
	if o.PerHost <= 0 {
		return fmt.Errorf("engine.per_host must be > 0")
	}
	switch o.Scope {
	case "", ScopeEngine, ScopeCall:
	default:
		return fmt.Errorf("engine.state_scope %q must be %q or %q", o.Scope, ScopeEngine, ScopeCall)
	}
	switch o.ZeroDepth {
	case "", ZeroDepthNothing, ZeroDepthSeedOnly:
	default:
		return fmt.Errorf("engine.zero_depth %q must be %q or %q", o.ZeroDepth, ZeroDepthNothing, ZeroDepthSeedOnly)
	}
	return nil
}
