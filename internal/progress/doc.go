// Package progress carries crawl progress events from the engine and the run
// worker to pluggable sinks. Emitting never blocks: events are buffered,
// batched on a background goroutine and fanned out to sinks such as
// structured logs, Prometheus or the in-memory run tracker.
package progress
