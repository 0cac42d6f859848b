// Package crawler implements the layered breadth-first crawl engine: the
// frontier driver, per-host admission gates, the fetch/extract unit pipeline
// and the shared result aggregation. It also defines the collaborator
// interfaces the rest of the service plugs into.
package crawler
