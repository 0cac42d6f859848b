// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and an in-memory tracker of live run progress.
package sinks
