// Package api hosts the HTTP interface of the crawler service:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to submit a crawl run.
//   - GET /v1/crawls/{run_id} for the run, its result and live progress.
//   - GET /v1/crawls/{run_id}/progress for live progress alone.
package api
