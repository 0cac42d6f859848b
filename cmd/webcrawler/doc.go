// Package main hosts the crawler service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics and crawl endpoints. POST /v1/crawls validates the
//     seed and depth, records a queued run in the RunStore and hands it to the run worker.
//   - Run worker: internal/worker executes queued runs on a fixed pool sized by runner.workers with room for
//     queue.depth waiting runs. Each run drives the shared crawler.Engine and records its outcome.
//   - Engine: one engine owns the fetch and extract pools and the per-host gates for the process lifetime, so
//     engine.per_host holds across concurrent runs. Crawl state is kept per call, so every run reports only
//     what it crawled itself.
//   - Persistence & fanout: the run store is Postgres when db.dsn is set, SQLite when db.sqlite_path is set,
//     and memory otherwise. Archived pages go
//     to the configured BlobStore (memory/local/GCS). A summary of every finished run is published to Pub/Sub
//     when pubsub.project_id is set.
//   - Progress: engine and runner events flow through a batching hub to a live tracker (served by the API),
//     Prometheus collectors and, optionally, the log.
//
// Operational notes:
//   - The HTTP server listens on server.port, overridable via PORT.
//   - SIGINT/SIGTERM stop the HTTP server, cancel in-flight runs (recorded as canceled) and close every client.
//   - Run locally: go run ./cmd/webcrawler -config config.yaml (or rely solely on CRAWLER_* env overrides).
package main
