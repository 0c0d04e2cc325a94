// Package main hosts the haul service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes haul lifecycle, scrape import, export, listing lookup, health and metrics
//     endpoints. Every failure renders the same JSON error envelope so clients branch on error.code alone.
//   - Import pipeline: internal/ingest resolves the submitted URL against the import host registry, runs the
//     rule-driven extraction engine over the supplied HTML (goquery selectors, meta tags, regexes), summarizes field
//     traces into diagnostics, derives a stable result id from the normalized URL and stores the result.
//   - Haul lifecycle: internal/lifecycle mutates haul documents with optimistic compare-and-swap retries, enforces the
//     20-scrape capacity and TTL, consumes per-IP creation quota, archives exports and publishes lifecycle events.
//   - Persistence & fanout: hauls, scrapes and quotas live in memory or Postgres (JSONB documents with a version
//     column). Exports are optionally archived to memory, the local filesystem or GCS; lifecycle events are optionally
//     published to Pub/Sub with the haul id as ordering key.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler; OpenTelemetry spans wrap haul mutations
//     when tracing is enabled.
//
// Quick checklist:
//   - Configure env vars: HAUL_SERVER_PORT, HAUL_SERVER_PUBLIC_BASE_URL, HAUL_STORE_DRIVER=postgres with
//     HAUL_STORE_DSN, HAUL_EVENTS_DRIVER=pubsub with HAUL_EVENTS_PROJECT_ID, HAUL_ARCHIVE_DRIVER=gcs with
//     HAUL_ARCHIVE_GCS_BUCKET, HAUL_RATELIMIT_REQUESTS_PER_SECOND to throttle writes.
//   - Run locally: go run ./cmd/haulserver -config config.yaml (or rely solely on env overrides).
//   - The process reacts to SIGINT/SIGTERM by draining in-flight requests before closing clients.
package main
