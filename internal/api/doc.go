// Package api hosts the HTTP server, middleware, and REST handlers for haul
// management. Notable routes:
//   - POST /hauls, GET|PATCH /hauls/{haul_id} for the haul lifecycle.
//   - POST /hauls/{haul_id}/scrapes and DELETE .../scrapes/{result_id}.
//   - GET /hauls/{haul_id}/export?format=json|csv for downloads.
//   - GET /listings/{result_id}.json for a single extraction result.
//   - GET /healthz / readyz for Kubernetes probes, /metrics for Prometheus.
//
// Every non-2xx response carries the envelope
// {"success":false,"error":{"code":...,"message":...}}.
package api
