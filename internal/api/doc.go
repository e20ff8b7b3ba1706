// Package api hosts the read-only HTTP surface over recorded runs. Notable
// routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs, /v1/runs/{run_id} and /v1/runs/{run_id}/scalars for
//     browsing runs persisted through the ScalarRepository interface.
package api
