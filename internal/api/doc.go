// Package api hosts the operational HTTP server, middleware, and REST
// handlers. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the in-memory summary of the run in progress.
//   - GET /v1/runs and /v1/runs/{run_id}/partitions for the run catalog via
//     the ledger.Reader interface.
package api
