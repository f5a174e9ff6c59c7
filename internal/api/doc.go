// Package api hosts the optional operator HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the orchestrator state and recent passes.
//   - GET /v1/reports and /v1/reports/{run_id} for archived run reports.
package api
