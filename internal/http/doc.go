// Package http provides the operator admin API.
//
// The router exposes the following endpoints:
//   - GET /healthz: liveness probe.
//   - GET /metrics: Prometheus metrics of the scheduler and the reconciler.
//   - POST /login: issues an operator bearer token. Body: {"password"}. Response:
//     {"token","expires_at"}.
//   - POST /communities/{id}/reconcile: runs a reconciliation pass and waits for it.
//   - POST /communities/{id}/refresh: re-renders the roster message.
//   - POST /communities/{id}/panels/reset: rewrites every panel message in place,
//     restoring buttons and panel text.
//   - GET /communities/{id}/roster: the current roster projection.
//   - GET /communities/{id}/status: scheduler state and the last run of each task.
//
// Every /communities route requires an `Authorization: Bearer <token>` header.
// Request/response DTOs live alongside their handlers.
package http
