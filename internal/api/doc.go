// Package api implements the feeder's HTTP API.
//
// This package provides:
//   - Status and machine snapshots
//   - Feed and reload commands
//   - Live feeding events over WebSocket
//   - Health checks over the daemon's connections
//   - Prometheus metrics at /metrics
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Endpoints
//
//	GET  /api/v1/health     200 ok, 503 when a health check fails
//	GET  /api/v1/status     feeder status report
//	POST /api/v1/feed       {"portions": n}: 202 accepted, 409 busy, 400 invalid
//	GET  /api/v1/machines   machine snapshots
//	POST /api/v1/reload     reload configuration
//	GET  /api/v1/events     WebSocket stream of feeding transitions
//	GET  /metrics           Prometheus exposition
//
// There is no authentication. Bind the server to a trusted interface.
package api
