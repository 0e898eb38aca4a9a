// Package api hosts the HTTP server, middleware, and handlers of the capture
// service. Notable routes:
//   - GET / for the service banner and version.
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /download-cv to capture a file behind a landing page.
//   - GET /auth, /oauth2callback and /auth/status for the storage
//     authorization flow.
package api
