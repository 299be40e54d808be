// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - POST /summarize runs one digest for {"topic": ...} and answers with the result.
//   - GET / and GET /test-summary for quick manual checks of the deployment.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
