// Package main hosts the digest service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server answers POST /summarize with {"article_summaries", "consolidated_summary"}
//     and exposes /, /test-summary, /healthz, /readyz, and /metrics.
//   - Pipeline: internal/pipeline.Orchestrator queries the feed (internal/feed), fans the candidates out to a
//     fixed worker pool (internal/dispatcher, internal/worker) that resolves redirects, extracts article text, and
//     summarizes every article of 200 characters or more, then condenses the joined summaries in one more model call.
//   - Fetching: Colly-based fetchers with per-purpose limits (redirect-only bodies for resolution, robots.txt and a
//     body cap for extraction). An optional chromedp fetcher is used when the heuristic detector flags a page as
//     script-rendered.
//   - Plumbing: Viper populates config from env/files (DIGEST_ prefix, PORT and HUGGINGFACE_API_KEY honored); zap
//     provides structured logging; Prometheus metrics cover HTTP, every stage, and run progress; OpenTelemetry spans
//     go to Cloud Trace when telemetry.project_id is set; completed runs are announced on Pub/Sub when configured.
//
// Operational notes:
//   - A run never fails at the HTTP level. Feed, extraction, and model failures degrade to empty lists or
//     bracketed sentinel summaries and are visible in logs and /metrics.
//   - SIGINT/SIGTERM cancels in-flight runs, drains the server, flushes progress sinks, and shuts telemetry down.
//
// Quick checklist:
//   - Configure env vars: PORT, HUGGINGFACE_API_KEY (or DIGEST_SUMMARIZER_API_KEY), DIGEST_FEED_SOURCE,
//     DIGEST_PIPELINE_CONCURRENCY, DIGEST_HEADLESS_ENABLED, DIGEST_PUBSUB_PROJECT_ID / DIGEST_PUBSUB_TOPIC_NAME.
//   - Run locally: go run ./cmd/digestd -config config.yaml, or go run . digest --topic golang for one digest.
package main
