// Package progress carries run lifecycle events from the pipeline to pluggable
// sinks. Emit never blocks the pipeline; a background goroutine batches events
// and hands them to each sink.
package progress
