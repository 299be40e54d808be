// Package worker runs the per-candidate stages of a digest run.
package worker

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/topic-digest/internal/clock/system"
	"github.com/JakeFAU/topic-digest/internal/digest"
	"github.com/JakeFAU/topic-digest/internal/metrics"
	"github.com/JakeFAU/topic-digest/internal/queue/memory"
	"github.com/JakeFAU/topic-digest/internal/summarize"
)

// DefaultMinChars is the trimmed text length an article needs before it is summarized.
const DefaultMinChars = 200

// Config controls Worker behavior.
type Config struct {
	MinChars int
	// SkipExtractionOnFailure drops candidates whose link could not be resolved.
	SkipExtractionOnFailure bool
}

// Worker resolves, extracts, and summarizes one candidate at a time.
type Worker struct {
	resolver   digest.LinkResolver
	extractor  digest.ContentExtractor
	summarizer digest.Summarizer
	clock      digest.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker.
func New(
	resolver digest.LinkResolver,
	extractor digest.ContentExtractor,
	summarizer digest.Summarizer,
	clock digest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.MinChars <= 0 {
		cfg.MinChars = DefaultMinChars
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		resolver:   resolver,
		extractor:  extractor,
		summarizer: summarizer,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run consumes items until the queue is drained or the context finishes, passing each report to emit.
func (w *Worker) Run(ctx context.Context, queue digest.Queue, emit func(digest.ItemReport)) {
	for {
		item, err := queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, memory.ErrClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		if ctx.Err() != nil {
			return
		}
		metrics.IncActiveWorkers()
		report := w.Process(ctx, item)
		metrics.DecActiveWorkers()
		emit(report)
	}
}

// Process runs one candidate through every stage. It never fails; the report records where it stopped.
// A panic in any stage is logged and turns into a rejected report with status ExtractPanicked.
func (w *Worker) Process(ctx context.Context, item digest.WorkItem) (report digest.ItemReport) {
	ctx, span := otel.Tracer("topic-digest/worker").Start(ctx, "process_item")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", item.RunID),
		attribute.Int("index", item.Index),
		attribute.String("link", item.Candidate.Link),
	)

	start := w.clock.Now()
	report = digest.ItemReport{Index: item.Index, Candidate: item.Candidate}
	logger := w.logger.With(
		zap.String("run_id", item.RunID),
		zap.Int("index", item.Index),
		zap.String("url", item.Candidate.Link),
	)
	defer func() {
		report.Duration = w.clock.Now().Sub(start)
		span.SetAttributes(
			attribute.String("extract_status", string(report.Extract)),
			attribute.Bool("accepted", report.Accepted),
		)
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("article processing panicked", zap.Any("panic", r), zap.Stack("stack"))
			span.SetStatus(codes.Error, "panic")
			resolved := report.Resolved
			if resolved == "" {
				resolved = item.Candidate.Link
			}
			report = digest.ItemReport{
				Index:      item.Index,
				Candidate:  item.Candidate,
				Resolution: report.Resolution,
				Resolved:   resolved,
				Extract:    digest.ExtractPanicked,
			}
		}
	}()

	report.Resolution = w.resolver.Resolve(ctx, item.Candidate.Link)
	report.Resolved = report.Resolution.URL()
	if report.Resolution.State == digest.ResolutionFailed {
		logger.Debug("link resolution failed", zap.Error(report.Resolution.Err))
		if w.cfg.SkipExtractionOnFailure {
			report.Extract = digest.ExtractSkipped
			return report
		}
	}

	extraction := w.extractor.Extract(ctx, report.Resolved)
	report.Extract = extraction.Status
	report.TextLength = utf8.RuneCountInString(strings.TrimSpace(extraction.Text))
	if report.TextLength < w.cfg.MinChars {
		logger.Info("skipping article: too short or empty",
			zap.String("resolved", report.Resolved),
			zap.String("extract_status", string(extraction.Status)),
			zap.Int("text_length", report.TextLength),
		)
		return report
	}

	report.Accepted = true
	report.Outcome = w.summarizer.Summarize(summarize.WithStage(ctx, "article"), extraction.Text)
	report.Failure = report.Outcome.Failure
	logger.Debug("article summarized", zap.String("failure", string(report.Failure)))
	return report
}
