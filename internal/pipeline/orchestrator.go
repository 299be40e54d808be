// Package pipeline turns a topic into a consolidated digest: feed, per-article
// resolve/extract/summarize on a worker pool, then one summary over the joined
// article summaries.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/JakeFAU/topic-digest/internal/clock/system"
	"github.com/JakeFAU/topic-digest/internal/digest"
	"github.com/JakeFAU/topic-digest/internal/id/uuid"
	"github.com/JakeFAU/topic-digest/internal/metrics"
	"github.com/JakeFAU/topic-digest/internal/progress"
	"github.com/JakeFAU/topic-digest/internal/summarize"
)

// DefaultMaxCandidates is how many feed entries a run considers.
const DefaultMaxCandidates = 5

const notifyTimeout = 10 * time.Second

// Dispatcher processes a run's candidates and returns reports in feed order.
type Dispatcher interface {
	Dispatch(ctx context.Context, runID string, candidates []digest.Candidate, observe func(digest.ItemReport)) []digest.ItemReport
}

// Config tunes a run.
type Config struct {
	MaxCandidates int
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithIDs sets the run ID generator.
func WithIDs(ids digest.IDGenerator) Option {
	return func(o *Orchestrator) {
		if ids != nil {
			o.ids = ids
		}
	}
}

// WithClock sets the clock used for run timing.
func WithClock(clock digest.Clock) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithEmitter sends progress events for every run stage.
func WithEmitter(e progress.Emitter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.emitter = e
		}
	}
}

// WithPublisher announces completed runs on topic.
func WithPublisher(p digest.Publisher, topic string) Option {
	return func(o *Orchestrator) {
		o.publisher = p
		o.notifyTopic = topic
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// Orchestrator runs the digest pipeline. It keeps no per-run state and is safe for concurrent runs.
type Orchestrator struct {
	feed        digest.FeedSource
	dispatcher  Dispatcher
	summarizer  digest.Summarizer
	ids         digest.IDGenerator
	clock       digest.Clock
	emitter     progress.Emitter
	publisher   digest.Publisher
	notifyTopic string
	cfg         Config
	logger      *zap.Logger
	runDuration metric.Float64Histogram
}

// New builds an Orchestrator.
func New(
	feed digest.FeedSource,
	dispatcher Dispatcher,
	summarizer digest.Summarizer,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	if feed == nil || dispatcher == nil || summarizer == nil {
		return nil, fmt.Errorf("pipeline requires a feed, a dispatcher, and a summarizer")
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	o := &Orchestrator{
		feed:       feed,
		dispatcher: dispatcher,
		summarizer: summarizer,
		ids:        uuid.New(),
		clock:      system.New(),
		emitter:    progress.Discard{},
		cfg:        cfg,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	hist, err := otel.Meter("topic-digest/pipeline").Float64Histogram(
		"digest.run.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time of a digest run."),
	)
	if err != nil {
		return nil, fmt.Errorf("create run duration histogram: %w", err)
	}
	o.runDuration = hist
	return o, nil
}

// Run executes the pipeline and returns only the externally visible result.
func (o *Orchestrator) Run(ctx context.Context, topic string) digest.PipelineResult {
	return o.Execute(ctx, topic).Result
}

// Execute executes the pipeline and returns the full per-stage report.
func (o *Orchestrator) Execute(ctx context.Context, topic string) digest.RunReport {
	start := o.clock.Now()
	runID := o.newRunID(start)
	logger := o.logger.With(zap.String("run_id", runID), zap.String("topic", topic))

	ctx, span := otel.Tracer("topic-digest/pipeline").Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID), attribute.String("topic", topic))

	report := digest.RunReport{RunID: runID, Topic: topic, StartedAt: start}
	o.emit(progress.Event{RunID: runID, TS: start, Stage: progress.StageRunStart, Topic: topic})
	logger.Info("run started")

	feedStart := o.clock.Now()
	candidates := o.feed.FetchCandidates(ctx, topic, o.cfg.MaxCandidates)
	feedDone := o.clock.Now()
	o.emit(progress.Event{
		RunID: runID,
		TS:    feedDone,
		Stage: progress.StageFeedDone,
		Topic: topic,
		Count: len(candidates),
		Dur:   feedDone.Sub(feedStart),
	})
	logger.Info("feed fetched", zap.Int("candidates", len(candidates)))

	report.Items = o.dispatcher.Dispatch(ctx, runID, candidates, func(item digest.ItemReport) {
		o.emit(progress.Event{
			RunID:         runID,
			TS:            o.clock.Now(),
			Stage:         progress.StageItemDone,
			Index:         item.Index,
			URL:           item.Resolved,
			Accepted:      item.Accepted,
			ExtractStatus: string(item.Extract),
			Failure:       string(item.Failure),
			Dur:           item.Duration,
		})
	})

	summaries, joined := collect(report.Items)
	report.Result = digest.PipelineResult{ArticleSummaries: summaries}
	if len(summaries) == 0 {
		report.Result.ConsolidatedSummary = digest.SentinelNoSummaries
	} else {
		report.Consolidation = o.summarizer.Summarize(summarize.WithStage(ctx, "consolidated"), joined)
		report.Result.ConsolidatedSummary = report.Consolidation.Display()
	}

	report.Duration = o.clock.Now().Sub(start)
	result := runResult(ctx, report)
	if result != progress.ResultSummarized {
		span.SetStatus(codes.Error, result)
	}
	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("accepted", len(summaries)),
		attribute.String("result", result),
	)
	metrics.ObserveRun(result)
	o.runDuration.Record(ctx, report.Duration.Seconds(), metric.WithAttributes(attribute.String("result", result)))
	o.emit(progress.Event{
		RunID:   runID,
		TS:      o.clock.Now(),
		Stage:   progress.StageRunDone,
		Topic:   topic,
		Count:   len(summaries),
		Failure: string(report.Consolidation.Failure),
		Result:  result,
		Dur:     report.Duration,
	})
	logger.Info("run finished",
		zap.String("result", result),
		zap.Int("candidates", len(candidates)),
		zap.Int("accepted", len(summaries)),
		zap.Duration("duration", report.Duration),
	)

	o.notify(ctx, report, logger)
	return report
}

// collect keeps accepted items in feed order and joins their displayed summaries with single spaces.
func collect(items []digest.ItemReport) ([]digest.ArticleSummary, string) {
	summaries := make([]digest.ArticleSummary, 0, len(items))
	texts := make([]string, 0, len(items))
	for _, item := range items {
		if !item.Accepted {
			continue
		}
		text := item.Outcome.Display()
		summaries = append(summaries, digest.ArticleSummary{
			Title:   item.Candidate.Title,
			Link:    item.Candidate.Link,
			Summary: text,
		})
		texts = append(texts, text)
	}
	return summaries, strings.Join(texts, " ")
}

func runResult(ctx context.Context, report digest.RunReport) string {
	switch {
	case ctx.Err() != nil:
		return progress.ResultCanceled
	case len(report.Result.ArticleSummaries) == 0:
		return progress.ResultNoSummaries
	case !report.Consolidation.OK():
		return progress.ResultDegraded
	default:
		return progress.ResultSummarized
	}
}

func (o *Orchestrator) notify(ctx context.Context, report digest.RunReport, logger *zap.Logger) {
	if o.publisher == nil || o.notifyTopic == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	note := digest.RunNotification{
		RunID:               report.RunID,
		Topic:               report.Topic,
		Candidates:          len(report.Items),
		Accepted:            report.Accepted(),
		ConsolidatedFailure: report.Consolidation.Failure,
		DurationMs:          report.Duration.Milliseconds(),
		CompletedAt:         report.StartedAt.Add(report.Duration),
	}
	id, err := o.publisher.Publish(ctx, o.notifyTopic, note)
	if err != nil {
		logger.Warn("run notification failed", zap.Error(err))
		return
	}
	logger.Debug("run notification published", zap.String("message_id", id))
}

func (o *Orchestrator) emit(evt progress.Event) {
	o.emitter.Emit(evt)
}

func (o *Orchestrator) newRunID(now time.Time) string {
	id, err := o.ids.NewID()
	if err != nil || id == "" {
		o.logger.Warn("run id generation failed", zap.Error(err))
		return fmt.Sprintf("run-%d", now.UnixNano())
	}
	return id
}
