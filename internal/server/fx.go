// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/topic-digest/internal/api"
	"github.com/JakeFAU/topic-digest/internal/clock/system"
	"github.com/JakeFAU/topic-digest/internal/config"
	"github.com/JakeFAU/topic-digest/internal/digest"
	"github.com/JakeFAU/topic-digest/internal/dispatcher"
	"github.com/JakeFAU/topic-digest/internal/extract"
	"github.com/JakeFAU/topic-digest/internal/feed"
	collyfetcher "github.com/JakeFAU/topic-digest/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/topic-digest/internal/fetcher/headless"
	"github.com/JakeFAU/topic-digest/internal/headless/detector"
	"github.com/JakeFAU/topic-digest/internal/id/uuid"
	"github.com/JakeFAU/topic-digest/internal/logging"
	"github.com/JakeFAU/topic-digest/internal/metrics"
	"github.com/JakeFAU/topic-digest/internal/pipeline"
	"github.com/JakeFAU/topic-digest/internal/policy/ratelimit"
	"github.com/JakeFAU/topic-digest/internal/policy/simple"
	"github.com/JakeFAU/topic-digest/internal/progress"
	progresssinks "github.com/JakeFAU/topic-digest/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/topic-digest/internal/publisher/pubsub"
	"github.com/JakeFAU/topic-digest/internal/resolve"
	"github.com/JakeFAU/topic-digest/internal/summarize"
	"github.com/JakeFAU/topic-digest/internal/telemetry"
	"github.com/JakeFAU/topic-digest/internal/worker"
)

const (
	// resolveBodyBytes caps the body read while following redirects; only the final URL matters.
	resolveBodyBytes = 64 << 10
	shutdownTimeout  = 10 * time.Second
)

// App contains the application's dependencies.
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	apiServer   *api.Server
	pipeline    *pipeline.Orchestrator
	progressHub *progress.Hub
	publisher   *gcppublisher.Publisher
	headless    *headlessfetcher.Fetcher
	telemetry   *telemetry.Providers
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	// Only non-sensitive fields; API keys stay out of the logs.
	type sanitizedConfig struct {
		ServerPort    int    `json:"server_port"`
		FeedSource    string `json:"feed_source"`
		Strategy      string `json:"extract_strategy"`
		Concurrency   int    `json:"concurrency"`
		MaxCandidates int    `json:"max_candidates"`
		Headless      bool   `json:"headless"`
	}
	logger.Info("creating application", zap.Any("config", sanitizedConfig{
		ServerPort:    cfg.Server.Port,
		FeedSource:    cfg.Feed.Source,
		Strategy:      cfg.Extract.Strategy,
		Concurrency:   cfg.Pipeline.Concurrency,
		MaxCandidates: cfg.Pipeline.MaxCandidates,
		Headless:      cfg.Headless.Enabled,
	}))
	return &App{cfg: cfg, logger: logger}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Pipeline returns the digest orchestrator for one-shot runs.
func (a *App) Pipeline() *pipeline.Orchestrator {
	return a.pipeline
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Execute runs one digest outside the HTTP server.
func (a *App) Execute(ctx context.Context, topic string) digest.RunReport {
	return a.pipeline.Execute(ctx, topic)
}

// Run serves HTTP until the context is canceled or a termination signal arrives.
// The caller still owns Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      a.cfg.RequestTimeout() + 10*time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close flushes progress, releases clients, and shuts telemetry down.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.logger.Info("shutdown complete")
	// Sync fails on stdout/stderr for most terminals; not worth reporting.
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logging.OrNop(logger))
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	metrics.Init()
	app.telemetry, err = telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}

	app.logger.Info("building application dependencies")
	feedClient, err := setupFeed(app)
	if err != nil {
		return nil, err
	}
	summarizer, err := setupSummarizer(app)
	if err != nil {
		return nil, err
	}
	policy := simple.New(cfg.Extract.DeniedHosts...)
	resolver := resolve.New(collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      config.Seconds(cfg.Resolve.TimeoutSeconds),
		MaxRedirects: cfg.Resolve.MaxRedirects,
		MaxBodyBytes: resolveBodyBytes,
	}), policy, app.logger.Named("resolve"))
	extractor, err := setupExtractor(app, policy)
	if err != nil {
		return nil, err
	}
	emitter, err := setupProgress(app)
	if err != nil {
		return nil, err
	}
	if err = setupPublisher(ctx, app); err != nil {
		return nil, err
	}

	clock := system.New()
	w := worker.New(resolver, extractor, summarizer, clock, worker.Config{
		MinChars:                cfg.Extract.MinChars,
		SkipExtractionOnFailure: cfg.Resolve.SkipExtractionOnFailure,
	}, app.logger.Named("worker"))

	opts := []pipeline.Option{
		pipeline.WithIDs(uuid.New()),
		pipeline.WithClock(clock),
		pipeline.WithEmitter(emitter),
		pipeline.WithLogger(app.logger.Named("pipeline")),
	}
	if app.publisher != nil {
		opts = append(opts, pipeline.WithPublisher(app.publisher, cfg.PubSub.TopicName))
	}
	app.pipeline, err = pipeline.New(
		feedClient,
		dispatcher.New(w, cfg.Pipeline.Concurrency, app.logger.Named("dispatcher")),
		summarizer,
		pipeline.Config{MaxCandidates: cfg.Pipeline.MaxCandidates},
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.pipeline, summarizer, *cfg, app.logger.Named("api"))
	return app, nil
}

func setupFeed(app *App) (*feed.Client, error) {
	cfg := app.cfg.Feed
	client, err := feed.New(feed.Config{
		Source:            cfg.Source,
		SearchURLTemplate: cfg.SearchURLTemplate,
		TagURLTemplate:    cfg.TagURLTemplate,
		UserAgent:         cfg.UserAgent,
	}, collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.UserAgent,
		Timeout:   config.Seconds(cfg.TimeoutSeconds),
	}), app.logger.Named("feed"))
	if err != nil {
		return nil, fmt.Errorf("feed client init failed: %w", err)
	}
	app.logger.Info("feed configured", zap.String("source", cfg.Source))
	return client, nil
}

func setupSummarizer(app *App) (*summarize.Client, error) {
	cfg := app.cfg.Summarizer
	opts := []summarize.Option{
		summarize.WithLogger(app.logger.Named("summarize")),
		summarize.WithLimiter(ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RPS, DefaultBurst: 1})),
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, summarize.WithRetryPolicy(digest.NewExponentialRetryPolicy(
			cfg.MaxRetries,
			time.Duration(cfg.BackoffInitialMs)*time.Millisecond,
			time.Duration(cfg.BackoffMaxMs)*time.Millisecond,
		)))
	}
	client, err := summarize.New(summarize.Config{
		APIURL:       cfg.APIURL,
		APIKey:       cfg.APIKey,
		Timeout:      config.Seconds(cfg.TimeoutSeconds),
		MinLength:    cfg.MinLength,
		MaxLength:    cfg.MaxLength,
		WaitForModel: cfg.WaitForModel,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("summarizer init failed: %w", err)
	}
	if cfg.APIKey == "" {
		app.logger.Warn("no summarizer api key configured; model calls will likely be rejected")
	}
	app.logger.Info("summarizer configured",
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Float64("rps", cfg.RPS),
	)
	return client, nil
}

func setupExtractor(app *App, policy *simple.Policy) (*extract.Extractor, error) {
	cfg := app.cfg.Extract
	opts := []extract.Option{
		extract.WithPolicy(policy),
		extract.WithLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.PerHostRPS,
			DefaultBurst: cfg.PerHostBurst,
		})),
		extract.WithLogger(app.logger.Named("extract")),
	}
	if app.cfg.Headless.Enabled {
		h, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       app.cfg.Headless.MaxParallel,
			UserAgent:         app.cfg.HTTP.UserAgent,
			NavigationTimeout: config.Seconds(app.cfg.Headless.NavTimeoutSec),
		})
		if err != nil {
			app.logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			app.headless = h
			opts = append(opts, extract.WithHeadless(h, detector.NewHeuristic(app.cfg.Headless.PromotionThresh, cfg.MinChars)))
			app.logger.Info("using headless fetcher", zap.Int("max_parallel", app.cfg.Headless.MaxParallel))
		}
	}
	extractor, err := extract.New(extract.Config{
		Strategy:  cfg.Strategy,
		MaxChars:  cfg.MaxChars,
		MinChars:  cfg.MinChars,
		UserAgent: app.cfg.HTTP.UserAgent,
	}, collyfetcher.New(collyfetcher.Config{
		UserAgent:     app.cfg.HTTP.UserAgent,
		RespectRobots: cfg.RespectRobots,
		Timeout:       config.Seconds(cfg.TimeoutSeconds),
		MaxBodyBytes:  cfg.MaxBodyBytes,
	}), opts...)
	if err != nil {
		return nil, fmt.Errorf("extractor init failed: %w", err)
	}
	app.logger.Info("extractor configured",
		zap.String("strategy", cfg.Strategy),
		zap.Bool("respect_robots", cfg.RespectRobots),
		zap.Strings("denied_hosts", cfg.DeniedHosts),
	)
	return extractor, nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, run notifications disabled")
		return nil
	}
	p, err := gcppublisher.Dial(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.publisher = p
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return nil
}

func setupProgress(app *App) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return progress.Discard{}, nil
	}
	var sinkList []progress.Sink
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}
	if app.cfg.Progress.PrometheusEnabled {
		promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	if len(sinkList) == 0 {
		app.logger.Warn("progress tracking enabled but no sinks configured")
		return progress.Discard{}, nil
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("sinks", len(sinkList)),
	)
	return app.progressHub, nil
}
