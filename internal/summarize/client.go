// Package summarize calls the hosted abstractive summarization model.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/topic-digest/internal/digest"
	"github.com/JakeFAU/topic-digest/internal/metrics"
)

const (
	defaultTimeout = 20 * time.Second
	maxResponse    = 1 << 20
	limiterKey     = "summarizer"
)

var (
	errModelUnavailable = errors.New("model reported an error")
	errMalformed        = errors.New("unexpected response shape")
)

// Config points the client at the model endpoint.
type Config struct {
	APIURL       string
	APIKey       string
	Timeout      time.Duration
	MinLength    int
	MaxLength    int
	WaitForModel bool
}

// KeyWaiter throttles calls sharing a key.
type KeyWaiter interface {
	WaitKey(ctx context.Context, key string) error
}

// Client implements digest.Summarizer against the Hugging Face inference API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retry      digest.RetryPolicy
	limiter    KeyWaiter
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. Its Timeout is ignored; Config.Timeout applies per attempt.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetryPolicy retries model-unavailable and timeout outcomes.
func WithRetryPolicy(p digest.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithLimiter throttles calls to the endpoint.
func WithLimiter(w KeyWaiter) Option {
	return func(c *Client) { c.limiter = w }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, fmt.Errorf("summarizer api url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type stageKey struct{}

// WithStage labels summarization calls made with ctx for metrics and traces.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

func stageFrom(ctx context.Context) string {
	if s, ok := ctx.Value(stageKey{}).(string); ok && s != "" {
		return s
	}
	return "direct"
}

// Summarize condenses text. Blank input short-circuits without a network call.
func (c *Client) Summarize(ctx context.Context, text string) digest.Outcome {
	stage := stageFrom(ctx)
	if strings.TrimSpace(text) == "" {
		metrics.ObserveSummarize(stage, string(digest.FailureEmptyInput), 0)
		return digest.Failed(digest.FailureEmptyInput, nil)
	}

	ctx, span := otel.Tracer("topic-digest/summarize").Start(ctx, "summarize")
	defer span.End()
	span.SetAttributes(attribute.String("summarize.stage", stage), attribute.Int("summarize.input_chars", len(text)))

	start := time.Now()
	var outcome digest.Outcome
	for attempt := 1; ; attempt++ {
		outcome = c.attempt(ctx, text)
		if outcome.OK() || !c.shouldRetry(ctx, outcome, attempt) {
			break
		}
		delay := c.retry.Backoff(attempt)
		c.logger.Info("retrying summarization",
			zap.String("stage", stage),
			zap.Int("attempt", attempt),
			zap.String("failure", string(outcome.Failure)),
			zap.Duration("backoff", delay),
		)
		if err := sleep(ctx, delay); err != nil {
			break
		}
	}

	metrics.ObserveSummarize(stage, string(outcome.Failure), time.Since(start))
	if !outcome.OK() {
		span.SetStatus(codes.Error, string(outcome.Failure))
		c.logger.Warn("summarization failed",
			zap.String("stage", stage),
			zap.String("failure", string(outcome.Failure)),
			zap.Error(outcome.Err),
		)
	}
	return outcome
}

func (c *Client) shouldRetry(ctx context.Context, outcome digest.Outcome, attempt int) bool {
	if c.retry == nil || ctx.Err() != nil {
		return false
	}
	switch outcome.Failure {
	case digest.FailureModelUnavailable, digest.FailureTimeout:
		return c.retry.ShouldRetry(outcome.Err, attempt)
	default:
		return false
	}
}

func (c *Client) attempt(ctx context.Context, text string) digest.Outcome {
	if c.limiter != nil {
		if err := c.limiter.WaitKey(ctx, limiterKey); err != nil {
			return classifyTransport(err)
		}
	}

	payload, err := json.Marshal(c.requestBody(text))
	if err != nil {
		return digest.Failed(digest.FailureTransport, fmt.Errorf("marshal request: %w", err))
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return digest.Failed(digest.FailureTransport, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(fmt.Errorf("post: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return classifyTransport(fmt.Errorf("read body: %w", err))
	}
	return parseResponse(body)
}

type parameters struct {
	MinLength int `json:"min_length,omitempty"`
	MaxLength int `json:"max_length,omitempty"`
}

type options struct {
	WaitForModel bool `json:"wait_for_model,omitempty"`
}

type requestBody struct {
	Inputs     string      `json:"inputs"`
	Parameters *parameters `json:"parameters,omitempty"`
	Options    *options    `json:"options,omitempty"`
}

func (c *Client) requestBody(text string) requestBody {
	body := requestBody{Inputs: text}
	if c.cfg.MinLength > 0 || c.cfg.MaxLength > 0 {
		body.Parameters = &parameters{MinLength: c.cfg.MinLength, MaxLength: c.cfg.MaxLength}
	}
	if c.cfg.WaitForModel {
		body.Options = &options{WaitForModel: true}
	}
	return body
}

// parseResponse maps the model's JSON reply onto an Outcome.
func parseResponse(body []byte) digest.Outcome {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return digest.Failed(digest.FailureTransport, fmt.Errorf("decode response: %w", err))
	}

	switch v := raw.(type) {
	case []any:
		if len(v) == 0 {
			return digest.Failed(digest.FailureMalformedResponse, fmt.Errorf("%w: empty array", errMalformed))
		}
		first, ok := v[0].(map[string]any)
		if !ok {
			return digest.Failed(digest.FailureMalformedResponse, fmt.Errorf("%w: array of %T", errMalformed, v[0]))
		}
		text, ok := first["summary_text"].(string)
		if !ok || strings.TrimSpace(text) == "" {
			return digest.Failed(digest.FailureMalformedResponse, fmt.Errorf("%w: missing summary_text", errMalformed))
		}
		return digest.Succeeded(text)
	case map[string]any:
		if msg, ok := v["error"]; ok {
			return digest.Failed(digest.FailureModelUnavailable, fmt.Errorf("%w: %v", errModelUnavailable, msg))
		}
		return digest.Failed(digest.FailureMalformedResponse, fmt.Errorf("%w: object without error", errMalformed))
	default:
		return digest.Failed(digest.FailureMalformedResponse, fmt.Errorf("%w: %T", errMalformed, raw))
	}
}

func classifyTransport(err error) digest.Outcome {
	if isTimeout(err) {
		return digest.Failed(digest.FailureTimeout, err)
	}
	return digest.Failed(digest.FailureTransport, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
