// Package extract fetches article pages and isolates their readable text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/topic-digest/internal/digest"
	"github.com/JakeFAU/topic-digest/internal/metrics"
)

// ErrNotHTML is recorded when the page is not an HTML document.
var ErrNotHTML = errors.New("content is not html")

// Config tunes extraction.
type Config struct {
	Strategy string
	// MaxChars truncates extracted text to this many code points; 0 disables truncation.
	MaxChars int
	// MinChars is the length below which a headless render is considered.
	MinChars  int
	UserAgent string
}

// Waiter blocks until a request to rawURL may proceed.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// URLPolicy admits or rejects outbound URLs.
type URLPolicy interface {
	AllowFetch(rawURL string) error
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithHeadless enables the browser fallback.
func WithHeadless(fetcher digest.Fetcher, detector digest.HeadlessDetector) Option {
	return func(e *Extractor) {
		e.headless = fetcher
		e.detector = detector
	}
}

// WithLimiter throttles fetches per host.
func WithLimiter(w Waiter) Option {
	return func(e *Extractor) { e.limiter = w }
}

// WithPolicy rejects URLs before any request is made.
func WithPolicy(p URLPolicy) Option {
	return func(e *Extractor) { e.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// Extractor implements digest.ContentExtractor.
type Extractor struct {
	cfg      Config
	strategy Strategy
	fetcher  digest.Fetcher
	headless digest.Fetcher
	detector digest.HeadlessDetector
	limiter  Waiter
	policy   URLPolicy
	logger   *zap.Logger
}

// New builds an Extractor that fetches static pages with fetcher.
func New(cfg Config, fetcher digest.Fetcher, opts ...Option) (*Extractor, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("extractor requires a fetcher")
	}
	strategy, err := NewStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	if cfg.MaxChars < 0 {
		return nil, fmt.Errorf("max chars must be >= 0")
	}
	e := &Extractor{
		cfg:      cfg,
		strategy: strategy,
		fetcher:  fetcher,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Extract returns the article text at rawURL. Every failure yields an empty Text with a status explaining it.
func (e *Extractor) Extract(ctx context.Context, rawURL string) digest.Extraction {
	result, fetched := e.extract(ctx, rawURL)
	result.Strategy = e.strategy.Name()
	metrics.ObserveExtraction(rawURL, string(result.Status), fetched)
	if result.Status != digest.ExtractOK {
		e.logger.Debug("extraction yielded no text",
			zap.String("url", rawURL),
			zap.String("status", string(result.Status)),
			zap.Int("status_code", result.StatusCode),
		)
	}
	return result
}

func (e *Extractor) extract(ctx context.Context, rawURL string) (digest.Extraction, int) {
	result := digest.Extraction{URL: rawURL}

	pageURL, err := url.Parse(rawURL)
	if err != nil {
		result.Status = digest.ExtractFetchFailed
		return result, 0
	}
	if e.policy != nil {
		if err := e.policy.AllowFetch(rawURL); err != nil {
			result.Status = digest.ExtractSkipped
			return result, 0
		}
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, rawURL); err != nil {
			result.Status = digest.ExtractFetchFailed
			return result, 0
		}
	}

	resp, err := e.fetcher.Fetch(ctx, e.request(rawURL))
	if err != nil {
		e.logger.Debug("article fetch failed", zap.String("url", rawURL), zap.Error(err))
		result.Status = digest.ExtractFetchFailed
		return result, 0
	}
	fetched := len(resp.Body)
	result.StatusCode = resp.StatusCode
	if resp.URL != "" {
		if u, perr := url.Parse(resp.URL); perr == nil {
			pageURL = u
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Status = digest.ExtractBadStatus
		return result, fetched
	}
	if err := checkHTML(resp); err != nil {
		e.logger.Debug("skipping page", zap.String("url", rawURL), zap.Error(err))
		result.Status = digest.ExtractNotHTML
		return result, fetched
	}

	text, err := e.strategy.Text(resp.Body, pageURL)
	if err != nil {
		e.logger.Debug("article parse failed", zap.String("url", rawURL), zap.Error(err))
		result.Status = digest.ExtractParseFailed
		return result, fetched
	}

	if rendered, ok := e.tryHeadless(ctx, rawURL, resp, text); ok {
		text = rendered
		result.UsedHeadless = true
	}

	result.Text, result.Truncated = truncate(text, e.cfg.MaxChars)
	result.Status = digest.ExtractOK
	return result, fetched
}

// tryHeadless re-renders the page when the static text is short and the page looks script-built.
// It only reports success when the render produced more text.
func (e *Extractor) tryHeadless(ctx context.Context, rawURL string, probe digest.FetchResponse, text string) (string, bool) {
	if e.headless == nil || e.detector == nil {
		return "", false
	}
	chars := utf8.RuneCountInString(strings.TrimSpace(text))
	if chars >= e.cfg.MinChars || !e.detector.ShouldPromote(probe, chars) {
		return "", false
	}

	resp, err := e.headless.Fetch(ctx, e.request(rawURL))
	if err != nil {
		e.logger.Debug("headless render failed", zap.String("url", rawURL), zap.Error(err))
		return "", false
	}
	pageURL, _ := url.Parse(resp.URL)
	rendered, err := e.strategy.Text(resp.Body, pageURL)
	if err != nil || utf8.RuneCountInString(strings.TrimSpace(rendered)) <= chars {
		return "", false
	}
	e.logger.Debug("headless render recovered text", zap.String("url", rawURL))
	return rendered, true
}

func (e *Extractor) request(rawURL string) digest.FetchRequest {
	headers := http.Header{}
	if e.cfg.UserAgent != "" {
		headers.Set("User-Agent", e.cfg.UserAgent)
	}
	headers.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
	return digest.FetchRequest{URL: rawURL, Headers: headers}
}

func checkHTML(resp digest.FetchResponse) error {
	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(resp.Body)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrNotHTML, mediaType)
	}
}

func truncate(text string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text, false
	}
	runes := []rune(text)
	return string(runes[:maxChars]), true
}
