package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/topic-digest/internal/config"
	"github.com/JakeFAU/topic-digest/internal/digest"
)

type fakePipeline struct {
	mu     sync.Mutex
	topics []string
	result digest.PipelineResult
	block  bool
	panic  bool
}

func (p *fakePipeline) Run(ctx context.Context, topic string) digest.PipelineResult {
	p.mu.Lock()
	p.topics = append(p.topics, topic)
	p.mu.Unlock()
	if p.panic {
		panic("boom")
	}
	if p.block {
		<-ctx.Done()
	}
	return p.result
}

func (p *fakePipeline) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

type fakeSummarizer struct {
	mu     sync.Mutex
	inputs []string
	out    digest.Outcome
}

func (s *fakeSummarizer) Summarize(_ context.Context, text string) digest.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, text)
	return s.out
}

func testConfig() config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: 10000, RequestTimeoutSeconds: 30},
		Pipeline: config.PipelineConfig{TestText: "Artificial Intelligence has become a transformative technology."},
	}
}

func newTestServer(p *fakePipeline, cfg config.Config) *Server {
	return NewServer(p, &fakeSummarizer{out: digest.Succeeded("AI is transformative.")}, cfg, zap.NewNop())
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSummarizeReturnsPipelineResult(t *testing.T) {
	t.Parallel()

	p := &fakePipeline{result: digest.PipelineResult{
		ArticleSummaries: []digest.ArticleSummary{
			{Title: "Go 1.25", Link: "https://go.dev/blog/go1.25", Summary: "A new GC."},
		},
		ConsolidatedSummary: "Go got faster.",
	}}
	s := newTestServer(p, testConfig())

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/summarize", bytes.NewBufferString(`{"topic":"golang"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{
		"article_summaries":[{"title":"Go 1.25","link":"https://go.dev/blog/go1.25","summary":"A new GC."}],
		"consolidated_summary":"Go got faster."
	}`, rec.Body.String())
	require.Equal(t, []string{"golang"}, p.seen())
}

func TestSummarizeMissingTopicRunsEmptyTopic(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"empty body":    "",
		"no topic":      `{}`,
		"null document": `null`,
		"other fields":  `{"query":"golang"}`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := &fakePipeline{result: digest.PipelineResult{
				ArticleSummaries:    []digest.ArticleSummary{},
				ConsolidatedSummary: digest.SentinelNoSummaries,
			}}
			s := newTestServer(p, testConfig())

			rec := serve(s, httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(body)))

			require.Equal(t, http.StatusOK, rec.Code)
			require.JSONEq(t, `{"article_summaries":[],"consolidated_summary":"No summaries available."}`, rec.Body.String())
			require.Equal(t, []string{""}, p.seen())
		})
	}
}

func TestSummarizeInvalidJSON(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"truncated":      `{invalid`,
		"topic not text": `{"topic":42}`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := &fakePipeline{}
			s := newTestServer(p, testConfig())

			rec := serve(s, httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(body)))

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.JSONEq(t, `{"error":"invalid JSON"}`, rec.Body.String())
			require.Empty(t, p.seen())
		})
	}
}

func TestStaticRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		body string
	}{
		{"/", `{"message":"Summarizer backend is running!"}`},
		{"/healthz", `{"status":"ok"}`},
		{"/readyz", `{"status":"ready"}`},
	}
	s := newTestServer(&fakePipeline{}, testConfig())
	for _, tt := range tests {
		rec := serve(s, httptest.NewRequest(http.MethodGet, tt.path, nil))
		require.Equal(t, http.StatusOK, rec.Code, tt.path)
		require.JSONEq(t, tt.body, rec.Body.String(), tt.path)
	}
}

func TestTestSummaryUsesConfiguredText(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	summarizer := &fakeSummarizer{out: digest.Failed(digest.FailureModelUnavailable, nil)}
	s := NewServer(&fakePipeline{}, summarizer, cfg, zap.NewNop())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/test-summary", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, digest.SentinelModelUnavailable, body["test_summary"])
	require.Equal(t, []string{cfg.Pipeline.TestText}, summarizer.inputs)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakePipeline{}, testConfig())
	serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakePipeline{}, testConfig())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	generated := rec.Header().Get("X-Request-ID")
	require.Len(t, generated, 36)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "0190c6d2-7f1e-7a3b-9c4d-5e6f7a8b9c0d")
	rec = serve(s, req)
	require.Equal(t, "0190c6d2-7f1e-7a3b-9c4d-5e6f7a8b9c0d", rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "not a uuid\nX-Injected: 1")
	rec = serve(s, req)
	require.NotContains(t, rec.Header().Get("X-Request-ID"), "Injected")
}

func TestCORSPreflightAllowsConfiguredOrigin(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.CORSAllowedOrigins = []string{"https://digest.example"}
	s := newTestServer(&fakePipeline{}, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/summarize", nil)
	req.Header.Set("Origin", "https://digest.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serve(s, req)
	assert.Equal(t, "https://digest.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/summarize", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = serve(s, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSDefaultsToAnyOrigin(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakePipeline{}, testConfig())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec := serve(s, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPIKeyRequiredWhenEnabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "s3cret"}
	p := &fakePipeline{}
	s := newTestServer(p, cfg)

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(`{"topic":"go"}`)))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, p.seen())

	req := httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(`{"topic":"go"}`))
	req.Header.Set("X-API-Key", "s3cret")
	rec = serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/test-summary?api_key=s3cret", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyRejectsNearMisses(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "s3cret"}
	p := &fakePipeline{}
	s := newTestServer(p, cfg)

	for _, key := range []string{"wrong", "s3cre", "s3cret!", "S3CRET", " s3cret"} {
		req := httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(`{"topic":"go"}`))
		req.Header.Set("X-API-Key", key)
		rec := serve(s, req)
		require.Equal(t, http.StatusForbidden, rec.Code, "key %q", key)
		require.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
	}
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/test-summary?api_key=s3cre", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, p.seen())
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakePipeline{panic: true}, testConfig())
	rec := serve(s, httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(`{"topic":"go"}`)))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestRequestTimeoutCancelsRun(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.RequestTimeoutSeconds = 1
	p := &fakePipeline{block: true}
	s := newTestServer(p, cfg)

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(`{"topic":"slow"}`)))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "request timed out")
}

func TestDecodeTopic(t *testing.T) {
	t.Parallel()

	topic, err := decodeTopic(strings.NewReader(`{"topic":"machine learning"}`))
	require.NoError(t, err)
	require.Equal(t, "machine learning", topic)

	topic, err = decodeTopic(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, topic)
}
