package summarize

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/topic-digest/internal/digest"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.APIURL = srv.URL
	opts = append(opts, WithLogger(zap.NewNop()))
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c
}

func TestSummarizeSuccess(t *testing.T) {
	t.Parallel()

	seen := make(chan *http.Request, 1)
	bodies := make(chan requestBody, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body requestBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
		seen <- r.Clone(context.Background())
		_, _ = w.Write([]byte(`[{"summary_text":"A short summary."}]`))
	}, Config{APIKey: "hf_secret", Timeout: 5 * time.Second})

	out := c.Summarize(context.Background(), "Some long article text.")
	require.True(t, out.OK())
	require.Equal(t, "A short summary.", out.Text)
	require.Equal(t, "A short summary.", out.Display())

	req := <-seen
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "Bearer hf_secret", req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	body := <-bodies
	assert.Equal(t, "Some long article text.", body.Inputs)
	assert.Nil(t, body.Parameters)
	assert.Nil(t, body.Options)
}

func TestSummarizeSendsOptionalParameters(t *testing.T) {
	t.Parallel()

	raw := make(chan []byte, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		raw <- b
		_, _ = w.Write([]byte(`[{"summary_text":"ok"}]`))
	}, Config{MinLength: 30, MaxLength: 130, WaitForModel: true})

	require.True(t, c.Summarize(context.Background(), "text").OK())
	require.JSONEq(t,
		`{"inputs":"text","parameters":{"min_length":30,"max_length":130},"options":{"wait_for_model":true}}`,
		string(<-raw))
}

func TestSummarizeBlankInputMakesNoCall(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[{"summary_text":"x"}]`))
	}, Config{})

	for _, in := range []string{"", "   ", "\n\t"} {
		out := c.Summarize(context.Background(), in)
		require.Equal(t, digest.FailureEmptyInput, out.Failure)
		require.Equal(t, digest.SentinelEmptyInput, out.Display())
	}
	require.Zero(t, calls.Load())
}

func TestSummarizeResponseShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		failure digest.FailureKind
		display string
	}{
		{"model loading", http.StatusServiceUnavailable, `{"error":"Model is currently loading","estimated_time":20}`, digest.FailureModelUnavailable, digest.SentinelModelUnavailable},
		{"error on 200", http.StatusOK, `{"error":"boom"}`, digest.FailureModelUnavailable, digest.SentinelModelUnavailable},
		{"empty array", http.StatusOK, `[]`, digest.FailureMalformedResponse, digest.SentinelMalformedResponse},
		{"array without summary", http.StatusOK, `[{"generated_text":"x"}]`, digest.FailureMalformedResponse, digest.SentinelMalformedResponse},
		{"array of strings", http.StatusOK, `["x"]`, digest.FailureMalformedResponse, digest.SentinelMalformedResponse},
		{"blank summary", http.StatusOK, `[{"summary_text":"  "}]`, digest.FailureMalformedResponse, digest.SentinelMalformedResponse},
		{"object without error", http.StatusOK, `{"summary_text":"x"}`, digest.FailureMalformedResponse, digest.SentinelMalformedResponse},
		{"scalar", http.StatusOK, `42`, digest.FailureMalformedResponse, digest.SentinelMalformedResponse},
		{"not json", http.StatusBadGateway, `<html>bad gateway</html>`, digest.FailureTransport, digest.SentinelTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, Config{})
			out := c.Summarize(context.Background(), "text")
			assert.Equal(t, tt.failure, out.Failure)
			assert.Equal(t, tt.display, out.Display())
		})
	}
}

func TestSummarizeTimeoutIsDistinct(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, Config{Timeout: 50 * time.Millisecond})
	// Registered after newTestClient so it runs before srv.Close (cleanups are LIFO).
	t.Cleanup(func() { close(release) })

	out := c.Summarize(context.Background(), "text")
	require.Equal(t, digest.FailureTimeout, out.Failure)
	require.Equal(t, digest.SentinelTimeout, out.Display())
	require.NotEqual(t, digest.SentinelTransport, out.Display())
}

func TestSummarizeConnectionRefusedIsTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{APIURL: url, Timeout: time.Second})
	require.NoError(t, err)
	out := c.Summarize(context.Background(), "text")
	require.Equal(t, digest.FailureTransport, out.Failure)
	require.Equal(t, digest.SentinelTransport, out.Display())
}

func TestSummarizeRetriesModelLoading(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"loading"}`))
			return
		}
		_, _ = w.Write([]byte(`[{"summary_text":"ready now"}]`))
	}, Config{}, WithRetryPolicy(digest.NewExponentialRetryPolicy(3, time.Millisecond, 5*time.Millisecond)))

	out := c.Summarize(context.Background(), "text")
	require.True(t, out.OK())
	require.Equal(t, "ready now", out.Text)
	require.Equal(t, int32(3), calls.Load())
}

func TestSummarizeDoesNotRetryMalformed(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[]`))
	}, Config{}, WithRetryPolicy(digest.NewExponentialRetryPolicy(3, time.Millisecond, 5*time.Millisecond)))

	out := c.Summarize(context.Background(), "text")
	require.Equal(t, digest.FailureMalformedResponse, out.Failure)
	require.Equal(t, int32(1), calls.Load())
}

func TestSummarizeRetriesExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"error":"still loading"}`))
	}, Config{}, WithRetryPolicy(digest.NewExponentialRetryPolicy(2, time.Millisecond, 2*time.Millisecond)))

	out := c.Summarize(context.Background(), "text")
	require.Equal(t, digest.FailureModelUnavailable, out.Failure)
	require.Equal(t, int32(3), calls.Load())
}

type recordingWaiter struct{ keys []string }

func (w *recordingWaiter) WaitKey(_ context.Context, key string) error {
	w.keys = append(w.keys, key)
	return nil
}

func TestSummarizeWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	waiter := &recordingWaiter{}
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"summary_text":"ok"}]`))
	}, Config{}, WithLimiter(waiter))

	require.True(t, c.Summarize(WithStage(context.Background(), "article"), "text").OK())
	require.Equal(t, []string{limiterKey}, waiter.keys)
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestStageFrom(t *testing.T) {
	t.Parallel()

	require.Equal(t, "direct", stageFrom(context.Background()))
	require.Equal(t, "consolidated", stageFrom(WithStage(context.Background(), "consolidated")))
}
