package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/topic-digest/internal/clock/system"
	"github.com/JakeFAU/topic-digest/internal/digest"
	"github.com/JakeFAU/topic-digest/internal/dispatcher"
	"github.com/JakeFAU/topic-digest/internal/progress"
	pubmemory "github.com/JakeFAU/topic-digest/internal/publisher/memory"
	"github.com/JakeFAU/topic-digest/internal/worker"
)

func article(seed string) string {
	return strings.Repeat(seed+" ", 250/(len(seed)+1)+1)
}

type staticFeed struct {
	mu        sync.Mutex
	items     []digest.Candidate
	maxCounts []int
}

func (f *staticFeed) FetchCandidates(_ context.Context, _ string, maxCount int) []digest.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxCounts = append(f.maxCounts, maxCount)
	if maxCount < len(f.items) {
		return f.items[:maxCount]
	}
	return f.items
}

type identityResolver struct{}

func (identityResolver) Resolve(_ context.Context, link string) digest.Resolution {
	return digest.Resolution{State: digest.ResolutionUnchanged, Original: link, Final: link}
}

type mapExtractor struct {
	texts  map[string]string
	delays map[string]time.Duration
}

func (e mapExtractor) Extract(_ context.Context, url string) digest.Extraction {
	time.Sleep(e.delays[url])
	text, ok := e.texts[url]
	if !ok {
		return digest.Extraction{URL: url, Status: digest.ExtractFetchFailed}
	}
	return digest.Extraction{URL: url, Text: text, Status: digest.ExtractOK}
}

// recordingSummarizer returns "summary of <first word>" and records every input.
type recordingSummarizer struct {
	mu      sync.Mutex
	inputs  []string
	failure digest.FailureKind
}

func (s *recordingSummarizer) Summarize(_ context.Context, text string) digest.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, text)
	if s.failure != digest.FailureNone {
		return digest.Failed(s.failure, errors.New("model error"))
	}
	return digest.Succeeded("summary of " + strings.Fields(text)[0])
}

func (s *recordingSummarizer) Inputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.inputs...)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, len(e.events))
	for i, evt := range e.events {
		out[i] = evt.Stage
	}
	return out
}

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

func newOrchestrator(
	t *testing.T,
	feed digest.FeedSource,
	extractor digest.ContentExtractor,
	summarizer digest.Summarizer,
	concurrency int,
	opts ...Option,
) *Orchestrator {
	t.Helper()
	w := worker.New(identityResolver{}, extractor, summarizer, nil, worker.Config{MinChars: 200}, zap.NewNop())
	d := dispatcher.New(w, concurrency, zap.NewNop())
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	o, err := New(feed, d, summarizer, Config{MaxCandidates: 5}, opts...)
	require.NoError(t, err)
	return o
}

func TestRunZeroCandidates(t *testing.T) {
	t.Parallel()

	summarizer := &recordingSummarizer{}
	o := newOrchestrator(t, &staticFeed{}, mapExtractor{}, summarizer, 4)

	result := o.Run(context.Background(), "nothing-matches")
	require.NotNil(t, result.ArticleSummaries)
	require.Empty(t, result.ArticleSummaries)
	require.Equal(t, digest.SentinelNoSummaries, result.ConsolidatedSummary)
	require.Empty(t, summarizer.Inputs())

	raw, err := json.Marshal(result)
	require.NoError(t, err)
	require.JSONEq(t, `{"article_summaries":[],"consolidated_summary":"No summaries available."}`, string(raw))
}

func TestRunScenarioTwoOfThreeAccepted(t *testing.T) {
	t.Parallel()

	feed := &staticFeed{items: []digest.Candidate{
		{Title: "Alpha", Link: "https://a.example/1"},
		{Title: "Empty", Link: "https://b.example/2"},
		{Title: "Gamma", Link: "https://c.example/3"},
	}}
	extractor := mapExtractor{texts: map[string]string{
		"https://a.example/1": article("alpha"),
		"https://b.example/2": "",
		"https://c.example/3": article("gamma"),
	}}
	summarizer := &recordingSummarizer{}
	o := newOrchestrator(t, feed, extractor, summarizer, 4)

	result := o.Run(context.Background(), "golang")
	require.Equal(t, []digest.ArticleSummary{
		{Title: "Alpha", Link: "https://a.example/1", Summary: "summary of alpha"},
		{Title: "Gamma", Link: "https://c.example/3", Summary: "summary of gamma"},
	}, result.ArticleSummaries)

	inputs := summarizer.Inputs()
	require.Len(t, inputs, 3)
	require.Equal(t, "summary of alpha summary of gamma", inputs[2])
	require.Equal(t, "summary of summary", result.ConsolidatedSummary)
	require.Equal(t, []int{5}, feed.maxCounts)
}

func TestRunShortTextNeverSummarized(t *testing.T) {
	t.Parallel()

	short := "  " + strings.Repeat("x", 199) + "  "
	feed := &staticFeed{items: []digest.Candidate{{Title: "Teaser", Link: "https://a.example/teaser"}}}
	summarizer := &recordingSummarizer{}
	o := newOrchestrator(t, feed, mapExtractor{texts: map[string]string{"https://a.example/teaser": short}}, summarizer, 1)

	report := o.Execute(context.Background(), "golang")
	require.Empty(t, report.Result.ArticleSummaries)
	require.Equal(t, digest.SentinelNoSummaries, report.Result.ConsolidatedSummary)
	require.Empty(t, summarizer.Inputs())
	require.Len(t, report.Items, 1)
	require.False(t, report.Items[0].Accepted)
	require.Equal(t, 199, report.Items[0].TextLength)
}

func TestRunPreservesFeedOrderUnderParallelism(t *testing.T) {
	t.Parallel()

	const n = 5
	feed := &staticFeed{}
	extractor := mapExtractor{texts: map[string]string{}, delays: map[string]time.Duration{}}
	for i := 0; i < n; i++ {
		link := fmt.Sprintf("https://news.example.com/%d", i)
		feed.items = append(feed.items, digest.Candidate{Title: fmt.Sprint(i), Link: link})
		extractor.texts[link] = article(fmt.Sprintf("item%d", i))
		extractor.delays[link] = time.Duration(n-i) * 15 * time.Millisecond
	}
	summarizer := &recordingSummarizer{}
	o := newOrchestrator(t, feed, extractor, summarizer, n)

	result := o.Run(context.Background(), "golang")
	require.Len(t, result.ArticleSummaries, n)
	for i, s := range result.ArticleSummaries {
		require.Equal(t, fmt.Sprint(i), s.Title)
		require.Equal(t, fmt.Sprintf("summary of item%d", i), s.Summary)
	}
	inputs := summarizer.Inputs()
	require.Equal(t, "summary of item0 summary of item1 summary of item2 summary of item3 summary of item4", inputs[len(inputs)-1])
}

func TestRunScenarioModelDownEverywhere(t *testing.T) {
	t.Parallel()

	feed := &staticFeed{items: []digest.Candidate{
		{Title: "A", Link: "https://a.example"},
		{Title: "B", Link: "https://b.example"},
	}}
	extractor := mapExtractor{texts: map[string]string{
		"https://a.example": article("a"),
		"https://b.example": article("b"),
	}}
	summarizer := &recordingSummarizer{failure: digest.FailureModelUnavailable}
	o := newOrchestrator(t, feed, extractor, summarizer, 2)

	report := o.Execute(context.Background(), "golang")
	require.Len(t, report.Result.ArticleSummaries, 2)
	for _, s := range report.Result.ArticleSummaries {
		require.Equal(t, digest.SentinelModelUnavailable, s.Summary)
	}
	require.Equal(t, digest.SentinelModelUnavailable, report.Result.ConsolidatedSummary)

	inputs := summarizer.Inputs()
	require.Len(t, inputs, 3)
	require.Equal(t, digest.SentinelModelUnavailable+" "+digest.SentinelModelUnavailable, inputs[2])
	require.Equal(t, digest.FailureModelUnavailable, report.Consolidation.Failure)
}

// brokenExtractor dereferences a nil map entry for every link it has no page for.
type brokenExtractor struct {
	pages map[string]*digest.Extraction
}

func (e brokenExtractor) Extract(_ context.Context, url string) digest.Extraction {
	return *e.pages[url]
}

func TestRunSurvivesExtractorPanic(t *testing.T) {
	t.Parallel()

	feed := &staticFeed{items: []digest.Candidate{{Title: "Hostile", Link: "https://a.example/hostile"}}}
	summarizer := &recordingSummarizer{}
	o := newOrchestrator(t, feed, brokenExtractor{}, summarizer, 1)

	var report digest.RunReport
	require.NotPanics(t, func() { report = o.Execute(context.Background(), "golang") })
	require.Empty(t, report.Result.ArticleSummaries)
	require.Equal(t, digest.SentinelNoSummaries, report.Result.ConsolidatedSummary)
	require.Empty(t, summarizer.Inputs())
	require.Len(t, report.Items, 1)
	require.Equal(t, digest.ExtractPanicked, report.Items[0].Extract)
	require.False(t, report.Items[0].Accepted)
}

func TestRunPanicDoesNotAffectOtherArticles(t *testing.T) {
	t.Parallel()

	feed := &staticFeed{items: []digest.Candidate{
		{Title: "Alpha", Link: "https://a.example/1"},
		{Title: "Hostile", Link: "https://b.example/2"},
		{Title: "Gamma", Link: "https://c.example/3"},
	}}
	extractor := brokenExtractor{pages: map[string]*digest.Extraction{
		"https://a.example/1": {URL: "https://a.example/1", Text: article("alpha"), Status: digest.ExtractOK},
		"https://c.example/3": {URL: "https://c.example/3", Text: article("gamma"), Status: digest.ExtractOK},
	}}
	o := newOrchestrator(t, feed, extractor, &recordingSummarizer{}, 2)

	result := o.Run(context.Background(), "golang")
	require.Equal(t, []digest.ArticleSummary{
		{Title: "Alpha", Link: "https://a.example/1", Summary: "summary of alpha"},
		{Title: "Gamma", Link: "https://c.example/3", Summary: "summary of gamma"},
	}, result.ArticleSummaries)
}

func TestExecuteEmitsProgressAndNotifies(t *testing.T) {
	t.Parallel()

	feed := &staticFeed{items: []digest.Candidate{
		{Title: "A", Link: "https://a.example"},
		{Title: "B", Link: "https://b.example"},
	}}
	extractor := mapExtractor{texts: map[string]string{"https://a.example": article("a")}}
	emitter := &recordingEmitter{}
	pub := pubmemory.New()
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	o := newOrchestrator(t, feed, extractor, &recordingSummarizer{}, 1,
		WithEmitter(emitter),
		WithPublisher(pub, "digest-runs"),
		WithIDs(fixedIDs{id: "run-42"}),
		WithClock(system.NewStepper(start, time.Second)),
	)

	report := o.Execute(context.Background(), "golang")
	require.Equal(t, "run-42", report.RunID)
	require.Equal(t, start, report.StartedAt)
	require.Equal(t, 1, report.Accepted())

	stages := emitter.stages()
	require.Equal(t, []progress.Stage{
		progress.StageRunStart,
		progress.StageFeedDone,
		progress.StageItemDone,
		progress.StageItemDone,
		progress.StageRunDone,
	}, stages)
	for _, evt := range emitter.events {
		require.NoError(t, evt.Validate())
	}
	last := emitter.events[len(emitter.events)-1]
	assert.Equal(t, progress.ResultSummarized, last.Result)
	assert.Equal(t, 1, last.Count)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "digest-runs", msgs[0].Topic)
	var note digest.RunNotification
	require.NoError(t, json.Unmarshal(msgs[0].Data, &note))
	require.Equal(t, "run-42", note.RunID)
	require.Equal(t, "golang", note.Topic)
	require.Equal(t, 2, note.Candidates)
	require.Equal(t, 1, note.Accepted)
	require.Empty(t, note.ConsolidatedFailure)
	require.NotContains(t, string(msgs[0].Data), "summary of")
}

func TestExecutePublishFailureDoesNotAffectResult(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	pub.FailWith(errors.New("pubsub down"))
	o := newOrchestrator(t, &staticFeed{}, mapExtractor{}, &recordingSummarizer{}, 1, WithPublisher(pub, "digest-runs"))

	result := o.Run(context.Background(), "golang")
	require.Equal(t, digest.SentinelNoSummaries, result.ConsolidatedSummary)
}

func TestExecuteCanceledContextDegrades(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	feed := &staticFeed{items: []digest.Candidate{{Title: "A", Link: "https://a.example"}}}
	emitter := &recordingEmitter{}
	o := newOrchestrator(t, feed, mapExtractor{texts: map[string]string{"https://a.example": article("a")}},
		&recordingSummarizer{}, 1, WithEmitter(emitter))

	report := o.Execute(ctx, "golang")
	require.Empty(t, report.Result.ArticleSummaries)
	require.Equal(t, digest.SentinelNoSummaries, report.Result.ConsolidatedSummary)
	require.Equal(t, progress.ResultCanceled, emitter.events[len(emitter.events)-1].Result)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, nil, Config{})
	require.Error(t, err)
}
