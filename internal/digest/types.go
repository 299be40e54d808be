// Package digest defines the core types shared across the summarization pipeline.
package digest

import (
	"net/http"
	"time"
)

// Candidate is a feed entry before its link is resolved or its content fetched.
type Candidate struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// ResolutionState describes how a candidate link was resolved.
type ResolutionState string

// Resolution states reported by a LinkResolver.
const (
	ResolutionResolved  ResolutionState = "resolved"
	ResolutionUnchanged ResolutionState = "unchanged"
	ResolutionFailed    ResolutionState = "failed"
)

// Resolution is the outcome of following a candidate link to its destination.
type Resolution struct {
	State    ResolutionState
	Original string
	Final    string
	Err      error
}

// URL returns the destination when one was found and the original link otherwise.
func (r Resolution) URL() string {
	if r.State == ResolutionFailed || r.Final == "" {
		return r.Original
	}
	return r.Final
}

// ExtractStatus groups the ways content extraction can finish.
type ExtractStatus string

// Extraction statuses.
const (
	ExtractOK          ExtractStatus = "ok"
	ExtractFetchFailed ExtractStatus = "fetch_failed"
	ExtractBadStatus   ExtractStatus = "bad_status"
	ExtractNotHTML     ExtractStatus = "not_html"
	ExtractParseFailed ExtractStatus = "parse_failed"
	ExtractSkipped     ExtractStatus = "skipped"
	ExtractPanicked    ExtractStatus = "panicked"
)

// Extraction holds the article body found at a URL. Text may be empty.
type Extraction struct {
	URL          string
	Text         string
	Status       ExtractStatus
	Strategy     string
	StatusCode   int
	UsedHeadless bool
	Truncated    bool
}

// FailureKind tags why a summarization call did not yield model output.
type FailureKind string

// Failure kinds reported by a Summarizer.
const (
	FailureNone              FailureKind = ""
	FailureEmptyInput        FailureKind = "empty_input"
	FailureModelUnavailable  FailureKind = "model_unavailable"
	FailureTimeout           FailureKind = "timeout"
	FailureMalformedResponse FailureKind = "malformed_response"
	FailureTransport         FailureKind = "transport"
)

// User-facing placeholder strings returned in place of a model summary.
const (
	SentinelEmptyInput        = "⚠️ No content to summarize."
	SentinelModelUnavailable  = "⚠️ Hugging Face model is loading or errored."
	SentinelMalformedResponse = "⚠️ Summary could not be generated."
	SentinelTimeout           = "⚠️ Summarization service took too long to respond."
	SentinelTransport         = "⚠️ Error during summarization."
	SentinelNoSummaries       = "No summaries available."
)

// Outcome is the tagged result of one summarization call.
type Outcome struct {
	Text    string
	Failure FailureKind
	Err     error
}

// Succeeded builds a successful Outcome.
func Succeeded(text string) Outcome {
	return Outcome{Text: text}
}

// Failed builds an Outcome for the given failure kind.
func Failed(kind FailureKind, err error) Outcome {
	return Outcome{Failure: kind, Err: err}
}

// OK reports whether the model produced the text.
func (o Outcome) OK() bool {
	return o.Failure == FailureNone
}

// Display converts the outcome into the string shown to users.
func (o Outcome) Display() string {
	switch o.Failure {
	case FailureNone:
		return o.Text
	case FailureEmptyInput:
		return SentinelEmptyInput
	case FailureModelUnavailable:
		return SentinelModelUnavailable
	case FailureTimeout:
		return SentinelTimeout
	case FailureMalformedResponse:
		return SentinelMalformedResponse
	default:
		return SentinelTransport
	}
}

// ArticleSummary is produced for every candidate whose content passed the length gate.
type ArticleSummary struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Summary string `json:"summary"`
}

// PipelineResult is the externally visible artifact of one run.
type PipelineResult struct {
	ArticleSummaries    []ArticleSummary `json:"article_summaries"`
	ConsolidatedSummary string           `json:"consolidated_summary"`
}

// WorkItem is one candidate scheduled for processing, tagged with its feed position.
type WorkItem struct {
	RunID     string
	Index     int
	Candidate Candidate
}

// ItemReport records what happened to a candidate at every stage.
type ItemReport struct {
	Index      int           `json:"index"`
	Candidate  Candidate     `json:"candidate"`
	Resolution Resolution    `json:"-"`
	Resolved   string        `json:"resolved_url"`
	Extract    ExtractStatus `json:"extract_status"`
	TextLength int           `json:"text_length"`
	Accepted   bool          `json:"accepted"`
	Outcome    Outcome       `json:"-"`
	Failure    FailureKind   `json:"failure,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// RunReport is the detailed record of one pipeline run.
type RunReport struct {
	RunID         string         `json:"run_id"`
	Topic         string         `json:"topic"`
	StartedAt     time.Time      `json:"started_at"`
	Duration      time.Duration  `json:"duration"`
	Items         []ItemReport   `json:"items"`
	Consolidation Outcome        `json:"-"`
	Result        PipelineResult `json:"result"`
}

// Accepted counts the items that produced an ArticleSummary.
func (r RunReport) Accepted() int {
	n := 0
	for _, item := range r.Items {
		if item.Accepted {
			n++
		}
	}
	return n
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// RunNotification is published when a run completes. It carries counts only, never summary text.
type RunNotification struct {
	RunID               string      `json:"run_id"`
	Topic               string      `json:"topic"`
	Candidates          int         `json:"candidates"`
	Accepted            int         `json:"accepted"`
	ConsolidatedFailure FailureKind `json:"consolidated_failure,omitempty"`
	DurationMs          int64       `json:"duration_ms"`
	CompletedAt         time.Time   `json:"completed_at"`
}

// Attributes returns message attributes for routing the notification.
func (n RunNotification) Attributes() map[string]string {
	return map[string]string{
		"event":  "run_completed",
		"run_id": n.RunID,
	}
}
