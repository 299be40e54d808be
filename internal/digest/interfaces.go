package digest

import (
	"context"
	"time"
)

// FeedSource produces candidates for a topic. Failures surface as an empty slice.
type FeedSource interface {
	FetchCandidates(ctx context.Context, topic string, maxCount int) []Candidate
}

// LinkResolver follows a possibly indirect link to its canonical destination.
type LinkResolver interface {
	Resolve(ctx context.Context, link string) Resolution
}

// ContentExtractor isolates the main text of the page at a URL.
type ContentExtractor interface {
	Extract(ctx context.Context, url string) Extraction
}

// Summarizer condenses text. It never returns an error; failures are tagged on the Outcome.
type Summarizer interface {
	Summarize(ctx context.Context, text string) Outcome
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a page should be re-rendered in a browser.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse, extractedChars int) bool
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RetryPolicy decides whether and when to retry a failed call.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Queue buffers work items between the dispatcher and its workers.
type Queue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	Dequeue(ctx context.Context) (WorkItem, error)
}
