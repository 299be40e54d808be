package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the run milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StageFeedDone Stage = "FEED_DONE"
	StageItemDone Stage = "ITEM_DONE"
	StageRunDone  Stage = "RUN_DONE"
)

// Run results reported on RUN_DONE events.
const (
	ResultSummarized  = "summarized"
	ResultNoSummaries = "no_summaries"
	ResultDegraded    = "degraded"
	ResultCanceled    = "canceled"
)

// Event is one milestone of a run.
type Event struct {
	RunID string
	TS    time.Time
	Stage Stage
	Topic string
	// Index is the feed position of the candidate for ITEM_DONE events.
	Index int
	URL   string
	// Count is the number of candidates on FEED_DONE and accepted articles on RUN_DONE.
	Count         int
	Accepted      bool
	ExtractStatus string
	Failure       string
	Result        string
	Dur           time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageFeedDone:
	case StageItemDone:
		if e.Index < 0 {
			return errors.New("item index must be >= 0")
		}
		if e.ExtractStatus == "" {
			return errors.New("item done requires extract status")
		}
	case StageRunDone:
		if e.Result == "" {
			return errors.New("run done requires result")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Count < 0 {
		return errors.New("count must be >= 0")
	}
	return nil
}
