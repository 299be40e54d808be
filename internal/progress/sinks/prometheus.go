package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/topic-digest/internal/progress"
)

// PrometheusSink exports run progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	feedSize      prometheus.Histogram
	items         *prometheus.CounterVec
	itemDuration  *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg, or the default registerer when nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "digest_progress_runs_started_total",
			Help: "Runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digest_progress_runs_completed_total",
			Help: "Runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "digest_progress_runs_running",
			Help: "Runs currently in flight.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "digest_progress_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"result"}),
		feedSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "digest_progress_feed_candidates",
			Help:    "Candidates returned by the feed per run.",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digest_progress_items_total",
			Help: "Candidates processed partitioned by extraction status and acceptance.",
		}, []string{"extract_status", "accepted"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "digest_progress_item_duration_seconds",
			Help:    "Per-candidate processing time.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"accepted"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.feedSize,
		s.items,
		s.itemDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.tracker.start(evt.RunID) {
				s.runsRunning.Inc()
			}
		case progress.StageFeedDone:
			s.feedSize.Observe(float64(evt.Count))
		case progress.StageItemDone:
			accepted := fmt.Sprint(evt.Accepted)
			s.items.WithLabelValues(evt.ExtractStatus, accepted).Inc()
			if evt.Dur > 0 {
				s.itemDuration.WithLabelValues(accepted).Observe(evt.Dur.Seconds())
			}
		case progress.StageRunDone:
			s.runsCompleted.WithLabelValues(evt.Result).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(evt.Result).Observe(evt.Dur.Seconds())
			}
			if s.tracker.complete(evt.RunID) {
				s.runsRunning.Dec()
			}
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
