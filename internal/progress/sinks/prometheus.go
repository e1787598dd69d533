package sinks

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ballardtrucks/roundup/internal/progress"
)

// PrometheusSink exports scrape progress via Prometheus. It owns the
// collectors for runs, per-source results, retries, and extracted events.
type PrometheusSink struct {
	runsStarted    prometheus.Counter
	runRuntime     prometheus.Histogram
	sourcesScraped *prometheus.CounterVec
	sourceRuntime  *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	eventsTotal    *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roundup_runs_started_total",
			Help: "Total aggregation runs started.",
		}),
		runRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roundup_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		sourcesScraped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roundup_sources_scraped_total",
			Help: "Source attempts completed, partitioned by source and result.",
		}, []string{"source", "result"}),
		sourceRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roundup_source_duration_seconds",
			Help:    "Extraction duration per source.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"source"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roundup_source_retries_total",
			Help: "Retry attempts per source.",
		}, []string{"source"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roundup_events_extracted_total",
			Help: "Events extracted per source before validation.",
		}, []string{"source"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runRuntime,
		s.sourcesScraped,
		s.sourceRuntime,
		s.retries,
		s.eventsTotal,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Observe updates the collectors for one event. Safe for concurrent use.
func (s *PrometheusSink) Observe(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		if evt.Dur > 0 {
			s.runRuntime.Observe(evt.Dur.Seconds())
		}
	case progress.StageSourceRetry:
		s.retries.WithLabelValues(evt.SourceKey).Inc()
	case progress.StageSourceDone:
		s.sourcesScraped.WithLabelValues(evt.SourceKey, "success").Inc()
		s.eventsTotal.WithLabelValues(evt.SourceKey).Add(float64(evt.Events))
		s.observeRuntime(evt)
	case progress.StageSourceError:
		result := evt.Cause
		if result == "" {
			result = "error"
		}
		s.sourcesScraped.WithLabelValues(evt.SourceKey, result).Inc()
		s.observeRuntime(evt)
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event) {
	if evt.Dur > 0 {
		s.sourceRuntime.WithLabelValues(evt.SourceKey).Observe(evt.Dur.Seconds())
	}
}
