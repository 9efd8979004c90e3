package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/forumharvest/internal/progress"
)

// PrometheusSink turns progress events into harvest metrics.
type PrometheusSink struct {
	runsStarted      prometheus.Counter
	pages            *prometheus.CounterVec
	recordsExtracted prometheus.Counter
	recordsStored    prometheus.Counter
	storeFailures    prometheus.Counter
	entriesSkipped   prometheus.Counter
	pageDuration     *prometheus.HistogramVec
	lastRunDuration  prometheus.Gauge
	lastRunSuccess   prometheus.Gauge
}

// Page result label values.
const (
	resultPresent = "present"
	resultAbsent  = "absent"
)

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_runs_started_total",
			Help: "Harvest runs started.",
		}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_pages_total",
			Help: "Pages processed partitioned by result.",
		}, []string{"result"}),
		recordsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_records_extracted_total",
			Help: "Records extracted from listing pages.",
		}),
		recordsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_records_stored_total",
			Help: "Records upserted successfully.",
		}),
		storeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_store_failures_total",
			Help: "Record upserts that failed.",
		}),
		entriesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_entries_skipped_total",
			Help: "Listing entries skipped for a missing identifier or timestamp.",
		}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_page_duration_seconds",
			Help:    "Page processing time partitioned by status class.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"status_class"}),
		lastRunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_last_run_duration_seconds",
			Help: "Wall time of the most recent run.",
		}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_last_run_success_timestamp_seconds",
			Help: "Unix time the most recent uncanceled run finished.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.pages,
		s.recordsExtracted,
		s.recordsStored,
		s.storeFailures,
		s.entriesSkipped,
		s.pageDuration,
		s.lastRunDuration,
		s.lastRunSuccess,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
		case progress.StagePageDone:
			s.observePage(evt)
		case progress.StageRunDone:
			s.lastRunDuration.Set(evt.Dur.Seconds())
			if !evt.Canceled {
				s.lastRunSuccess.Set(float64(evt.TS.Unix()))
			}
		}
	}
	return nil
}

func (s *PrometheusSink) observePage(evt progress.Event) {
	result := resultAbsent
	if evt.Present {
		result = resultPresent
	}
	s.pages.WithLabelValues(result).Inc()
	s.recordsExtracted.Add(float64(evt.Extracted))
	s.recordsStored.Add(float64(evt.Stored))
	s.storeFailures.Add(float64(evt.Failures))
	s.entriesSkipped.Add(float64(evt.Skipped))
	if evt.Dur > 0 {
		s.pageDuration.WithLabelValues(string(evt.StatusClass)).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
