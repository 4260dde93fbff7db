// Package metrics exposes Prometheus collectors for sync runs and pushes them to a
// Pushgateway at the end of a run.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Page statuses.
const (
	PageOK     = "ok"
	PageEmpty  = "empty"
	PageFailed = "failed"
)

// Entry outcomes.
const (
	EntrySaved       = "saved"
	EntryFetchFailed = "fetch_failed"
	EntryMalformed   = "malformed"
	EntryStoreFailed = "store_failed"
	EntryNoID        = "no_id"
)

var (
	registry *prometheus.Registry

	syncPagesTotal          *prometheus.CounterVec
	syncEntriesTotal        *prometheus.CounterVec
	syncRequestDuration     *prometheus.HistogramVec
	syncLastRunTimestamp    prometheus.Gauge
	syncLastRunSuccess      prometheus.Gauge
	syncLastRunDurationSecs prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors on a dedicated registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()
		factory := promauto.With(registry)

		syncPagesTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penzu_sync_pages_total",
				Help: "Listing pages requested, labeled by status.",
			},
			[]string{"status"},
		)

		syncEntriesTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penzu_sync_entries_total",
				Help: "Entries processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		syncRequestDuration = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "penzu_sync_request_duration_seconds",
				Help:    "Latency of API requests, labeled by endpoint.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"endpoint"},
		)

		syncLastRunTimestamp = factory.NewGauge(prometheus.GaugeOpts{
			Name: "penzu_sync_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		})

		syncLastRunSuccess = factory.NewGauge(prometheus.GaugeOpts{
			Name: "penzu_sync_last_run_success",
			Help: "1 when the last run completed without error, 0 otherwise.",
		})

		syncLastRunDurationSecs = factory.NewGauge(prometheus.GaugeOpts{
			Name: "penzu_sync_last_run_duration_seconds",
			Help: "Wall time of the last run.",
		})
	})
}

// Registry returns the registry holding the sync collectors.
func Registry() *prometheus.Registry {
	Init()
	return registry
}

// ObservePage increments the page counter for the given status.
func ObservePage(status string) {
	Init()
	syncPagesTotal.WithLabelValues(status).Inc()
}

// ObserveEntry increments the entry counter for the given outcome.
func ObserveEntry(outcome string) {
	Init()
	syncEntriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRequest records the latency of a listing or detail request.
func ObserveRequest(endpoint string, duration time.Duration) {
	Init()
	syncRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRun records the completion of a run.
func ObserveRun(finished time.Time, duration time.Duration, success bool) {
	Init()
	syncLastRunTimestamp.Set(float64(finished.Unix()))
	syncLastRunDurationSecs.Set(duration.Seconds())
	if success {
		syncLastRunSuccess.Set(1)
	} else {
		syncLastRunSuccess.Set(0)
	}
}

// Push sends the registry to a Pushgateway under job, grouped by instance.
func Push(ctx context.Context, url, job, instance string) error {
	if url == "" {
		return nil
	}
	pusher := push.New(url, job).Gatherer(Registry())
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
