package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"skinflow/models"
)

// Prometheus holds the ingestion metrics exposed on /metrics.
type Prometheus struct {
	registry *prometheus.Registry

	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	LastRunTimestamp  prometheus.Gauge
	ItemsFetched      *prometheus.CounterVec
	ItemsProcessed    *prometheus.CounterVec
	DuplicatesDropped *prometheus.CounterVec
	Batches           *prometheus.CounterVec
	SourceDuration    *prometheus.HistogramVec
	SourceErrors      *prometheus.CounterVec
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skinflow_runs_total",
			Help: "Ingestion runs by result",
		}, []string{"result"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "skinflow_run_duration_seconds",
			Help:    "Wall time of an ingestion run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 480},
		}),
		LastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "skinflow_last_run_timestamp_seconds",
			Help: "Start time of the last completed run",
		}),
		ItemsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skinflow_items_fetched_total",
			Help: "Listing items fetched per marketplace",
		}, []string{"marketplace"}),
		ItemsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skinflow_items_processed_total",
			Help: "Items written per marketplace",
		}, []string{"marketplace"}),
		DuplicatesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skinflow_duplicates_dropped_total",
			Help: "Items dropped as normalized-key duplicates",
		}, []string{"marketplace"}),
		Batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skinflow_batches_total",
			Help: "Batches by marketplace and status",
		}, []string{"marketplace", "status"}),
		SourceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skinflow_source_duration_seconds",
			Help:    "Wall time spent on one marketplace",
			Buckets: prometheus.DefBuckets,
		}, []string{"marketplace"}),
		SourceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skinflow_source_errors_total",
			Help: "Marketplaces that ended with an error",
		}, []string{"marketplace"}),
	}
}

// PublishRun folds a run result into the counters.
func (p *Prometheus) PublishRun(_ context.Context, result models.RunResult) error {
	label := "failure"
	if result.Success {
		label = "success"
	}
	p.RunsTotal.WithLabelValues(label).Inc()
	p.RunDuration.Observe(float64(result.Summary.TotalDurationMS) / 1000)
	p.LastRunTimestamp.Set(float64(result.Timestamp.Unix()))

	for _, r := range result.Results {
		p.ItemsFetched.WithLabelValues(r.Marketplace).Add(float64(r.ItemsFetched))
		p.ItemsProcessed.WithLabelValues(r.Marketplace).Add(float64(r.ItemsProcessed))
		p.DuplicatesDropped.WithLabelValues(r.Marketplace).Add(float64(r.DuplicatesDropped))
		p.Batches.WithLabelValues(r.Marketplace, string(models.BatchSucceeded)).Add(float64(r.SuccessfulBatches))
		p.Batches.WithLabelValues(r.Marketplace, string(models.BatchFailed)).Add(float64(r.FailedBatches))
		p.Batches.WithLabelValues(r.Marketplace, "skipped").Add(float64(r.SkippedBatches))
		p.SourceDuration.WithLabelValues(r.Marketplace).Observe(float64(r.DurationMS) / 1000)
		if r.Error != "" {
			p.SourceErrors.WithLabelValues(r.Marketplace).Inc()
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
