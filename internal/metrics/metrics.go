// Package metrics exposes Prometheus counters for the worker pool and
// batch progress. It holds its own registry so tests never collide on
// the global default.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors aggregates every exported metric. It satisfies the worker
// pool's observer contract.
type Collectors struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	restartsTotal   *prometheus.CounterVec
	healthyWorkers  prometheus.Gauge
	batchProgress   prometheus.Gauge
	batchTotal      prometheus.Gauge
}

// New builds the collector set on a fresh registry.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	return &Collectors{
		registry: reg,
		requestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "quarry_worker_requests_total",
			Help: "Parse requests served, by worker and outcome.",
		}, []string{"worker", "outcome"}),
		requestDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "quarry_worker_request_seconds",
			Help:    "Parse request latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		restartsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "quarry_worker_restarts_total",
			Help: "Worker process restarts, by worker.",
		}, []string{"worker"}),
		healthyWorkers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "quarry_workers_healthy",
			Help: "Workers that passed their last health probe.",
		}),
		batchProgress: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "quarry_batch_files_done",
			Help: "Files completed in the current batch.",
		}),
		batchTotal: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "quarry_batch_files_total",
			Help: "Files in the current batch.",
		}),
	}
}

// RequestServed records one parse request outcome.
func (c *Collectors) RequestServed(workerID int, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.requestsTotal.WithLabelValues(strconv.Itoa(workerID), outcome).Inc()
	c.requestDuration.Observe(d.Seconds())
}

// WorkerRestarted records one worker restart.
func (c *Collectors) WorkerRestarted(workerID int) {
	c.restartsTotal.WithLabelValues(strconv.Itoa(workerID)).Inc()
}

// HealthyWorkers records the current healthy-worker count.
func (c *Collectors) HealthyWorkers(n int) {
	c.healthyWorkers.Set(float64(n))
}

// BatchProgress records batch completion state.
func (c *Collectors) BatchProgress(current, total int) {
	c.batchProgress.Set(float64(current))
	c.batchTotal.Set(float64(total))
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }
