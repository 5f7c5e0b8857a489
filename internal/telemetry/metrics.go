package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TasksCreated      = prometheus.NewCounter(prometheus.CounterOpts{Name: "printhub_tasks_created_total", Help: "Print tasks created"})
	TaskTransitions   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "printhub_task_transitions_total", Help: "Applied task status transitions"}, []string{"status"})
	TasksRecovered    = prometheus.NewCounter(prometheus.CounterOpts{Name: "printhub_tasks_recovered_total", Help: "Stuck tasks reset to PENDING and redispatched"})
	TasksPurged       = prometheus.NewCounter(prometheus.CounterOpts{Name: "printhub_tasks_purged_total", Help: "COMPLETED tasks removed by retention cleanup"})
	ClientsRegistered = prometheus.NewCounter(prometheus.CounterOpts{Name: "printhub_clients_registered_total", Help: "First-time client registrations"})
	ClientsOffline    = prometheus.NewCounter(prometheus.CounterOpts{Name: "printhub_clients_offline_total", Help: "Clients flipped offline by the liveness sweep"})
	PublishFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "printhub_publish_failures_total", Help: "Fanout publishes that failed and were dropped"})
	OrdersIngested    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "printhub_orders_ingested_total", Help: "Upstream orders seen by ingestion"}, []string{"kind", "result"})
	IngestCursor      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "printhub_ingest_cursor", Help: "Last synced upstream order id"})
	JobDuration       = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "printhub_job_duration_seconds", Help: "Periodic job run time", Buckets: prometheus.DefBuckets}, []string{"job"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TasksCreated,
			TaskTransitions,
			TasksRecovered,
			TasksPurged,
			ClientsRegistered,
			ClientsOffline,
			PublishFailures,
			OrdersIngested,
			IngestCursor,
			JobDuration,
		)
	})
	return promhttp.Handler()
}
