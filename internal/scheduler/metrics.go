package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: от постановки в очередь до допуска в работу
	WaitTime *prometheus.HistogramVec

	// Latency: от TrackJob до ReleaseJob
	ProcessingTime *prometheus.HistogramVec

	// Traffic: решения о допуске
	Admitted *prometheus.CounterVec
	Denied   *prometheus.CounterVec

	// Осиротевшие lease, возвращенные свипером
	OrphansReclaimed *prometheus.CounterVec

	// Errors: недоступность разделяемого стейта (допуск отклонен вслепую)
	StateErrors prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		WaitTime: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capgate_queue_wait_seconds",
			Help:    "Time from enqueue to admission.",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900},
		}, []string{"queue", "org_id"}),

		ProcessingTime: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capgate_job_processing_seconds",
			Help:    "Time from track to release.",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900},
		}, []string{"queue", "org_id"}),

		Admitted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "capgate_admissions_total",
			Help: "Jobs admitted per queue.",
		}, []string{"queue"}),

		Denied: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "capgate_admissions_denied_total",
			Help: "Admissions denied per queue (tenant at ceiling).",
		}, []string{"queue"}),

		OrphansReclaimed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "capgate_orphan_leases_reclaimed_total",
			Help: "Leases force-released by the reconciliation sweep.",
		}, []string{"queue"}),

		StateErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "capgate_scheduler_state_errors_total",
			Help: "Shared state failures observed by the scheduler.",
		}),
	}
}
