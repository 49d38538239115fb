package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Saturation: фаза интеграции (0 - NORMAL, 1 - PANICKED)
	PanicState *prometheus.GaugeVec

	// Переходы автомата: trip / recover / manual_trip / manual_recover
	PanicTransitions *prometheus.CounterVec

	// Исходы проб восстановления
	ProbeResults *prometheus.CounterVec

	// Errors: не дописались в Override Store даже с бэкоффом
	OverrideWriteFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		PanicState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "capgate_panic_state",
			Help: "Current integration phase (0=normal, 1=panicked).",
		}, []string{"integration"}),

		PanicTransitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "capgate_panic_transitions_total",
			Help: "Panic state machine transitions by direction.",
		}, []string{"integration", "direction"}),

		ProbeResults: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "capgate_panic_probe_results_total",
			Help: "Recovery probe outcomes per integration.",
		}, []string{"integration", "result"}),

		OverrideWriteFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "capgate_panic_override_write_failures_total",
			Help: "Override store writes that failed after all retries.",
		}),
	}
}
