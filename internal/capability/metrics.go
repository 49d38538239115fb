package capability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: решения по источникам (env / org-override / global-override / default)
	Decisions *prometheus.CounterVec

	// Попадания в кэш резолвера
	CacheHits prometheus.Counter

	// Errors: недоступность Override Store (решение ушло из кэша/дефолта)
	StoreErrors prometheus.Counter

	// Неизвестные пути, отрезолвленные fail-open
	UnknownPaths prometheus.Counter

	// Saturation: состояние предохранителей Guard'а (0 - closed, 1 - open)
	BreakerState *prometheus.GaugeVec

	// Исходы защищенных вызовов по интеграциям
	GuardedCalls *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "capgate_resolver_decisions_total",
			Help: "Capability decisions by winning source.",
		}, []string{"source"}),

		CacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "capgate_resolver_cache_hits_total",
			Help: "Decisions served from the in-memory cache.",
		}),

		StoreErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "capgate_resolver_store_errors_total",
			Help: "Override store failures absorbed by stale cache or defaults.",
		}),

		UnknownPaths: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "capgate_resolver_unknown_paths_total",
			Help: "Unknown capability paths resolved fail-open.",
		}),

		BreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "capgate_guard_breaker_state",
			Help: "Circuit breaker state per integration (0=closed, 1=open).",
		}, []string{"integration"}),

		GuardedCalls: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "capgate_guarded_calls_total",
			Help: "Guarded call outcomes per integration.",
		}, []string{"integration", "outcome"}), // outcome: success, failure, disabled
	}
}
