package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sos_dispatch"

// Metrics - счетчики и гистограммы Prometheus для приема сообщений, доски и синхронизации
type Metrics struct {
	IncidentsCreated *prometheus.CounterVec // метки: type, priority
	StatusChanges    *prometheus.CounterVec // метки: status, mode={strict,force}
	StoreErrors      *prometheus.CounterVec // метки: operation

	Classifications *prometheus.CounterVec // метки: type

	FacilitySearches        *prometheus.CounterVec // метки: outcome={found,empty,error,shared}
	FacilitySearchDuration  prometheus.Histogram
	FacilityCategoryFailure *prometheus.CounterVec // метки: category

	SyncPolls            *prometheus.CounterVec // метки: outcome={success,error,skipped}
	SyncMutations        *prometheus.CounterVec // метки: outcome={confirmed,failed}
	SyncCachedIncidents  prometheus.Gauge
	WebhookDeliveries    *prometheus.CounterVec // метки: outcome={delivered,failed,skipped}
	DispatchReplies      *prometheus.CounterVec // метки: action={reported,routed,ignored,failed}
	GeolocationFallbacks *prometheus.CounterVec // метки: reason
}

// NewMetrics создает метрики и регистрирует их в reg.
// Сервер передает prometheus.DefaultRegisterer, консольный клиент - свой реестр.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IncidentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_created_total",
			Help:      "Incidents written to the board by type and priority.",
		}, []string{"type", "priority"}),
		StatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incident_status_changes_total",
			Help:      "Applied status changes by target status and mode.",
		}, []string{"status", "mode"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Persistence failures by store operation.",
		}, []string{"operation"}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classified utterances by detected incident type.",
		}, []string{"type"}),
		FacilitySearches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facility_searches_total",
			Help:      "Nearest facility resolutions by outcome.",
		}, []string{"outcome"}),
		FacilitySearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "facility_search_duration_seconds",
			Help:      "Duration of a full nearest facility resolution including routing.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		FacilityCategoryFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facility_category_failures_total",
			Help:      "Nearby searches that failed for a single category.",
		}, []string{"category"}),
		SyncPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_polls_total",
			Help:      "Board refresh polls by outcome.",
		}, []string{"outcome"}),
		SyncMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_mutations_total",
			Help:      "Optimistic status changes by final outcome.",
		}, []string{"outcome"}),
		SyncCachedIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_cached_incidents",
			Help:      "Incidents currently held in the local board cache.",
		}),
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Board event webhook deliveries by outcome.",
		}, []string{"outcome"}),
		DispatchReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_replies_total",
			Help:      "Handled reporter utterances by resulting action.",
		}, []string{"action"}),
		GeolocationFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geolocation_fallbacks_total",
			Help:      "Reports placed at the fallback point by geolocation failure reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.IncidentsCreated,
		m.StatusChanges,
		m.StoreErrors,
		m.Classifications,
		m.FacilitySearches,
		m.FacilitySearchDuration,
		m.FacilityCategoryFailure,
		m.SyncPolls,
		m.SyncMutations,
		m.SyncCachedIncidents,
		m.WebhookDeliveries,
		m.DispatchReplies,
		m.GeolocationFallbacks,
	)

	return m
}

// NewMetricsForTesting создает метрики на отдельном реестре,
// чтобы повторная регистрация в разных тестах не паниковала.
func NewMetricsForTesting() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
