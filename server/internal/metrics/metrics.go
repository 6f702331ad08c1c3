package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors for the monitoring engine.
type Metrics struct {
	EventsTotal       *prometheus.CounterVec
	DeadLettersTotal  *prometheus.CounterVec
	OrphansPending    prometheus.Gauge
	SweepDuration     prometheus.Histogram
	SweepTransitions  prometheus.Counter
	ActiveAdmissions  *prometheus.GaugeVec
	AlertsTotal       *prometheus.CounterVec
	Subscribers       prometheus.Gauge
	ClaimsTotal       prometheus.Counter
	WebhookDeliveries *prometheus.CounterVec
}

// New registers and returns engine metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardwatch_events_total",
			Help: "Ingested feed events by type and result.",
		}, []string{"type", "result"}),
		DeadLettersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardwatch_dead_letters_total",
			Help: "Events dead-lettered by reason.",
		}, []string{"reason"}),
		OrphansPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wardwatch_orphan_events_pending",
			Help: "Events currently parked waiting for their admission to appear.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wardwatch_sweep_duration_seconds",
			Help:    "Duration of aging sweeper passes in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms .. ~16s
		}),
		SweepTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wardwatch_sweep_transitions_total",
			Help: "Tier transitions detected by the aging sweeper.",
		}),
		ActiveAdmissions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wardwatch_active_admissions",
			Help: "Active admissions currently indexed, by tier.",
		}, []string{"tier"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardwatch_alerts_total",
			Help: "Alerts published by target tier.",
		}, []string{"tier"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wardwatch_subscribers",
			Help: "Currently connected WebSocket subscribers.",
		}),
		ClaimsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wardwatch_index_claims_total",
			Help: "Index entries handed out via claim batches.",
		}),
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardwatch_webhook_deliveries_total",
			Help: "Webhook delivery attempts by target type and result.",
		}, []string{"type", "result"}),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.DeadLettersTotal,
		m.OrphansPending,
		m.SweepDuration,
		m.SweepTransitions,
		m.ActiveAdmissions,
		m.AlertsTotal,
		m.Subscribers,
		m.ClaimsTotal,
		m.WebhookDeliveries,
	)

	return m
}
