package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "entrant"

// Registry is the Prometheus registry every metric in this package registers
// against. A private registry keeps third-party libraries from polluting the
// scrape output.
var Registry = prometheus.NewRegistry()

// AppInfo exposes build metadata as labels on a constant gauge.
var AppInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_info",
		Help:      "Application version information (always set to 1, version info in labels)",
	},
	[]string{"version", "commit", "build_date"},
)

// Registration lifecycle metrics.
var (
	// RegistrationsCreated counts successful claims by resulting status.
	RegistrationsCreated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_created_total",
			Help:      "Registrations created, labelled by initial status",
		},
		[]string{"status"},
	)

	// RegistrationsRejected counts claims the invariant store turned away.
	RegistrationsRejected = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_rejected_total",
			Help:      "Registration attempts rejected, labelled by reason",
		},
		[]string{"reason"}, // reason: capacity|duplicate|window|team
	)

	// RegistrationsCancelled counts terminal transitions.
	RegistrationsCancelled = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_cancelled_total",
			Help:      "Registrations moved to a terminal state",
		},
		[]string{"status"}, // status: cancelled|rejected
	)

	// WaitlistPromotions counts waitlisted registrations confirmed into a
	// freed slot.
	WaitlistPromotions = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waitlist_promotions_total",
			Help:      "Waitlisted registrations promoted to confirmed",
		},
	)
)

// Payment and refund metrics.
var (
	PaymentsCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_completed_total",
			Help:      "Payments confirmed, labelled by gateway and confirmation path",
		},
		[]string{"gateway", "path"}, // path: webhook|verify
	)

	PaymentsFailed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_failed_total",
			Help:      "Payments the gateway reported as failed",
		},
		[]string{"gateway"},
	)

	WebhookDeliveries = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Gateway webhook deliveries, labelled by outcome",
		},
		[]string{"gateway", "result"}, // result: processed|replay|invalid_signature|error
	)

	RefundsProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_processed_total",
			Help:      "Refund decisions applied, labelled by outcome",
		},
		[]string{"outcome"}, // outcome: completed|rejected|failed
	)

	StalePaymentsFlagged = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_payments_flagged_total",
			Help:      "Pending payments flagged by the reconciliation sweep",
		},
	)
)

// Init registers runtime collectors and stamps build metadata.
func Init(version, commit, buildDate string) {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	AppInfo.WithLabelValues(version, commit, buildDate).Set(1)
}
