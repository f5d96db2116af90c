package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reservation"

var (
	// Ticket counters
	TicketsIssued   prometheus.Counter
	TicketsRefunded prometheus.Counter
	TicketsScanned  prometheus.Counter

	// Waiting list counters
	QueueJoined    prometheus.Counter
	OffersGranted  prometheus.Counter
	OffersExpired  prometheus.Counter
	OffersConsumed prometheus.Counter

	// Reconciliation outcomes by kind ("issued", "replayed", error kinds)
	ReconcileOutcomes *prometheus.CounterVec
	VerifierResults   *prometheus.CounterVec

	CapacityExhausted prometheus.Counter
	LockConflicts     prometheus.Counter
	EventsDropped     prometheus.Counter

	// Histograms
	ReconcileDuration prometheus.Histogram
	SweepDuration     prometheus.Histogram

	// Gauges
	LiveOffers prometheus.Gauge

	initOnce sync.Once
)

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		initMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
}

func initMetrics(f promauto.Factory) {
	TicketsIssued = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tickets_issued_total",
		Help:      "Total number of tickets minted",
	})
	TicketsRefunded = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tickets_refunded_total",
		Help:      "Total number of tickets refunded",
	})
	TicketsScanned = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tickets_scanned_total",
		Help:      "Total number of tickets scanned at the door",
	})

	QueueJoined = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "waitlist_joined_total",
		Help:      "Total number of waiting list entries created",
	})
	OffersGranted = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "offers_granted_total",
		Help:      "Total number of purchase offers granted",
	})
	OffersExpired = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "offers_expired_total",
		Help:      "Total number of offers expired by the sweeper",
	})
	OffersConsumed = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "offers_consumed_total",
		Help:      "Total number of offers converted into tickets",
	})

	ReconcileOutcomes = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_outcomes_total",
		Help:      "Reconcile results by outcome",
	}, []string{"source", "outcome"})
	VerifierResults = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verifier_results_total",
		Help:      "Verifier answers by verifier and result",
	}, []string{"verifier", "result"})

	CapacityExhausted = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capacity_exhausted_total",
		Help:      "Reservations refused because no units were left",
	})
	LockConflicts = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lock_conflicts_total",
		Help:      "Lock acquisitions that timed out and were retried",
	})
	EventsDropped = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Reservation events that could not be published",
	})

	ReconcileDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconcile_duration_seconds",
		Help:      "Reconcile latency including verification",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})
	SweepDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Duration of one offer expiry sweep",
		Buckets:   prometheus.DefBuckets,
	})

	LiveOffers = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "offers_live",
		Help:      "Offers currently holding units",
	})
}

func init() {
	// collectors default to an unregistered set so packages can record
	// metrics in tests without touching the global registry
	initMetrics(promauto.With(nil))
}
