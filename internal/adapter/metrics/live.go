package metrics

import "github.com/prometheus/client_golang/prometheus"

// LiveMetrics holds Prometheus metrics for the subscription registry and
// the per-topic pollers.
type LiveMetrics struct {
	Subscribers      prometheus.Gauge
	ActivePollers    prometheus.Gauge
	PollerStarts     prometheus.Counter
	StartFailures    prometheus.Counter
	PollerPanics     prometheus.Counter
	Broadcasts       prometheus.Counter
	DuplicateSamples prometheus.Counter
	InvalidSamples   prometheus.Counter
	StoreErrors      prometheus.Counter
	StoreDuration    prometheus.Histogram
}

// NewLiveMetrics creates and registers live-update metrics on the given registry.
func NewLiveMetrics(reg prometheus.Registerer) *LiveMetrics {
	m := &LiveMetrics{
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "subscribers",
			Help:      "Number of topic subscriptions across all topics.",
		}),
		ActivePollers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "active_pollers",
			Help:      "Number of pollers that have not reached the stopped state.",
		}),
		PollerStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "poller_starts_total",
			Help:      "Total number of pollers launched.",
		}),
		StartFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "poller_start_failures_total",
			Help:      "Total number of poller starts refused by the supervisor.",
		}),
		PollerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "poller_panics_total",
			Help:      "Total number of pollers that terminated with a recovered panic.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "broadcasts_total",
			Help:      "Total number of samples handed to the fanout.",
		}),
		DuplicateSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "duplicate_samples_total",
			Help:      "Total number of samples suppressed because they matched the last broadcast.",
		}),
		InvalidSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "invalid_samples_total",
			Help:      "Total number of samples dropped because their metric is NaN or infinite.",
		}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "progress_store_errors_total",
			Help:      "Total number of failed progress store reads.",
		}),
		StoreDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "progress_store_query_seconds",
			Help:      "Duration of progress store reads in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
		}),
	}

	reg.MustRegister(
		m.Subscribers, m.ActivePollers, m.PollerStarts, m.StartFailures, m.PollerPanics,
		m.Broadcasts, m.DuplicateSamples, m.InvalidSamples, m.StoreErrors, m.StoreDuration,
	)
	return m
}
