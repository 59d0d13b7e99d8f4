package dynamake

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the build-wide Prometheus counters: total actions executed
// versus skipped, across every Invocation in a session.
type Metrics struct {
	ActionsCount prometheus.Counter
	SkippedCount prometheus.Counter
}

// NewMetrics registers and returns the session's counters.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActionsCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dynamake_actions_total",
			Help: "Number of actions actually executed.",
		}),
		SkippedCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dynamake_actions_skipped_total",
			Help: "Number of actions skipped because outputs were already up to date.",
		}),
	}
	registerer.MustRegister(m.ActionsCount, m.SkippedCount)
	return m
}
