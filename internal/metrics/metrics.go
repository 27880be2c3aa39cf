// Package metrics exposes the host process's operational gauges and
// counters via github.com/prometheus/client_golang, per SPEC_FULL.md
// §2's ambient-stack addition: pending request count, live ticket count,
// live atom count, and interner cache size. None of these are wire
// protocol concerns; they exist purely for operators running the host
// as a long-lived process.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the runtime's gauges/counters behind one struct so a
// caller wires exactly the sources it has (not every host embeds every
// component — e.g. cmd/orcx's session supplies no live-atom source).
type Registry struct {
	PendingRequests prometheus.Gauge
	LiveTickets     prometheus.Gauge
	LiveAtoms       prometheus.Gauge
	InternCacheSize prometheus.Gauge

	RequestsTotal   *prometheus.CounterVec
	SweepsTotal     prometheus.Counter
	CascadesTotal   prometheus.Counter
}

// NewRegistry constructs a Registry and registers every metric against
// reg. Passing prometheus.NewRegistry() (rather than the global
// DefaultRegisterer) keeps repeated host instantiations, as happen in
// tests, from panicking on duplicate registration.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		PendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchid",
			Name:      "pending_requests",
			Help:      "Number of in-flight requests awaiting a reply.",
		}),
		LiveTickets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchid",
			Name:      "live_tickets",
			Help:      "Number of distinct expression tickets with a nonzero refcount.",
		}),
		LiveAtoms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchid",
			Name:      "live_atoms",
			Help:      "Number of owned atoms currently tracked across all systems.",
		}),
		InternCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchid",
			Name:      "intern_cache_size",
			Help:      "Number of string/sequence tokens cached by the interner replica.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchid",
			Name:      "requests_total",
			Help:      "Total requests processed, by outcome.",
		}, []string{"outcome"}),
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orchid",
			Name:      "intern_sweeps_total",
			Help:      "Total interner sweep cycles completed.",
		}),
		CascadesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orchid",
			Name:      "cascades_total",
			Help:      "Total requests that terminated in a cascade error.",
		}),
	}
	reg.MustRegister(
		m.PendingRequests,
		m.LiveTickets,
		m.LiveAtoms,
		m.InternCacheSize,
		m.RequestsTotal,
		m.SweepsTotal,
		m.CascadesTotal,
	)
	return m
}

// Sources is the minimal set of read-only accessors metrics.Poll needs.
// Each internal package already exposes the method named here, so Poll
// only adapts, it never duplicates their bookkeeping.
type Sources struct {
	LiveTickets     func() int
	LiveAtoms       func() int
	InternCacheSize func() int
}

// Poll refreshes the gauges from src. Intended to be called periodically
// (e.g. once per second) by the host's main loop, rather than on every
// mutation, since none of these numbers need sub-second freshness.
func (m *Registry) Poll(src Sources) {
	if src.LiveTickets != nil {
		m.LiveTickets.Set(float64(src.LiveTickets()))
	}
	if src.LiveAtoms != nil {
		m.LiveAtoms.Set(float64(src.LiveAtoms()))
	}
	if src.InternCacheSize != nil {
		m.InternCacheSize.Set(float64(src.InternCacheSize()))
	}
}

// RequestStarted/RequestFinished track in-flight request count directly,
// since that figure changes on every request rather than on a poll tick.
func (m *Registry) RequestStarted() {
	m.PendingRequests.Inc()
}

func (m *Registry) RequestFinished(outcome string) {
	m.PendingRequests.Dec()
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}
