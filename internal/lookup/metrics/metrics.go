package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the lookup module.
type Metrics struct {
	// Coordinator outcomes by lookup type and outcome kind
	Outcomes *prometheus.CounterVec

	// Provider call latency by provider and result
	ProviderLatency *prometheus.HistogramVec

	// Negative-cache hits by layer ("redis", "store")
	NegativeCacheHits *prometheus.CounterVec

	// Deferred job completions by how they completed ("push", "poll", "exhausted")
	Completions *prometheus.CounterVec

	// Events handed to a bus transport
	EventsPublished *prometheus.CounterVec
}

// New registers the lookup metrics with the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the lookup metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_lookup_outcomes_total",
			Help: "Lookup outcomes by lookup type and outcome kind",
		}, []string{"type", "outcome"}),

		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verigate_provider_duration_seconds",
			Help:    "Duration of provider interactions by provider and result",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider", "result"}),

		NegativeCacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_negative_cache_hits_total",
			Help: "Lookups answered from a permanent not-found record",
		}, []string{"layer"}),

		Completions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_deferred_completions_total",
			Help: "Deferred provider jobs completed, by completion path",
		}, []string{"path"}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_bus_events_published_total",
			Help: "Lookup record events published, by transport",
		}, []string{"transport"}),
	}
}

func (m *Metrics) IncrementOutcome(lookupType, outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(lookupType, outcome).Inc()
	}
}

func (m *Metrics) ObserveProviderLatency(provider, result string, d time.Duration) {
	if m != nil {
		m.ProviderLatency.WithLabelValues(provider, result).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementNegativeCacheHit(layer string) {
	if m != nil {
		m.NegativeCacheHits.WithLabelValues(layer).Inc()
	}
}

func (m *Metrics) IncrementCompletion(path string) {
	if m != nil {
		m.Completions.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) IncrementPublished(transport string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(transport).Inc()
	}
}
