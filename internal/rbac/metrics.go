package rbac

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for permission evaluation.
type Metrics struct {
	decisions *prometheus.CounterVec
	cache     *prometheus.CounterVec
	mutations *prometheus.CounterVec
}

// NewMetrics registers the RBAC collectors against registerer. A nil registerer
// yields nil metrics, which every recorder tolerates.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return nil
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_rbac_decisions_total",
		Help: "Permission decisions partitioned by outcome.",
	}, []string{"result"})
	cache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_rbac_cache_total",
		Help: "Decision cache lookups partitioned by hit or miss.",
	}, []string{"outcome"})
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_rbac_mutations_total",
		Help: "Role definition and assignment changes by operation.",
	}, []string{"op"})
	registerer.MustRegister(decisions, cache, mutations)
	return &Metrics{decisions: decisions, cache: cache, mutations: mutations}
}

func (m *Metrics) decision(allowed bool) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.decisions.WithLabelValues(result).Inc()
}

func (m *Metrics) lookup(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cache.WithLabelValues(outcome).Inc()
}

func (m *Metrics) mutation(op string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op).Inc()
}
