package authz

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts decision outcomes, cache hits, and absorbed evaluation
// errors.
type Metrics struct {
	decisions  *prometheus.CounterVec
	cacheHits  prometheus.Counter
	evalErrors prometheus.Counter
}

// NewMetrics registers the decision metrics. reg may be nil, which leaves
// the counters unregistered but usable (tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fastflow_authz_decisions_total",
		Help: "Authorization decisions by result.",
	}, []string{"result"})
	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fastflow_authz_decision_cache_hits_total",
		Help: "Decisions answered from the decision cache.",
	})
	evalErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fastflow_authz_evaluation_errors_total",
		Help: "Internal evaluation errors absorbed as deny.",
	})
	if reg != nil {
		reg.MustRegister(decisions, cacheHits, evalErrors)
	}
	return &Metrics{decisions: decisions, cacheHits: cacheHits, evalErrors: evalErrors}
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

func (m *Metrics) cacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) evalError() {
	if m != nil {
		m.evalErrors.Inc()
	}
}
