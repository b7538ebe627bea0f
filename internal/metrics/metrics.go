// Package metrics provides Prometheus instrumentation for the
// admission and circuit-breaker layers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the metric instances for the resilience layer
type Registry struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	AdmissionAllowed *prometheus.CounterVec
	AdmissionDenied  *prometheus.CounterVec
	BansApplied      *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	BreakerFailures  *prometheus.CounterVec
}

// NewRegistry builds a registry on its own Prometheus registry so the
// service can be embedded without clashing with a host application's
// default registerer.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registerer: reg,
		gatherer:   reg,

		AdmissionAllowed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "savium",
				Subsystem: "admission",
				Name:      "allowed_total",
				Help:      "Requests that passed admission control",
			},
			[]string{"endpoint"},
		),

		AdmissionDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "savium",
				Subsystem: "admission",
				Name:      "denied_total",
				Help:      "Requests rejected with a 429",
			},
			[]string{"endpoint"},
		),

		BansApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "savium",
				Subsystem: "admission",
				Name:      "bans_total",
				Help:      "Temporary bans applied by abuse escalation",
			},
			[]string{"endpoint"},
		),

		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "savium",
				Subsystem: "circuitbreaker",
				Name:      "state",
				Help:      "Breaker state: 0 closed, 1 half-open, 2 open",
			},
			[]string{"dependency"},
		),

		BreakerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "savium",
				Subsystem: "circuitbreaker",
				Name:      "failures_total",
				Help:      "Operation failures counted by the breakers",
			},
			[]string{"dependency"},
		),
	}
}

// Admission records one admission decision
func (r *Registry) Admission(endpoint string, allowed bool) {
	if allowed {
		r.AdmissionAllowed.WithLabelValues(endpoint).Inc()
		return
	}
	r.AdmissionDenied.WithLabelValues(endpoint).Inc()
}

// Ban records an abuse-escalation ban
func (r *Registry) Ban(endpoint string) {
	r.BansApplied.WithLabelValues(endpoint).Inc()
}

// SetBreakerState maps a breaker state name, as produced by
// State.String(), onto the gauge encoding.
func (r *Registry) SetBreakerState(dependency, state string) {
	var value float64
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	r.BreakerState.WithLabelValues(dependency).Set(value)
}

// BreakerFailure counts one failed operation for a dependency
func (r *Registry) BreakerFailure(dependency string) {
	r.BreakerFailures.WithLabelValues(dependency).Inc()
}

// Handler exposes the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
