package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "staybook"

// Outcome labels shared by the auth counters.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// Auth holds the authentication counters. A nil *Auth is valid and records
// nothing.
type Auth struct {
	registry        *prometheus.Registry
	registrations   *prometheus.CounterVec
	logins          *prometheus.CounterVec
	tokenRejections *prometheus.CounterVec
}

// NewAuth registers the auth collectors, plus the Go and process collectors,
// on a fresh registry.
func NewAuth() *Auth {
	reg := prometheus.NewRegistry()
	a := &Auth{
		registry: reg,
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "registrations_total",
			Help:      "Registration attempts by outcome.",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"result"}),
		tokenRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "token_rejections_total",
			Help:      "Requests rejected by the auth middleware by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		a.registrations,
		a.logins,
		a.tokenRejections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return a
}

func (a *Auth) Registration(result string) {
	if a == nil {
		return
	}
	a.registrations.WithLabelValues(result).Inc()
}

func (a *Auth) Login(result string) {
	if a == nil {
		return
	}
	a.logins.WithLabelValues(result).Inc()
}

func (a *Auth) TokenRejected(reason string) {
	if a == nil {
		return
	}
	a.tokenRejections.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (a *Auth) Handler() http.Handler {
	if a == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
}
