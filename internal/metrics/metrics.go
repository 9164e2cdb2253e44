// Package metrics exposes Prometheus counters for HTTP traffic and sign-in
// outcomes. Each Metrics value owns its registry, so tests can build as
// many as they like without duplicate-registration panics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatcode"

type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	oauthLogins     *prometheus.CounterVec
	passwordLogins  *prometheus.CounterVec
	registrations   *prometheus.CounterVec
}

// New creates a Metrics with Go runtime and process collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		oauthLogins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_logins_total",
			Help:      "Completed OAuth sign-in attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		passwordLogins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_logins_total",
			Help:      "Password sign-in attempts by result.",
		}, []string{"result"}),
		registrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Password registrations by result.",
		}, []string{"result"}),
	}
}

// ObserveRequest records one finished HTTP request. route is the chi route
// pattern (e.g. "/u/{username}"), never the raw path, to keep cardinality
// bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// OAuthLogin records the outcome of an OAuth callback: "logged_in",
// "linked", "created", or a failure code such as "invalid_state".
func (m *Metrics) OAuthLogin(provider, outcome string) {
	if m == nil {
		return
	}
	m.oauthLogins.WithLabelValues(provider, outcome).Inc()
}

// OAuthLogins returns the counter of one provider and outcome pair.
func (m *Metrics) OAuthLogins(provider, outcome string) prometheus.Counter {
	return m.oauthLogins.WithLabelValues(provider, outcome)
}

func (m *Metrics) PasswordLogin(ok bool) {
	if m == nil {
		return
	}
	m.passwordLogins.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Registration(ok bool) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result(ok)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
