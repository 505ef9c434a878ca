// Package metrics exposes process-level Prometheus metrics and the scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds infrastructure metrics shared across bounded contexts.
type Metrics struct {
	HTTPRequests   *prometheus.CounterVec
	UsersCreated   prometheus.Counter
	OutboxBacklog  prometheus.Gauge
	OutboxFailures prometheus.Counter
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "passculture_http_requests_total",
			Help: "HTTP requests by route and status class",
		}, []string{"route", "status"}),
		UsersCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "passculture_users_created_total",
			Help: "Total number of users created by beneficiary activation",
		}),
		OutboxBacklog: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "passculture_outbox_backlog",
			Help: "Unpublished outbox events seen by the last poll",
		}),
		OutboxFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "passculture_outbox_publish_failures_total",
			Help: "Outbox publish attempts that failed",
		}),
	}
}

// IncrementUsersCreated increments the users created counter by 1
func (m *Metrics) IncrementUsersCreated() {
	if m == nil {
		return
	}
	m.UsersCreated.Inc()
}

// ObserveHTTPRequest counts a request by route pattern and status class ("2xx", ...).
func (m *Metrics) ObserveHTTPRequest(route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, statusClass(status)).Inc()
}

// SetOutboxBacklog records the size of the last outbox batch.
func (m *Metrics) SetOutboxBacklog(n int) {
	if m == nil {
		return
	}
	m.OutboxBacklog.Set(float64(n))
}

// IncrementOutboxFailures counts one failed publish attempt.
func (m *Metrics) IncrementOutboxFailures() {
	if m == nil {
		return
	}
	m.OutboxFailures.Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
