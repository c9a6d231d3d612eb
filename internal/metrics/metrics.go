// Package metrics defines the relay's Prometheus collectors. All methods are
// safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "modrelay"

// Publish attempt results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds a private registry and the relay collectors.
type Metrics struct {
	Registry *prometheus.Registry

	inboundEvents      *prometheus.CounterVec
	rateLimited        prometheus.Counter
	submissions        *prometheus.CounterVec
	albumsCompleted    prometheus.Counter
	albumItems         prometheus.Histogram
	publishAttempts    *prometheus.CounterVec
	escalations        prometheus.Counter
	decisions          *prometheus.CounterVec
	membershipFailures prometheus.Counter
	reviewFailures     prometheus.Counter
}

// New registers the relay collectors plus Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		inboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound transport events by kind.",
		}, []string{"kind"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_events_total",
			Help:      "Events rejected by the per-user rate limiter.",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Completed submissions by submitter role.",
		}, []string{"role"}),
		albumsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "albums_completed_total",
			Help:      "Album aggregations completed by the debounce timer.",
		}),
		albumItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "album_items",
			Help:      "Items per completed album.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 10},
		}),
		publishAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_attempts_total",
			Help:      "Output channel publish attempts by result.",
		}, []string{"result"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_escalations_total",
			Help:      "Owner escalations after exhausted publish retries.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Reviewer decisions by action and outcome.",
		}, []string{"action", "outcome"}),
		membershipFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_check_failures_total",
			Help:      "Membership queries that failed at the transport.",
		}),
		reviewFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_forward_failures_total",
			Help:      "Submissions that could not be forwarded to the review group.",
		}),
	}
	reg.MustRegister(
		m.inboundEvents,
		m.rateLimited,
		m.submissions,
		m.albumsCompleted,
		m.albumItems,
		m.publishAttempts,
		m.escalations,
		m.decisions,
		m.membershipFailures,
		m.reviewFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) Inbound(kind string) {
	if m != nil {
		m.inboundEvents.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) Submission(role string) {
	if m != nil {
		m.submissions.WithLabelValues(role).Inc()
	}
}

func (m *Metrics) AlbumCompleted(items int) {
	if m != nil {
		m.albumsCompleted.Inc()
		m.albumItems.Observe(float64(items))
	}
}

func (m *Metrics) PublishAttempt(result string) {
	if m != nil {
		m.publishAttempts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Escalation() {
	if m != nil {
		m.escalations.Inc()
	}
}

func (m *Metrics) Decision(action, outcome string) {
	if m != nil {
		m.decisions.WithLabelValues(action, outcome).Inc()
	}
}

func (m *Metrics) MembershipFailure() {
	if m != nil {
		m.membershipFailures.Inc()
	}
}

func (m *Metrics) ReviewFailure() {
	if m != nil {
		m.reviewFailures.Inc()
	}
}
