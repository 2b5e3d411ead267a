package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pollvote"

// VoteMetrics holds the metrics of the toggle pipeline. A nil
// *VoteMetrics is valid and records nothing.
type VoteMetrics struct {
	Toggles         *prometheus.CounterVec
	ToggleDuration  prometheus.Histogram
	ProjectionWait  prometheus.Histogram
	ProjectionStale prometheus.Counter
	Compensations   *prometheus.CounterVec
	RateLimited     prometheus.Counter
}

func NewVoteMetrics(reg prometheus.Registerer) *VoteMetrics {
	m := &VoteMetrics{
		Toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toggles_total",
			Help:      "Vote toggles by action and result.",
		}, []string{"action", "result"}),
		ToggleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "toggle_duration_seconds",
			Help:      "Duration of a vote toggle, projection wait included.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		ProjectionWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "projection_wait_seconds",
			Help:      "Time spent waiting for vote counts to catch up.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		ProjectionStale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_stale_total",
			Help:      "Toggles answered with counts the projection had not caught up with.",
		}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Compensating re-inserts after a failed single choice switch, by result.",
		}, []string{"result"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toggles_rate_limited_total",
			Help:      "Toggle requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(m.Toggles, m.ToggleDuration, m.ProjectionWait, m.ProjectionStale, m.Compensations, m.RateLimited)
	return m
}

func (m *VoteMetrics) ObserveToggle(action, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Toggles.WithLabelValues(action, result).Inc()
	m.ToggleDuration.Observe(d.Seconds())
}

func (m *VoteMetrics) ObserveProjection(d time.Duration, fresh bool) {
	if m == nil {
		return
	}
	m.ProjectionWait.Observe(d.Seconds())
	if !fresh {
		m.ProjectionStale.Inc()
	}
}

func (m *VoteMetrics) Compensation(result string) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(result).Inc()
}

func (m *VoteMetrics) Limited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}
