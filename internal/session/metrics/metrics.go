package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for session lifecycle operations.
type Metrics struct {
	SessionsCreated   *prometheus.CounterVec
	SessionsActivated prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsRevoked   prometheus.Counter
	SessionsExpired   prometheus.Counter
	ActiveSessions    prometheus.Gauge
	TimeToResponse    prometheus.Histogram
	TransitionDenied  *prometheus.CounterVec
}

// New registers and returns session metrics collectors.
func New() *Metrics {
	return &Metrics{
		SessionsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proofshare_sessions_created_total",
			Help: "Total number of sharing sessions created, labeled by kind",
		}, []string{"kind"}),
		SessionsActivated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "proofshare_sessions_activated_total",
			Help: "Total number of sessions activated by a holder",
		}),
		SessionsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "proofshare_sessions_completed_total",
			Help: "Total number of sessions completed with a holder response",
		}),
		SessionsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "proofshare_sessions_revoked_total",
			Help: "Total number of sessions revoked before completion",
		}),
		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "proofshare_sessions_expired_total",
			Help: "Total number of sessions that hit their TTL",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "proofshare_active_sessions",
			Help: "Current number of sessions in a non-terminal state",
		}),
		TimeToResponse: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "proofshare_session_time_to_response_seconds",
			Help:    "Elapsed time between session creation and the holder response",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		TransitionDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proofshare_session_transitions_denied_total",
			Help: "Total number of rejected state transitions, labeled by current status",
		}, []string{"status"}),
	}
}

func (m *Metrics) IncrementSessionsCreated(kind string) {
	m.SessionsCreated.WithLabelValues(kind).Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) IncrementSessionsActivated() {
	m.SessionsActivated.Inc()
}

func (m *Metrics) IncrementSessionsCompleted() {
	m.SessionsCompleted.Inc()
	m.ActiveSessions.Dec()
}

func (m *Metrics) IncrementSessionsRevoked() {
	m.SessionsRevoked.Inc()
	m.ActiveSessions.Dec()
}

func (m *Metrics) IncrementSessionsExpired() {
	m.SessionsExpired.Inc()
	m.ActiveSessions.Dec()
}

func (m *Metrics) ObserveTimeToResponse(seconds float64) {
	m.TimeToResponse.Observe(seconds)
}

func (m *Metrics) IncrementTransitionDenied(status string) {
	m.TransitionDenied.WithLabelValues(status).Inc()
}
