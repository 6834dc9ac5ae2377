// Package metrics exposes Prometheus counters for the consent ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds consent ledger instruments.
type Metrics struct {
	DecisionsRecorded *prometheus.CounterVec
	ConsentsWithdrawn prometheus.Counter
	SignatureFailures prometheus.Counter
}

// New registers consent metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DecisionsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proofshare_consent_decisions_recorded_total",
			Help: "Consent decisions written to the ledger, by outcome.",
		}, []string{"decision"}),
		ConsentsWithdrawn: factory.NewCounter(prometheus.CounterOpts{
			Name: "proofshare_consent_withdrawals_total",
			Help: "Consent records superseded by withdrawal.",
		}),
		SignatureFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "proofshare_consent_signature_failures_total",
			Help: "Consent decisions rejected because the signature did not verify.",
		}),
	}
}

// RecordDecision counts one recorded decision.
func (m *Metrics) RecordDecision(granted bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if granted {
		decision = "granted"
	}
	m.DecisionsRecorded.WithLabelValues(decision).Inc()
}

// RecordWithdrawals counts superseded records.
func (m *Metrics) RecordWithdrawals(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.ConsentsWithdrawn.Add(float64(count))
}

// RecordSignatureFailure counts one rejected signature.
func (m *Metrics) RecordSignatureFailure() {
	if m == nil {
		return
	}
	m.SignatureFailures.Inc()
}
