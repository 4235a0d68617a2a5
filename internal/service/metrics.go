package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts envelope and trade outcomes for the control server's
// /metrics endpoint.
type Metrics struct {
	EnvelopesApplied  *prometheus.CounterVec
	EnvelopesRejected *prometheus.CounterVec
	TradesTerminal    *prometheus.CounterVec
	VerifyFailures    prometheus.Counter
}

// NewMetrics creates and registers the metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EnvelopesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swapd",
			Name:      "envelopes_applied_total",
			Help:      "Envelopes applied to a trade, by kind.",
		}, []string{"kind"}),
		EnvelopesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swapd",
			Name:      "envelopes_rejected_total",
			Help:      "Envelopes rejected, by reason.",
		}, []string{"reason"}),
		TradesTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swapd",
			Name:      "trades_terminal_total",
			Help:      "Trades reaching a terminal state, by state.",
		}, []string{"state"}),
		VerifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swapd",
			Name:      "prepay_verify_failures_total",
			Help:      "Pre-pay verifications that refused payment.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.EnvelopesApplied, m.EnvelopesRejected, m.TradesTerminal, m.VerifyFailures)
	}
	return m
}
