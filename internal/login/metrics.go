package login

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts wallet-role handshake outcomes.
type Metrics struct {
	RequestsVerified      prometheus.Counter
	RequestsRejected      prometheus.Counter
	ConfirmationsSigned   prometheus.Counter
	AuthorizationsPending prometheus.Counter
}

// NewMetrics builds the counter set and registers it when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletid", Subsystem: "login",
			Name: "requests_verified_total",
			Help: "Login requests whose credential verified.",
		}),
		RequestsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletid", Subsystem: "login",
			Name: "requests_rejected_total",
			Help: "Login requests dropped before authorization.",
		}),
		ConfirmationsSigned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletid", Subsystem: "login",
			Name: "confirmations_signed_total",
			Help: "Confirmations signed back to requesting apps.",
		}),
		AuthorizationsPending: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletid", Subsystem: "login",
			Name: "authorizations_pending_total",
			Help: "App authorizations left pending by a failed transaction.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.RequestsVerified, m.RequestsRejected, m.ConfirmationsSigned, m.AuthorizationsPending)
	}
	return m
}
