package obs

import (
	"github.com/prometheus/client_golang/prometheus"

	"worknest.io/internal/auth"
)

var _ auth.Observer = (*AuthMetrics)(nil)

// AuthMetrics counts authentication failures and authorization decisions.
type AuthMetrics struct {
	decisions *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

// NewAuthMetrics creates the counters and registers them with reg.
func NewAuthMetrics(reg prometheus.Registerer) (*AuthMetrics, error) {
	m := &AuthMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worknest_authz_decisions_total",
			Help: "Authorization decisions by outcome and grant or denial reason.",
		}, []string{"outcome", "reason"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worknest_authn_failures_total",
			Help: "Rejected bearer tokens by failure kind.",
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{m.decisions, m.failures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *AuthMetrics) AuthenticationFailed(kind auth.Kind) {
	m.failures.WithLabelValues(kind.String()).Inc()
}

func (m *AuthMetrics) Decided(d auth.Decision) {
	if d.Allowed {
		m.decisions.WithLabelValues("allow", string(d.Grant)).Inc()
		return
	}
	m.decisions.WithLabelValues("deny", d.Kind.String()).Inc()
}
