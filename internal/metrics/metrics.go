// Package metrics exposes prometheus counters for the decision and
// enforcement paths. The registry is served from the blocking server's
// /metrics endpoint on loopback.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DecisionsAllowed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "homeguard",
		Name:      "decisions_allowed_total",
		Help:      "Access decisions that resulted in allow.",
	})

	DecisionsDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "homeguard",
		Name:      "decisions_denied_total",
		Help:      "Access decisions that resulted in deny, by category.",
	}, []string{"category"})

	HostsApplies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "homeguard",
		Name:      "hosts_applies_total",
		Help:      "Successful hosts-file managed-section rewrites.",
	})

	HostsApplyErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "homeguard",
		Name:      "hosts_apply_errors_total",
		Help:      "Aborted hosts-file rewrites.",
	})

	FirewallTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "homeguard",
		Name:      "firewall_transitions_total",
		Help:      "Firewall enforcement state transitions.",
	}, []string{"state"})

	CertsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "homeguard",
		Name:      "certificates_issued_total",
		Help:      "Leaf certificates minted for blocked domains.",
	})
)

// Handler serves the default prometheus registry.
func Handler() http.Handler { return promhttp.Handler() }
