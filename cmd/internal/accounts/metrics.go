package accounts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the credential lifecycle. Registered on the
// default registry and exposed by the app's /metrics endpoint.
var (
	metricLogins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quay",
		Subsystem: "accounts",
		Name:      "logins_total",
		Help:      "Successful logins by handler.",
	}, []string{"handler"})

	metricLoginFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quay",
		Subsystem: "accounts",
		Name:      "login_failures_total",
		Help:      "Login attempts aborted by a handler error.",
	}, []string{"handler"})

	metricSweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quay",
		Subsystem: "accounts",
		Name:      "sweep_runs_total",
		Help:      "Completed expiry sweep cycles.",
	})

	metricSweptTokens = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quay",
		Subsystem: "accounts",
		Name:      "swept_tokens_total",
		Help:      "Expired login tokens removed by the sweeper.",
	})

	metricEvictionsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quay",
		Subsystem: "accounts",
		Name:      "evictions_scheduled_total",
		Help:      "Eviction batches scheduled after tokens left a record.",
	})

	metricConnectionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quay",
		Subsystem: "accounts",
		Name:      "connections_evicted_total",
		Help:      "Live connections closed because their token was revoked.",
	})
)
