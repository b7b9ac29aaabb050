// Package metrics defines the Prometheus metrics of the identity backend.
// They register with the default registry on import and are served at
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "laporketua_identity"

// Login outcomes.
const (
	LoginSuccess            = "success"
	LoginInvalidCredentials = "invalid_credentials"
	LoginError              = "error"
)

// LoginAttemptsTotal counts login attempts.
// Label:
//   - result: "success", "invalid_credentials" or "error"
var LoginAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_attempts_total",
		Help:      "Total number of login attempts, by result.",
	},
	[]string{"result"},
)

// ProvisioningOperationsTotal counts user-management operations.
// Labels:
//   - operation: "create_user", "delete_user", "update_technician", ...
//   - result: "success" or the error kind ("forbidden", "not_found", ...)
var ProvisioningOperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provisioning_operations_total",
		Help:      "Total number of provisioning operations, by operation and result.",
	},
	[]string{"operation", "result"},
)

// HTTPRequestDuration measures request latency per route pattern.
var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests, by method, route and status.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)
