// Package metrics defines and registers the custom Prometheus metrics of the
// fitcoach auth backend and session client. It is the single source of
// truth for metric names, labels, and help strings.
//
// Metrics are registered with the default registry on package init via
// promauto; import the package for its side effects before serving /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fitcoach"

// ── Session client metrics ────────────────────────────────────────────────────

// RoleResolutionsTotal counts finished role resolutions.
// Label:
//   - outcome: "resolved", or the fallback reason ("not_found", "no_role",
//     "exhausted", "error", "cancelled", "empty_identity")
var RoleResolutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "role_resolutions_total",
		Help:      "Total number of role resolutions, by outcome.",
	},
	[]string{"outcome"},
)

// RoleLookupAttempts records how many profile lookups one resolution took.
var RoleLookupAttempts = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "role_lookup_attempts",
		Help:      "Number of profile lookups issued per role resolution.",
		Buckets:   []float64{1, 2, 3, 4, 5},
	},
)

// ── Auth backend metrics ──────────────────────────────────────────────────────

// AuthLoginsTotal counts password login attempts.
// Label:
//   - result: "success", "bad_password" or "unknown_user"
var AuthLoginsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_logins_total",
		Help:      "Total number of password login attempts, by result.",
	},
	[]string{"result"},
)

// AuthEventsPublishedTotal counts remote auth events sent to the event bus.
// Label:
//   - kind: the auth event kind (e.g. "SIGNED_OUT", "USER_UPDATED")
var AuthEventsPublishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_events_published_total",
		Help:      "Total number of remote auth events published.",
	},
	[]string{"kind"},
)

// AuditRecordsTotal counts audit records by what happened to them.
// Label:
//   - result: "ok", "error" or "dropped"
var AuditRecordsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_records_total",
		Help:      "Total number of audit records handled, by result.",
	},
	[]string{"result"},
)

// AuditQueueDepth tracks the number of audit records waiting per worker.
// Label:
//   - worker_id: numeric worker index (e.g. "0", "1", …)
var AuditQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_queue_depth",
		Help:      "Current number of audit records pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)
