package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lock acquisition latency - histogram to track p50/p90/p99
	// includes time spent waiting on a contended key
	// labels: scope (key prefix, e.g. "plan"), keeps cardinality bounded
	LockAcquireDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowkey_lock_acquire_duration_seconds",
			Help:    "time taken to acquire a lock, including contention wait",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~32s
		},
		[]string{"scope"},
	)

	// lock acquisition counter
	// labels: scope, status (success/timeout/error)
	LockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowkey_lock_acquire_total",
			Help: "total number of lock acquisitions",
		},
		[]string{"scope", "status"},
	)

	// lock release counter
	// status=stale means the lock had already expired or been reclaimed
	LockReleaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowkey_lock_release_total",
			Help: "total number of lock releases",
		},
		[]string{"scope", "status"},
	)

	// keep-alive renewals
	// labels: status (success/failure)
	LockRenewTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowkey_lock_renew_total",
			Help: "total number of lock renewals",
		},
		[]string{"status"},
	)

	// locks dropped by the expiry sweeper - holders that crashed or stalled
	LockExpireTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowkey_lock_expire_total",
			Help: "total number of locks removed after their TTL elapsed",
		},
	)

	// currently stored locks on this node
	LocksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowkey_locks_active",
			Help: "current number of stored locks",
		},
	)

	// provisioning outcomes
	// labels: outcome (existing/race_lost/created/duplicate/unavailable/construction_failed/error)
	ProvisionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowkey_provision_total",
			Help: "total number of get-or-create calls by outcome",
		},
		[]string{"outcome"},
	)

	// progress delivery latency to the tracking sink
	ProgressDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowkey_progress_delivery_duration_seconds",
			Help:    "time taken to deliver a progress update to the sink",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	// progress delivery counter
	// labels: status (success/failure/stale)
	ProgressDeliveryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowkey_progress_delivery_total",
			Help: "total number of progress updates by delivery status",
		},
		[]string{"status"},
	)

	// runs with at least one pending submission on this process
	ProgressRunsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowkey_progress_runs_pending",
			Help: "number of runs with a progress submission in flight or queued",
		},
	)

	// raft leader status - 1 if this node is leader, 0 if follower
	RaftIsLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowkey_raft_is_leader",
			Help: "whether this node is the raft leader (1 = leader, 0 = follower)",
		},
	)

	// raft log index - last index applied to FSM
	RaftAppliedIndex = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowkey_raft_applied_index",
			Help: "last raft log index applied to the fsm",
		},
	)

	// service uptime - always 1 when running
	Up = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowkey_up",
			Help: "whether the service is up (always 1 when running)",
		},
	)
)

func init() {
	// set uptime gauge to 1 on startup
	Up.Set(1)
}

// returns the metric scope of a lock key: the part before the first ':'
func Scope(key string) string {
	scope, _, found := strings.Cut(key, ":")
	if !found || scope == "" {
		return "default"
	}
	return scope
}

// converts a bool to a gauge value
func BoolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
