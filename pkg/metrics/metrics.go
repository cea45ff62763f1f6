package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Node/Agent metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hyperctl_nodes_total",
			Help: "Total number of nodes by status",
		},
		[]string{"status"},
	)

	AgentConnectionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hyperctl_agent_connections_total",
			Help: "Total number of currently connected agents",
		},
	)

	// VM metrics
	VMsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hyperctl_vms_total",
			Help: "Total number of VMs by status",
		},
		[]string{"status"},
	)

	VolumesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hyperctl_volumes_total",
			Help: "Total number of volumes by status",
		},
		[]string{"status"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hyperctl_tasks_total",
			Help: "Total number of tasks by state",
		},
		[]string{"state"},
	)

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperctl_rpc_requests_total",
			Help: "Total number of RPC requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hyperctl_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// VM operation metrics
	VMCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hyperctl_vm_create_duration_seconds",
			Help:    "Time taken to create a VM record in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	VMStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hyperctl_vm_start_duration_seconds",
			Help:    "Time taken to start a VM (request to completion notification) in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	VMStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hyperctl_vm_stop_duration_seconds",
			Help:    "Time taken to stop a VM in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	// Storage driver metrics
	VolumeCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hyperctl_volume_create_duration_seconds",
			Help:    "Time taken for the Agent to create a volume in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hyperctl_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hyperctl_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	NodesEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hyperctl_nodes_evicted_total",
			Help: "Total number of nodes evicted for heartbeat timeout",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(AgentConnectionsTotal)
	prometheus.MustRegister(VMsTotal)
	prometheus.MustRegister(VolumesTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(VMCreateDuration)
	prometheus.MustRegister(VMStartDuration)
	prometheus.MustRegister(VMStopDuration)
	prometheus.MustRegister(VolumeCreateDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(NodesEvictedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
