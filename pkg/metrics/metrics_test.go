package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewTimerStartsImmediately(t *testing.T) {
	timer := NewTimer()
	if timer.start.IsZero() {
		t.Error("NewTimer() start time should not be zero")
	}
}

func TestTimerDurationGrowsMonotonically(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	d := timer.Duration()
	if d < 5*time.Millisecond {
		t.Errorf("Duration() = %v, want >= 5ms", d)
	}
}

// TestTimerObservesVMStartDuration exercises the Timer against a local
// histogram built with VMStartDuration's bucket layout (topping out at
// 120s), so the package-level histogram itself is left untouched.
func TestTimerObservesVMStartDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_vm_start_duration_seconds",
		Help:    "test copy of hyperctl_vm_start_duration_seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	timer := NewTimer()
	time.Sleep(time.Millisecond)
	timer.ObserveDuration(histogram)

	metric := &dto.Metric{}
	if err := histogram.Write(metric); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := metric.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

// TestTimerObservesRPCRequestDurationVec times into a local histogram vec
// labeled by method, the same label shape RPCRequestDuration declares.
func TestTimerObservesRPCRequestDurationVec(t *testing.T) {
	histogramVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_rpc_request_duration_seconds",
			Help:    "test copy of hyperctl_rpc_request_duration_seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	timer := NewTimer()
	time.Sleep(time.Millisecond)
	timer.ObserveDurationVec(histogramVec, "start_vm")

	observer, err := histogramVec.GetMetricWithLabelValues("start_vm")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues() error = %v", err)
	}
	metric := &dto.Metric{}
	if err := observer.(prometheus.Metric).Write(metric); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := metric.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestTimerZeroDurationIsNonNegative(t *testing.T) {
	timer := NewTimer()
	if timer.Duration() < 0 {
		t.Error("Duration() should never be negative")
	}
}

func TestMultipleTimersAreIndependent(t *testing.T) {
	t1 := NewTimer()
	time.Sleep(5 * time.Millisecond)
	t2 := NewTimer()
	time.Sleep(5 * time.Millisecond)

	d1 := t1.Duration()
	d2 := t2.Duration()
	if d2 >= d1 {
		t.Errorf("timer started later (%v) should report a smaller duration than the earlier one (%v)", d2, d1)
	}
}
