/*
Package metrics registers the Prometheus metrics exposed by both the
Controller and the Agent: node/VM/volume gauges sampled by Collector,
RPC request counters and histograms, and per-operation duration
histograms for VM and volume lifecycle calls. Metrics are registered at
package init against the default Prometheus registry and served over
/metrics via Handler.

Usage:

	metrics.NodesTotal.WithLabelValues("online").Set(3)

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.VMStartDuration)

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
