package metrics

import (
	"time"

	"github.com/cuemby/hyperctl/pkg/rpc"
	"github.com/cuemby/hyperctl/pkg/store"
)

// Collector periodically samples the Controller's store and registry to
// keep gauge metrics current between the events that would otherwise drive them.
type Collector struct {
	store    store.Store
	registry *rpc.Registry
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store, reg *rpc.Registry) *Collector {
	return &Collector{
		store:    st,
		registry: reg,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectVMMetrics()
	c.collectVolumeMetrics()
	c.collectTaskMetrics()
	c.collectAgentMetrics()
}

func (c *Collector) collectNodeMetrics() {
	nodes, err := c.store.ListNodes()
	if err != nil {
		return
	}
	counts := make(map[string]int)
	for _, n := range nodes {
		counts[string(n.Status)]++
	}
	for status, count := range counts {
		NodesTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectVMMetrics() {
	vms, err := c.store.ListVMs()
	if err != nil {
		return
	}
	counts := make(map[string]int)
	for _, vm := range vms {
		counts[string(vm.Status)]++
	}
	for status, count := range counts {
		VMsTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectVolumeMetrics() {
	volumes, err := c.store.ListVolumes()
	if err != nil {
		return
	}
	counts := make(map[string]int)
	for _, v := range volumes {
		counts[string(v.Status)]++
	}
	for status, count := range counts {
		VolumesTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectTaskMetrics() {
	tasks, err := c.store.ListTasks()
	if err != nil {
		return
	}
	counts := make(map[string]int)
	for _, t := range tasks {
		counts[string(t.Status)]++
	}
	for state, count := range counts {
		TasksTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *Collector) collectAgentMetrics() {
	if c.registry == nil {
		return
	}
	AgentConnectionsTotal.Set(float64(len(c.registry.Snapshot())))
}
