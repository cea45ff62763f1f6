package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/cuemby/hyperctl/pkg/rpc"
)

// resourceInfo is the node_resource_info notification payload (/the
// supplemented hypervisor_type/hypervisor_version feature).
type resourceInfo struct {
	CPUCores          int    `json:"cpu_cores"`
	CPUThreads        int    `json:"cpu_threads"`
	MemoryTotalBytes  int64  `json:"memory_total_bytes"`
	DiskTotalBytes    int64  `json:"disk_total_bytes"`
	HypervisorKind    string `json:"hypervisor_kind"`
	HypervisorVersion string `json:"hypervisor_version"`
}

// gatherResourceInfo samples host CPU/memory/disk capacity and the
// libvirt/QEMU version. There is no host-metrics library in the retrieved
// example pack whose exact API could be confirmed (prometheus/procfs is
// pulled in transitively but only its go.mod was retrieved, not its
// source), so this reads /proc/meminfo directly and uses
// golang.org/x/sys/unix.Statfs, both already part of the dependency graph
// (see DESIGN.md).
func (a *Agent) gatherResourceInfo() (resourceInfo, error) {
	cores, threads := cpuCounts()

	memTotal, err := readMemTotalBytes("/proc/meminfo")
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to read /proc/meminfo, reporting zero memory")
	}

	diskTotal, err := diskTotalBytes(a.dataDirOrDefault())
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to statfs data dir, reporting zero disk")
	}

	kind, version, err := a.fx.HypervisorVersion()
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to query hypervisor version")
	}

	return resourceInfo{
		CPUCores:          cores,
		CPUThreads:        threads,
		MemoryTotalBytes:  memTotal,
		DiskTotalBytes:    diskTotal,
		HypervisorKind:    kind,
		HypervisorVersion: version,
	}, nil
}

func (a *Agent) dataDirOrDefault() string {
	if a.dataDir != "" {
		return a.dataDir
	}
	return "/"
}

// cpuCounts reports logical thread count from runtime.NumCPU and derives the
// physical core count from /proc/cpuinfo's (physical id, core id) pairs,
// falling back to threads==cores if /proc/cpuinfo can't be parsed (e.g. in a
// container without the real host's topology exposed).
func cpuCounts() (cores, threads int) {
	threads = runtime.NumCPU()
	cores = threads

	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return cores, threads
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var physicalID, coreID string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "physical id"):
			physicalID = cpuinfoValue(line)
		case strings.HasPrefix(line, "core id"):
			coreID = cpuinfoValue(line)
			seen[physicalID+"/"+coreID] = struct{}{}
		}
	}
	if len(seen) > 0 {
		cores = len(seen)
	}
	return cores, threads
}

func cpuinfoValue(line string) string {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func readMemTotalBytes(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("unexpected MemTotal line: %q", line)
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing MemTotal value: %w", err)
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("MemTotal not found in %s", path)
}

func diskTotalBytes(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return int64(stat.Blocks) * int64(stat.Bsize), nil
}

func (a *Agent) handleGetNodeInfo(nodeID string, payload json.RawMessage) (any, *rpc.RPCError) {
	info, err := a.gatherResourceInfo()
	if err != nil {
		return nil, rpc.InternalError(err)
	}
	return info, nil
}
