package effector

import (
	"fmt"
	"time"

	"github.com/digitalocean/go-qemu/qmp"
)

// QMPPing performs a best-effort QEMU guest-agent liveness probe over the
// domain's QMP socket, returning any dial, connect or command failure as an
// error. No Agent handler calls it, so get_node_info does not report
// guest-agent reachability.
func QMPPing(socketPath string, timeout time.Duration) error {
	monitor, err := qmp.NewSocketMonitor("unix", socketPath, timeout)
	if err != nil {
		return fmt.Errorf("dialing qmp socket: %w", err)
	}
	if err := monitor.Connect(); err != nil {
		return fmt.Errorf("connecting to qmp monitor: %w", err)
	}
	defer monitor.Disconnect()

	if _, err := monitor.Run([]byte(`{"execute":"guest-ping"}`)); err != nil {
		return fmt.Errorf("guest-ping via qmp: %w", err)
	}
	return nil
}
