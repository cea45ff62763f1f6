package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/hyperctl/pkg/agent"
	"github.com/cuemby/hyperctl/pkg/effector"
	"github.com/cuemby/hyperctl/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "hyperctl-agent",
	Short:   "hyperctl Agent - per-host libvirt effector",
	Version: Version,
	RunE:    runAgent,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("hyperctl-agent version %s\nCommit: %s\n", Version, Commit))

	rootCmd.Flags().String("node-id", envOr("NODE_ID", defaultNodeID()), "unique id this Agent registers under")
	rootCmd.Flags().String("node-name", envOr("NODE_NAME", defaultNodeID()), "hostname reported to the Controller")
	rootCmd.Flags().String("server-url", envOr("SERVER_WS_URL", "ws://localhost:3000/ws/agent"), "Controller Agent-RPC WebSocket URL")
	rootCmd.Flags().Duration("heartbeat-interval", envDurationOr("HEARTBEAT_INTERVAL", 30*time.Second), "interval between heartbeat notifications")
	rootCmd.Flags().String("network-interface", envOr("NETWORK_PROVIDER_INTERFACE", "eth0"), "uplink interface VLAN bridges are created against")
	rootCmd.Flags().String("data-dir", envOr("AGENT_DATA_DIR", "./hyperctl-agent-data"), "Agent-local scratch directory")
	rootCmd.Flags().String("libvirt-socket", envOr("LIBVIRT_SOCKET", "/var/run/libvirt/libvirt-sock"), "libvirtd Unix socket path")
	rootCmd.Flags().String("log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "emit structured JSON logs instead of console output")
}

func runAgent(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	nodeName, _ := cmd.Flags().GetString("node-name")
	serverURL, _ := cmd.Flags().GetString("server-url")
	heartbeatInterval, _ := cmd.Flags().GetDuration("heartbeat-interval")
	netIface, _ := cmd.Flags().GetString("network-interface")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	libvirtSocket, _ := cmd.Flags().GetString("libvirt-socket")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
	zlog := log.WithAgentID(nodeID)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx, err := effector.Dial(ctx, libvirtSocket, zlog)
	if err != nil {
		return fmt.Errorf("dialing libvirt: %w", err)
	}
	defer fx.Close()

	ip, err := localIP()
	if err != nil {
		zlog.Warn().Err(err).Msg("failed to determine local ip, registering with empty ip_address")
	}

	a := agent.New(agent.Config{
		NodeID:            nodeID,
		Hostname:          nodeName,
		IPAddress:         ip,
		ServerURL:         serverURL,
		ProviderInterface: netIface,
		DataDir:           dataDir,
		HeartbeatInterval: heartbeatInterval,
	}, fx, zlog)

	go a.Run(ctx)
	zlog.Info().Str("server", serverURL).Msg("agent started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zlog.Info().Msg("shutting down")
	cancel()
	return nil
}

// localIP picks the first non-loopback IPv4 address the host advertises, a
// best-effort default for the ip_address the Agent registers with.
func localIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback ipv4 address found")
}

func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil {
		return "agent-unknown"
	}
	return host
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
