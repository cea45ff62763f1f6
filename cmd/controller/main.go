package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/hyperctl/pkg/controller"
	"github.com/cuemby/hyperctl/pkg/log"
	"github.com/cuemby/hyperctl/pkg/metrics"
	"github.com/cuemby/hyperctl/pkg/push"
	"github.com/cuemby/hyperctl/pkg/rpc"
	"github.com/cuemby/hyperctl/pkg/store"
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
	Use:     "hyperctl-controller",
	Short:   "hyperctl Controller - authoritative control plane for KVM/QEMU fleets",
	Version: Version,
	RunE:    runController,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("hyperctl-controller version %s\nCommit: %s\n", Version, Commit))

	rootCmd.Flags().String("listen", envOr("CONTROLLER_WS_ADDR", ":3000"), "address to listen on, serves /ws/agent, /ws/frontend, /metrics, /health, /ready, /live")
	rootCmd.Flags().String("data-dir", envOr("CONTROLLER_DATA_DIR", "./hyperctl-controller-data"), "directory holding the bbolt metadata store")
	rootCmd.Flags().Duration("heartbeat-timeout", envDurationOr("CONTROLLER_HEARTBEAT_TIMEOUT", 180*time.Second), "time since last heartbeat before a node is marked offline")
	rootCmd.Flags().Duration("reconnect-backoff", envDurationOr("CONTROLLER_RECONNECT_BACKOFF", 5*time.Second), "advertised reconnect backoff (informational; enforced agent-side)")
	rootCmd.Flags().String("log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "emit structured JSON logs instead of console output")
}

func runController(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	heartbeatTimeout, _ := cmd.Flags().GetDuration("heartbeat-timeout")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
	zlog := log.WithComponent("controller")

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	st, err := store.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	metrics.RegisterComponent("store", true, "")
	metrics.RegisterCritical("store", "rpc_server")

	server := rpc.NewServer(zlog)
	hub := push.NewHub(zlog)
	services := controller.NewServices(st, server.Registry, hub, zlog)
	controller.RegisterHandlers(server, services)
	metrics.RegisterComponent("rpc_server", true, "")

	reconciler := controller.NewReconciler(services, heartbeatTimeout, zlog)
	reconciler.Start()
	defer reconciler.Stop()

	collector := metrics.NewCollector(st, server.Registry)
	collector.Start()
	defer collector.Stop()

	mux := http.NewServeMux()
	mux.Handle("/ws/agent", server)
	mux.Handle("/ws/frontend", hub)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	httpServer := &http.Server{Addr: listen, Handler: mux}
	go func() {
		zlog.Info().Str("addr", listen).Msg("controller listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zlog.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
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
