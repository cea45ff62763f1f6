package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "vmctl",
	Short:   "vmctl - manual smoke-testing client for a hyperctl Controller",
	Version: Version,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(pingCmd)

	watchCmd.Flags().String("server", "ws://localhost:3000/ws/frontend", "Controller frontend WebSocket URL")
	pingCmd.Flags().String("server", "ws://localhost:3000/ws/frontend", "Controller frontend WebSocket URL")
}

// watchCmd subscribes to the frontend push channel and prints every
// VmStatusUpdate/NodeStatusUpdate/TaskStatusUpdate/SnapshotStatusUpdate/
// SystemNotification frame as it arrives, one JSON object per line.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live status updates from the Controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		conn, _, err := websocket.DefaultDialer.Dial(server, nil)
		if err != nil {
			return fmt.Errorf("dialing %s: %w", server, err)
		}
		defer conn.Close()

		fmt.Printf("connected to %s, streaming updates (ctrl-c to stop)...\n", server)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					fmt.Fprintf(os.Stderr, "connection closed: %v\n", err)
					return
				}
				var pretty map[string]any
				if json.Unmarshal(raw, &pretty) == nil {
					out, _ := json.Marshal(pretty)
					fmt.Println(string(out))
				}
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
		case <-done:
		}
		return nil
	},
}

// pingCmd sends a single {"type":"ping"} frame and waits for the Pong,
// verifying the Controller's frontend endpoint is reachable and responsive.
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Round-trip a ping frame against the Controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		if _, err := url.Parse(server); err != nil {
			return fmt.Errorf("invalid server url: %w", err)
		}

		conn, _, err := websocket.DefaultDialer.Dial(server, nil)
		if err != nil {
			return fmt.Errorf("dialing %s: %w", server, err)
		}
		defer conn.Close()

		if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
			return fmt.Errorf("sending ping: %w", err)
		}

		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("waiting for pong: %w", err)
		}

		fmt.Println(string(raw))
		return nil
	},
}
