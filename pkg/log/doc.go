/*
Package log provides structured logging via zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Usage

Initializing the Logger:

	import "github.com/cuemby/hyperctl/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Structured Logging:

	log.Logger.Info().
		Str("vm_id", "vm-123").
		Int("vcpu", 4).
		Msg("vm created")

	log.Logger.Error().
		Err(err).
		Str("node_id", "node-abc").
		Msg("node heartbeat timed out")

Context Logger Helpers:

	nodeLog := log.WithNodeID("node-abc123")
	nodeLog.Info().Msg("node registered")

	vmLog := log.WithVMID("vm-def456")
	vmLog.Info().Msg("vm started")

	taskLog := log.WithTaskID("task-789")
	taskLog.Info().Msg("task completed")

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance, initialized once via log.Init()
  - Accessible from every package without passing a logger through every call

Context Logger Pattern:
  - Create child loggers carrying node_id/vm_id/volume_id/agent_id/task_id
  - Pass context loggers down rather than re-specifying fields at every call site

# Security

Never log secrets or credentials. Use structured fields (.Str, .Int) for
user-controlled data rather than string concatenation, which also keeps log
lines safe from injection via embedded control characters.
*/
package log
