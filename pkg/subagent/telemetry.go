package subagent

import (
	"log/slog"
	"time"
)

// Telemetry receives run lifecycle records. Implementations must be safe for
// concurrent use; nested agents report through the same instance.
type Telemetry interface {
	// AgentStart fires once when a run begins.
	AgentStart(agentID, name string)

	// AgentFinish fires exactly once per run, whatever the outcome.
	AgentFinish(agentID, name string, elapsed time.Duration, turns int, reason TerminationReason)

	// RecoveryAttempt fires after the single salvage turn that follows a
	// timeout, turn exhaustion, or a reply with no tool calls. reason is the
	// condition that triggered recovery, not the final outcome.
	RecoveryAttempt(agentID, name string, reason TerminationReason, elapsed time.Duration, success bool, turns int)
}

// nopTelemetry drops everything. Used when the host wires nothing.
type nopTelemetry struct{}

func (nopTelemetry) AgentStart(string, string) {}
func (nopTelemetry) AgentFinish(string, string, time.Duration, int, TerminationReason) {
}
func (nopTelemetry) RecoveryAttempt(string, string, TerminationReason, time.Duration, bool, int) {
}

// LogTelemetry writes records through slog.
type LogTelemetry struct {
	Logger *slog.Logger
}

func (t LogTelemetry) AgentStart(agentID, name string) {
	t.Logger.Info("agent start", "agent_id", agentID, "agent", name)
}

func (t LogTelemetry) AgentFinish(agentID, name string, elapsed time.Duration, turns int, reason TerminationReason) {
	t.Logger.Info("agent finish",
		"agent_id", agentID,
		"agent", name,
		"elapsed_ms", elapsed.Milliseconds(),
		"turns", turns,
		"reason", string(reason))
}

func (t LogTelemetry) RecoveryAttempt(agentID, name string, reason TerminationReason, elapsed time.Duration, success bool, turns int) {
	t.Logger.Info("agent recovery attempt",
		"agent_id", agentID,
		"agent", name,
		"reason", string(reason),
		"elapsed_ms", elapsed.Milliseconds(),
		"success", success,
		"turns", turns)
}
