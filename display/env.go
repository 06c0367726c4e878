package display

import "os"

// CallerEnv names the environment variable the agent's sandbox profile
// exports so roost knows its output is being read by a machine.
const CallerEnv = "ROOST_CALLER"

// AgentCaller is the CallerEnv value for the resident agent.
const AgentCaller = "agent"

// IsAgentCaller reports whether this invocation came from the resident agent.
// Agent callers get compact JSON without passing --json on every call.
func IsAgentCaller() bool {
	return os.Getenv(CallerEnv) == AgentCaller
}
