package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
		verbosity  int
	}{
		{"console quiet", false, 0},
		{"console info", false, 1},
		{"console debug", false, 2},
		{"json info", true, 1},
		{"json trace", true, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Initialize(tt.jsonOutput, tt.verbosity)
			require.NoError(t, err)
			require.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)
		})
	}
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, "warn", VerbosityToLevel(VerbosityUser).String())
	assert.Equal(t, "info", VerbosityToLevel(VerbosityInfo).String())
	assert.Equal(t, "debug", VerbosityToLevel(VerbosityDebug).String())
	assert.Equal(t, "debug", VerbosityToLevel(VerbosityTrace).String())
	assert.Equal(t, "debug", VerbosityToLevel(VerbosityAll).String())
}

func TestShouldOutput(t *testing.T) {
	// Errors always pass, even at verbosity 0
	assert.True(t, ShouldOutput(VerbosityUser, OutputErrors))
	assert.True(t, ShouldOutput(VerbosityUser, OutputResults))

	// Queue operations need -vv
	assert.False(t, ShouldOutput(VerbosityInfo, OutputQueueOps))
	assert.True(t, ShouldOutput(VerbosityDebug, OutputQueueOps))

	// Raw bodies only at -vvvv
	assert.False(t, ShouldOutput(VerbosityTrace, OutputRequestBody))
	assert.True(t, ShouldOutput(VerbosityAll, OutputRequestBody))
}

func TestRedactToken(t *testing.T) {
	assert.Equal(t, "****", RedactToken(""))
	assert.Equal(t, "****", RedactToken("short"))
	assert.Equal(t, "sk-a…f2", RedactToken("sk-abcdef0123456789f2"))
}

func TestLoggerFromContext(t *testing.T) {
	require.NoError(t, Initialize(false, 1))

	ctx := WithJobID(t.Context(), "job-f00d")
	ctx = WithComponent(ctx, "queue.worker")

	fields := FieldsFromContext(ctx)
	assert.Contains(t, fields, FieldJobID)
	assert.Contains(t, fields, FieldComponent)

	log := LoggerFromContext(ctx)
	require.NotNil(t, log)
}
