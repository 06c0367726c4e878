package logger

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

func encodeOne(t *testing.T, ent zapcore.Entry, fields []zapcore.Field) string {
	t.Helper()
	enc := newMinimalEncoder()
	buf, err := enc.EncodeEntry(ent, fields)
	require.NoError(t, err)
	defer buf.Free()
	return stripANSI(buf.String())
}

func TestEncodeEntryLayout(t *testing.T) {
	ent := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Date(2026, 3, 14, 13, 4, 35, 0, time.UTC),
		LoggerName: "queue.worker",
		Message:    "Job completed",
	}

	out := encodeOne(t, ent, nil)

	assert.Contains(t, out, "13:04:35")
	assert.Contains(t, out, "q.worker")
	assert.Contains(t, out, "Job completed")
	// INFO level marker is suppressed for a calm default line
	assert.NotContains(t, out, "INFO")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestEncodeEntryShowsWarnAndError(t *testing.T) {
	warn := encodeOne(t, zapcore.Entry{Level: zapcore.WarnLevel, Message: "retrying"}, nil)
	assert.Contains(t, warn, "WARN")

	errOut := encodeOne(t, zapcore.Entry{Level: zapcore.ErrorLevel, Message: "failed"}, nil)
	assert.Contains(t, errOut, "ERROR")
}

func TestEncodeEntryKnownFields(t *testing.T) {
	ent := zapcore.Entry{Level: zapcore.InfoLevel, Message: "Job completed"}
	fields := []zapcore.Field{
		zap.String(FieldJobID, "job-8f3a"),
		zap.Int64(FieldDurationMS, 420),
		zap.Int(FieldCount, 3),
	}

	out := encodeOne(t, ent, fields)

	assert.Contains(t, out, "job-8f3a")
	assert.Contains(t, out, "420ms")
	assert.Contains(t, out, "(3)")
}

func TestEncodeEntryGenericFields(t *testing.T) {
	// Fields without a compact rendering fall back to key=value
	// rather than being dropped.
	ent := zapcore.Entry{Level: zapcore.InfoLevel, Message: "config loaded"}
	fields := []zapcore.Field{
		zap.String("path", "/home/agent/.roost/roost.toml"),
		zap.Bool("watch", true),
	}

	out := encodeOne(t, ent, fields)

	assert.Contains(t, out, "path=/home/agent/.roost/roost.toml")
	assert.Contains(t, out, "watch=true")
}

func TestEncodeEntrySkipsSymbolField(t *testing.T) {
	ent := zapcore.Entry{Level: zapcore.InfoLevel, Message: "꩜ Job queued"}
	fields := []zapcore.Field{
		zap.String(FieldSymbol, "꩜"),
		zap.String(FieldJobID, "job-8f3a"),
	}

	out := encodeOne(t, ent, fields)

	assert.Contains(t, out, "job-8f3a")
	assert.NotContains(t, out, "symbol=")
}

func TestAbbreviateName(t *testing.T) {
	assert.Equal(t, "server", abbreviateName("server"))
	assert.Equal(t, "q.worker", abbreviateName("queue.worker"))
	assert.Equal(t, "a.delegate", abbreviateName("ai.delegate"))
}

func TestColorizeMessageBrackets(t *testing.T) {
	out := stripANSI(colorizeMessage("[job:8f3a] clone started [fetch]"))
	assert.Equal(t, "[job:8f3a] clone started [fetch]", out)
}

func TestSetTheme(t *testing.T) {
	orig := currentTheme
	defer SetTheme(orig)

	SetTheme("gruvbox")
	assert.Equal(t, "gruvbox", currentTheme)
	SetTheme("everforest")
	assert.Equal(t, "everforest", currentTheme)
	SetTheme("nonsense")
	assert.Equal(t, "everforest", currentTheme)
}
