package logger

import (
	"go.uber.org/zap"

	"github.com/roostlabs/roost/sym"
)

// Symbol-aware logging helpers. Each subsystem logs under its glyph so
// the minimal console output stays scannable: queue activity under ꩜,
// lifecycle under ✿/❀, persistence under ⊔, repo sync under ⇅.

// QueueInfow logs queue activity with the ꩜ symbol field.
func QueueInfow(msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{FieldSymbol, sym.Queue}, keysAndValues...)
	Logger.Infow(sym.Queue+" "+msg, args...)
}

// QueueDebugw logs queue debug detail with the ꩜ symbol field.
func QueueDebugw(msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{FieldSymbol, sym.Queue}, keysAndValues...)
	Logger.Debugw(sym.Queue+" "+msg, args...)
}

// QueueWarnw logs queue warnings with the ꩜ symbol field.
func QueueWarnw(msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{FieldSymbol, sym.Queue}, keysAndValues...)
	Logger.Warnw(sym.Queue+" "+msg, args...)
}

// QueueErrorw logs queue errors with the ꩜ symbol field.
func QueueErrorw(msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{FieldSymbol, sym.Queue}, keysAndValues...)
	Logger.Errorw(sym.Queue+" "+msg, args...)
}

// OpenInfow logs component startup with the ✿ symbol field.
func OpenInfow(msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{FieldSymbol, sym.Open}, keysAndValues...)
	Logger.Infow(sym.Open+" "+msg, args...)
}

// CloseInfow logs component shutdown with the ❀ symbol field.
func CloseInfow(msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{FieldSymbol, sym.Close}, keysAndValues...)
	Logger.Infow(sym.Close+" "+msg, args...)
}

// DBInfow logs database operations with the ⊔ symbol field.
func DBInfow(msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{FieldSymbol, sym.DB}, keysAndValues...)
	Logger.Infow(sym.DB+" "+msg, args...)
}

// DBDebugw logs database debug detail with the ⊔ symbol field.
func DBDebugw(msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{FieldSymbol, sym.DB}, keysAndValues...)
	Logger.Debugw(sym.DB+" "+msg, args...)
}

// SyncInfow logs repository save/pull activity with the ⇅ symbol field.
func SyncInfow(msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{FieldSymbol, sym.Sync}, keysAndValues...)
	Logger.Infow(sym.Sync+" "+msg, args...)
}

// SyncWarnw logs repository sync warnings with the ⇅ symbol field.
func SyncWarnw(msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{FieldSymbol, sym.Sync}, keysAndValues...)
	Logger.Warnw(sym.Sync+" "+msg, args...)
}

// WithSymbol returns a logger that stamps every entry with the given glyph.
func WithSymbol(glyph string) *zap.SugaredLogger {
	return Logger.With(FieldSymbol, glyph)
}

// SymbolInfow logs with an arbitrary glyph prefix. Prefer the typed
// helpers above for the standard subsystems.
func SymbolInfow(glyph, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{FieldSymbol, glyph}, keysAndValues...)
	Logger.Infow(glyph+" "+msg, args...)
}

// AddQueueSymbol prefixes a message with the queue glyph.
func AddQueueSymbol(msg string) string { return sym.Queue + " " + msg }

// AddOpenSymbol prefixes a message with the startup glyph.
func AddOpenSymbol(msg string) string { return sym.Open + " " + msg }

// AddCloseSymbol prefixes a message with the shutdown glyph.
func AddCloseSymbol(msg string) string { return sym.Close + " " + msg }

// AddDBSymbol prefixes a message with the database glyph.
func AddDBSymbol(msg string) string { return sym.DB + " " + msg }

// AddSyncSymbol prefixes a message with the repo sync glyph.
func AddSyncSymbol(msg string) string { return sym.Sync + " " + msg }

// AddKeySymbol prefixes a message with the key/identity glyph.
func AddKeySymbol(msg string) string { return sym.Key + " " + msg }

// AddAgentSymbol prefixes a message with the agent glyph.
func AddAgentSymbol(msg string) string { return sym.Agent + " " + msg }

// AddWatchSymbol prefixes a message with the watcher glyph.
func AddWatchSymbol(msg string) string { return sym.Watch + " " + msg }
