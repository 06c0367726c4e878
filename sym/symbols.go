// Package sym defines the canonical glyphs roost uses to mark subsystems in
// logs and CLI output. The glyphs are stable across commands, the daemon, and
// documentation; logs carry them as a structured field so they stay queryable.
package sym

// System infrastructure symbols.
const (
	Queue = "꩜" // job queue, workers, rate and budget gates
	Open  = "✿" // graceful startup with orphaned job recovery
	Close = "❀" // graceful shutdown with checkpoint preservation
	DB    = "⊔" // database/storage layer
	Sync  = "⇅" // repository save/pull/push operations
	Key   = "⚿" // workspace keys and identity
	Agent = "❖" // agent gateway and model dispatch
	Doc   = "▤" // prompt documents
	Watch = "◉" // filesystem and config watchers
)

// entry binds a glyph to its label and description for display surfaces.
type entry struct {
	glyph       string
	label       string
	description string
}

// registry is the canonical mapping of glyphs to display metadata.
var registry = []entry{
	{Queue, "Queue", "Background jobs, workers, rate and budget gates"},
	{Open, "Open", "Graceful startup"},
	{Close, "Close", "Graceful shutdown"},
	{DB, "Storage", "Database and migrations"},
	{Sync, "Sync", "Repository save and push"},
	{Key, "Keys", "SSH keys and agent identity"},
	{Agent, "Agent", "Agent gateway and model dispatch"},
	{Doc, "Prompts", "Prompt documents"},
	{Watch, "Watch", "Filesystem and config watchers"},
}

// Label returns the short display label for a glyph, or the glyph itself
// when it is not registered.
func Label(glyph string) string {
	for _, e := range registry {
		if e.glyph == glyph {
			return e.label
		}
	}
	return glyph
}

// Description returns the long description for a glyph, or "" when unknown.
func Description(glyph string) string {
	for _, e := range registry {
		if e.glyph == glyph {
			return e.description
		}
	}
	return ""
}

// All returns every registered glyph in display order.
func All() []string {
	glyphs := make([]string, 0, len(registry))
	for _, e := range registry {
		glyphs = append(glyphs, e.glyph)
	}
	return glyphs
}
