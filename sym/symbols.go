// Package sym defines canonical glyphs for vclean commands and log markers.
// These symbols are stable across CLI output and structured logs.
package sym

// Command glyphs — one per top-level CLI command.
const (
	AM    = "≡" // am — configuration and system settings
	Clean = "⌫" // clean — version cleanup jobs
)

// System infrastructure symbols.
const (
	Pulse      = "꩜" // scheduled invocations, rate limiting
	PulseOpen  = "✿" // daemon startup
	PulseClose = "❀" // daemon shutdown
	DB         = "⊔" // database/storage layer
)

// SymbolToCommand maps glyph strings to their text command equivalents.
var SymbolToCommand = map[string]string{
	AM:    "am",
	Clean: "clean",
	Pulse: "pulse",
	DB:    "db",
}

// CommandToSymbol maps text commands to their canonical glyph strings.
var CommandToSymbol = map[string]string{
	"am":    AM,
	"clean": Clean,
	"pulse": Pulse,
	"db":    DB,
}

// CommandDescriptions provides one-line explanations used in help text.
var CommandDescriptions = map[string]string{
	"am":    "Configuration — settings, schema map and defaults",
	"clean": "Cleanup — seed, inspect and re-arm version cleanup jobs",
	"pulse": "Pulse — daemon that invokes due cleanup jobs",
	"db":    "Database — job database migrations",
}

// Prefix returns the glyph for a command followed by a space, or "" if unknown.
func Prefix(command string) string {
	if glyph, ok := CommandToSymbol[command]; ok {
		return glyph + " "
	}
	return ""
}
