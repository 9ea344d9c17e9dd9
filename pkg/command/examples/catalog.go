package examples

import (
	"commandbot/pkg/command"
	"commandbot/pkg/plugin"
)

// Register adds the built-in commands to catalog under their configuration
// names.
func Register(catalog *plugin.Catalog[command.Handler], presence PresenceSource) {
	catalog.Register("calculator", func() command.Handler { return NewCalculator() })
	catalog.Register("presence", func() command.Handler { return NewPresenceLookup(presence) })
}
