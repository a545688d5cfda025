package builtin

import (
	"sort"

	"github.com/grinbot/grinbot/pkg/config"
	"github.com/grinbot/grinbot/pkg/cron"
	"github.com/grinbot/grinbot/pkg/mcp"
	"github.com/grinbot/grinbot/pkg/plugin"
	"github.com/grinbot/grinbot/pkg/plugin/core"
	"github.com/grinbot/grinbot/pkg/plugin/mcptools"
	"github.com/grinbot/grinbot/pkg/plugin/policy"
	"github.com/grinbot/grinbot/pkg/plugin/reminders"
)

// Deps are the shared services builtin plugins may need.
type Deps struct {
	Cron *cron.Service
	// MCPTools are the tools discovered on configured MCP servers.
	MCPTools []mcp.RemoteTool
}

// Factory creates one builtin plugin instance.
type Factory func(cfg *config.Config, deps Deps) plugin.Plugin

// Catalog returns compile-time builtin plugin factories by name.
func Catalog() map[string]Factory {
	return map[string]Factory{
		core.Name: func(cfg *config.Config, _ Deps) plugin.Plugin {
			return core.New(core.WithLocation(cfg.Location()))
		},
		reminders.Name: func(_ *config.Config, deps Deps) plugin.Plugin {
			return reminders.New(deps.Cron)
		},
		mcptools.Name: func(_ *config.Config, deps Deps) plugin.Plugin {
			return mcptools.New(deps.MCPTools)
		},
		policy.Name: func(cfg *config.Config, _ Deps) plugin.Plugin {
			return policy.New(policy.Config{
				BlockedTools:         cfg.Plugins.Policy.BlockedTools,
				RedactPrefixes:       cfg.Plugins.Policy.RedactPrefixes,
				DenyOutboundPatterns: cfg.Plugins.Policy.DenyOutboundPatterns,
			})
		},
	}
}

// Names returns sorted builtin plugin names.
func Names() []string {
	catalog := Catalog()
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Plugins instantiates every builtin in load order. The core plugin comes
// first so its defaults precede other handlers at equal priority.
func Plugins(cfg *config.Config, deps Deps) []plugin.Plugin {
	catalog := Catalog()
	out := []plugin.Plugin{catalog[core.Name](cfg, deps)}
	for _, name := range Names() {
		if name == core.Name {
			continue
		}
		out = append(out, catalog[name](cfg, deps))
	}
	return out
}
