package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grinbot/grinbot/cmd/grinbot/internal"
	"github.com/grinbot/grinbot/pkg/config"
	"github.com/grinbot/grinbot/pkg/cron"
	"github.com/grinbot/grinbot/pkg/logger"
	"github.com/grinbot/grinbot/pkg/mcp"
	"github.com/grinbot/grinbot/pkg/plugin"
	"github.com/grinbot/grinbot/pkg/plugin/builtin"
)

const (
	formatText = "text"
	formatJSON = "json"
)

func NewPluginsCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List builtin plugins with their hooks and tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != formatText && format != formatJSON {
				return fmt.Errorf("invalid value for --format: %q (allowed: %s, %s)", format, formatText, formatJSON)
			}

			cfg, err := internal.LoadConfig()
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}

			statuses, err := resolve(cmd.Context(), cfg)
			if outputErr := render(cmd.OutOrStdout(), format, statuses); outputErr != nil {
				return outputErr
			}
			if err != nil {
				return fmt.Errorf("error resolving plugins: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", formatText, "Output format (text|json)")

	return cmd
}

// resolve loads the builtins the way serve does and reports their state.
func resolve(ctx context.Context, cfg *config.Config) ([]plugin.Status, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	m := plugin.NewManager()
	deps := builtin.Deps{Cron: cron.NewCronService(cfg.RemindersPath(), nil)}
	if servers := mcp.Servers(cfg.MCP.Servers); len(servers) > 0 {
		remote, err := mcp.Discover(ctx, servers)
		if err != nil {
			logger.WarnCF("plugins", "MCP discovery incomplete", map[string]any{"error": err.Error()})
		}
		deps.MCPTools = remote
	}
	loadErr := m.Load(ctx, builtin.Plugins(cfg, deps)...)
	applyErr := m.ApplyDisabled(ctx, cfg.Plugins.Disabled)
	if loadErr != nil {
		return m.Status(), loadErr
	}
	return m.Status(), applyErr
}

func render(w io.Writer, format string, statuses []plugin.Status) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	for _, s := range statuses {
		state := "disabled"
		switch {
		case s.Error != "":
			state = "rejected"
		case s.Active:
			state = "active"
		case s.Enabled:
			state = "enabled"
		}
		fmt.Fprintf(w, "%-12s %s\n", s.Name, state)
		if len(s.Tools) > 0 {
			fmt.Fprintf(w, "  tools: %s\n", strings.Join(s.Tools, ", "))
		}
		if len(s.Hooks) > 0 {
			fmt.Fprintf(w, "  hooks: %s\n", strings.Join(s.Hooks, ", "))
		}
		if s.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", s.Error)
		}
	}
	return nil
}
