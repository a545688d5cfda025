// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/grinbot/grinbot/cmd/grinbot/internal"
	"github.com/grinbot/grinbot/cmd/grinbot/internal/ask"
	"github.com/grinbot/grinbot/cmd/grinbot/internal/plugins"
	"github.com/grinbot/grinbot/cmd/grinbot/internal/serve"
	"github.com/grinbot/grinbot/cmd/grinbot/internal/version"
)

func NewGrinbotCommand() *cobra.Command {
	short := fmt.Sprintf("%s grinbot - plugin-driven conversational agent runtime v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:          "grinbot",
		Short:        short,
		Example:      "grinbot serve\ngrinbot ask \"what time is it?\"",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&internal.ConfigFile, "config", "c", "",
		"Config file (default $GRINBOT_CONFIG or ~/.grinbot/config.json)")

	cmd.AddCommand(
		serve.NewServeCommand(),
		ask.NewAskCommand(),
		plugins.NewPluginsCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	if err := NewGrinbotCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
