// Package mcptools offers tools discovered on MCP servers to the agent.
package mcptools

import (
	"context"

	"github.com/grinbot/grinbot/pkg/mcp"
	"github.com/grinbot/grinbot/pkg/plugin"
	"github.com/grinbot/grinbot/pkg/tools"
)

const Name = "mcp"

type Plugin struct {
	remote []mcp.RemoteTool
}

func New(remote []mcp.RemoteTool) *Plugin {
	return &Plugin{remote: remote}
}

func (p *Plugin) Name() string       { return Name }
func (p *Plugin) APIVersion() string { return plugin.APIVersion }

func (p *Plugin) Register(r *plugin.Registrar) error {
	for _, rt := range p.remote {
		input := tools.TextInput
		if len(rt.Params) == 0 {
			input = tools.NoInput
		}
		r.Tool(tools.Tool{
			Name:        rt.LocalName,
			Description: rt.PromptDescription(),
			Input:       input,
			Handler: func(ctx context.Context, in string, _ tools.Env) (string, error) {
				return rt.Call(ctx, in)
			},
		})
	}
	return nil
}
