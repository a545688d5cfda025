package internal

import (
	"context"
	"fmt"

	"github.com/grinbot/grinbot/pkg/agent"
	"github.com/grinbot/grinbot/pkg/bus"
	"github.com/grinbot/grinbot/pkg/config"
	"github.com/grinbot/grinbot/pkg/cron"
	"github.com/grinbot/grinbot/pkg/hooks"
	"github.com/grinbot/grinbot/pkg/logger"
	"github.com/grinbot/grinbot/pkg/mcp"
	"github.com/grinbot/grinbot/pkg/memory"
	"github.com/grinbot/grinbot/pkg/pipeline"
	"github.com/grinbot/grinbot/pkg/plugin"
	"github.com/grinbot/grinbot/pkg/plugin/builtin"
	"github.com/grinbot/grinbot/pkg/plugin/reminders"
	"github.com/grinbot/grinbot/pkg/providers"
)

// Runtime is the assembled agent: plugins, memory, queue and pipeline.
// serve and ask share it.
type Runtime struct {
	Config   *config.Config
	Queue    *bus.Queue
	Cron     *cron.Service
	Plugins  *plugin.Manager
	Store    *memory.SQLiteStore
	Indexer  *pipeline.ToolIndexer
	Pipeline *pipeline.Pipeline

	builtins []plugin.Plugin
}

// NewRuntime wires every component from cfg and loads the builtin plugins.
func NewRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{
		Config:  cfg,
		Queue:   bus.NewQueue(),
		Plugins: plugin.NewManager(),
	}

	rt.Cron = cron.NewCronService(cfg.RemindersPath(), func(j cron.Job) {
		rt.Queue.Push(reminders.Notification(j))
	})

	var recaller memory.Recaller = memory.NopRecaller{}
	if path := cfg.MemoryPath(); path != "" {
		store, err := memory.OpenSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("open memory: %w", err)
		}
		rt.Store = store
		recaller = store
		logger.InfoCF("runtime", "Memory store opened", map[string]any{"path": path})
	}

	embedder := providers.CreateEmbedder(cfg.LLM, cfg.Memory)
	if rt.Store != nil && embedder != nil {
		rt.Indexer = pipeline.NewToolIndexer(rt.Store, embedder)
		rt.Plugins.OnChange(rt.Indexer.Listen)
	}

	deps := builtin.Deps{Cron: rt.Cron}
	if servers := mcp.Servers(cfg.MCP.Servers); len(servers) > 0 {
		remote, err := mcp.Discover(ctx, servers)
		if err != nil {
			// unreachable servers contribute no tools
			logger.WarnCF("runtime", "MCP discovery incomplete", map[string]any{"error": err.Error()})
		}
		deps.MCPTools = remote
	}

	rt.builtins = builtin.Plugins(cfg, deps)
	if err := rt.Plugins.Load(ctx, rt.builtins...); err != nil {
		// rejected plugins stay inactive; the rest keep running
		logger.WarnCF("runtime", "Some plugins failed to load", map[string]any{"error": err.Error()})
	}
	if err := rt.Plugins.ApplyDisabled(ctx, cfg.Plugins.Disabled); err != nil {
		logger.WarnCF("runtime", "Could not apply disabled plugins", map[string]any{"error": err.Error()})
	}

	llm := providers.CreateProvider(cfg.LLM)
	rt.Pipeline = pipeline.New(pipeline.Deps{
		Plugins: rt.Plugins,
		Agent: agent.New(llm, agent.Options{
			MaxIterations: cfg.Agent.MaxIterations,
			ModelTimeout:  cfg.Agent.ModelTimeout.Std(),
			ToolTimeout:   cfg.Agent.ToolTimeout.Std(),
			ActionPolicy:  agent.ActionPolicy(cfg.Agent.ActionPolicy),
		}),
		Recaller: recaller,
		Embedder: embedder,
		History:  memory.NewHistory(cfg.Memory.HistoryTurns),
		Notify:   rt.Queue,
	})

	return rt, nil
}

// Respond runs one message through the pipeline and returns the outbound
// reply.
func (rt *Runtime) Respond(ctx context.Context, msg memory.UserMessage) (hooks.Message, error) {
	out, err := rt.Pipeline.Handle(ctx, msg)
	if err != nil {
		return hooks.Message{}, err
	}
	return out.Reply, nil
}

// Reload applies the plugin toggles of a freshly loaded config.
func (rt *Runtime) Reload(ctx context.Context, cfg *config.Config) error {
	return rt.Plugins.ApplyDisabled(ctx, cfg.Plugins.Disabled)
}

// Close releases timers, background indexing and the memory store.
func (rt *Runtime) Close() {
	for _, p := range rt.builtins {
		if c, ok := p.(interface{ Close() }); ok {
			c.Close()
		}
	}
	if rt.Indexer != nil {
		rt.Indexer.Wait()
	}
	rt.Queue.Close()
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil {
			logger.WarnCF("runtime", "Failed to close memory store", map[string]any{"error": err.Error()})
		}
	}
}
