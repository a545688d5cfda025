// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

// Package pipeline runs one inbound message through the hook chain, memory
// recall, prompt assembly and the agent loop, and produces the reply.
package pipeline

import (
	"context"
	"time"

	"github.com/grinbot/grinbot/pkg/agent"
	"github.com/grinbot/grinbot/pkg/hooks"
	"github.com/grinbot/grinbot/pkg/logger"
	"github.com/grinbot/grinbot/pkg/memory"
	"github.com/grinbot/grinbot/pkg/plugin"
	"github.com/grinbot/grinbot/pkg/prompt"
	"github.com/grinbot/grinbot/pkg/tools"
)

const (
	WhoHuman = "Human"
	WhoAI    = "AI"

	// ToolKey is the metadata key naming the tool of a procedural snippet.
	ToolKey = "tool"
)

// SnapshotSource hands out the current plugin tables.
type SnapshotSource interface {
	Snapshot() *plugin.Snapshot
}

// Deps are the collaborators of a Pipeline. Only Plugins and Agent are
// required.
type Deps struct {
	Plugins  SnapshotSource
	Agent    *agent.Agent
	Recaller memory.Recaller
	Embedder memory.Embedder
	History  *memory.History
	Notify   tools.Notifier
}

type Pipeline struct {
	plugins  SnapshotSource
	agent    *agent.Agent
	recaller memory.Recaller
	writer   memory.Writer
	embedder memory.Embedder
	history  *memory.History
	notify   tools.Notifier
	now      func() time.Time
}

func New(d Deps) *Pipeline {
	p := &Pipeline{
		plugins:  d.Plugins,
		agent:    d.Agent,
		recaller: d.Recaller,
		embedder: d.Embedder,
		history:  d.History,
		notify:   d.Notify,
		now:      time.Now,
	}
	if p.recaller == nil {
		p.recaller = memory.NopRecaller{}
	}
	if w, ok := d.Recaller.(memory.Writer); ok {
		p.writer = w
	}
	return p
}

// Outcome is a finished run: the reply after before_sends_message and the
// raw agent result.
type Outcome struct {
	Reply  hooks.Message
	Result *agent.Result
	Memory *memory.WorkingMemory
}

// Handle processes msg. Errors carry a failure kind and are meant to be
// reported to the client.
func (p *Pipeline) Handle(ctx context.Context, msg memory.UserMessage) (*Outcome, error) {
	snap := p.plugins.Snapshot()
	wm := memory.NewWorkingMemory(msg, p.history.Snapshot())

	read, err := hooks.Invoke(ctx, snap.Hooks, hooks.BeforeReadsMessage, msg, wm)
	if err != nil {
		return nil, err
	}
	wm.UserMessage = read

	embedding, err := p.recall(ctx, snap, wm)
	if err != nil {
		return nil, err
	}

	toolTable := p.narrowTools(snap.Tools, wm.Procedural)

	pr, err := prompt.Assemble(ctx, snap.Hooks, toolTable, wm)
	if err != nil {
		return nil, err
	}

	res, err := p.agent.Run(ctx, agent.Episode{
		Prompt: pr,
		Hooks:  snap.Hooks,
		Tools:  toolTable,
		Memory: wm,
		Notify: p.notify,
	})
	if err != nil {
		return nil, err
	}

	p.rememberTurn(ctx, wm, res, embedding)

	reply := hooks.ChatMessage(res.Output, WhoAI)
	reply.Content.Why = &hooks.Why{
		Input:             wm.UserMessage.Text,
		IntermediateSteps: res.Steps,
		Memory: hooks.WhyMemory{
			Episodic:    wm.Episodic,
			Declarative: wm.Declarative,
			Procedural:  wm.Procedural,
		},
	}
	reply, err = hooks.Invoke(ctx, snap.Hooks, hooks.BeforeSendsMessage, reply, wm)
	if err != nil {
		return nil, err
	}
	return &Outcome{Reply: reply, Result: res, Memory: wm}, nil
}

// recall computes the query, embeds it and fills the three recalled
// collections. It returns the query embedding for the write-back.
func (p *Pipeline) recall(ctx context.Context, snap *plugin.Snapshot, wm *memory.WorkingMemory) ([]float32, error) {
	query, err := hooks.Invoke(ctx, snap.Hooks, hooks.RecallQuery, wm.UserMessage.Text, wm)
	if err != nil {
		return nil, err
	}
	wm.RecallQuery = query
	_ = hooks.Fire(ctx, snap.Hooks, hooks.BeforeRecallsMemories, query, wm)

	var embedding []float32
	if p.embedder != nil && query != "" {
		vecs, err := p.embedder.Embed(ctx, []string{query})
		switch {
		case err != nil:
			logger.WarnCF("pipeline", "Embedding failed, recalling nothing",
				map[string]any{"error": err.Error()})
		case len(vecs) == 1:
			embedding = vecs[0]
		}
	}

	for _, class := range memory.Classes {
		cfg, err := hooks.Invoke(ctx, snap.Hooks, hooks.RecallPoint(class),
			memory.RecallConfig{Embedding: embedding}, wm)
		if err != nil {
			return nil, err
		}
		if cfg.Embedding == nil {
			continue
		}
		snippets, err := p.recaller.Recall(ctx, class, cfg)
		if err != nil {
			logger.WarnCF("pipeline", "Recall failed",
				map[string]any{"class": string(class), "error": err.Error()})
			continue
		}
		wm.SetRecalled(class, snippets)
	}
	logger.DebugCF("pipeline", "Recalled memories",
		map[string]any{
			"episodic":    len(wm.Episodic),
			"declarative": len(wm.Declarative),
			"procedural":  len(wm.Procedural),
		})

	_ = hooks.Fire(ctx, snap.Hooks, hooks.AfterRecallsMemories, query, wm)
	return embedding, nil
}

// narrowTools keeps only the recalled tools when procedural recall found
// any that are still registered.
func (p *Pipeline) narrowTools(all *tools.Table, procedural []memory.Snippet) *tools.Table {
	if len(procedural) == 0 {
		return all
	}
	names := make([]string, 0, len(procedural))
	for _, s := range procedural {
		if name := s.Metadata.Extra[ToolKey]; name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return all
	}
	narrowed := all.Filter(names)
	if narrowed.Len() == 0 {
		// recalled rows can outlive the tools they describe
		return all
	}
	return narrowed
}

func (p *Pipeline) rememberTurn(ctx context.Context, wm *memory.WorkingMemory, res *agent.Result, embedding []float32) {
	text := wm.UserMessage.Text
	p.history.Append(WhoHuman, text)
	p.history.Append(WhoAI, res.Output)

	if p.writer == nil || embedding == nil {
		return
	}
	err := p.writer.Remember(ctx, memory.Episodic, memory.Snippet{
		Content:  text,
		Metadata: memory.Metadata{When: p.now(), Source: "user"},
	}, embedding)
	if err != nil {
		logger.WarnCF("pipeline", "Failed to store episodic memory",
			map[string]any{"error": err.Error()})
	}
}
