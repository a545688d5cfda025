// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

// Package core is the always-on plugin holding the default handler for
// every prompt and recall extension point, plus the built-in tools.
package core

import (
	"context"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/grinbot/grinbot/pkg/hooks"
	"github.com/grinbot/grinbot/pkg/memory"
	"github.com/grinbot/grinbot/pkg/plugin"
	"github.com/grinbot/grinbot/pkg/prompt"
	"github.com/grinbot/grinbot/pkg/tools"
)

const (
	Name = "core"

	DefaultRecallK         = 3
	DefaultRecallThreshold = 0.7

	// PrefixSettingPath is the inbound message key overriding the persona.
	PrefixSettingPath = "prompt_settings.prefix"

	timeLayout = "2006-01-02 15:04:05 MST"
)

type Plugin struct {
	now func() time.Time
	loc *time.Location
}

type Option func(*Plugin)

// WithClock replaces time.Now for the time tool and memory ages.
func WithClock(now func() time.Time) Option {
	return func(p *Plugin) { p.now = now }
}

// WithLocation sets the zone the time tool reports in.
func WithLocation(loc *time.Location) Option {
	return func(p *Plugin) { p.loc = loc }
}

func New(opts ...Option) *Plugin {
	p := &Plugin{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Name() string       { return Name }
func (p *Plugin) APIVersion() string { return plugin.APIVersion }
func (p *Plugin) Required() bool     { return true }

func (p *Plugin) Register(r *plugin.Registrar) error {
	plugin.Hook(r, hooks.PromptPrefix, "default-prefix", 0, p.prefix)
	plugin.Hook(r, hooks.PromptInstructions, "default-instructions", 0, constant(prompt.DefaultInstructions))
	plugin.Hook(r, hooks.PromptSuffix, "default-suffix", 0, constant(prompt.DefaultSuffix))

	plugin.Hook(r, hooks.PromptEpisodicMemories, "default-episodic-format", 0,
		func(_ context.Context, in hooks.MemoryRender, _ *memory.WorkingMemory) (hooks.MemoryRender, error) {
			in.Text = prompt.FormatEpisodic(in.Snippets, p.now())
			return in, nil
		})
	plugin.Hook(r, hooks.PromptDeclarativeMemories, "default-declarative-format", 0,
		func(_ context.Context, in hooks.MemoryRender, _ *memory.WorkingMemory) (hooks.MemoryRender, error) {
			in.Text = prompt.FormatDeclarative(in.Snippets)
			return in, nil
		})
	plugin.Hook(r, hooks.PromptChatHistory, "default-history-format", 0,
		func(_ context.Context, in hooks.HistoryRender, _ *memory.WorkingMemory) (hooks.HistoryRender, error) {
			in.Text = prompt.FormatHistory(in.Turns)
			return in, nil
		})

	for _, class := range memory.Classes {
		plugin.Hook(r, hooks.RecallPoint(class), "default-recall-"+string(class), 0, recallDefaults)
	}

	r.Tool(tools.Tool{
		Name:        "get_the_time",
		Description: `Replies to "what time is it", "get the clock" and similar questions. Input is always None.`,
		Input:       tools.NoInput,
		Handler: func(context.Context, string, tools.Env) (string, error) {
			now := p.now()
			if p.loc != nil {
				now = now.In(p.loc)
			}
			return now.Format(timeLayout), nil
		},
	})
	return nil
}

// prefix honors a per-message persona override.
func (p *Plugin) prefix(_ context.Context, _ string, wm *memory.WorkingMemory) (string, error) {
	if custom := wm.UserMessage.Get(PrefixSettingPath); custom.Type == gjson.String && strings.TrimSpace(custom.Str) != "" {
		return custom.Str, nil
	}
	return prompt.DefaultPrefix, nil
}

func recallDefaults(_ context.Context, cfg memory.RecallConfig, _ *memory.WorkingMemory) (memory.RecallConfig, error) {
	cfg.K = DefaultRecallK
	cfg.Threshold = DefaultRecallThreshold
	return cfg, nil
}

func constant(s string) hooks.Handler[string] {
	return func(context.Context, string, *memory.WorkingMemory) (string, error) { return s, nil }
}
