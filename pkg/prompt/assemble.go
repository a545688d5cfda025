// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

// Package prompt composes the model prompt from hook outputs and renders it
// for each reasoning round.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/grinbot/grinbot/pkg/failure"
	"github.com/grinbot/grinbot/pkg/hooks"
	"github.com/grinbot/grinbot/pkg/memory"
	"github.com/grinbot/grinbot/pkg/tools"
)

// Prompt is an assembled template for one episode. Only the scratchpad
// changes between rounds.
type Prompt struct {
	Template    string
	Input       string
	Episodic    string
	Declarative string
	ChatHistory string
	Catalog     []tools.Entry
}

// Assemble runs the memory formatting hooks, then prefix, instructions and
// suffix in that order, and joins the three parts with newlines.
func Assemble(ctx context.Context, h *hooks.Table, t *tools.Table, wm *memory.WorkingMemory) (*Prompt, error) {
	episodic, err := hooks.Invoke(ctx, h, hooks.PromptEpisodicMemories,
		hooks.MemoryRender{Snippets: wm.Episodic}, wm)
	if err != nil {
		return nil, err
	}
	declarative, err := hooks.Invoke(ctx, h, hooks.PromptDeclarativeMemories,
		hooks.MemoryRender{Snippets: wm.Declarative}, wm)
	if err != nil {
		return nil, err
	}
	history, err := hooks.Invoke(ctx, h, hooks.PromptChatHistory,
		hooks.HistoryRender{Turns: wm.History}, wm)
	if err != nil {
		return nil, err
	}

	prefix, err := hooks.Invoke(ctx, h, hooks.PromptPrefix, "", wm)
	if err != nil {
		return nil, err
	}
	instructions, err := hooks.Invoke(ctx, h, hooks.PromptInstructions, "", wm)
	if err != nil {
		return nil, err
	}
	if err := ValidateInstructions(instructions); err != nil {
		return nil, err
	}
	suffix, err := hooks.Invoke(ctx, h, hooks.PromptSuffix, "", wm)
	if err != nil {
		return nil, err
	}

	return &Prompt{
		Template:    strings.Join([]string{prefix, instructions, suffix}, "\n"),
		Input:       wm.UserMessage.Text,
		Episodic:    episodic.Text,
		Declarative: declarative.Text,
		ChatHistory: history.Text,
		Catalog:     t.Catalog(),
	}, nil
}

// ValidateInstructions checks that every placeholder the parser relies on
// is present.
func ValidateInstructions(s string) error {
	var missing []string
	for _, p := range RequiredInstructionPlaceholders {
		if !strings.Contains(s, p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return failure.Errorf(failure.Configuration, "assemble prompt",
			"instructions are missing placeholders %s", strings.Join(missing, ", "))
	}
	return nil
}

// Render substitutes every placeholder in a single pass, so text coming from
// the user or from tools is never re-expanded.
func (p *Prompt) Render(steps []memory.Step) string {
	return strings.NewReplacer(
		PlaceholderInput, p.Input,
		PlaceholderTools, p.toolLines(),
		PlaceholderToolNames, p.toolNames(),
		PlaceholderScratchpad, Scratchpad(steps),
		PlaceholderEpisodic, p.Episodic,
		PlaceholderDeclarative, p.Declarative,
		PlaceholderChatHistory, p.ChatHistory,
	).Replace(p.Template)
}

// Scratchpad is each step's log followed by its observation.
func Scratchpad(steps []memory.Step) string {
	var b strings.Builder
	for _, s := range steps {
		b.WriteString(s.Log)
		fmt.Fprintf(&b, "\nObservation: %s\n", s.Observation)
	}
	return b.String()
}

func (p *Prompt) toolLines() string {
	lines := make([]string, 0, len(p.Catalog))
	for _, e := range p.Catalog {
		lines = append(lines, e.Name+": "+e.Description)
	}
	return strings.Join(lines, "\n")
}

func (p *Prompt) toolNames() string {
	names := make([]string, 0, len(p.Catalog))
	for _, e := range p.Catalog {
		names = append(names, e.Name)
	}
	return strings.Join(names, ", ")
}
