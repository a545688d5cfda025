// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

// Package agent runs the single-pass ReAct loop: think, act, observe, until
// a final answer, a direct-return tool or the iteration cap.
package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/grinbot/grinbot/pkg/failure"
	"github.com/grinbot/grinbot/pkg/hooks"
	"github.com/grinbot/grinbot/pkg/logger"
	"github.com/grinbot/grinbot/pkg/memory"
	"github.com/grinbot/grinbot/pkg/prompt"
	"github.com/grinbot/grinbot/pkg/providers"
	"github.com/grinbot/grinbot/pkg/tools"
)

// Step is one reasoning iteration.
type Step = memory.Step

// ActionPolicy decides what happens when one model response holds several
// Action blocks.
type ActionPolicy string

const (
	// PolicyFirst honors only the first action.
	PolicyFirst ActionPolicy = "first"
	// PolicyAll runs every action in order before the next model call.
	PolicyAll ActionPolicy = "all"
)

const (
	// CapMessage is the final answer when the iteration cap is reached.
	CapMessage = "I was unable to determine an answer."
	// ModelTimeoutObservation records a model call that ran past its bound.
	ModelTimeoutObservation = "model call timed out"

	DefaultMaxIterations = 5
)

// Options bound the loop.
type Options struct {
	MaxIterations int
	ModelTimeout  time.Duration
	ToolTimeout   time.Duration
	ActionPolicy  ActionPolicy
}

// Agent drives episodes against one language model.
type Agent struct {
	llm  providers.Completer
	opts Options
}

// New returns an Agent. Zero options get defaults.
func New(llm providers.Completer, opts Options) *Agent {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.ActionPolicy == "" {
		opts.ActionPolicy = PolicyFirst
	}
	return &Agent{llm: llm, opts: opts}
}

// Options returns the effective options.
func (a *Agent) Options() Options { return a.opts }

// Episode is everything one run needs. Hooks and Tools come from the same
// plugin snapshot and stay fixed for the whole episode.
type Episode struct {
	Prompt *prompt.Prompt
	Hooks  *hooks.Table
	Tools  *tools.Table
	Memory *memory.WorkingMemory
	Notify tools.Notifier
}

// Result is the outcome of an episode.
type Result struct {
	Output       string
	Steps        []Step
	Iterations   int
	CapExceeded  bool
	ReturnDirect bool
	// Unparsed is set when the output is raw model text that matched
	// neither marker.
	Unparsed bool
}

// Run executes the loop. Only non-timeout model failures, hook failures and
// parent context cancellation end it with an error.
func (a *Agent) Run(ctx context.Context, ep Episode) (*Result, error) {
	wm := ep.Memory
	if wm == nil {
		wm = memory.NewWorkingMemory(memory.UserMessage{}, nil)
	}
	res := &Result{}

	for res.Iterations < a.opts.MaxIterations {
		res.Iterations++

		text, err := a.think(ctx, ep.Prompt.Render(wm.Scratchpad))
		if err != nil {
			if errors.Is(err, failure.Timeout) {
				logger.WarnCF("agent", "Model call timed out",
					map[string]any{
						"iteration": res.Iterations,
						"timeout":   a.opts.ModelTimeout.String(),
					})
				wm.Scratchpad = append(wm.Scratchpad, Step{Observation: ModelTimeoutObservation})
				continue
			}
			return nil, err
		}

		parsed := ParseOutput(text)
		switch {
		case parsed.Err != nil:
			logger.DebugCF("agent", "Unparseable model output, using it as the answer",
				map[string]any{"iteration": res.Iterations, "length": len(text)})
			res.Output = text
			res.Unparsed = true
			return a.finish(res, wm), nil
		case parsed.IsFinal:
			res.Output = parsed.Final
			return a.finish(res, wm), nil
		}

		actions := parsed.Actions
		if a.opts.ActionPolicy != PolicyAll && len(actions) > 1 {
			logger.DebugCF("agent", "Ignoring extra actions",
				map[string]any{"iteration": res.Iterations, "ignored": len(actions) - 1})
			actions = actions[:1]
		}

		for i, act := range actions {
			if act.Tool == tools.Sentinel {
				res.Output = text
				if i > 0 {
					// earlier actions already ran; their text is not an answer
					res.Output = wm.Scratchpad[len(wm.Scratchpad)-1].Observation
				}
				return a.finish(res, wm), nil
			}

			step, direct, err := a.act(ctx, ep, wm, act)
			if err != nil {
				return nil, err
			}
			wm.Scratchpad = append(wm.Scratchpad, step)
			if direct {
				res.Output = step.Observation
				res.ReturnDirect = true
				return a.finish(res, wm), nil
			}
		}
	}

	logger.WarnCF("agent", "Iteration cap reached",
		map[string]any{"max": a.opts.MaxIterations})
	res.Output = CapMessage
	res.CapExceeded = true
	return a.finish(res, wm), nil
}

func (a *Agent) finish(res *Result, wm *memory.WorkingMemory) *Result {
	res.Steps = slices.Clone(wm.Scratchpad)
	logger.InfoCF("agent", "Episode finished",
		map[string]any{
			"iterations":    res.Iterations,
			"steps":         len(res.Steps),
			"cap_exceeded":  res.CapExceeded,
			"return_direct": res.ReturnDirect,
			"final_length":  len(res.Output),
		})
	return res
}

// think calls the model under the model timeout.
func (a *Agent) think(ctx context.Context, rendered string) (string, error) {
	callCtx := ctx
	if a.opts.ModelTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.opts.ModelTimeout)
		defer cancel()
	}

	logger.DebugCF("agent", "LLM request", map[string]any{"prompt_length": len(rendered)})
	text, err := a.llm.Complete(callCtx, rendered)
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", failure.New(failure.Internal, "episode cancelled", ctx.Err())
	}
	if callCtx.Err() != nil || errors.Is(err, failure.Timeout) {
		return "", failure.New(failure.Timeout, "model call", err)
	}
	logger.ErrorCF("agent", "LLM call failed", map[string]any{"error": err.Error()})
	if failure.KindOf(err) == failure.LLM {
		return "", err
	}
	return "", failure.New(failure.LLM, "model call", err)
}

// act resolves and runs one action, returning the recorded step and whether
// the tool returns directly.
func (a *Agent) act(ctx context.Context, ep Episode, wm *memory.WorkingMemory, act Action) (Step, bool, error) {
	step := Step{Log: act.Log, Action: act.Tool, Input: act.Input}

	tool, ok := ep.Tools.Lookup(act.Tool)
	if !ok {
		step.Observation = fmt.Sprintf("%s is not a valid tool, try one of [%s].",
			act.Tool, strings.Join(ep.Tools.Names(), ", "))
		return step, false, nil
	}

	call, err := hooks.Invoke(ctx, ep.Hooks, hooks.BeforeToolCall,
		hooks.ToolCall{Name: tool.Name, Input: act.Input}, wm)
	if err != nil {
		return step, false, err
	}
	if call.Cancel {
		step.Observation = call.CancelReason
		if step.Observation == "" {
			step.Observation = fmt.Sprintf("%s was not allowed to run.", tool.Name)
		}
		logger.InfoCF("agent", "Tool call cancelled by hook",
			map[string]any{"tool": tool.Name, "reason": call.CancelReason})
		return step, false, nil
	}
	step.Input = call.Input

	start := time.Now()
	out, err := tools.Execute(ctx, tool, call.Input, tools.Env{Memory: wm, Notify: ep.Notify}, a.opts.ToolTimeout)
	_ = hooks.Fire(ctx, ep.Hooks, hooks.AfterToolCall, hooks.ToolResult{
		Name:     tool.Name,
		Input:    call.Input,
		Output:   out,
		Err:      err,
		Duration: time.Since(start),
	}, wm)

	switch {
	case errors.Is(err, failure.Timeout):
		step.Observation = fmt.Sprintf("%s timed out.", tool.Name)
		return step, false, nil
	case err != nil:
		step.Observation = fmt.Sprintf("%s failed: %s", tool.Name, failure.Description(err))
		return step, false, nil
	}
	step.Observation = out
	return step, tool.ReturnDirect, nil
}
