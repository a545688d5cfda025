package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grinbot/grinbot/pkg/failure"
	"github.com/grinbot/grinbot/pkg/hooks"
	"github.com/grinbot/grinbot/pkg/memory"
	"github.com/grinbot/grinbot/pkg/plugin"
	"github.com/grinbot/grinbot/pkg/plugin/core"
	"github.com/grinbot/grinbot/pkg/prompt"
	"github.com/grinbot/grinbot/pkg/providers"
	"github.com/grinbot/grinbot/pkg/tools"
)

// script replays outputs in order and records prompts.
type script struct {
	mu      sync.Mutex
	outputs []string
	prompts []string
	repeat  string
}

func (s *script) Complete(_ context.Context, p string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, p)
	if len(s.outputs) == 0 {
		return s.repeat, nil
	}
	out := s.outputs[0]
	s.outputs = s.outputs[1:]
	return out, nil
}

func (s *script) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

type extras struct {
	tools    []tools.Tool
	register func(r *plugin.Registrar)
}

func (e *extras) Name() string       { return "extras" }
func (e *extras) APIVersion() string { return plugin.APIVersion }
func (e *extras) Register(r *plugin.Registrar) error {
	for _, t := range e.tools {
		r.Tool(t)
	}
	if e.register != nil {
		e.register(r)
	}
	return nil
}

var fixedNow = time.Date(2026, 1, 1, 14, 32, 10, 0, time.UTC)

func episode(t *testing.T, text string, ext *extras) Episode {
	t.Helper()
	m := plugin.NewManager()
	plugins := []plugin.Plugin{core.New(core.WithClock(func() time.Time { return fixedNow }))}
	if ext != nil {
		plugins = append(plugins, ext)
	}
	require.NoError(t, m.Load(context.Background(), plugins...))

	snap := m.Snapshot()
	wm := memory.NewWorkingMemory(memory.UserMessage{Text: text}, nil)
	p, err := prompt.Assemble(context.Background(), snap.Hooks, snap.Tools, wm)
	require.NoError(t, err)
	return Episode{Prompt: p, Hooks: snap.Hooks, Tools: snap.Tools, Memory: wm}
}

func TestRun_GetTheTime(t *testing.T) {
	llm := &script{outputs: []string{
		"Action: get_the_time\nAction Input: None",
		"Final Answer: It is 14:32:10.",
	}}
	res, err := New(llm, Options{}).Run(context.Background(), episode(t, "what time is it?", nil))
	require.NoError(t, err)

	assert.Equal(t, "It is 14:32:10.", res.Output)
	assert.Equal(t, 2, res.Iterations)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "get_the_time", res.Steps[0].Action)
	assert.Equal(t, "2026-01-01 14:32:10 UTC", res.Steps[0].Observation)

	require.Len(t, llm.prompts, 2)
	assert.NotContains(t, llm.prompts[0], "Observation: 2026")
	assert.Contains(t, llm.prompts[1], "Action: get_the_time\nAction Input: None\nObservation: 2026-01-01 14:32:10 UTC\n")
}

func TestRun_CapOnAdversarialOutput(t *testing.T) {
	llm := &script{repeat: "Action: made_up\nAction Input: x"}
	res, err := New(llm, Options{MaxIterations: 3}).Run(context.Background(), episode(t, "loop", nil))
	require.NoError(t, err)

	assert.True(t, res.CapExceeded)
	assert.Equal(t, CapMessage, res.Output)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, llm.calls())
	require.Len(t, res.Steps, 3)
	assert.Equal(t, "made_up is not a valid tool, try one of [get_the_time, none_of_the_others].",
		res.Steps[0].Observation)
}

func TestRun_ReturnDirectSkipsModel(t *testing.T) {
	ext := &extras{tools: []tools.Tool{{
		Name:         "shout",
		Description:  "Shouts the input.",
		ReturnDirect: true,
		Handler: func(_ context.Context, in string, _ tools.Env) (string, error) {
			return strings.ToUpper(in), nil
		},
	}}}
	llm := &script{outputs: []string{"Action: shout\nAction Input: hi"}}
	res, err := New(llm, Options{}).Run(context.Background(), episode(t, "shout hi", ext))
	require.NoError(t, err)

	assert.Equal(t, "HI", res.Output)
	assert.True(t, res.ReturnDirect)
	assert.Equal(t, 1, llm.calls())
}

func TestRun_UnparsedOutputIsAnswer(t *testing.T) {
	llm := &script{outputs: []string{"Sure, happy to help!"}}
	res, err := New(llm, Options{}).Run(context.Background(), episode(t, "hi", nil))
	require.NoError(t, err)
	assert.Equal(t, "Sure, happy to help!", res.Output)
	assert.True(t, res.Unparsed)
}

func TestRun_SentinelEndsWithRawText(t *testing.T) {
	text := "No tool fits.\nAction: none_of_the_others\nAction Input: None"
	llm := &script{outputs: []string{text}}
	res, err := New(llm, Options{}).Run(context.Background(), episode(t, "hi", nil))
	require.NoError(t, err)
	assert.Equal(t, text, res.Output)
	assert.Equal(t, 1, llm.calls())
}

func TestRun_ModelTimeoutCountsAgainstCap(t *testing.T) {
	slow := providers.CompleterFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	res, err := New(slow, Options{MaxIterations: 2, ModelTimeout: 20 * time.Millisecond}).
		Run(context.Background(), episode(t, "hi", nil))
	require.NoError(t, err)

	assert.True(t, res.CapExceeded)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, ModelTimeoutObservation, res.Steps[0].Observation)
}

func TestRun_LLMErrorIsFatal(t *testing.T) {
	broken := providers.CompleterFunc(func(context.Context, string) (string, error) {
		return "", errors.New("connection refused")
	})
	_, err := New(broken, Options{}).Run(context.Background(), episode(t, "hi", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.LLM))
}

func TestRun_ToolFailureBecomesObservation(t *testing.T) {
	ext := &extras{tools: []tools.Tool{{
		Name:        "flaky",
		Description: "Always fails.",
		Handler: func(context.Context, string, tools.Env) (string, error) {
			return "", errors.New("disk full")
		},
	}}}
	llm := &script{outputs: []string{"Action: flaky\nAction Input: x", "Final Answer: sorry"}}
	res, err := New(llm, Options{}).Run(context.Background(), episode(t, "hi", ext))
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "flaky failed: disk full", res.Steps[0].Observation)
	assert.Equal(t, "sorry", res.Output)
}

func TestRun_ActionPolicy(t *testing.T) {
	var count atomic.Int32
	ext := func() *extras {
		return &extras{tools: []tools.Tool{{
			Name:        "tick",
			Description: "Counts.",
			Handler: func(context.Context, string, tools.Env) (string, error) {
				count.Add(1)
				return "ok", nil
			},
		}}}
	}
	twoActions := "Action: tick\nAction Input: 1\nAction: tick\nAction Input: 2"

	tests := []struct {
		policy ActionPolicy
		want   int32
	}{
		{PolicyFirst, 1},
		{PolicyAll, 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			count.Store(0)
			llm := &script{outputs: []string{twoActions, "Final Answer: done"}}
			res, err := New(llm, Options{ActionPolicy: tt.policy}).Run(context.Background(), episode(t, "tick", ext()))
			require.NoError(t, err)
			assert.Equal(t, tt.want, count.Load())
			assert.Len(t, res.Steps, int(tt.want))
			assert.Equal(t, 2, llm.calls())
		})
	}
}

func TestRun_SentinelAfterActionEndsWithObservation(t *testing.T) {
	ext := &extras{tools: []tools.Tool{{
		Name:        "lookup",
		Description: "Looks things up.",
		Handler: func(_ context.Context, in string, _ tools.Env) (string, error) {
			return "found " + in, nil
		},
	}}}
	llm := &script{outputs: []string{"Action: lookup\nAction Input: cats\nAction: none_of_the_others\nAction Input: None"}}
	res, err := New(llm, Options{ActionPolicy: PolicyAll}).Run(context.Background(), episode(t, "cats?", ext))
	require.NoError(t, err)

	assert.Equal(t, "found cats", res.Output)
	assert.NotContains(t, res.Output, "Action:")
	require.Len(t, res.Steps, 1)
	assert.Equal(t, 1, llm.calls())
}

func TestRun_BeforeToolCallCancel(t *testing.T) {
	var ran atomic.Bool
	ext := &extras{
		tools: []tools.Tool{{
			Name:        "rm",
			Description: "Deletes things.",
			Handler: func(context.Context, string, tools.Env) (string, error) {
				ran.Store(true)
				return "deleted", nil
			},
		}},
		register: func(r *plugin.Registrar) {
			plugin.Hook(r, hooks.BeforeToolCall, "deny-rm", 0,
				func(_ context.Context, call hooks.ToolCall, _ *memory.WorkingMemory) (hooks.ToolCall, error) {
					if call.Name == "rm" {
						call.Cancel = true
						call.CancelReason = "rm is not allowed."
					}
					return call, nil
				})
		},
	}
	llm := &script{outputs: []string{"Action: rm\nAction Input: /", "Final Answer: I cannot do that."}}
	res, err := New(llm, Options{}).Run(context.Background(), episode(t, "delete everything", ext))
	require.NoError(t, err)

	assert.False(t, ran.Load())
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "rm is not allowed.", res.Steps[0].Observation)
}

func TestRun_ToolTimeout(t *testing.T) {
	ext := &extras{tools: []tools.Tool{{
		Name:        "hang",
		Description: "Never returns.",
		Handler: func(ctx context.Context, _ string, _ tools.Env) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}}}
	llm := &script{outputs: []string{"Action: hang\nAction Input: x", "Final Answer: gave up"}}
	res, err := New(llm, Options{ToolTimeout: 20 * time.Millisecond}).Run(context.Background(), episode(t, "hi", ext))
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "hang timed out.", res.Steps[0].Observation)
}
