// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grinbot/grinbot/pkg/failure"
	"github.com/grinbot/grinbot/pkg/memory"
)

func appendHandler(suffix string) Handler[string] {
	return func(_ context.Context, s string, _ *memory.WorkingMemory) (string, error) {
		return s + suffix, nil
	}
}

func TestInvoke_NoHandlersIsIdentity(t *testing.T) {
	ctx := context.Background()
	got, err := Invoke(ctx, NewBuilder().Build(), RecallQuery, "what time is it", nil)
	require.NoError(t, err)
	assert.Equal(t, "what time is it", got)

	got, err = Invoke(ctx, Empty, PromptPrefix, "prefix", nil)
	require.NoError(t, err)
	assert.Equal(t, "prefix", got)

	var nilTable *Table
	got, err = Invoke(ctx, nilTable, PromptSuffix, "suffix", nil)
	require.NoError(t, err)
	assert.Equal(t, "suffix", got)
}

func TestInvoke_FoldsLeftToRight(t *testing.T) {
	b := NewBuilder()
	Register(b, PromptPrefix, Registration[string]{Name: "a", Handler: appendHandler("A")})
	Register(b, PromptPrefix, Registration[string]{Name: "b", Handler: appendHandler("B")})

	got, err := Invoke(context.Background(), b.Build(), PromptPrefix, ">", nil)
	require.NoError(t, err)
	assert.Equal(t, ">AB", got)
}

func TestInvoke_PriorityOrderIndependentOfRegistrationOrder(t *testing.T) {
	orders := [][]int{{5, -3, 0}, {0, 5, -3}, {-3, 0, 5}}
	for _, order := range orders {
		b := NewBuilder()
		for _, p := range order {
			suffix := map[int]string{-3: "early", 0: "default", 5: "late"}[p]
			Register(b, PromptPrefix, Registration[string]{
				Name: suffix, Priority: p, Handler: appendHandler("|" + suffix),
			})
		}
		got, err := Invoke(context.Background(), b.Build(), PromptPrefix, "", nil)
		require.NoError(t, err)
		assert.Equal(t, "|early|default|late", got, "registration order %v", order)
	}
}

func TestInvoke_EqualPriorityKeepsRegistrationOrder(t *testing.T) {
	b := NewBuilder()
	Register(b, PromptPrefix, Registration[string]{Name: "core", Plugin: "core", Handler: appendHandler("core")})
	Register(b, PromptPrefix, Registration[string]{Name: "first", Plugin: "p1", Handler: appendHandler("+p1")})
	Register(b, PromptPrefix, Registration[string]{Name: "second", Plugin: "p2", Handler: appendHandler("+p2")})

	table := b.Build()
	got, err := Invoke(context.Background(), table, PromptPrefix, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "core+p1+p2", got)
	assert.Equal(t, []string{"core/core@0", "p1/first@0", "p2/second@0"}, table.Describe("prompt_prefix"))
}

func TestInvoke_ErrorAbortsFold(t *testing.T) {
	boom := errors.New("boom")
	var reached bool

	b := NewBuilder()
	Register(b, RecallQuery, Registration[string]{Name: "ok", Plugin: "p", Handler: appendHandler("!")})
	Register(b, RecallQuery, Registration[string]{Name: "bad", Plugin: "p", Priority: 1,
		Handler: func(context.Context, string, *memory.WorkingMemory) (string, error) { return "", boom },
	})
	Register(b, RecallQuery, Registration[string]{Name: "after", Plugin: "p", Priority: 2,
		Handler: func(_ context.Context, s string, _ *memory.WorkingMemory) (string, error) {
			reached = true
			return s, nil
		},
	})

	_, err := Invoke(context.Background(), b.Build(), RecallQuery, "q", nil)
	require.Error(t, err)
	assert.False(t, reached)
	assert.True(t, errors.Is(err, boom))

	var hookErr *Error
	require.True(t, errors.As(err, &hookErr))
	assert.Equal(t, "recall_query", hookErr.Point)
	assert.Equal(t, "bad", hookErr.Handler)
	assert.False(t, hookErr.Panic)
}

func TestInvoke_PanicRecovered(t *testing.T) {
	b := NewBuilder()
	Register(b, PromptSuffix, Registration[string]{Name: "panicky", Plugin: "p",
		Handler: func(context.Context, string, *memory.WorkingMemory) (string, error) { panic("nil map") },
	})

	got, err := Invoke(context.Background(), b.Build(), PromptSuffix, "in", nil)
	require.Error(t, err)
	assert.Equal(t, "in", got)

	var hookErr *Error
	require.True(t, errors.As(err, &hookErr))
	assert.True(t, hookErr.Panic)
}

func TestResolve_TypeMismatchIsConfigurationError(t *testing.T) {
	b := NewBuilder()
	shadow := NewPoint[int]("recall_query")
	Register(b, shadow, Registration[int]{Name: "int-handler", Plugin: "odd",
		Handler: func(_ context.Context, n int, _ *memory.WorkingMemory) (int, error) { return n + 1, nil },
	})

	_, err := Invoke(context.Background(), b.Build(), RecallQuery, "q", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.Configuration))
}

func TestBuild_SnapshotIsImmutable(t *testing.T) {
	b := NewBuilder()
	Register(b, PromptPrefix, Registration[string]{Name: "a", Handler: appendHandler("A")})
	first := b.Build()
	Register(b, PromptPrefix, Registration[string]{Name: "b", Priority: -1, Handler: appendHandler("B")})
	second := b.Build()

	got, err := Invoke(context.Background(), first, PromptPrefix, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "A", got)

	got, err = Invoke(context.Background(), second, PromptPrefix, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "BA", got)
	assert.Equal(t, []string{"prompt_prefix"}, second.Points())
}

func TestFire_RunsAllWithSamePayloadAndJoinsErrors(t *testing.T) {
	var seen []string
	b := NewBuilder()
	Register(b, AfterRecallsMemories, Registration[string]{Name: "one",
		Handler: func(_ context.Context, q string, _ *memory.WorkingMemory) (string, error) {
			seen = append(seen, "one:"+q)
			return "changed", errors.New("one failed")
		},
	})
	Register(b, AfterRecallsMemories, Registration[string]{Name: "two",
		Handler: func(_ context.Context, q string, _ *memory.WorkingMemory) (string, error) {
			seen = append(seen, "two:"+q)
			return q, nil
		},
	})

	err := Fire(context.Background(), b.Build(), AfterRecallsMemories, "q", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one failed")
	assert.Equal(t, []string{"one:q", "two:q"}, seen)
}

func TestHandlersSeeWorkingMemory(t *testing.T) {
	wm := memory.NewWorkingMemory(memory.UserMessage{Text: "hi"}, nil)
	b := NewBuilder()
	Register(b, BeforeReadsMessage, Registration[memory.UserMessage]{Name: "upper",
		Handler: func(_ context.Context, m memory.UserMessage, wm *memory.WorkingMemory) (memory.UserMessage, error) {
			wm.Set("seen", m.Text)
			return m.With("text", "HI")
		},
	})

	got, err := Invoke(context.Background(), b.Build(), BeforeReadsMessage, wm.UserMessage, wm)
	require.NoError(t, err)
	assert.Equal(t, "HI", got.Text)
	v, _ := wm.Get("seen")
	assert.Equal(t, "hi", v)
}

func TestRecallPoint(t *testing.T) {
	assert.Equal(t, "before_recalls_episodic", RecallPoint(memory.Episodic).Name())
	assert.Equal(t, "before_recalls_declarative", RecallPoint(memory.Declarative).Name())
	assert.Equal(t, "before_recalls_procedural", RecallPoint(memory.Procedural).Name())
}

func TestMessageJSON(t *testing.T) {
	msg := ChatMessage("It is 14:32.", "bot")
	msg.Content.Extra = map[string]any{"audio_url": "/tts/1.mp3"}

	out, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":false,"type":"chat","content":{"text":"It is 14:32.","sender":"bot","audio_url":"/tts/1.mp3"}}`, string(out))

	out, err = json.Marshal(ErrorMessage("LLMError", "provider unavailable"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":true,"type":"error","content":{"name":"LLMError","description":"provider unavailable"}}`, string(out))
}
