// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

// Package tools holds the tool record, the copy-on-write tool table and
// the bounded executor used by the agent loop.
package tools

import (
	"context"

	"github.com/grinbot/grinbot/pkg/memory"
)

// Arity is the shape of a tool's input.
type Arity int

const (
	// TextInput tools take one free-text argument.
	TextInput Arity = iota
	// NoInput tools are called with an empty string.
	NoInput
)

func (a Arity) String() string {
	if a == NoInput {
		return "none"
	}
	return "text"
}

// Notifier queues an out-of-band message for connected clients.
type Notifier interface {
	Push(payload any)
}

// Env is what a tool handler can reach besides its input.
type Env struct {
	Memory *memory.WorkingMemory
	Notify Notifier
}

// Handler runs a tool. The returned string becomes the observation.
type Handler func(ctx context.Context, input string, env Env) (string, error)

// Tool is a named capability the model may choose. Description is shown to
// the model verbatim.
type Tool struct {
	Name         string
	Description  string
	Input        Arity
	ReturnDirect bool
	Handler      Handler
	// Plugin is the owning plugin, set by the plugin manager.
	Plugin string
}

// Entry is one line of the prompt catalog.
type Entry struct {
	Name        string
	Description string
}

// Sentinel is the always-present fallback tool.
const Sentinel = "none_of_the_others"

// SentinelDescription is the sentinel's model-facing description.
const SentinelDescription = "none_of_the_others(None) - Use this tool if none of the others tools help. Input is always None."

var sentinelTool = Tool{
	Name:        Sentinel,
	Description: SentinelDescription,
	Input:       NoInput,
	Handler: func(context.Context, string, Env) (string, error) {
		return "", nil
	},
}
