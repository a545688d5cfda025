// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

package plugin

import (
	"github.com/grinbot/grinbot/pkg/hooks"
	"github.com/grinbot/grinbot/pkg/tools"
)

// Registrar records one plugin's hook and tool registrations in order.
// Nothing is visible to the engine until the Manager publishes a snapshot.
type Registrar struct {
	plugin string
	hooks  []hookRecord
	tools  []tools.Tool
}

type hookRecord struct {
	point    string
	name     string
	priority int
	apply    func(*hooks.Builder)
}

func newRegistrar(plugin string) *Registrar {
	return &Registrar{plugin: plugin}
}

// Plugin is the name of the plugin being registered.
func (r *Registrar) Plugin() string { return r.plugin }

// Hook registers handler on point p. Lower priority runs first; the core
// defaults run at 0.
func Hook[T any](r *Registrar, p hooks.Point[T], name string, priority int, handler hooks.Handler[T]) {
	reg := hooks.Registration[T]{
		Handler:  handler,
		Priority: priority,
		Name:     name,
		Plugin:   r.plugin,
	}
	r.hooks = append(r.hooks, hookRecord{
		point:    p.Name(),
		name:     name,
		priority: priority,
		apply:    func(b *hooks.Builder) { hooks.Register(b, p, reg) },
	})
}

// Tool registers a tool owned by this plugin.
func (r *Registrar) Tool(t tools.Tool) {
	t.Plugin = r.plugin
	r.tools = append(r.tools, t)
}

// HookPoints lists the points this plugin hooks, in registration order.
func (r *Registrar) HookPoints() []string {
	out := make([]string, 0, len(r.hooks))
	for _, h := range r.hooks {
		out = append(out, h.point)
	}
	return out
}

// ToolNames lists this plugin's tools in registration order.
func (r *Registrar) ToolNames() []string {
	out := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Name)
	}
	return out
}
