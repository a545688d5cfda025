// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/grinbot/grinbot/pkg/failure"
	"github.com/grinbot/grinbot/pkg/hooks"
	"github.com/grinbot/grinbot/pkg/logger"
	"github.com/grinbot/grinbot/pkg/tools"
)

// APIVersion identifies the compile-time plugin contract version.
const APIVersion = "v1alpha1"

// Plugin is the compile-time contract for extensions.
type Plugin interface {
	Name() string
	APIVersion() string
	Register(*Registrar) error
}

// Required is implemented by plugins that cannot be disabled.
type Required interface {
	Required() bool
}

// Snapshot is one published generation of the hook and tool tables. It is
// immutable; an episode keeps the snapshot it started with.
type Snapshot struct {
	Hooks   *hooks.Table
	Tools   *tools.Table
	Plugins []string // active plugins in load order
	Version uint64
}

var emptySnapshot = &Snapshot{Hooks: hooks.Empty, Tools: tools.Empty}

// Status describes one loaded plugin.
type Status struct {
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	Active  bool     `json:"active"`
	Hooks   []string `json:"hooks"`
	Tools   []string `json:"tools"`
	Error   string   `json:"error,omitempty"`
}

type loaded struct {
	plugin  Plugin
	reg     *Registrar
	enabled bool
	// rejected is set when the last rebuild excluded the plugin.
	rejected error
	// withheld is set when a required plugin stayed active without its
	// colliding tools.
	withheld error
}

// Manager owns loaded plugins and publishes their combined tables.
type Manager struct {
	mu        sync.Mutex // serializes loads and rebuilds
	plugins   []*loaded
	byName    map[string]*loaded
	version   uint64
	current   atomic.Pointer[Snapshot]
	listeners []func(context.Context, *Snapshot)
}

// NewManager creates a manager publishing an empty snapshot.
func NewManager() *Manager {
	m := &Manager{byName: make(map[string]*loaded)}
	m.current.Store(emptySnapshot)
	return m
}

// Snapshot returns the current tables. Safe for concurrent use.
func (m *Manager) Snapshot() *Snapshot {
	return m.current.Load()
}

// OnChange registers fn to run after every publish, in registration order.
// fn runs with the manager locked and must not call back into it.
func (m *Manager) OnChange(fn func(context.Context, *Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Names returns loaded plugin names in registration order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.plugins))
	for _, l := range m.plugins {
		names = append(names, l.plugin.Name())
	}
	return names
}

// Load validates and registers plugins, then publishes a snapshot. Invalid
// plugins are skipped; plugins whose tools collide are all kept out of the
// snapshot, and a required plugin loses only the colliding tools. The
// returned error joins every rejection; the rest stay active.
func (m *Manager) Load(ctx context.Context, plugins ...Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, p := range plugins {
		l, err := m.registerLocked(p)
		if err != nil {
			logger.ErrorCF("plugin", "Plugin rejected", map[string]any{"error": err.Error()})
			errs = append(errs, err)
			continue
		}
		m.plugins = append(m.plugins, l)
		m.byName[l.plugin.Name()] = l
	}

	m.rebuildLocked(ctx)
	for _, p := range plugins {
		if p == nil {
			continue
		}
		if l, ok := m.byName[strings.TrimSpace(p.Name())]; ok {
			if err := l.conflict(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) registerLocked(p Plugin) (*loaded, error) {
	if p == nil {
		return nil, failure.Errorf(failure.Configuration, "load plugin", "plugin is nil")
	}
	name := strings.TrimSpace(p.Name())
	if name == "" {
		return nil, failure.Errorf(failure.Configuration, "load plugin", "plugin name is required")
	}
	if got := strings.TrimSpace(p.APIVersion()); got != APIVersion {
		if got == "" {
			got = "<empty>"
		}
		return nil, failure.Errorf(failure.Configuration, "load plugin",
			"plugin %q api version mismatch: got %s, want %s", name, got, APIVersion)
	}
	if _, exists := m.byName[name]; exists {
		return nil, failure.Errorf(failure.Configuration, "load plugin", "plugin %q already registered", name)
	}

	reg := newRegistrar(name)
	if err := p.Register(reg); err != nil {
		return nil, failure.New(failure.Configuration, fmt.Sprintf("register plugin %q", name), err)
	}
	// Validate tools in isolation so a bad tool rejects only its own plugin.
	b := tools.NewBuilder()
	for _, t := range reg.tools {
		if err := b.Add(t); err != nil {
			return nil, fmt.Errorf("plugin %q: %w", name, err)
		}
	}
	return &loaded{plugin: p, reg: reg, enabled: true}, nil
}

// SetEnabled toggles a plugin and republishes. Enabling a plugin whose tools
// collide with an active plugin fails and leaves it disabled.
func (m *Manager) SetEnabled(ctx context.Context, name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("plugin %q not loaded", name)
	}
	if l.enabled == enabled {
		return nil
	}
	if !enabled {
		if isRequired(l.plugin) {
			return fmt.Errorf("plugin %q cannot be disabled", name)
		}
	} else if err := m.collisionLocked(l); err != nil {
		return err
	}

	l.enabled = enabled
	m.rebuildLocked(ctx)
	logger.InfoCF("plugin", "Plugin toggled", map[string]any{"plugin": name, "enabled": enabled})
	return nil
}

func (m *Manager) Enable(ctx context.Context, name string) error {
	return m.SetEnabled(ctx, name, true)
}

func (m *Manager) Disable(ctx context.Context, name string) error {
	return m.SetEnabled(ctx, name, false)
}

// ApplyDisabled enables every loaded plugin except the named ones. Used when
// the configuration file changes.
func (m *Manager) ApplyDisabled(ctx context.Context, disabled []string) error {
	var errs []error
	for _, name := range m.Names() {
		want := !slices.Contains(disabled, name)
		if err := m.SetEnabled(ctx, name, want); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// collisionLocked reports whether l's tools clash with any active plugin.
func (m *Manager) collisionLocked(l *loaded) error {
	active := make(map[string]string)
	for _, other := range m.plugins {
		if other == l || !other.enabled || other.rejected != nil {
			continue
		}
		for _, t := range other.reg.tools {
			active[t.Name] = other.plugin.Name()
		}
	}
	for _, t := range l.reg.tools {
		if owner, ok := active[t.Name]; ok {
			return failure.Errorf(failure.Configuration, "enable plugin",
				"plugin %q: tool %q already provided by plugin %q", l.plugin.Name(), t.Name, owner)
		}
	}
	return nil
}

// rebuildLocked builds fresh tables from the enabled plugins in load order and
// publishes them. Every plugin claiming a tool name that another enabled
// plugin also claims is left out, except required plugins, which keep their
// hooks and lose only the colliding tools.
func (m *Manager) rebuildLocked(ctx context.Context) {
	owners := make(map[string][]string)
	for _, l := range m.plugins {
		if !l.enabled {
			continue
		}
		for _, t := range l.reg.tools {
			owners[t.Name] = append(owners[t.Name], l.plugin.Name())
		}
	}

	hb := hooks.NewBuilder()
	tb := tools.NewBuilder()
	var active []string
	for _, l := range m.plugins {
		l.rejected, l.withheld = nil, nil
		if !l.enabled {
			continue
		}
		if clash := collidingTool(l, owners); clash != "" {
			err := failure.Errorf(failure.Configuration, "load plugin",
				"plugin %q: tool %q is also provided by %s", l.plugin.Name(), clash, strings.Join(owners[clash], ", "))
			logger.ErrorCF("plugin", "Tool name collision",
				map[string]any{"plugin": l.plugin.Name(), "tool": clash, "owners": owners[clash]})
			if !isRequired(l.plugin) {
				l.rejected = err
				continue
			}
			l.withheld = err
		}
		for _, h := range l.reg.hooks {
			h.apply(hb)
		}
		for _, t := range l.reg.tools {
			if len(owners[t.Name]) > 1 {
				continue
			}
			_ = tb.Add(t) // validated at load
		}
		active = append(active, l.plugin.Name())
	}

	prev := m.current.Load()
	if err := hooks.Fire(ctx, prev.Hooks, hooks.BeforeBootstrap, struct{}{}, nil); err != nil {
		logger.WarnCF("plugin", "before_bootstrap failed", map[string]any{"error": err.Error()})
	}

	m.version++
	next := &Snapshot{
		Hooks:   hb.Build(),
		Tools:   tb.Build(),
		Plugins: active,
		Version: m.version,
	}
	m.current.Store(next)

	logger.InfoCF("plugin", "Plugin snapshot published",
		map[string]any{
			"version": next.Version,
			"plugins": active,
			"tools":   next.Tools.Len(),
		})

	if err := hooks.Fire(ctx, next.Hooks, hooks.AfterBootstrap, struct{}{}, nil); err != nil {
		logger.WarnCF("plugin", "after_bootstrap failed", map[string]any{"error": err.Error()})
	}
	for _, fn := range m.listeners {
		fn(ctx, next)
	}
}

func isRequired(p Plugin) bool {
	r, ok := p.(Required)
	return ok && r.Required()
}

func (l *loaded) conflict() error {
	if l.rejected != nil {
		return l.rejected
	}
	return l.withheld
}

func collidingTool(l *loaded, owners map[string][]string) string {
	for _, t := range l.reg.tools {
		if len(owners[t.Name]) > 1 {
			return t.Name
		}
	}
	return ""
}

// Status reports every loaded plugin in load order.
func (m *Manager) Status() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := m.current.Load().Plugins
	out := make([]Status, 0, len(m.plugins))
	for _, l := range m.plugins {
		s := Status{
			Name:    l.plugin.Name(),
			Enabled: l.enabled,
			Active:  slices.Contains(active, l.plugin.Name()),
			Hooks:   l.reg.HookPoints(),
			Tools:   l.reg.ToolNames(),
		}
		if err := l.conflict(); err != nil {
			s.Error = err.Error()
		}
		out = append(out, s)
	}
	return out
}
