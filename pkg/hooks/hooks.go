// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

package hooks

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"slices"
	"sort"

	"github.com/grinbot/grinbot/pkg/failure"
	"github.com/grinbot/grinbot/pkg/logger"
	"github.com/grinbot/grinbot/pkg/memory"
)

// Handler is the callback signature for every extension point: it receives the
// previous handler's output and returns its own.
type Handler[T any] func(ctx context.Context, payload T, wm *memory.WorkingMemory) (T, error)

// Registration tracks a handler with its priority and owner.
type Registration[T any] struct {
	Handler  Handler[T]
	Priority int // Lower = runs first
	Name     string
	Plugin   string
}

// entry is a type-erased registration stored in a Table.
type entry struct {
	name     string
	plugin   string
	priority int
	payload  reflect.Type
	reg      any
}

// Error is returned when a handler fails or panics. It carries the Kind of
// the underlying failure when the handler returned a failure.Error, and
// failure.Configuration for payload type mismatches.
type Error struct {
	Point   string
	Handler string
	Plugin  string
	Panic   bool
	Err     error
}

func (e *Error) Error() string {
	what := "failed"
	if e.Panic {
		what = "panicked"
	}
	return fmt.Sprintf("hook %s: handler %q (plugin %q) %s: %v", e.Point, e.Handler, e.Plugin, what, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Builder accumulates registrations for a new Table. It is not safe for
// concurrent use; Tables built from it are immutable.
type Builder struct {
	points map[string][]entry
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{points: make(map[string][]entry)}
}

// insertSorted inserts e into a new slice sorted by priority. Equal priorities
// keep insertion order. Always allocates a new backing array so readers of the
// old slice are safe.
func insertSorted(slice []entry, e entry) []entry {
	i := 0
	for i < len(slice) && slice[i].priority <= e.priority {
		i++
	}
	result := make([]entry, len(slice)+1)
	copy(result, slice[:i])
	result[i] = e
	copy(result[i+1:], slice[i:])
	return result
}

// Register adds a handler for p. A nil handler is ignored.
func Register[T any](b *Builder, p Point[T], reg Registration[T]) {
	if reg.Handler == nil {
		return
	}
	b.points[p.name] = insertSorted(b.points[p.name], entry{
		name:     reg.Name,
		plugin:   reg.Plugin,
		priority: reg.Priority,
		payload:  reflect.TypeFor[T](),
		reg:      reg,
	})
}

// Build freezes the builder's registrations into a Table. The builder may
// keep being used; later registrations do not affect the returned Table.
func (b *Builder) Build() *Table {
	points := make(map[string][]entry, len(b.points))
	for name, entries := range b.points {
		points[name] = slices.Clone(entries)
	}
	return &Table{points: points}
}

// Table is an immutable snapshot of every registered handler, ordered per point.
type Table struct {
	points map[string][]entry
}

// Empty is a Table with no handlers: every Invoke returns its input.
var Empty = &Table{}

// Points returns the names of points with at least one handler, sorted.
func (t *Table) Points() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.points))
	for name := range t.points {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe lists "plugin/handler@priority" for a point in execution order.
func (t *Table) Describe(point string) []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.points[point]))
	for _, e := range t.points[point] {
		out = append(out, fmt.Sprintf("%s/%s@%d", e.plugin, e.name, e.priority))
	}
	return out
}

// Resolve returns the ordered chain for p. A registration stored under p's
// name with a different payload type is a configuration error.
func Resolve[T any](t *Table, p Point[T]) ([]Registration[T], error) {
	if t == nil {
		return nil, nil
	}
	entries := t.points[p.name]
	chain := make([]Registration[T], 0, len(entries))
	for _, e := range entries {
		reg, ok := e.reg.(Registration[T])
		if !ok {
			return nil, &Error{
				Point:   p.name,
				Handler: e.name,
				Plugin:  e.plugin,
				Err: failure.Errorf(failure.Configuration, "hook "+p.name,
					"handler payload is %s, point expects %s", e.payload, reflect.TypeFor[T]()),
			}
		}
		chain = append(chain, reg)
	}
	return chain, nil
}

// Invoke folds the chain for p over initial, left to right. A point with no
// handlers returns initial unchanged. The first error or panic aborts the fold.
func Invoke[T any](ctx context.Context, t *Table, p Point[T], initial T, wm *memory.WorkingMemory) (T, error) {
	chain, err := Resolve(t, p)
	if err != nil {
		return initial, err
	}
	payload := initial
	for _, reg := range chain {
		next, err := call(ctx, p.name, reg, payload, wm)
		if err != nil {
			return payload, err
		}
		payload = next
	}
	return payload, nil
}

// Fire runs every handler for a notification point with the same payload and
// discards their outputs. Handler failures are logged and joined; they do
// not stop later handlers.
func Fire[T any](ctx context.Context, t *Table, p Point[T], payload T, wm *memory.WorkingMemory) error {
	chain, err := Resolve(t, p)
	if err != nil {
		return err
	}
	var errs []error
	for _, reg := range chain {
		if _, err := call(ctx, p.name, reg, payload, wm); err != nil {
			logger.WarnCF("hooks", "Hook error",
				map[string]any{
					"hook":    p.name,
					"handler": reg.Name,
					"plugin":  reg.Plugin,
					"error":   err.Error(),
				})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func call[T any](ctx context.Context, point string, reg Registration[T], payload T, wm *memory.WorkingMemory) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("hooks", "Hook panic",
				map[string]any{
					"hook":    point,
					"handler": reg.Name,
					"plugin":  reg.Plugin,
					"panic":   fmt.Sprintf("%v", r),
					"stack":   string(debug.Stack()),
				})
			out = payload
			err = &Error{Point: point, Handler: reg.Name, Plugin: reg.Plugin, Panic: true, Err: fmt.Errorf("%v", r)}
		}
	}()
	out, err = reg.Handler(ctx, payload, wm)
	if err != nil {
		return payload, &Error{Point: point, Handler: reg.Name, Plugin: reg.Plugin, Err: err}
	}
	return out, nil
}
