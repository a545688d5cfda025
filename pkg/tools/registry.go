package tools

import (
	"maps"
	"sort"
	"strings"

	"github.com/grinbot/grinbot/pkg/failure"
)

// Builder collects tools for a new Table.
type Builder struct {
	tools map[string]Tool
}

func NewBuilder() *Builder {
	return &Builder{tools: make(map[string]Tool)}
}

// Add registers a tool. Empty names, nil handlers, the sentinel name and
// duplicates are configuration errors.
func (b *Builder) Add(t Tool) error {
	name := strings.TrimSpace(t.Name)
	switch {
	case name == "":
		return failure.Errorf(failure.Configuration, "register tool", "tool name is required")
	case name == Sentinel:
		return failure.Errorf(failure.Configuration, "register tool", "tool name %q is reserved", Sentinel)
	case t.Handler == nil:
		return failure.Errorf(failure.Configuration, "register tool", "tool %q has no handler", name)
	}
	if prev, exists := b.tools[name]; exists {
		return failure.Errorf(failure.Configuration, "register tool",
			"tool %q from plugin %q already registered by plugin %q", name, t.Plugin, prev.Plugin)
	}
	t.Name = name
	b.tools[name] = t
	return nil
}

// Has reports whether name is already taken.
func (b *Builder) Has(name string) bool {
	_, ok := b.tools[name]
	return ok || name == Sentinel
}

// Build freezes the current tools into a Table.
func (b *Builder) Build() *Table {
	return newTable(maps.Clone(b.tools))
}

// Table is an immutable tool set. The sentinel is always present.
type Table struct {
	tools map[string]Tool
	names []string // sorted, sentinel excluded
}

func newTable(m map[string]Tool) *Table {
	if m == nil {
		m = make(map[string]Tool)
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Table{tools: m, names: names}
}

// Empty holds only the sentinel.
var Empty = newTable(nil)

// Lookup returns the named tool, including the sentinel.
func (t *Table) Lookup(name string) (Tool, bool) {
	if name == Sentinel {
		return sentinelTool, true
	}
	if t == nil {
		return Tool{}, false
	}
	tool, ok := t.tools[name]
	return tool, ok
}

// Names returns tool names sorted, with the sentinel last.
func (t *Table) Names() []string {
	if t == nil {
		return []string{Sentinel}
	}
	out := make([]string, 0, len(t.names)+1)
	out = append(out, t.names...)
	return append(out, Sentinel)
}

// Len counts registered tools, sentinel excluded.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.names)
}

// Catalog returns (name, description) pairs sorted by name with the sentinel
// last.
func (t *Table) Catalog() []Entry {
	names := t.Names()
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		tool, _ := t.Lookup(name)
		out = append(out, Entry{Name: tool.Name, Description: tool.Description})
	}
	return out
}

// All returns every registered tool in name order, sentinel excluded.
func (t *Table) All() []Tool {
	if t == nil {
		return nil
	}
	out := make([]Tool, 0, len(t.names))
	for _, name := range t.names {
		out = append(out, t.tools[name])
	}
	return out
}

// Filter returns a table with only the named tools. Unknown names are ignored.
func (t *Table) Filter(names []string) *Table {
	if t == nil {
		return Empty
	}
	m := make(map[string]Tool, len(names))
	for _, name := range names {
		if tool, ok := t.tools[name]; ok {
			m[name] = tool
		}
	}
	return newTable(m)
}
