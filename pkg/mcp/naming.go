package mcp

import (
	"fmt"
	"strings"
)

const qualifiedNameMaxLen = 64

// QualifiedToolName creates a stable, prompt-safe tool name.
func QualifiedToolName(serverName, toolName string) string {
	prefix := "mcp_" + sanitizeName(serverName) + "__"
	tool := sanitizeName(toolName)
	maxToolLen := qualifiedNameMaxLen - len(prefix)
	if maxToolLen <= 0 {
		return prefix[:qualifiedNameMaxLen]
	}
	if len(tool) > maxToolLen {
		tool = tool[:maxToolLen]
	}
	return prefix + tool
}

// uniqueName appends _2, _3... until name is unused, then claims it.
func uniqueName(name string, used map[string]bool) string {
	candidate := name
	for i := 2; used[candidate]; i++ {
		suffix := fmt.Sprintf("_%d", i)
		base := name
		if len(base)+len(suffix) > qualifiedNameMaxLen {
			base = base[:qualifiedNameMaxLen-len(suffix)]
		}
		candidate = base + suffix
	}
	used[candidate] = true
	return candidate
}

func sanitizeName(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(trimmed))

	lastUnderscore := false
	for i := 0; i < len(trimmed); i++ {
		ch := trimmed[i]
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			b.WriteByte(ch)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	s := strings.Trim(b.String(), "_")
	if s == "" {
		s = "unknown"
	}
	if s[0] >= '0' && s[0] <= '9' {
		return "t_" + s
	}
	return s
}
