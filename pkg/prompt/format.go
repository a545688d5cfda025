package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/grinbot/grinbot/pkg/memory"
)

const memorySeparator = "\n  - "

// FormatEpisodic renders past human turns with how long ago they were said.
// No snippets render as "".
func FormatEpisodic(snippets []memory.Snippet, now time.Time) string {
	if len(snippets) == 0 {
		return ""
	}
	lines := make([]string, 0, len(snippets))
	for _, s := range snippets {
		line := flatten(s.Content)
		if !s.Metadata.When.IsZero() {
			line += " (" + VerbalAge(now.Sub(s.Metadata.When)) + ")"
		}
		lines = append(lines, line)
	}
	return "## Context of things the Human said in the past: " + memorySeparator + strings.Join(lines, memorySeparator)
}

// FormatDeclarative renders document excerpts with their source.
// No snippets render as "".
func FormatDeclarative(snippets []memory.Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	lines := make([]string, 0, len(snippets))
	for _, s := range snippets {
		line := flatten(s.Content)
		if s.Metadata.Source != "" {
			line += " (extracted from " + s.Metadata.Source + ")"
		}
		lines = append(lines, line)
	}
	return "## Context of documents containing relevant information: " + memorySeparator + strings.Join(lines, memorySeparator)
}

// FormatHistory renders one "\n - who: message" line per turn.
func FormatHistory(turns []memory.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "\n - %s: %s", t.Who, t.Message)
	}
	return b.String()
}

// VerbalAge describes d as "3 days ago", "2 hours ago" or, for negative
// durations, "5 minutes from now".
func VerbalAge(d time.Duration) string {
	future := d < 0
	if future {
		d = -d
	}

	var amount string
	switch days := int(d.Hours() / 24); {
	case days > 7:
		amount = plural(days/7, "week")
	case days > 0:
		amount = plural(days, "day")
	case d >= time.Hour:
		amount = plural(int(d.Hours()), "hour")
	default:
		amount = plural(int(d.Minutes()), "minute")
	}

	if future {
		return amount + " from now"
	}
	return amount + " ago"
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func flatten(s string) string {
	return strings.ReplaceAll(s, "\n", ". ")
}
