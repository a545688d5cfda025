package agent

import (
	"strings"

	"github.com/grinbot/grinbot/pkg/failure"
)

const (
	markerAction      = "Action:"
	markerActionInput = "Action Input:"
	markerObservation = "Observation:"
	markerThought     = "Thought:"
	markerFinalAnswer = "Final Answer:"
)

// Action is one tool selection parsed from model output.
type Action struct {
	Tool  string
	Input string
	// Log is the slice of model output that produced the action: for the
	// first action it includes any preceding thought text. Hallucinated
	// observations are never part of it.
	Log string
}

// Parsed is the outcome of ParseOutput. Exactly one of Final or Actions is
// set when Err is nil.
type Parsed struct {
	Final   string
	IsFinal bool
	Actions []Action
	// Err is a failure.Parse error when neither marker was found.
	Err error
}

type block struct {
	start, end int
	tool       string
	input      []string
}

// ParseOutput reads model output using the line grammar
//
//	Action: <tool>
//	Action Input: <input>
//	...
//	Final Answer: <answer>
//
// The first marker in the text decides: a leading Final Answer ends the
// episode, a leading Action yields every Action block that follows.
func ParseOutput(text string) Parsed {
	lines := strings.Split(text, "\n")

	var (
		blocks  []block
		inInput bool
	)
	for i, raw := range lines {
		line := strings.TrimSpace(raw)

		if idx := strings.Index(line, markerFinalAnswer); idx >= 0 {
			if len(blocks) == 0 {
				rest := append([]string{line[idx+len(markerFinalAnswer):]}, lines[i+1:]...)
				return Parsed{Final: strings.TrimSpace(strings.Join(rest, "\n")), IsFinal: true}
			}
			break
		}

		switch {
		case strings.HasPrefix(line, markerActionInput):
			if len(blocks) == 0 {
				continue
			}
			cur := &blocks[len(blocks)-1]
			cur.input = []string{strings.TrimSpace(line[len(markerActionInput):])}
			cur.end = i + 1
			inInput = true
		case strings.HasPrefix(line, markerAction):
			start := i
			if len(blocks) == 0 {
				start = 0
			}
			blocks = append(blocks, block{
				start: start,
				end:   i + 1,
				tool:  strings.TrimSpace(line[len(markerAction):]),
			})
			inInput = false
		case strings.HasPrefix(line, markerObservation), strings.HasPrefix(line, markerThought):
			inInput = false
		default:
			if inInput {
				cur := &blocks[len(blocks)-1]
				cur.input = append(cur.input, raw)
				cur.end = i + 1
			}
		}
	}

	var actions []Action
	for _, b := range blocks {
		tool := unquote(b.tool)
		if tool == "" {
			continue
		}
		actions = append(actions, Action{
			Tool:  tool,
			Input: normalizeInput(strings.Join(b.input, "\n")),
			Log:   strings.TrimRight(strings.Join(lines[b.start:b.end], "\n"), " \t\r\n"),
		})
	}
	if len(actions) == 0 {
		return Parsed{Err: failure.Errorf(failure.Parse, "parse model output",
			"no %q or %q marker found", markerAction, markerFinalAnswer)}
	}
	return Parsed{Actions: actions}
}

// normalizeInput trims, unquotes and maps the "None" convention to "".
func normalizeInput(s string) string {
	s = unquote(strings.TrimSpace(s))
	if strings.EqualFold(s, "none") {
		return ""
	}
	return s
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{"```", "`", `"`, "'"} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return s
}
