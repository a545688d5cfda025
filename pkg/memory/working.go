package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrNoText is returned when an inbound payload has no string "text" key.
var ErrNoText = errors.New(`message has no "text" field`)

// UserMessage is an inbound client payload. Text is extracted, every other
// key is preserved verbatim in Raw so hooks can read per-request extras.
type UserMessage struct {
	Text string
	Raw  []byte
}

// ParseUserMessage decodes an inbound JSON object.
func ParseUserMessage(data []byte) (UserMessage, error) {
	if !gjson.ValidBytes(data) {
		return UserMessage{}, fmt.Errorf("invalid JSON message")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return UserMessage{}, fmt.Errorf("message must be a JSON object")
	}
	text := root.Get("text")
	if text.Type != gjson.String {
		return UserMessage{}, ErrNoText
	}
	raw := make([]byte, len(data))
	copy(raw, data)
	return UserMessage{Text: text.String(), Raw: raw}, nil
}

// Get reads a gjson path from the original payload.
func (m UserMessage) Get(path string) gjson.Result {
	return gjson.GetBytes(m.Raw, path)
}

// With returns a copy with path set to value. Setting "text" also updates Text.
func (m UserMessage) With(path string, value any) (UserMessage, error) {
	raw := m.Raw
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	out, err := sjson.SetBytes(raw, path, value)
	if err != nil {
		return m, fmt.Errorf("set %q: %w", path, err)
	}
	next := UserMessage{Text: m.Text, Raw: out}
	if path == "text" {
		next.Text = gjson.GetBytes(out, "text").String()
	}
	return next, nil
}

// MarshalJSON emits the payload with the current Text.
func (m UserMessage) MarshalJSON() ([]byte, error) {
	raw := m.Raw
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	out, err := sjson.SetBytes(raw, "text", m.Text)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

// WorkingMemory is the mutable state of one message's pipeline run.
type WorkingMemory struct {
	UserMessage UserMessage
	RecallQuery string

	Episodic    []Snippet
	Declarative []Snippet
	Procedural  []Snippet

	History    []Turn
	Scratchpad []Step

	mu     sync.Mutex
	values map[string]any
}

// NewWorkingMemory starts a run for msg with a copy of the chat history.
func NewWorkingMemory(msg UserMessage, history []Turn) *WorkingMemory {
	return &WorkingMemory{
		UserMessage: msg,
		History:     history,
	}
}

// Recalled returns the snippets stored for class.
func (w *WorkingMemory) Recalled(class Class) []Snippet {
	switch class {
	case Episodic:
		return w.Episodic
	case Declarative:
		return w.Declarative
	case Procedural:
		return w.Procedural
	}
	return nil
}

// SetRecalled stores the snippets for class.
func (w *WorkingMemory) SetRecalled(class Class, s []Snippet) {
	switch class {
	case Episodic:
		w.Episodic = s
	case Declarative:
		w.Declarative = s
	case Procedural:
		w.Procedural = s
	}
}

// Set stores a value plugins share across hooks during one run.
func (w *WorkingMemory) Set(key string, v any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.values == nil {
		w.values = make(map[string]any)
	}
	w.values[key] = v
}

// Get reads a value stored with Set.
func (w *WorkingMemory) Get(key string) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.values[key]
	return v, ok
}
