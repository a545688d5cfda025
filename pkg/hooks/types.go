// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

package hooks

import (
	"encoding/json"
	"time"

	"github.com/tidwall/sjson"

	"github.com/grinbot/grinbot/pkg/memory"
)

// Point is a typed extension point. The payload type is part of the
// contract plugins code against.
type Point[T any] struct {
	name string
}

// NewPoint declares an extension point. Plugins may declare their own points;
// the engine only invokes the ones below.
func NewPoint[T any](name string) Point[T] {
	return Point[T]{name: name}
}

func (p Point[T]) Name() string { return p.name }

// Extension points invoked by the engine, in pipeline order.
var (
	// BeforeBootstrap and AfterBootstrap fire around every plugin snapshot publish.
	BeforeBootstrap = NewPoint[struct{}]("before_bootstrap")
	AfterBootstrap  = NewPoint[struct{}]("after_bootstrap")

	// BeforeReadsMessage transforms the inbound message. Default: identity.
	BeforeReadsMessage = NewPoint[memory.UserMessage]("before_reads_message")
	// BeforeRecallsMemories is a notification carrying the recall query.
	BeforeRecallsMemories = NewPoint[string]("before_recalls_memories")
	// RecallQuery transforms the text embedded for recall. Default: identity.
	RecallQuery = NewPoint[string]("recall_query")

	// BeforeRecallsEpisodic, BeforeRecallsDeclarative and BeforeRecallsProcedural
	// configure recall for each class. Default: k=3, threshold=0.7.
	BeforeRecallsEpisodic    = NewPoint[memory.RecallConfig]("before_recalls_episodic")
	BeforeRecallsDeclarative = NewPoint[memory.RecallConfig]("before_recalls_declarative")
	BeforeRecallsProcedural  = NewPoint[memory.RecallConfig]("before_recalls_procedural")
	// AfterRecallsMemories is a notification carrying the recall query.
	AfterRecallsMemories = NewPoint[string]("after_recalls_memories")

	PromptPrefix       = NewPoint[string]("prompt_prefix")
	PromptInstructions = NewPoint[string]("prompt_instructions")
	PromptSuffix       = NewPoint[string]("prompt_suffix")

	// PromptEpisodicMemories, PromptDeclarativeMemories and PromptChatHistory
	// render structured input into the Text field substituted into the suffix.
	PromptEpisodicMemories    = NewPoint[MemoryRender]("prompt_episodic_memories")
	PromptDeclarativeMemories = NewPoint[MemoryRender]("prompt_declarative_memories")
	PromptChatHistory         = NewPoint[HistoryRender]("prompt_chat_history")

	// BeforeToolCall may rewrite the input or cancel the call.
	BeforeToolCall = NewPoint[ToolCall]("before_tool_call")
	// AfterToolCall is a notification.
	AfterToolCall = NewPoint[ToolResult]("after_tool_call")

	// BeforeSendsMessage transforms the outbound reply. Default: identity.
	BeforeSendsMessage = NewPoint[Message]("before_sends_message")
)

// RecallPoint returns the configuration point for class.
func RecallPoint(class memory.Class) Point[memory.RecallConfig] {
	switch class {
	case memory.Declarative:
		return BeforeRecallsDeclarative
	case memory.Procedural:
		return BeforeRecallsProcedural
	}
	return BeforeRecallsEpisodic
}

// MemoryRender is the payload of the memory formatting points.
type MemoryRender struct {
	Snippets []memory.Snippet
	Text     string
}

// HistoryRender is the payload of the chat history formatting point.
type HistoryRender struct {
	Turns []memory.Turn
	Text  string
}

// ToolCall is fired before a tool runs. Handlers can modify Input or set Cancel;
// CancelReason becomes the observation.
type ToolCall struct {
	Name         string
	Input        string
	Cancel       bool
	CancelReason string
}

// ToolResult is fired after a tool completes.
type ToolResult struct {
	Name     string
	Input    string
	Output   string
	Err      error
	Duration time.Duration
}

// Message types.
const (
	TypeChat         = "chat"
	TypeError        = "error"
	TypeNotification = "notification"
)

// Message is an outbound client message.
type Message struct {
	Error   bool    `json:"error"`
	Type    string  `json:"type"`
	Content Content `json:"content"`
}

// Content is the body of an outbound message. Extra keys added by plugins are
// merged into the JSON object alongside the known fields.
type Content struct {
	Text        string         `json:"text,omitempty"`
	Sender      string         `json:"sender,omitempty"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Why         *Why           `json:"why,omitempty"`
	Extra       map[string]any `json:"-"`
}

// MarshalJSON merges Extra into the encoded object.
func (c Content) MarshalJSON() ([]byte, error) {
	type plain Content
	out, err := json.Marshal(plain(c))
	if err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		out, err = sjson.SetBytes(out, escapeKey(k), v)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Why is the introspection block attached to chat replies.
type Why struct {
	Input             string        `json:"input"`
	IntermediateSteps []memory.Step `json:"intermediate_steps"`
	Memory            WhyMemory     `json:"memory"`
}

// WhyMemory lists the snippets that were recalled for the reply.
type WhyMemory struct {
	Episodic    []memory.Snippet `json:"episodic"`
	Declarative []memory.Snippet `json:"declarative"`
	Procedural  []memory.Snippet `json:"procedural"`
}

// ChatMessage builds a successful reply.
func ChatMessage(text, sender string) Message {
	return Message{Type: TypeChat, Content: Content{Text: text, Sender: sender}}
}

// ErrorMessage builds an error reply.
func ErrorMessage(name, description string) Message {
	return Message{Error: true, Type: TypeError, Content: Content{Name: name, Description: description}}
}

func escapeKey(k string) string {
	var b []byte
	for i := 0; i < len(k); i++ {
		switch k[i] {
		case '.', '*', '?', '|', '#', '@', '\\', ':':
			b = append(b, '\\')
		}
		b = append(b, k[i])
	}
	return string(b)
}
