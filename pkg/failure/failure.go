// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

// Package failure implements the error taxonomy shared by the hook chain,
// the tool registry, the agent loop and the connection hub.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies an error. Kinds are themselves errors, so callers match
// them with errors.Is(err, failure.Timeout).
type Kind string

const (
	// Configuration covers missing hook output and duplicate tool names.
	// Fatal for the offending plugin at load time, per-message at prompt time.
	Configuration Kind = "ConfigurationError"
	// ToolExecution is a tool handler error or panic. Becomes an observation.
	ToolExecution Kind = "ToolExecutionError"
	// Parse is model output matching neither action nor final answer.
	Parse Kind = "ParseError"
	// Timeout is a model or tool call exceeding its bound.
	Timeout Kind = "TimeoutError"
	// Connection is a client write or read failure.
	Connection Kind = "ConnectionError"
	// IterationCap is an episode that never reached a final answer.
	IterationCap Kind = "IterationCapExceeded"
	// LLM is any non-timeout language model failure.
	LLM Kind = "LLMError"
	// RateLimited is an inbound message rejected by the per-connection limiter.
	RateLimited Kind = "RateLimited"
	// InvalidMessage is an inbound payload that cannot be decoded.
	InvalidMessage Kind = "InvalidMessage"
	// Internal is anything not classified above.
	Internal Kind = "InternalError"
)

func (k Kind) Error() string { return string(k) }

// Error wraps an underlying error with its Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New returns an *Error. err may be nil.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap exposes both the Kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the Kind carried by err, or Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Internal
}

// Description is the user-facing text for err: the cause without the kind prefix.
func Description(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		switch {
		case fe.Err != nil:
			return fe.Err.Error()
		case fe.Op != "":
			return fe.Op
		}
		return string(fe.Kind)
	}
	return err.Error()
}
