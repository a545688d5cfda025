// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

// Package memory holds the per-message working memory and the contracts of
// the recall collaborator: Recaller, Writer and Embedder.
package memory

import (
	"context"
	"time"
)

// Class names one of the recall collections.
type Class string

const (
	// Episodic holds past conversation turns, annotated with when they happened.
	Episodic Class = "episodic"
	// Declarative holds snippets of ingested documents, annotated with their source.
	Declarative Class = "declarative"
	// Procedural holds tool descriptions used to narrow the tool catalog.
	Procedural Class = "procedural"
)

// Classes lists every collection in recall order.
var Classes = []Class{Episodic, Declarative, Procedural}

// Metadata is attached to every stored snippet.
type Metadata struct {
	When   time.Time         `json:"when,omitempty"`
	Source string            `json:"source,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// Snippet is one recalled item.
type Snippet struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
	Score    float64  `json:"score"`
}

// RecallConfig is the payload of the before_recalls_* hooks.
type RecallConfig struct {
	// K is the maximum number of snippets to return.
	K int `json:"k"`
	// Threshold excludes snippets scoring below it.
	Threshold float64 `json:"threshold"`
	// Embedding is the query vector. Nil means nothing can be recalled.
	Embedding []float32 `json:"-"`
	// Conditions must all match the snippet metadata (source, or Extra keys).
	Conditions map[string]string `json:"conditions,omitempty"`
}

// Recaller retrieves snippets relevant to a query embedding.
type Recaller interface {
	Recall(ctx context.Context, class Class, cfg RecallConfig) ([]Snippet, error)
}

// Writer stores new snippets. Recallers that are read-only do not implement it.
type Writer interface {
	Remember(ctx context.Context, class Class, s Snippet, embedding []float32) error
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// NopRecaller recalls nothing. It is the default when no memory backend is configured.
type NopRecaller struct{}

func (NopRecaller) Recall(context.Context, Class, RecallConfig) ([]Snippet, error) {
	return nil, nil
}

// Turn is one chat history entry.
type Turn struct {
	Who     string    `json:"who"`
	Message string    `json:"message"`
	When    time.Time `json:"when"`
}

// Step is one reasoning iteration of the agent loop.
type Step struct {
	// Log is the model output that produced the action, cut before any
	// hallucinated observation.
	Log         string `json:"log"`
	Action      string `json:"action"`
	Input       string `json:"input"`
	Observation string `json:"observation"`
}
