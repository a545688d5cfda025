package memory

import (
	"slices"
	"sync"
	"time"
)

// History is the shared chat transcript, capped at a fixed number of turns.
type History struct {
	mu    sync.Mutex
	max   int
	turns []Turn
}

// NewHistory keeps at most maxTurns turns. Zero or less disables history.
func NewHistory(maxTurns int) *History {
	return &History{max: maxTurns}
}

// Append records a turn, dropping the oldest ones over the cap.
func (h *History) Append(who, message string) {
	if h == nil || h.max <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, Turn{Who: who, Message: message, When: time.Now()})
	if over := len(h.turns) - h.max; over > 0 {
		h.turns = slices.Clone(h.turns[over:])
	}
}

// Snapshot returns a copy of the current turns, oldest first.
func (h *History) Snapshot() []Turn {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.turns)
}
