package bus

import "time"

// Notification is one queued payload awaiting delivery to a client.
type Notification struct {
	ID         string    `json:"id"`
	Payload    any       `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
