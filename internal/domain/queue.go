// Package domain defines the core data types of the offline sync engine:
// queued mutations, their payloads and attachments, and cached responses.
// These types are persisted as JSON inside the durable key/value store and
// are shared across the queue, cache, and sync service layers.
package domain

import "time"

// Kind identifies the resource family a queued mutation belongs to.
// Kind determines both the dispatch target on the remote API and the
// relative replay order during a drain.
type Kind string

const (
	KindContact Kind = "contact"
	KindEvent   Kind = "event"
	KindTag     Kind = "tag"
)

// KindOrder is the fixed replay order of a drain: all contacts first, then
// all events, then all tags. Cross-kind ordering of the original enqueue
// sequence is intentionally not preserved; order within a kind is.
var KindOrder = [...]Kind{KindContact, KindEvent, KindTag}

// Operation identifies what a queued mutation does to its target resource.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"

	// OpHide is kept as a distinct queued operation so pending counts and
	// logs stay truthful, even though dispatch collapses it into a tag
	// update with the visibility flag cleared.
	OpHide Operation = "hide"
)

// ValidOperation reports whether op is allowed for the given kind.
// Contacts and events support create/update only; tags additionally
// support delete and hide. Anything else is a programmer error.
func ValidOperation(kind Kind, op Operation) bool {
	switch kind {
	case KindContact, KindEvent:
		return op == OpCreate || op == OpUpdate
	case KindTag:
		return op == OpCreate || op == OpUpdate || op == OpDelete || op == OpHide
	default:
		return false
	}
}

// Attachment is a binary payload (photo, media) stored in its text-safe
// encoded form. Data is only decoded back to bytes at drain time, never at
// enqueue or list time, so large buffers are not held in memory while the
// item sits in the queue.
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	ByteSize int    `json:"byte_size"`
	Data     string `json:"data"` // base64 (std encoding)
}

// Payload carries the kind-specific fields of a queued mutation plus any
// embedded binary attachments.
type Payload struct {
	Fields      map[string]any `json:"fields,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
}

// QueueItem is one pending mutation awaiting synchronization with the
// remote API.
//
// Fields:
//   - ID: globally unique, assigned at enqueue time (timestamp plus random
//     suffix); used for idempotent removal.
//   - Kind / Op: select the remote call during a drain.
//   - TargetID: remote entity identifier for update/delete/hide; empty for
//     create.
//   - EnqueuedAt: when the mutation was recorded locally.
//   - RetryCount: failed drain attempts so far; an item is dropped once it
//     reaches the retry ceiling.
type QueueItem struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Op         Operation `json:"op"`
	TargetID   string    `json:"target_id,omitempty"`
	Payload    Payload   `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	RetryCount int       `json:"retry_count"`
}

// PendingCounts is the per-kind breakdown of the queue, surfaced to the UI
// layer as the pending-count indicator.
type PendingCounts struct {
	Contacts int `json:"contacts"`
	Events   int `json:"events"`
	Tags     int `json:"tags"`
}

// Total returns the overall number of pending items.
func (p PendingCounts) Total() int { return p.Contacts + p.Events + p.Tags }

// Add increments the counter matching the given kind.
func (p *PendingCounts) Add(kind Kind) {
	switch kind {
	case KindContact:
		p.Contacts++
	case KindEvent:
		p.Events++
	case KindTag:
		p.Tags++
	}
}
