// Package remote defines the narrow contract the sync engine holds against
// the server API: one call per (kind, operation) pair, a generic read, and
// a reachability probe. The engine depends only on this interface; the
// transport behind it is an external concern.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind classifies a remote failure for retry purposes.
type ErrorKind int

const (
	// Network marks transport-level failures (unreachable host, timeout,
	// 5xx). These are worth retrying and count toward the retry ceiling.
	Network ErrorKind = iota
	// Application marks server-side rejections of the request itself
	// (validation, conflict, 4xx). Retrying cannot succeed; the drain drops
	// such items immediately instead of burning the ceiling.
	Application
)

// Error is a classified remote failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NetworkError wraps err as a retriable transport failure.
func NetworkError(msg string, err error) *Error {
	return &Error{Kind: Network, Message: msg, Err: err}
}

// ApplicationError wraps err as a terminal server-side rejection.
func ApplicationError(msg string, err error) *Error {
	return &Error{Kind: Application, Message: msg, Err: err}
}

// IsRetriable reports whether err should count as a transient failure.
// Unclassified errors are treated as network-class: when in doubt, retry
// rather than silently discard a user's offline edit.
func IsRetriable(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == Network
	}
	return true
}

// Media is a decoded binary attachment handed to the transport as raw
// bytes, never in its stored text encoding.
type Media struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Payload is the decoded form of a queued mutation's payload.
type Payload struct {
	Fields map[string]any
	Media  []Media
}

// Result is the minimal success outcome of a mutating call: the identifier
// of the created or updated entity.
type Result struct {
	ID string `json:"id"`
}

// Client is the remote API consumed by the sync drain and the read-through
// layer. Implementations enforce their own per-request timeouts and return
// classified errors (*Error); anything else is treated as network-class.
type Client interface {
	CreateContact(ctx context.Context, p Payload) (*Result, error)
	UpdateContact(ctx context.Context, id string, p Payload) (*Result, error)

	CreateEvent(ctx context.Context, p Payload) (*Result, error)
	UpdateEvent(ctx context.Context, id string, p Payload) (*Result, error)

	CreateTag(ctx context.Context, p Payload) (*Result, error)
	UpdateTag(ctx context.Context, id string, p Payload) (*Result, error)
	DeleteTag(ctx context.Context, id string) error

	// Get performs a read against an endpoint path and returns the decoded
	// response body.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Ping probes reachability; used by the connectivity monitor.
	Ping(ctx context.Context) error
}
