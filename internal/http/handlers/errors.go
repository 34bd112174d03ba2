// Package handlers defines the HTTP-layer error codes used across all
// endpoints. Codes are lowercase snake_case and stable: clients branch on
// them programmatically, messages are for humans.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeSyncInProgress   = "sync_in_progress"
	ErrCodeOffline          = "offline"
	ErrCodeNoSession        = "no_session"
	ErrCodeEnqueueFailed    = "enqueue_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
