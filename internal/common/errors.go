// Package common defines shared constants and sentinel errors used across
// mediarelay components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")
	ErrPersistence    = errors.New("persistence failure")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Idempotency store errors.
	ErrStoreUnavailable = errors.New("idempotency store unavailable")
	ErrCorruptedRecord  = errors.New("corrupted idempotency record")
	ErrInProgress       = errors.New("request in progress")

	// Pipeline errors.
	ErrTransform            = errors.New("transform failed")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNoSafeArtifact       = errors.New("no safe artifact")
)
