package entities

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the upgrade handlers. Missing identity material ends
// the upgrade with 401; a plain HTTP request to a socket endpoint with 426.
var (
	ErrAuthentication = errors.New("missing or invalid identity material")
	ErrProtocol       = errors.New("upgrade required")
)

// ValidationError rejects a frame whose payload is unusable (empty message
// content, missing required field). No state change happens.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// AccessDeniedError rejects an operation on a conversation the caller does
// not belong to.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %s", e.Reason)
}

// RateLimitError rejects a frame that exceeded its category quota. ResetIn
// tells the client when the window opens again.
type RateLimitError struct {
	Category string
	ResetIn  time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Category, e.ResetIn)
}

// UpstreamError wraps a failed persistence or relay call. On the critical
// message path it is surfaced to the sender; on best-effort paths it is
// logged and swallowed.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream call %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
