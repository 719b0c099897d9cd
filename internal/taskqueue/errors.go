package taskqueue

import (
	"errors"
	"fmt"
	"time"
)

// ConfigError reports invalid input detected at enqueue or publish time,
// before any delivery attempt exists. It is the only error class surfaced
// synchronously to callers.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// PermanentError marks a remote failure that must never be auto-retried:
// signature rejection, non-429 4xx responses, redirects.
type PermanentError struct {
	Reason     string
	StatusCode int
}

func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("permanent remote error (status %d): %s", e.StatusCode, e.Reason)
	}
	return "permanent remote error: " + e.Reason
}

// IsPermanent reports whether err is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// TransientError marks a retryable remote failure (timeout, 5xx, 429).
// RetryAfter carries the remote rate-limit hint when one was given.
type TransientError struct {
	Reason     string
	StatusCode int
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient remote error (status %d): %s", e.StatusCode, e.Reason)
	}
	return "transient remote error: " + e.Reason
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
