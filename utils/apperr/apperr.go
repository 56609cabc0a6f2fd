// Package apperr defines the error taxonomy shared by handlers and services.
// Services wrap these sentinels with %w; the response package maps them to
// HTTP statuses and machine-readable codes.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUnsupported         = errors.New("unsupported")
	ErrRateLimited         = errors.New("rate limited")
	ErrQuotaExceeded       = errors.New("quota exceeded")
	ErrCredentialsRequired = errors.New("credentials required")
	ErrUpstreamProvider    = errors.New("upstream provider error")
	ErrValidation          = errors.New("validation error")
)

// RateLimitedError carries the retry-after hint of an hourly bucket rejection
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// RetryAfter extracts the retry-after hint from an error chain, if present
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// Validationf wraps ErrValidation with a formatted reason
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

// Unsupportedf wraps ErrUnsupported with a formatted reason
func Unsupportedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrUnsupported}, args...)...)
}
