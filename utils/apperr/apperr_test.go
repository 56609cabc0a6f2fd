package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRateLimitedErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("send failed: %w", &RateLimitedError{RetryAfter: 90 * time.Second})

	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Wrapped rate limit error should match the sentinel")
	}
	after, ok := RetryAfter(err)
	if !ok || after != 90*time.Second {
		t.Fatalf("Expected the retry hint to survive wrapping, got %v, %v", after, ok)
	}
}

func TestRetryAfterOnPlainErrors(t *testing.T) {
	if _, ok := RetryAfter(errors.New("boom")); ok {
		t.Fatalf("Plain errors carry no retry hint")
	}
	if _, ok := RetryAfter(ErrRateLimited); ok {
		t.Fatalf("The bare sentinel carries no retry hint")
	}
}

func TestFormattedWrappers(t *testing.T) {
	err := Validationf("field %q is required", "title")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Validationf should wrap the validation sentinel")
	}
	if err.Error() != `validation error: field "title" is required` {
		t.Fatalf("Unexpected message %q", err.Error())
	}

	if !errors.Is(Unsupportedf("no"), ErrUnsupported) {
		t.Fatalf("Unsupportedf should wrap the unsupported sentinel")
	}
}
