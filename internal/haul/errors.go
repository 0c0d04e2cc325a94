package haul

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Caller-facing error taxonomy. Wrap with fmt.Errorf("...: %w", ErrX) to add detail.
var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrNotFound             = errors.New("not found")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrCapacityExceeded     = errors.New("capacity exceeded")
	ErrQuotaExceeded        = errors.New("quota exceeded")
)

// Store-level errors. They never reach callers as taxonomy codes.
var (
	// ErrConflict is returned by a HaulStore when a compare-and-swap update loses.
	ErrConflict = errors.New("write conflict")
	// ErrRetriesExhausted wraps ErrConflict when the mutation retry budget runs out.
	ErrRetriesExhausted = errors.New("write retries exhausted")
)

// ValidateID checks that id is a well-formed haul identifier.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: haul id is required", ErrInvalidRequest)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: malformed haul id", ErrInvalidRequest)
	}
	return nil
}
