package billing

import (
	"errors"
	"fmt"

	"github.com/luguanhuang/nano-banana/pkg/storage"
)

var (
	// ErrValidation marks bad caller input
	ErrValidation = errors.New("validation failed")

	// ErrInvalidSignature is returned when a webhook signature is missing
	// or does not match the body
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedPayload is returned when a verified webhook body cannot
	// be decoded
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrNoActiveSubscription is returned when the caller has nothing to
	// cancel
	ErrNoActiveSubscription = errors.New("no active subscription")

	// ErrNotFound is returned by store lookups that match no row
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable is returned when the database cannot be reached
	ErrStoreUnavailable = storage.ErrUnavailable
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// UpstreamError wraps a failed call to the payment provider
type UpstreamError struct {
	Provider   string
	Operation  string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed with status %d: %v", e.Provider, e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Operation, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// SafeMessage is the text shown to API callers
func (e *UpstreamError) SafeMessage() string {
	return "payment provider request failed"
}

// NewUpstreamError wraps err unless it already is an UpstreamError
func NewUpstreamError(provider, operation string, statusCode int, err error) error {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Provider: provider, Operation: operation, StatusCode: statusCode, Err: err}
}
