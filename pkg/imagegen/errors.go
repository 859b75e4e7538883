package imagegen

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for a missing prompt or an unusable image
	ErrInvalidInput = errors.New("invalid generation request")

	// ErrRefused is returned when the model declines the prompt
	ErrRefused = errors.New("generation refused")

	// ErrNotConfigured is returned when no API key is set
	ErrNotConfigured = errors.New("image generation is not configured")
)

// UpstreamError reports a failed call to the model endpoint
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("image model request failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("image model request failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// SafeMessage is the text shown to callers
func (e *UpstreamError) SafeMessage() string {
	return "image generation request failed"
}

type refusalError struct {
	reason string
}

func (e *refusalError) Error() string {
	return "generation refused: " + e.reason
}

func (e *refusalError) Is(target error) bool {
	return target == ErrRefused
}

// RefusalReason returns the model's explanation when err is a refusal
func RefusalReason(err error) (string, bool) {
	var r *refusalError
	if errors.As(err, &r) {
		return r.reason, true
	}
	return "", false
}
