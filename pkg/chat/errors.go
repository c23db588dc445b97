package chat

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrForbidden        = errors.New("not authorized or conversation not found")
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrGeneration       = errors.New("generation failed")
	ErrPersistence      = errors.New("persistence failed")
)

// classify tags err with kind unless it already carries it.
func classify(kind, err error) error {
	if err == nil || errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// HTTPStatus maps a pipeline error onto the status used for pre-stream
// failures. A missing conversation is reported like a foreign one.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidOperation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Code is the machine-readable error code returned next to "msg".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound):
		return "forbidden"
	case errors.Is(err, ErrInvalidOperation):
		return "invalid_operation"
	case errors.Is(err, ErrGeneration):
		return "generation_error"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "internal_error"
	}
}
