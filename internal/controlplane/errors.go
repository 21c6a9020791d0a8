package controlplane

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fentz26/creatorloop/internal/store"
)

// Sentinel errors for control plane operations.
var (
	ErrStoryNotFound         = errors.New("story not found")
	ErrRunNotFound           = store.ErrRunNotFound
	ErrRunAlreadyCompleted   = store.ErrRunAlreadyCompleted
	ErrDecisionInProgress    = errors.New("decision already in progress for this story")
	ErrRecommendationBlocked = errors.New("recommendation is blocked")
)

// ValidationError rejects a request before any state is read or written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// statusFor maps service errors to HTTP status codes. Anything unrecognized
// is an internal error.
func statusFor(err error) int {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, ErrStoryNotFound), errors.Is(err, ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDecisionInProgress),
		errors.Is(err, ErrRunAlreadyCompleted),
		errors.Is(err, ErrRecommendationBlocked):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
