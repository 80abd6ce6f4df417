package rating

import (
	"context"
	"errors"
	"fmt"

	"github.com/Clark-Hu/upskillpro-ratings/internal/repository"
)

// Kind groups error codes by how callers must react.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindUnavailable
	KindTimeout
)

// Wire error codes.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidRating      = "INVALID_RATING"
	CodeReviewTooLong      = "REVIEW_TOO_LONG"
	CodeInvalidCursor      = "INVALID_PAGINATION_TOKEN"
	CodeNotEnrolled        = "NOT_ENROLLED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeRatingNotFound     = "RATING_NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeTimeout            = "TIMEOUT"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error is the classified error every Service operation returns.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// AsError extracts the classified error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ErrorCode returns the wire code of err, or INTERNAL_ERROR.
func ErrorCode(err error) string {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return CodeInternal
}

// classify maps a storage or collaborator error onto the wire taxonomy.
func classify(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &Error{Kind: KindTimeout, Code: CodeTimeout, Message: "request deadline exceeded", Err: err}
	case errors.Is(err, repository.ErrInvalidCursor):
		return &Error{Kind: KindValidation, Code: CodeInvalidCursor, Message: "invalid pagination token", Err: err}
	case errors.Is(err, repository.ErrInvalidRating):
		return &Error{Kind: KindValidation, Code: CodeInvalidRating, Message: "rating must be an integer between 1 and 5", Err: err}
	case errors.Is(err, repository.ErrConditionFailed):
		return &Error{Kind: KindConflict, Code: CodeConflict, Message: "rating changed concurrently, retry", Err: err}
	case repository.IsTransient(err):
		return &Error{Kind: KindUnavailable, Code: CodeStorageUnavailable, Message: "rating storage unavailable", Err: err}
	default:
		return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal error", Err: err}
	}
}
