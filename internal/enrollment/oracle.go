// Package enrollment answers whether a user is enrolled in a course. The
// rating core treats every implementation as an external collaborator.
package enrollment

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the enrollment source cannot be reached.
var ErrUnavailable = errors.New("enrollment: source unavailable")

// Oracle reports enrollment. Errors mean "unknown", never "not enrolled".
type Oracle interface {
	IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, userID, courseID string) (bool, error)

// IsEnrolled calls f.
func (f OracleFunc) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	return f(ctx, userID, courseID)
}
