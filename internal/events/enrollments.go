package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// EnrollmentForgetter drops a remembered enrollment answer.
type EnrollmentForgetter interface {
	Forget(ctx context.Context, userID, courseID string) error
}

// EnrollmentEndedEvent is the enrollment service's payload for a learner
// leaving or being removed from a course.
type EnrollmentEndedEvent struct {
	EventID  string `json:"event_id"`
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
}

// HandleEnrollmentEnded decodes one event and forgets the cached enrollment.
func HandleEnrollmentEnded(ctx context.Context, data []byte, forgetter EnrollmentForgetter) (EnrollmentEndedEvent, error) {
	var evt EnrollmentEndedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return evt, fmt.Errorf("decode enrollment ended event: %w", err)
	}
	evt.UserID = strings.TrimSpace(evt.UserID)
	evt.CourseID = strings.TrimSpace(evt.CourseID)
	if evt.UserID == "" || evt.CourseID == "" {
		return evt, errors.New("enrollment ended event without user_id or course_id")
	}
	return evt, forgetter.Forget(ctx, evt.UserID, evt.CourseID)
}

// SubscribeEnrollmentEnded evicts cached enrollment answers as soon as the
// enrollment service announces that an enrollment ended.
func SubscribeEnrollmentEnded(nc *nats.Conn, forgetter EnrollmentForgetter, timeout time.Duration, log *zap.Logger) (*nats.Subscription, error) {
	if nc == nil {
		return nil, nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return nc.QueueSubscribe(SubjectEnrollmentEnded, "ratings", func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		evt, err := HandleEnrollmentEnded(ctx, msg.Data, forgetter)
		if err != nil {
			log.Error("enrollment ended: cache eviction failed", zap.Error(err), zap.ByteString("payload", msg.Data))
			return
		}
		log.Debug("enrollment ended: cache evicted", zap.String("user_id", evt.UserID), zap.String("course_id", evt.CourseID))
	})
}
