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

// CoursePurger removes every rating of a deleted course.
type CoursePurger interface {
	PurgeCourseRatings(ctx context.Context, courseID string) (int64, error)
}

// CourseDeletedEvent is the catalogue's course deletion payload.
type CourseDeletedEvent struct {
	EventID  string `json:"event_id"`
	CourseID string `json:"course_id"`
}

// HandleCourseDeleted decodes one course deletion and purges its ratings.
func HandleCourseDeleted(ctx context.Context, data []byte, purger CoursePurger) (int64, error) {
	var evt CourseDeletedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return 0, fmt.Errorf("decode course deleted event: %w", err)
	}
	courseID := strings.TrimSpace(evt.CourseID)
	if courseID == "" {
		return 0, errors.New("course deleted event without course_id")
	}
	return purger.PurgeCourseRatings(ctx, courseID)
}

// SubscribeCourseDeleted purges ratings whenever the catalogue announces a
// course deletion. Each message gets its own timeout.
func SubscribeCourseDeleted(nc *nats.Conn, purger CoursePurger, timeout time.Duration, log *zap.Logger) (*nats.Subscription, error) {
	if nc == nil {
		return nil, nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return nc.QueueSubscribe(SubjectCourseDeleted, "ratings", func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		removed, err := HandleCourseDeleted(ctx, msg.Data, purger)
		if err != nil {
			log.Error("course deleted: purge failed", zap.Error(err), zap.ByteString("payload", msg.Data))
			return
		}
		log.Info("course deleted: ratings purged", zap.Int64("removed", removed))
	})
}
