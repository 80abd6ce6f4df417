// Package events publishes rating lifecycle events to NATS JetStream and
// consumes course lifecycle events from the platform.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	SubjectRatingSubmitted = "ratings.submitted"
	SubjectRatingDeleted   = "ratings.deleted"
	SubjectRatingsPurged   = "ratings.purged"
	SubjectStatsRebuilt    = "ratings.rebuilt"

	// SubjectCourseDeleted is published by the course catalogue.
	SubjectCourseDeleted = "courses.deleted"
	// SubjectEnrollmentEnded is published when a learner leaves a course.
	SubjectEnrollmentEnded = "enrollments.ended"

	streamName = "RATINGS"
)

// RatingEvent is the payload published for every committed rating change.
type RatingEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	CourseID      string    `json:"course_id"`
	UserID        string    `json:"user_id,omitempty"`
	Stars         *int      `json:"stars,omitempty"`
	PreviousStars *int      `json:"previous_stars,omitempty"`
	Created       bool      `json:"created,omitempty"`
	Removed       int64     `json:"removed,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewRatingEvent stamps a fresh event id and time.
func NewRatingEvent(eventType, courseID, userID string) RatingEvent {
	return RatingEvent{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		CourseID:   courseID,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher publishes rating events. The zero value and a nil *Publisher are
// no-op stubs.
type Publisher struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *zap.Logger
}

// Connect dials NATS and ensures the RATINGS stream exists. An empty natsURL
// returns a stub publisher.
func Connect(natsURL string, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if natsURL == "" {
		log.Warn("NATS_URL not set, rating events will not be published (stub mode)")
		return &Publisher{log: log}, nil
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("upskillpro-ratings"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"ratings.>"},
		Storage:  nats.FileStorage,
	})
	if err != nil {
		log.Warn("failed to create NATS stream (may already exist)", zap.Error(err))
	}

	log.Info("NATS publisher initialised", zap.String("stream", streamName))
	return &Publisher{nc: nc, js: js, log: log}, nil
}

// Publish sends evt on subject. In stub mode it logs and returns nil.
func (p *Publisher) Publish(ctx context.Context, subject string, evt RatingEvent) error {
	if p == nil || p.js == nil {
		if p != nil && p.log != nil {
			p.log.Debug("NATS stub: skipping publish", zap.String("subject", subject), zap.String("event_id", evt.EventID))
		}
		return nil
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	ack, err := p.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(evt.EventID))
	if err != nil {
		return err
	}

	p.log.Debug("NATS event published",
		zap.String("subject", subject),
		zap.String("event_id", evt.EventID),
		zap.Uint64("seq", ack.Sequence),
	)
	return nil
}

// Conn exposes the connection for subscribers; nil in stub mode.
func (p *Publisher) Conn() *nats.Conn {
	if p == nil {
		return nil
	}
	return p.nc
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.log.Warn("NATS drain failed", zap.Error(err))
	}
}
