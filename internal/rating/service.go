// Package rating orchestrates rating writes and reads: it validates input,
// consults the enrollment oracle, drives the conditional store writes with a
// bounded retry loop and classifies every failure onto the wire taxonomy.
package rating

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/Clark-Hu/upskillpro-ratings/internal/auth"
	"github.com/Clark-Hu/upskillpro-ratings/internal/domain"
	"github.com/Clark-Hu/upskillpro-ratings/internal/enrollment"
	"github.com/Clark-Hu/upskillpro-ratings/internal/events"
	"github.com/Clark-Hu/upskillpro-ratings/internal/logging"
	"github.com/Clark-Hu/upskillpro-ratings/internal/repository"
)

const (
	// MaxWriteAttempts bounds the conditional-write retry loop.
	MaxWriteAttempts = 3
	// RecentReviewLimit is the number of reviews in the instructor view.
	RecentReviewLimit = 5

	defaultBackoff   = 20 * time.Millisecond
	instructorFanout = 8
)

// Store is the rating repository contract.
type Store interface {
	GetRating(ctx context.Context, courseID, userID string) (*domain.Rating, error)
	PutRating(ctx context.Context, params repository.PutParams) (repository.PutResult, error)
	DeleteRating(ctx context.Context, courseID, userID string) (repository.DeleteResult, error)
	GetAggregate(ctx context.Context, courseID string) (domain.CourseAggregate, error)
	ListCourseRatings(ctx context.Context, courseID string, opts repository.ListOptions) (domain.RatingPage, error)
	ListUserRatings(ctx context.Context, userID string, opts repository.ListOptions) (domain.RatingPage, error)
	ListRecentReviews(ctx context.Context, courseID string, limit int, hideInactive bool) ([]domain.Rating, error)
	PurgeCourse(ctx context.Context, courseID string) (int64, error)
	RebuildAggregate(ctx context.Context, courseID string) (domain.CourseAggregate, error)
}

// Directory reads the surrounding system's course and user records.
type Directory interface {
	GetCourse(ctx context.Context, courseID string) (domain.Course, error)
	ListByInstructor(ctx context.Context, instructorID string) ([]domain.Course, error)
	GetUser(ctx context.Context, userID string) (domain.User, error)
}

// Publisher receives an event for every committed change.
type Publisher interface {
	Publish(ctx context.Context, subject string, evt events.RatingEvent) error
}

// Options tunes a Service.
type Options struct {
	// WriteAttempts is the conditional-write budget, 1..MaxWriteAttempts.
	WriteAttempts int
	// Backoff is the base delay between conditional-write attempts.
	Backoff                  time.Duration
	HideDeactivatedReviewers bool
	BlockSelfRating          bool
	Logger                   *zap.Logger
	Events                   Publisher
	Now                      func() time.Time
}

// Service implements the rating operations.
type Service struct {
	store  Store
	oracle enrollment.Oracle
	dir    Directory
	opts   Options
	log    *zap.Logger
}

// NewService wires a Service.
func NewService(store Store, oracle enrollment.Oracle, dir Directory, opts Options) *Service {
	if opts.WriteAttempts < 1 || opts.WriteAttempts > MaxWriteAttempts {
		opts.WriteAttempts = MaxWriteAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, oracle: oracle, dir: dir, opts: opts, log: opts.Logger}
}

// SubmitRating creates or replaces the caller's rating of courseID.
func (s *Service) SubmitRating(ctx context.Context, caller auth.Identity, courseID string, stars int, review *string) (domain.Rating, error) {
	start := time.Now()
	if err := validateID("courseId", courseID); err != nil {
		return domain.Rating{}, err
	}
	if err := validateID("userId", caller.UserID); err != nil {
		return domain.Rating{}, err
	}
	if !domain.ValidStars(stars) {
		return domain.Rating{}, invalidRating()
	}
	review, err := NormalizeReview(review)
	if err != nil {
		return domain.Rating{}, err
	}

	if err := s.authorizeWrite(ctx, caller, courseID); err != nil {
		return domain.Rating{}, err
	}
	displayName := s.displayName(ctx, caller)

	var res repository.PutResult
	retries, err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.store.PutRating(ctx, repository.PutParams{
			CourseID:    courseID,
			UserID:      caller.UserID,
			Stars:       stars,
			Review:      review,
			DisplayName: displayName,
			Now:         s.opts.Now(),
		})
		return err
	})
	if err != nil {
		return domain.Rating{}, s.fail(ctx, "submit", caller, courseID, err)
	}

	newStars := res.Rating.Stars
	s.logWrite(ctx, caller.UserID, courseID, res.Shape.String(), res.PreviousStars, &newStars, time.Since(start), retries)

	evt := events.NewRatingEvent("submitted", courseID, caller.UserID)
	evt.Stars = &newStars
	evt.PreviousStars = res.PreviousStars
	evt.Created = res.Created
	s.publish(ctx, events.SubjectRatingSubmitted, evt)

	return res.Rating, nil
}

func (s *Service) authorizeWrite(ctx context.Context, caller auth.Identity, courseID string) error {
	enrolled, err := s.oracle.IsEnrolled(ctx, caller.UserID, courseID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return classify(err)
		}
		return &Error{Kind: KindUnavailable, Code: CodeStorageUnavailable, Message: "enrollment check unavailable", Err: err}
	}
	if !enrolled {
		return newError(KindForbidden, CodeNotEnrolled, "you must be enrolled in this course to rate it")
	}
	if !s.opts.BlockSelfRating {
		return nil
	}
	course, err := s.dir.GetCourse(ctx, courseID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case err != nil:
		return classify(err)
	case course.InstructorUserID == caller.UserID:
		return newError(KindForbidden, CodeForbidden, "instructors cannot rate their own course")
	}
	return nil
}

// displayName prefers the token's name, then the user record.
func (s *Service) displayName(ctx context.Context, caller auth.Identity) string {
	if caller.DisplayName != "" {
		return caller.DisplayName
	}
	user, err := s.dir.GetUser(ctx, caller.UserID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("rating: display name lookup failed", zap.String("user_id", caller.UserID), zap.Error(err))
		}
		return ""
	}
	return user.DisplayName
}

// DeleteMyRating removes the caller's rating. A missing rating is
// RATING_NOT_FOUND.
func (s *Service) DeleteMyRating(ctx context.Context, caller auth.Identity, courseID string) error {
	start := time.Now()
	if err := validateID("courseId", courseID); err != nil {
		return err
	}
	if err := validateID("userId", caller.UserID); err != nil {
		return err
	}

	var res repository.DeleteResult
	retries, err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.store.DeleteRating(ctx, courseID, caller.UserID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return newError(KindNotFound, CodeRatingNotFound, "rating not found")
	}
	if err != nil {
		return s.fail(ctx, "delete", caller, courseID, err)
	}

	prev := res.Deleted.Stars
	s.logWrite(ctx, caller.UserID, courseID, "delete", &prev, nil, time.Since(start), retries)

	evt := events.NewRatingEvent("deleted", courseID, caller.UserID)
	evt.PreviousStars = &prev
	s.publish(ctx, events.SubjectRatingDeleted, evt)
	return nil
}

// GetMyRating returns the caller's rating or nil.
func (s *Service) GetMyRating(ctx context.Context, caller auth.Identity, courseID string) (*domain.Rating, error) {
	if err := validateID("courseId", courseID); err != nil {
		return nil, err
	}
	if err := validateID("userId", caller.UserID); err != nil {
		return nil, err
	}
	rating, err := retryRead(ctx, s.opts.Backoff, func(ctx context.Context) (*domain.Rating, error) {
		return s.store.GetRating(ctx, courseID, caller.UserID)
	})
	if err != nil {
		return nil, s.fail(ctx, "get", caller, courseID, err)
	}
	return rating, nil
}

// ListCourseRatings pages through a course's ratings. limit 0 selects the
// default page size; token is the previous page's cursor.
func (s *Service) ListCourseRatings(ctx context.Context, courseID string, limit int, token string) (domain.RatingPage, error) {
	if err := validateID("courseId", courseID); err != nil {
		return domain.RatingPage{}, err
	}
	opts, err := s.listOptions(limit, token)
	if err != nil {
		return domain.RatingPage{}, err
	}
	page, err := retryRead(ctx, s.opts.Backoff, func(ctx context.Context) (domain.RatingPage, error) {
		return s.store.ListCourseRatings(ctx, courseID, opts)
	})
	if err != nil {
		return domain.RatingPage{}, s.fail(ctx, "list", auth.Identity{}, courseID, err)
	}
	return page, nil
}

// ListUserRatings pages through the ratings the caller has written.
func (s *Service) ListUserRatings(ctx context.Context, caller auth.Identity, limit int, token string) (domain.RatingPage, error) {
	if err := validateID("userId", caller.UserID); err != nil {
		return domain.RatingPage{}, err
	}
	opts, err := s.listOptions(limit, token)
	if err != nil {
		return domain.RatingPage{}, err
	}
	opts.HideInactive = false
	page, err := retryRead(ctx, s.opts.Backoff, func(ctx context.Context) (domain.RatingPage, error) {
		return s.store.ListUserRatings(ctx, caller.UserID, opts)
	})
	if err != nil {
		return domain.RatingPage{}, s.fail(ctx, "list_mine", caller, "", err)
	}
	return page, nil
}

func (s *Service) listOptions(limit int, token string) (repository.ListOptions, error) {
	if err := validatePage(limit); err != nil {
		return repository.ListOptions{}, err
	}
	cursor, err := repository.DecodeCursor(token)
	if err != nil {
		return repository.ListOptions{}, classify(err)
	}
	return repository.ListOptions{Limit: limit, Cursor: cursor, HideInactive: s.opts.HideDeactivatedReviewers}, nil
}

// Stats is the public projection of a course aggregate.
type Stats struct {
	CourseID      string
	AverageRating float64
	RatingCount   int64
	Distribution  domain.Histogram
	LastUpdatedAt time.Time
}

// StatsFromAggregate rounds the average half-to-even to one decimal.
func StatsFromAggregate(agg domain.CourseAggregate) Stats {
	return Stats{
		CourseID:      agg.CourseID,
		AverageRating: agg.RoundedAverage(),
		RatingCount:   agg.Count,
		Distribution:  agg.Histogram,
		LastUpdatedAt: agg.LastUpdatedAt,
	}
}

// GetRatingStats returns the course's rating summary.
func (s *Service) GetRatingStats(ctx context.Context, courseID string) (Stats, error) {
	if err := validateID("courseId", courseID); err != nil {
		return Stats{}, err
	}
	agg, err := retryRead(ctx, s.opts.Backoff, func(ctx context.Context) (domain.CourseAggregate, error) {
		return s.store.GetAggregate(ctx, courseID)
	})
	if err != nil {
		return Stats{}, s.fail(ctx, "stats", auth.Identity{}, courseID, err)
	}
	return StatsFromAggregate(agg), nil
}

func (s *Service) publish(ctx context.Context, subject string, evt events.RatingEvent) {
	if s.opts.Events == nil {
		return
	}
	// The write has committed; a lost event must not fail the request.
	if err := s.opts.Events.Publish(context.WithoutCancel(ctx), subject, evt); err != nil {
		s.log.Warn("rating: publish event failed",
			zap.String("subject", subject),
			zap.String("event_id", evt.EventID),
			zap.Error(err),
		)
	}
}

func (s *Service) logWrite(ctx context.Context, actor, courseID, op string, prev, next *int, latency time.Duration, retries int) {
	s.log.Info("rating write",
		zap.String("actor", actor),
		zap.String("course_id", courseID),
		zap.String("op", op),
		optionalInt("prev_stars", prev),
		optionalInt("new_stars", next),
		zap.Duration("latency", latency),
		zap.Int("retries", retries),
		zap.String("request_id", logging.RequestID(ctx)),
	)
}

func optionalInt(key string, v *int) zap.Field {
	if v == nil {
		return zap.Skip()
	}
	return zap.Int(key, *v)
}

// fail classifies err and logs internal failures with the correlation id.
func (s *Service) fail(ctx context.Context, op string, caller auth.Identity, courseID string, err error) error {
	e := classify(err)
	if e.Kind == KindInternal || e.Kind == KindUnavailable {
		s.log.Error("rating: operation failed",
			zap.String("op", op),
			zap.String("actor", caller.UserID),
			zap.String("course_id", courseID),
			zap.String("code", e.Code),
			zap.String("request_id", logging.RequestID(ctx)),
			zap.Error(err),
		)
	}
	return e
}

// withRetry runs a conditional write. ErrConditionFailed is retried up to
// WriteAttempts with exponential backoff and then becomes CONFLICT; a
// transient storage error is retried once with jitter.
func (s *Service) withRetry(ctx context.Context, fn func(context.Context) error) (int, error) {
	retries, conflicts := 0, 0
	transientLeft := 1
	for {
		err := fn(ctx)
		var delay time.Duration
		switch {
		case err == nil:
			return retries, nil
		case errors.Is(err, repository.ErrConditionFailed):
			conflicts++
			if conflicts >= s.opts.WriteAttempts {
				return retries, &Error{Kind: KindConflict, Code: CodeConflict, Message: "rating changed concurrently, retry", Err: err}
			}
			delay = s.opts.Backoff << (conflicts - 1)
			delay += jitter(s.opts.Backoff)
		case transientLeft > 0 && ctx.Err() == nil && repository.IsTransient(err):
			transientLeft--
			delay = jitter(s.opts.Backoff)
		default:
			return retries, err
		}
		retries++
		if err := sleep(ctx, delay); err != nil {
			return retries, err
		}
	}
}

// retryRead retries a read once on a transient storage error.
func retryRead[T any](ctx context.Context, backoff time.Duration, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err == nil || ctx.Err() != nil || !repository.IsTransient(err) {
		return v, err
	}
	if err := sleep(ctx, jitter(backoff)); err != nil {
		var zero T
		return zero, err
	}
	return fn(ctx)
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(base)))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
