package rating

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Clark-Hu/upskillpro-ratings/internal/auth"
	"github.com/Clark-Hu/upskillpro-ratings/internal/domain"
	"github.com/Clark-Hu/upskillpro-ratings/internal/events"
	"github.com/Clark-Hu/upskillpro-ratings/internal/repository"
)

// CourseRatings is one row of the instructor analytics view.
type CourseRatings struct {
	Course        domain.Course
	Stats         Stats
	RecentReviews []domain.Rating
}

// GetInstructorRatings returns stats and recent reviews for every course the
// caller teaches, or for courseID only when it is set. Filtering on a course
// the caller does not teach is FORBIDDEN.
func (s *Service) GetInstructorRatings(ctx context.Context, caller auth.Identity, courseID string) ([]CourseRatings, error) {
	if err := validateID("userId", caller.UserID); err != nil {
		return nil, err
	}

	var courses []domain.Course
	if courseID != "" {
		if err := validateID("courseId", courseID); err != nil {
			return nil, err
		}
		course, err := s.dir.GetCourse(ctx, courseID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && course.InstructorUserID != caller.UserID) {
			return nil, newError(KindForbidden, CodeForbidden, "you do not instruct this course")
		}
		if err != nil {
			return nil, s.fail(ctx, "instructor", caller, courseID, err)
		}
		courses = []domain.Course{course}
	} else {
		var err error
		courses, err = s.dir.ListByInstructor(ctx, caller.UserID)
		if err != nil {
			return nil, s.fail(ctx, "instructor", caller, "", err)
		}
	}

	out := make([]CourseRatings, len(courses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(instructorFanout)
	for i, course := range courses {
		i, course := i, course
		g.Go(func() error {
			agg, err := retryRead(gctx, s.opts.Backoff, func(ctx context.Context) (domain.CourseAggregate, error) {
				return s.store.GetAggregate(ctx, course.ID)
			})
			if err != nil {
				return err
			}
			reviews, err := retryRead(gctx, s.opts.Backoff, func(ctx context.Context) ([]domain.Rating, error) {
				return s.store.ListRecentReviews(ctx, course.ID, RecentReviewLimit, s.opts.HideDeactivatedReviewers)
			})
			if err != nil {
				return err
			}
			out[i] = CourseRatings{Course: course, Stats: StatsFromAggregate(agg), RecentReviews: reviews}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, s.fail(ctx, "instructor", caller, courseID, err)
	}
	return out, nil
}

// PurgeCourse removes every rating of courseID and its aggregate on behalf of
// an administrator.
func (s *Service) PurgeCourse(ctx context.Context, caller auth.Identity, courseID string) (int64, error) {
	if !caller.Role.IsAdmin() {
		return 0, newError(KindForbidden, CodeForbidden, "administrator role required")
	}
	return s.purge(ctx, caller.UserID, courseID)
}

// PurgeCourseRatings is the course lifecycle hook; the caller is the platform
// itself.
func (s *Service) PurgeCourseRatings(ctx context.Context, courseID string) (int64, error) {
	return s.purge(ctx, "system", courseID)
}

func (s *Service) purge(ctx context.Context, actor, courseID string) (int64, error) {
	start := time.Now()
	if err := validateID("courseId", courseID); err != nil {
		return 0, err
	}
	removed, err := retryRead(ctx, s.opts.Backoff, func(ctx context.Context) (int64, error) {
		return s.store.PurgeCourse(ctx, courseID)
	})
	if err != nil {
		return 0, s.fail(ctx, "purge", auth.Identity{UserID: actor}, courseID, err)
	}
	s.logWrite(ctx, actor, courseID, "purge", nil, nil, time.Since(start), 0)

	evt := events.NewRatingEvent("purged", courseID, "")
	evt.Removed = removed
	s.publish(ctx, events.SubjectRatingsPurged, evt)
	return removed, nil
}

// RebuildStats recomputes a course aggregate from its rating rows.
func (s *Service) RebuildStats(ctx context.Context, caller auth.Identity, courseID string) (Stats, error) {
	start := time.Now()
	if !caller.Role.IsAdmin() {
		return Stats{}, newError(KindForbidden, CodeForbidden, "administrator role required")
	}
	if err := validateID("courseId", courseID); err != nil {
		return Stats{}, err
	}
	agg, err := retryRead(ctx, s.opts.Backoff, func(ctx context.Context) (domain.CourseAggregate, error) {
		return s.store.RebuildAggregate(ctx, courseID)
	})
	if err != nil {
		return Stats{}, s.fail(ctx, "rebuild", caller, courseID, err)
	}
	s.logWrite(ctx, caller.UserID, courseID, "rebuild", nil, nil, time.Since(start), 0)

	evt := events.NewRatingEvent("rebuilt", courseID, caller.UserID)
	s.publish(ctx, events.SubjectStatsRebuilt, evt)
	return StatsFromAggregate(agg), nil
}
