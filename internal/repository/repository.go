package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/upskillpro-ratings/internal/aggregate"
	"github.com/Clark-Hu/upskillpro-ratings/internal/domain"
	"github.com/Clark-Hu/upskillpro-ratings/internal/store"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConditionFailed means the row changed between the read of the prior
	// state and the conditional write; the caller re-reads and retries.
	ErrConditionFailed = errors.New("repository: condition failed")
	// ErrInvalidRating rejects star values outside 1..5.
	ErrInvalidRating = errors.New("repository: invalid rating")
	// ErrInvalidCursor rejects malformed pagination tokens.
	ErrInvalidCursor = errors.New("repository: invalid cursor")
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PutParams carries one rating upsert.
type PutParams struct {
	CourseID    string
	UserID      string
	Stars       int
	Review      *string
	DisplayName string
	Now         time.Time
}

// PutResult reports the committed rating and the prior state it replaced.
type PutResult struct {
	Rating        domain.Rating
	Shape         aggregate.Shape
	Created       bool
	PreviousStars *int
}

// DeleteResult reports the removed rating.
type DeleteResult struct {
	Deleted domain.Rating
}

// ListOptions controls a paginated rating listing.
type ListOptions struct {
	Limit  int
	Cursor *Cursor
	// HideInactive drops ratings whose author account is deactivated.
	HideInactive bool
}

func (o ListOptions) pageSize() int {
	switch {
	case o.Limit <= 0:
		return defaultPageSize
	case o.Limit > maxPageSize:
		return maxPageSize
	default:
		return o.Limit
	}
}

// Repository aggregates all domain-specific repositories.
type Repository struct {
	Ratings *RatingsRepository
	Courses *CoursesRepository
	Users   *UsersRepository
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return NewWithPool(st.Pool())
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{
		Ratings: &RatingsRepository{pool: pool},
		Courses: &CoursesRepository{pool: pool},
		Users:   &UsersRepository{pool: pool},
	}
}

// GetCourse reads a course row.
func (r *Repository) GetCourse(ctx context.Context, id string) (domain.Course, error) {
	return r.Courses.GetByID(ctx, id)
}

// ListByInstructor lists the courses an instructor teaches.
func (r *Repository) ListByInstructor(ctx context.Context, instructorID string) ([]domain.Course, error) {
	return r.Courses.ListByInstructor(ctx, instructorID)
}

// GetUser reads a user row.
func (r *Repository) GetUser(ctx context.Context, id string) (domain.User, error) {
	return r.Users.GetByID(ctx, id)
}

func timestamp(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Microsecond)
}

func buildRating(prev *domain.Rating, p PutParams) domain.Rating {
	now := timestamp(p.Now)
	rating := domain.Rating{
		CourseID:        p.CourseID,
		UserID:          p.UserID,
		Stars:           p.Stars,
		Review:          p.Review,
		UserDisplayName: p.DisplayName,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if prev != nil {
		rating.CreatedAt = prev.CreatedAt
		if rating.UpdatedAt.Before(prev.UpdatedAt) {
			rating.UpdatedAt = prev.UpdatedAt
		}
	}
	return rating
}
