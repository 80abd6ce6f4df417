package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/upskillpro-ratings/internal/domain"
)

// CoursesRepository reads and seeds the course catalogue rows the rating core
// depends on.
type CoursesRepository struct {
	pool *pgxpool.Pool
}

const courseColumns = `
    id,
    instructor_user_id,
    title,
    created_at
`

// CourseCreateParams bundles the fields required to create a course.
type CourseCreateParams struct {
	ID               string
	InstructorUserID string
	Title            string
}

// Create inserts a course row and returns the stored entity.
func (r *CoursesRepository) Create(ctx context.Context, params CourseCreateParams) (domain.Course, error) {
	query := fmt.Sprintf(`
        INSERT INTO courses (id, instructor_user_id, title)
        VALUES ($1,$2,$3)
        RETURNING %s
    `, courseColumns)
	return scanCourse(r.pool.QueryRow(ctx, query, params.ID, params.InstructorUserID, params.Title))
}

// GetByID fetches a course by its identifier.
func (r *CoursesRepository) GetByID(ctx context.Context, id string) (domain.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE id = $1`, courseColumns)
	course, err := scanCourse(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Course{}, ErrNotFound
		}
		return domain.Course{}, err
	}
	return course, nil
}

// ListByInstructor returns the courses taught by instructorID, newest first.
func (r *CoursesRepository) ListByInstructor(ctx context.Context, instructorID string) ([]domain.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE instructor_user_id = $1 ORDER BY created_at DESC, id ASC`, courseColumns)
	rows, err := r.pool.Query(ctx, query, instructorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var courses []domain.Course
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, course)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return courses, nil
}

// Delete removes a course row; ratings are purged separately.
func (r *CoursesRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCourse(row pgx.Row) (domain.Course, error) {
	var course domain.Course
	if err := row.Scan(&course.ID, &course.InstructorUserID, &course.Title, &course.CreatedAt); err != nil {
		return domain.Course{}, err
	}
	return course, nil
}
