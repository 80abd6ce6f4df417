package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Clark-Hu/upskillpro-ratings/internal/domain"
)

// MemoryDirectory holds users, courses and enrollments in process. It backs
// the development server when no database is configured.
type MemoryDirectory struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	courses     map[string]domain.Course
	enrollments map[string]map[string]struct{} // course -> users
}

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:       make(map[string]domain.User),
		courses:     make(map[string]domain.Course),
		enrollments: make(map[string]map[string]struct{}),
	}
}

// PutUser stores or replaces a user.
func (d *MemoryDirectory) PutUser(user domain.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
}

// PutCourse stores or replaces a course.
func (d *MemoryDirectory) PutCourse(course domain.Course) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = time.Now().UTC()
	}
	d.courses[course.ID] = course
}

// Enroll records userID as enrolled in courseID.
func (d *MemoryDirectory) Enroll(userID, courseID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enrollments[courseID] == nil {
		d.enrollments[courseID] = make(map[string]struct{})
	}
	d.enrollments[courseID][userID] = struct{}{}
}

// IsEnrolled satisfies the enrollment oracle contract.
func (d *MemoryDirectory) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.enrollments[courseID][userID]
	return ok, nil
}

// GetUser returns ErrNotFound for unknown users.
func (d *MemoryDirectory) GetUser(ctx context.Context, id string) (domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[id]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return user, nil
}

// GetCourse returns ErrNotFound for unknown courses.
func (d *MemoryDirectory) GetCourse(ctx context.Context, id string) (domain.Course, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	course, ok := d.courses[id]
	if !ok {
		return domain.Course{}, ErrNotFound
	}
	return course, nil
}

// ListByInstructor returns the instructor's courses, newest first.
func (d *MemoryDirectory) ListByInstructor(ctx context.Context, instructorID string) ([]domain.Course, error) {
	d.mu.RLock()
	var courses []domain.Course
	for _, course := range d.courses {
		if course.InstructorUserID == instructorID {
			courses = append(courses, course)
		}
	}
	d.mu.RUnlock()
	sort.Slice(courses, func(i, j int) bool {
		if !courses[i].CreatedAt.Equal(courses[j].CreatedAt) {
			return courses[i].CreatedAt.After(courses[j].CreatedAt)
		}
		return courses[i].ID < courses[j].ID
	})
	return courses, nil
}

func (d *MemoryDirectory) isActive(userID string) bool {
	if d == nil {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[userID]
	return !ok || user.Active
}
