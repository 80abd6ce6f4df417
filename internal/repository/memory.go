package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Clark-Hu/upskillpro-ratings/internal/aggregate"
	"github.com/Clark-Hu/upskillpro-ratings/internal/domain"
)

// MemoryRatings is an in-process rating store for development and tests.
// Like the Postgres store it reads the prior state, plans, then commits
// conditionally, so concurrent writers can observe ErrConditionFailed.
type MemoryRatings struct {
	mu      sync.Mutex
	ratings map[string]map[string]domain.Rating // course -> user -> rating
	byUser  map[string]map[string]struct{}      // user -> courses
	aggs    map[string]domain.CourseAggregate
	dir     *MemoryDirectory

	// beforeCommit runs between the read and the conditional commit.
	beforeCommit func()
}

// NewMemoryRatings returns an empty store. dir, when set, supplies account
// status for ListOptions.HideInactive.
func NewMemoryRatings(dir *MemoryDirectory) *MemoryRatings {
	return &MemoryRatings{
		ratings: make(map[string]map[string]domain.Rating),
		byUser:  make(map[string]map[string]struct{}),
		aggs:    make(map[string]domain.CourseAggregate),
		dir:     dir,
	}
}

// GetRating returns the stored rating or nil.
func (m *MemoryRatings) GetRating(ctx context.Context, courseID, userID string) (*domain.Rating, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rating, ok := m.ratings[courseID][userID]; ok {
		return &rating, nil
	}
	return nil, nil
}

// PutRating mirrors RatingsRepository.PutRating.
func (m *MemoryRatings) PutRating(ctx context.Context, params PutParams) (PutResult, error) {
	if !domain.ValidStars(params.Stars) {
		return PutResult{}, ErrInvalidRating
	}
	prev, err := m.GetRating(ctx, params.CourseID, params.UserID)
	if err != nil {
		return PutResult{}, err
	}
	plan, err := aggregate.PlanPut(prev, params.Stars)
	if err != nil {
		return PutResult{}, ErrInvalidRating
	}
	rating := buildRating(prev, params)

	if m.beforeCommit != nil {
		m.beforeCommit()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.ratings[params.CourseID][params.UserID]
	if !m.conditionHolds(plan, current, exists) {
		return PutResult{}, ErrConditionFailed
	}
	agg, err := aggregate.Apply(m.aggregateLocked(params.CourseID), plan.Delta)
	if err != nil {
		return PutResult{}, err
	}
	if !plan.Delta.IsZero() {
		if rating.UpdatedAt.After(agg.LastUpdatedAt) {
			agg.LastUpdatedAt = rating.UpdatedAt
		}
		m.aggs[params.CourseID] = agg
	}
	m.storeLocked(rating)

	return PutResult{
		Rating:        rating,
		Shape:         plan.Shape,
		Created:       plan.Shape == aggregate.ShapeCreate,
		PreviousStars: plan.PrevStars,
	}, nil
}

// DeleteRating mirrors RatingsRepository.DeleteRating.
func (m *MemoryRatings) DeleteRating(ctx context.Context, courseID, userID string) (DeleteResult, error) {
	prev, err := m.GetRating(ctx, courseID, userID)
	if err != nil {
		return DeleteResult{}, err
	}
	if prev == nil {
		return DeleteResult{}, ErrNotFound
	}
	plan, err := aggregate.PlanDelete(*prev)
	if err != nil {
		return DeleteResult{}, err
	}

	if m.beforeCommit != nil {
		m.beforeCommit()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.ratings[courseID][userID]
	if !m.conditionHolds(plan, current, exists) {
		return DeleteResult{}, ErrConditionFailed
	}
	agg, err := aggregate.Apply(m.aggregateLocked(courseID), plan.Delta)
	if err != nil {
		return DeleteResult{}, err
	}
	agg.LastUpdatedAt = timestamp(time.Time{})
	m.aggs[courseID] = agg
	delete(m.ratings[courseID], userID)
	delete(m.byUser[userID], courseID)

	return DeleteResult{Deleted: *prev}, nil
}

func (m *MemoryRatings) conditionHolds(plan aggregate.Plan, current domain.Rating, exists bool) bool {
	if plan.PrevStars == nil {
		return !exists
	}
	return exists && current.Stars == *plan.PrevStars
}

func (m *MemoryRatings) aggregateLocked(courseID string) domain.CourseAggregate {
	if agg, ok := m.aggs[courseID]; ok {
		return agg
	}
	return domain.CourseAggregate{CourseID: courseID}
}

func (m *MemoryRatings) storeLocked(rating domain.Rating) {
	if m.ratings[rating.CourseID] == nil {
		m.ratings[rating.CourseID] = make(map[string]domain.Rating)
	}
	m.ratings[rating.CourseID][rating.UserID] = rating
	if m.byUser[rating.UserID] == nil {
		m.byUser[rating.UserID] = make(map[string]struct{})
	}
	m.byUser[rating.UserID][rating.CourseID] = struct{}{}
}

// GetAggregate returns the course aggregate or the zero aggregate.
func (m *MemoryRatings) GetAggregate(ctx context.Context, courseID string) (domain.CourseAggregate, error) {
	if err := ctx.Err(); err != nil {
		return domain.CourseAggregate{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aggregateLocked(courseID), nil
}

// ListCourseRatings mirrors RatingsRepository.ListCourseRatings.
func (m *MemoryRatings) ListCourseRatings(ctx context.Context, courseID string, opts ListOptions) (domain.RatingPage, error) {
	if err := ctx.Err(); err != nil {
		return domain.RatingPage{}, err
	}
	m.mu.Lock()
	all := make([]domain.Rating, 0, len(m.ratings[courseID]))
	for _, rating := range m.ratings[courseID] {
		all = append(all, rating)
	}
	m.mu.Unlock()

	byUser := func(r domain.Rating) string { return r.UserID }
	return m.page(all, opts, byUser), nil
}

// ListUserRatings mirrors RatingsRepository.ListUserRatings.
func (m *MemoryRatings) ListUserRatings(ctx context.Context, userID string, opts ListOptions) (domain.RatingPage, error) {
	if err := ctx.Err(); err != nil {
		return domain.RatingPage{}, err
	}
	m.mu.Lock()
	all := make([]domain.Rating, 0, len(m.byUser[userID]))
	for courseID := range m.byUser[userID] {
		all = append(all, m.ratings[courseID][userID])
	}
	m.mu.Unlock()

	byCourse := func(r domain.Rating) string { return r.CourseID }
	return m.page(all, opts, byCourse), nil
}

func (m *MemoryRatings) page(all []domain.Rating, opts ListOptions, tieBreak func(domain.Rating) string) domain.RatingPage {
	sortNewestFirst(all, tieBreak)

	limit := opts.pageSize()
	selected := make([]domain.Rating, 0, limit+1)
	for _, rating := range all {
		if opts.Cursor != nil && !after(rating, *opts.Cursor, tieBreak) {
			continue
		}
		if opts.HideInactive && !m.dir.isActive(rating.UserID) {
			continue
		}
		selected = append(selected, rating)
		if len(selected) > limit {
			break
		}
	}
	page, _ := pageOf(selected, limit, tieBreak)
	return page
}

func sortNewestFirst(ratings []domain.Rating, tieBreak func(domain.Rating) string) {
	sort.Slice(ratings, func(i, j int) bool {
		if !ratings[i].CreatedAt.Equal(ratings[j].CreatedAt) {
			return ratings[i].CreatedAt.After(ratings[j].CreatedAt)
		}
		return tieBreak(ratings[i]) < tieBreak(ratings[j])
	})
}

func after(rating domain.Rating, c Cursor, tieBreak func(domain.Rating) string) bool {
	if rating.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return rating.CreatedAt.Equal(c.CreatedAt) && tieBreak(rating) > c.Key
}

// ListRecentReviews mirrors RatingsRepository.ListRecentReviews.
func (m *MemoryRatings) ListRecentReviews(ctx context.Context, courseID string, limit int, hideInactive bool) ([]domain.Rating, error) {
	page, err := m.ListCourseRatings(ctx, courseID, ListOptions{Limit: maxPageSize, HideInactive: hideInactive})
	if err != nil {
		return nil, err
	}
	var reviews []domain.Rating
	for {
		for _, rating := range page.Ratings {
			if rating.Review == nil {
				continue
			}
			reviews = append(reviews, rating)
			if len(reviews) == limit {
				return reviews, nil
			}
		}
		if page.NextCursor == nil {
			break
		}
		cursor, err := DecodeCursor(*page.NextCursor)
		if err != nil {
			return nil, err
		}
		page, err = m.ListCourseRatings(ctx, courseID, ListOptions{Limit: maxPageSize, Cursor: cursor, HideInactive: hideInactive})
		if err != nil {
			return nil, err
		}
	}
	return reviews, nil
}

// PurgeCourse drops a course's ratings and aggregate.
func (m *MemoryRatings) PurgeCourse(ctx context.Context, courseID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := int64(len(m.ratings[courseID]))
	for userID := range m.ratings[courseID] {
		delete(m.byUser[userID], courseID)
	}
	delete(m.ratings, courseID)
	delete(m.aggs, courseID)
	return removed, nil
}

// RebuildAggregate recomputes the aggregate from the stored ratings.
func (m *MemoryRatings) RebuildAggregate(ctx context.Context, courseID string) (domain.CourseAggregate, error) {
	if err := ctx.Err(); err != nil {
		return domain.CourseAggregate{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]domain.Rating, 0, len(m.ratings[courseID]))
	for _, rating := range m.ratings[courseID] {
		all = append(all, rating)
	}
	agg, err := aggregate.Recompute(courseID, all)
	if err != nil {
		return domain.CourseAggregate{}, err
	}
	m.aggs[courseID] = agg
	return agg, nil
}
