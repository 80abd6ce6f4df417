package ratingclient

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Clark-Hu/upskillpro-ratings/internal/aggregate"
	"github.com/Clark-Hu/upskillpro-ratings/internal/domain"
)

// ErrWriteInFlight is returned when a course already has a pending write.
var ErrWriteInFlight = errors.New("ratingclient: a rating write is already pending for this course")

// State is the optimistic-write state of one course in the cache.
type State int

const (
	StateIdle State = iota
	StatePending
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled-back"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// CourseRecord is the course metadata shown on cards, course headers and the
// instructor table. Rating fields are refreshed after every committed write.
type CourseRecord struct {
	CourseID      string
	Title         string
	AverageRating float64
	RatingCount   int64
	Distribution  map[string]int64
}

// snapshot is the part of a course entry an optimistic write may change.
type snapshot struct {
	myRating *Rating
	myLoaded bool
	stats    *Stats
	record   *CourseRecord
}

type courseEntry struct {
	state    State
	myRating *Rating
	myLoaded bool
	stats    *Stats
	pages    map[string]Page
	prev     *snapshot
}

// Cache holds per-course myRating, paged courseRatings and ratingStats, and
// the shared course records. Reads never hit the network.
type Cache struct {
	api    API
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	courses map[string]*courseEntry
	records map[string]*CourseRecord
}

// NewCache returns an empty cache backed by api.
func NewCache(api API, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		api:     api,
		logger:  logger,
		now:     time.Now,
		courses: make(map[string]*courseEntry),
		records: make(map[string]*CourseRecord),
	}
}

func (c *Cache) entryLocked(courseID string) *courseEntry {
	e, ok := c.courses[courseID]
	if !ok {
		e = &courseEntry{pages: make(map[string]Page)}
		c.courses[courseID] = e
	}
	return e
}

// State reports the optimistic-write state of courseID.
func (c *Cache) State(courseID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.courses[courseID]; ok {
		return e.state
	}
	return StateIdle
}

// MyRating returns the cached rating of the current user. ok is false until
// the rating has been loaded or written.
func (c *Cache) MyRating(courseID string) (rating *Rating, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.courses[courseID]
	if !found || !e.myLoaded {
		return nil, false
	}
	return cloneRating(e.myRating), true
}

// Stats returns the cached summary of courseID.
func (c *Cache) Stats(courseID string) (Stats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.courses[courseID]
	if !found || e.stats == nil {
		return Stats{}, false
	}
	return cloneStats(*e.stats), true
}

// PutCourseRecord registers course metadata shared across surfaces.
func (c *Cache) PutCourseRecord(record CourseRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record.Distribution = cloneDistribution(record.Distribution)
	c.records[record.CourseID] = &record
}

// CourseRecord returns the shared metadata of courseID.
func (c *Cache) CourseRecord(courseID string) (CourseRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[courseID]
	if !ok {
		return CourseRecord{}, false
	}
	out := *rec
	out.Distribution = cloneDistribution(rec.Distribution)
	return out, true
}

// LoadMyRating fetches the current user's rating into the cache.
func (c *Cache) LoadMyRating(ctx context.Context, courseID string) (*Rating, error) {
	mine, err := c.api.Mine(ctx, courseID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(courseID)
	if e.state != StatePending {
		e.myRating, e.myLoaded = cloneRating(mine), true
	}
	return cloneRating(e.myRating), nil
}

// LoadStats fetches the course summary into the cache and the shared record.
func (c *Cache) LoadStats(ctx context.Context, courseID string) (Stats, error) {
	stats, err := c.api.Stats(ctx, courseID)
	if err != nil {
		return Stats{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(courseID)
	if e.state != StatePending {
		c.setStatsLocked(courseID, e, stats)
	}
	// A pending write keeps its optimistic stats. When none were cached
	// before the write, the fetched stats are returned without caching.
	if e.stats == nil {
		return cloneStats(stats), nil
	}
	return cloneStats(*e.stats), nil
}

// CourseRatings returns a page of course ratings, serving repeats from the
// cache. Committed writes drop the cached pages of their course.
func (c *Cache) CourseRatings(ctx context.Context, courseID string, limit int, lastKey string) (Page, error) {
	key := strconv.Itoa(limit) + "|" + lastKey
	c.mu.Lock()
	if e, ok := c.courses[courseID]; ok {
		if page, hit := e.pages[key]; hit {
			c.mu.Unlock()
			return page, nil
		}
	}
	c.mu.Unlock()

	page, err := c.api.List(ctx, courseID, limit, lastKey)
	if err != nil {
		return Page{}, err
	}
	c.mu.Lock()
	c.entryLocked(courseID).pages[key] = page
	c.mu.Unlock()
	return page, nil
}

// Submit optimistically stores the rating, sends it, and then refreshes the
// course stats. A failed write restores the pre-submit snapshot.
func (c *Cache) Submit(ctx context.Context, courseID string, stars int, review *string) (Rating, error) {
	c.mu.Lock()
	e := c.entryLocked(courseID)
	if e.state == StatePending {
		c.mu.Unlock()
		return Rating{}, ErrWriteInFlight
	}
	c.beginLocked(courseID, e)
	prev := e.myRating
	now := c.now().UTC()
	optimistic := &Rating{CourseID: courseID, Rating: stars, Review: review, CreatedAt: now, UpdatedAt: now}
	if prev != nil {
		optimistic.UserID = prev.UserID
		optimistic.CreatedAt = prev.CreatedAt
	}
	var prevRating *domain.Rating
	if prev != nil {
		prevRating = &domain.Rating{Stars: prev.Rating}
	}
	if plan, err := aggregate.PlanPut(prevRating, stars); err == nil {
		c.applyDeltaLocked(courseID, e, plan.Delta)
	}
	e.myRating, e.myLoaded = optimistic, true
	c.mu.Unlock()

	saved, err := c.api.Submit(ctx, courseID, stars, review)
	if err != nil {
		c.rollback(courseID)
		return Rating{}, err
	}

	c.mu.Lock()
	e.myRating = cloneRating(&saved)
	c.commitLocked(e)
	c.mu.Unlock()

	c.refreshStats(ctx, courseID)
	return saved, nil
}

// Delete optimistically removes the current user's rating, sends the delete
// and refreshes the course stats. A failed delete restores the snapshot.
func (c *Cache) Delete(ctx context.Context, courseID string) error {
	c.mu.Lock()
	e := c.entryLocked(courseID)
	if e.state == StatePending {
		c.mu.Unlock()
		return ErrWriteInFlight
	}
	c.beginLocked(courseID, e)
	if prev := e.myRating; prev != nil {
		if plan, err := aggregate.PlanDelete(domain.Rating{Stars: prev.Rating}); err == nil {
			c.applyDeltaLocked(courseID, e, plan.Delta)
		}
	}
	e.myRating, e.myLoaded = nil, true
	c.mu.Unlock()

	if err := c.api.Delete(ctx, courseID); err != nil {
		c.rollback(courseID)
		return err
	}

	c.mu.Lock()
	c.commitLocked(e)
	c.mu.Unlock()

	c.refreshStats(ctx, courseID)
	return nil
}

// Clear drops every cached entry and shared record, e.g. on logout.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.courses = make(map[string]*courseEntry)
	c.records = make(map[string]*CourseRecord)
}

// beginLocked captures the snapshot a rollback restores and enters pending.
func (c *Cache) beginLocked(courseID string, e *courseEntry) {
	snap := &snapshot{myRating: cloneRating(e.myRating), myLoaded: e.myLoaded}
	if e.stats != nil {
		stats := cloneStats(*e.stats)
		snap.stats = &stats
	}
	if rec, ok := c.records[courseID]; ok {
		copied := *rec
		copied.Distribution = cloneDistribution(rec.Distribution)
		snap.record = &copied
	}
	e.prev = snap
	e.state = StatePending
}

func (c *Cache) commitLocked(e *courseEntry) {
	e.prev = nil
	e.state = StateCommitted
	e.pages = make(map[string]Page)
}

func (c *Cache) rollback(courseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(courseID)
	if e.state != StatePending || e.prev == nil {
		return
	}
	e.myRating, e.myLoaded = e.prev.myRating, e.prev.myLoaded
	e.stats = e.prev.stats
	if e.prev.record != nil {
		c.records[courseID] = e.prev.record
	}
	e.prev = nil
	e.state = StateRolledBack
}

func (c *Cache) refreshStats(ctx context.Context, courseID string) {
	stats, err := c.api.Stats(ctx, courseID)
	if err != nil {
		c.logger.Warn("ratingclient: stats refresh failed", zap.String("course_id", courseID), zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(courseID)
	if e.state == StatePending {
		return
	}
	c.setStatsLocked(courseID, e, stats)
}

func (c *Cache) setStatsLocked(courseID string, e *courseEntry, stats Stats) {
	stats = cloneStats(stats)
	e.stats = &stats
	if rec, ok := c.records[courseID]; ok {
		rec.AverageRating = stats.AverageRating
		rec.RatingCount = stats.RatingCount
		rec.Distribution = cloneDistribution(stats.Distribution)
	}
}

// applyDeltaLocked moves the cached stats by d. Without cached stats there is
// nothing to adjust; the post-write refresh fills them in.
func (c *Cache) applyDeltaLocked(courseID string, e *courseEntry, d aggregate.Delta) {
	if e.stats == nil {
		return
	}
	agg, err := aggregate.Apply(toAggregate(courseID, *e.stats), d)
	if err != nil {
		c.logger.Debug("ratingclient: cached stats out of sync, skipping optimistic update",
			zap.String("course_id", courseID), zap.Error(err))
		return
	}
	c.setStatsLocked(courseID, e, fromAggregate(agg))
}

func toAggregate(courseID string, stats Stats) domain.CourseAggregate {
	agg := domain.CourseAggregate{CourseID: courseID, Count: stats.RatingCount}
	for stars := domain.MinStars; stars <= domain.MaxStars; stars++ {
		agg.Histogram.Add(stars, stats.Distribution[strconv.Itoa(stars)])
	}
	agg.Sum = agg.Histogram.WeightedSum()
	return agg
}

func fromAggregate(agg domain.CourseAggregate) Stats {
	dist := make(map[string]int64, domain.MaxStars)
	for stars := domain.MinStars; stars <= domain.MaxStars; stars++ {
		dist[strconv.Itoa(stars)] = agg.Histogram.Get(stars)
	}
	return Stats{AverageRating: agg.RoundedAverage(), RatingCount: agg.Count, Distribution: dist}
}

func cloneRating(r *Rating) *Rating {
	if r == nil {
		return nil
	}
	out := *r
	if r.Review != nil {
		review := *r.Review
		out.Review = &review
	}
	return &out
}

func cloneStats(s Stats) Stats {
	s.Distribution = cloneDistribution(s.Distribution)
	return s
}

func cloneDistribution(in map[string]int64) map[string]int64 {
	if in == nil {
		return nil
	}
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
