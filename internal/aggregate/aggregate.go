// Package aggregate computes the per-course aggregate delta that must commit
// atomically with every rating write.
package aggregate

import (
	"errors"
	"fmt"

	"github.com/Clark-Hu/upskillpro-ratings/internal/domain"
)

// ErrInvalidStars is returned when a plan is requested for an out-of-range value.
var ErrInvalidStars = errors.New("aggregate: stars out of range")

// Shape identifies the kind of conditional write.
type Shape int

const (
	// ShapeCreate appends a rating row; the aggregate gains one rating.
	ShapeCreate Shape = iota + 1
	// ShapeUpdate overwrites a rating with different stars; count is unchanged.
	ShapeUpdate
	// ShapeTouch rewrites the rating row only (review change or resubmit).
	ShapeTouch
	// ShapeDelete removes a rating row; the aggregate loses one rating.
	ShapeDelete
)

func (s Shape) String() string {
	switch s {
	case ShapeCreate:
		return "create"
	case ShapeUpdate:
		return "update"
	case ShapeTouch:
		return "touch"
	case ShapeDelete:
		return "delete"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Delta is an integer-only change to a CourseAggregate.
type Delta struct {
	Count     int64
	Sum       int64
	Histogram domain.Histogram
}

// IsZero reports whether applying d leaves an aggregate unchanged.
func (d Delta) IsZero() bool {
	return d == Delta{}
}

// Plan is the write a caller must issue, conditioned on PrevStars: absence of
// a rating when PrevStars is nil, presence with exactly *PrevStars otherwise.
type Plan struct {
	Shape     Shape
	PrevStars *int
	NewStars  int
	Delta     Delta
}

// PlanPut derives the write for storing stars over the observed prior rating.
func PlanPut(prev *domain.Rating, stars int) (Plan, error) {
	if !domain.ValidStars(stars) {
		return Plan{}, fmt.Errorf("%w: %d", ErrInvalidStars, stars)
	}
	if prev == nil {
		return Plan{Shape: ShapeCreate, NewStars: stars, Delta: createDelta(stars)}, nil
	}
	prevStars := prev.Stars
	if !domain.ValidStars(prevStars) {
		return Plan{}, fmt.Errorf("%w: stored value %d", ErrInvalidStars, prevStars)
	}
	if prevStars == stars {
		return Plan{Shape: ShapeTouch, PrevStars: &prevStars, NewStars: stars}, nil
	}
	return Plan{Shape: ShapeUpdate, PrevStars: &prevStars, NewStars: stars, Delta: updateDelta(prevStars, stars)}, nil
}

// PlanDelete derives the write removing the observed prior rating.
func PlanDelete(prev domain.Rating) (Plan, error) {
	if !domain.ValidStars(prev.Stars) {
		return Plan{}, fmt.Errorf("%w: stored value %d", ErrInvalidStars, prev.Stars)
	}
	prevStars := prev.Stars
	return Plan{Shape: ShapeDelete, PrevStars: &prevStars, Delta: deleteDelta(prevStars)}, nil
}

func createDelta(stars int) Delta {
	d := Delta{Count: 1, Sum: int64(stars)}
	d.Histogram.Add(stars, 1)
	return d
}

func updateDelta(prevStars, stars int) Delta {
	d := Delta{Sum: int64(stars - prevStars)}
	d.Histogram.Add(prevStars, -1)
	d.Histogram.Add(stars, 1)
	return d
}

func deleteDelta(prevStars int) Delta {
	d := Delta{Count: -1, Sum: -int64(prevStars)}
	d.Histogram.Add(prevStars, -1)
	return d
}

// Apply returns agg with d applied, rejecting results that break the
// aggregate invariants.
func Apply(agg domain.CourseAggregate, d Delta) (domain.CourseAggregate, error) {
	out := agg
	out.Count += d.Count
	out.Sum += d.Sum
	for i := range out.Histogram {
		out.Histogram[i] += d.Histogram[i]
	}
	if err := out.Validate(); err != nil {
		return agg, err
	}
	return out, nil
}

// Recompute builds an aggregate from the full set of a course's ratings.
func Recompute(courseID string, ratings []domain.Rating) (domain.CourseAggregate, error) {
	agg := domain.CourseAggregate{CourseID: courseID}
	for _, r := range ratings {
		if !domain.ValidStars(r.Stars) {
			return domain.CourseAggregate{}, fmt.Errorf("%w: rating %s/%s has %d", ErrInvalidStars, r.CourseID, r.UserID, r.Stars)
		}
		agg.Count++
		agg.Sum += int64(r.Stars)
		agg.Histogram.Add(r.Stars, 1)
		if r.UpdatedAt.After(agg.LastUpdatedAt) {
			agg.LastUpdatedAt = r.UpdatedAt
		}
	}
	return agg, nil
}
