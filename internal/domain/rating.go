package domain

import (
	"fmt"
	"math"
	"time"
)

const (
	// MinStars and MaxStars bound a rating value.
	MinStars = 1
	MaxStars = 5

	// MaxReviewLength is measured in Unicode scalar values after NFC and trim.
	MaxReviewLength = 1000
)

// Rating is a single user's rating of a course.
type Rating struct {
	CourseID        string
	UserID          string
	Stars           int
	Review          *string
	UserDisplayName string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ValidStars reports whether stars is an allowed rating value.
func ValidStars(stars int) bool {
	return stars >= MinStars && stars <= MaxStars
}

// Histogram counts ratings per star value; index 0 holds one-star ratings.
type Histogram [MaxStars]int64

// Get returns the bucket for stars, or 0 for out-of-range values.
func (h Histogram) Get(stars int) int64 {
	if !ValidStars(stars) {
		return 0
	}
	return h[stars-1]
}

// Add adjusts the bucket for stars by n.
func (h *Histogram) Add(stars int, n int64) {
	if ValidStars(stars) {
		h[stars-1] += n
	}
}

// Total is the number of ratings across all buckets.
func (h Histogram) Total() int64 {
	var total int64
	for _, n := range h {
		total += n
	}
	return total
}

// WeightedSum is Σ s·histogram[s].
func (h Histogram) WeightedSum() int64 {
	var sum int64
	for i, n := range h {
		sum += int64(i+1) * n
	}
	return sum
}

// CourseAggregate is the denormalized per-course rating summary.
type CourseAggregate struct {
	CourseID      string
	Count         int64
	Sum           int64
	Histogram     Histogram
	LastUpdatedAt time.Time
}

// Average is sum/count, or 0 when the course has no ratings.
func (a CourseAggregate) Average() float64 {
	if a.Count <= 0 {
		return 0
	}
	return float64(a.Sum) / float64(a.Count)
}

// RoundedAverage is the average rounded half-to-even to one decimal place.
// The rounding is done on the exact fraction sum/count.
func (a CourseAggregate) RoundedAverage() float64 {
	if a.Count <= 0 {
		return 0
	}
	num := a.Sum * 10
	q, r := num/a.Count, num%a.Count
	switch {
	case 2*r > a.Count:
		q++
	case 2*r == a.Count && q%2 == 1:
		q++
	}
	return float64(q) / 10
}

// Validate checks the aggregate consistency and range invariants.
func (a CourseAggregate) Validate() error {
	for i, n := range a.Histogram {
		if n < 0 {
			return fmt.Errorf("aggregate %s: bucket %d is negative (%d)", a.CourseID, i+1, n)
		}
	}
	if a.Count != a.Histogram.Total() {
		return fmt.Errorf("aggregate %s: count %d != histogram total %d", a.CourseID, a.Count, a.Histogram.Total())
	}
	if a.Sum != a.Histogram.WeightedSum() {
		return fmt.Errorf("aggregate %s: sum %d != weighted histogram %d", a.CourseID, a.Sum, a.Histogram.WeightedSum())
	}
	if math.IsNaN(a.Average()) {
		return fmt.Errorf("aggregate %s: average is NaN", a.CourseID)
	}
	return nil
}

// RatingPage is one page of a rating listing.
type RatingPage struct {
	Ratings    []Rating
	NextCursor *string
}
