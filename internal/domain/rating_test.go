package domain

import (
	"math"
	"testing"
)

func TestRoundedAverage(t *testing.T) {
	tests := []struct {
		name  string
		count int64
		sum   int64
		want  float64
	}{
		{"empty", 0, 0, 0},
		{"single five", 1, 5, 5.0},
		{"four and five", 2, 9, 4.5},
		{"round down", 3, 13, 4.3},
		{"round up", 3, 14, 4.7},
		{"half to even down", 4, 17, 4.2},
		{"half to even up", 4, 19, 4.8},
		{"half on odd tenth", 20, 87, 4.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := CourseAggregate{Count: tt.count, Sum: tt.sum}
			if got := agg.RoundedAverage(); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("RoundedAverage(%d/%d) = %v, want %v", tt.sum, tt.count, got, tt.want)
			}
		})
	}
}

func TestAverageEmptyIsZero(t *testing.T) {
	agg := CourseAggregate{}
	if got := agg.Average(); got != 0 || math.IsNaN(got) {
		t.Fatalf("Average() = %v, want 0", got)
	}
}

func TestHistogram(t *testing.T) {
	var h Histogram
	h.Add(5, 1)
	h.Add(4, 2)
	h.Add(0, 7)
	h.Add(6, 7)
	if h.Total() != 3 {
		t.Fatalf("Total() = %d, want 3", h.Total())
	}
	if h.WeightedSum() != 13 {
		t.Fatalf("WeightedSum() = %d, want 13", h.WeightedSum())
	}
	if h.Get(4) != 2 || h.Get(0) != 0 {
		t.Fatalf("Get returned unexpected buckets: %v", h)
	}
}

func TestCourseAggregateValidate(t *testing.T) {
	ok := CourseAggregate{CourseID: "c", Count: 2, Sum: 9, Histogram: Histogram{0, 0, 0, 1, 1}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	badCount := ok
	badCount.Count = 3
	if err := badCount.Validate(); err == nil {
		t.Fatalf("expected count mismatch error")
	}

	badSum := ok
	badSum.Sum = 8
	if err := badSum.Validate(); err == nil {
		t.Fatalf("expected sum mismatch error")
	}

	negative := CourseAggregate{Count: 0, Sum: 0, Histogram: Histogram{1, -1, 0, 0, 0}}
	negative.Sum = negative.Histogram.WeightedSum()
	if err := negative.Validate(); err == nil {
		t.Fatalf("expected negative bucket error")
	}
}
