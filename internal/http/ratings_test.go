package httpserver

import (
	"net/http"
	"testing"

	"github.com/Clark-Hu/upskillpro-ratings/internal/domain"
	"github.com/Clark-Hu/upskillpro-ratings/internal/rating"
)

func TestOneDecimal(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{0, "0.0"},
		{5, "5.0"},
		{4.5, "4.5"},
		{3.7, "3.7"},
	}
	for _, tt := range tests {
		got, err := oneDecimal(tt.value).MarshalJSON()
		if err != nil || string(got) != tt.want {
			t.Fatalf("oneDecimal(%v) = %s, %v; want %s", tt.value, got, err, tt.want)
		}
	}
}

func TestStatusForKind(t *testing.T) {
	tests := map[rating.Kind]int{
		rating.KindValidation:      http.StatusBadRequest,
		rating.KindUnauthenticated: http.StatusUnauthorized,
		rating.KindForbidden:       http.StatusForbidden,
		rating.KindNotFound:        http.StatusNotFound,
		rating.KindConflict:        http.StatusConflict,
		rating.KindUnavailable:     http.StatusServiceUnavailable,
		rating.KindTimeout:         http.StatusGatewayTimeout,
		rating.KindInternal:        http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := statusForKind(kind); got != want {
			t.Fatalf("statusForKind(%v) = %d, want %d", kind, got, want)
		}
	}
}

func TestToStatsResponseFillsEveryBucket(t *testing.T) {
	resp := toStatsResponse(rating.Stats{AverageRating: 4.5, RatingCount: 2, Distribution: domain.Histogram{0, 0, 0, 1, 1}})
	if len(resp.Distribution) != 5 {
		t.Fatalf("distribution = %v", resp.Distribution)
	}
	for key, want := range map[string]int64{"1": 0, "2": 0, "3": 0, "4": 1, "5": 1} {
		if resp.Distribution[key] != want {
			t.Fatalf("distribution[%s] = %d, want %d", key, resp.Distribution[key], want)
		}
	}
}
