package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/Clark-Hu/upskillpro-ratings/internal/domain"
)

func TestMemoryRatings_ConditionFailsOnInterleavedWrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRatings(nil)

	// Another writer creates the row between our read and our commit.
	m.beforeCommit = func() {
		m.beforeCommit = nil
		if _, err := m.PutRating(ctx, PutParams{CourseID: "C", UserID: "u", Stars: 2}); err != nil {
			t.Errorf("interleaved put: %v", err)
		}
	}
	_, err := m.PutRating(ctx, PutParams{CourseID: "C", UserID: "u", Stars: 5})
	if !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("err = %v, want ErrConditionFailed", err)
	}

	agg, _ := m.GetAggregate(ctx, "C")
	if agg.Count != 1 || agg.Sum != 2 {
		t.Fatalf("aggregate = %+v, want only the interleaved rating", agg)
	}

	// Retrying re-reads and now plans an update.
	res, err := m.PutRating(ctx, PutParams{CourseID: "C", UserID: "u", Stars: 5})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Created || res.PreviousStars == nil || *res.PreviousStars != 2 {
		t.Fatalf("unexpected retry result: %+v", res)
	}
	agg, _ = m.GetAggregate(ctx, "C")
	if agg.Count != 1 || agg.Sum != 5 || agg.Histogram != (domain.Histogram{0, 0, 0, 0, 1}) {
		t.Fatalf("aggregate after retry = %+v", agg)
	}
}

func TestMemoryRatings_DeleteRace(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRatings(nil)
	if _, err := m.PutRating(ctx, PutParams{CourseID: "C", UserID: "u", Stars: 4}); err != nil {
		t.Fatalf("put: %v", err)
	}

	m.beforeCommit = func() {
		m.beforeCommit = nil
		if _, err := m.DeleteRating(ctx, "C", "u"); err != nil {
			t.Errorf("interleaved delete: %v", err)
		}
	}
	if _, err := m.DeleteRating(ctx, "C", "u"); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("err = %v, want ErrConditionFailed", err)
	}
	if _, err := m.DeleteRating(ctx, "C", "u"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	agg, _ := m.GetAggregate(ctx, "C")
	if agg.Count != 0 || agg.Sum != 0 || agg.Histogram != (domain.Histogram{}) {
		t.Fatalf("aggregate decremented twice: %+v", agg)
	}
}

func TestMemoryRatings_ListingsAndHideInactive(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	dir.PutUser(domain.User{ID: "u1", Active: false})
	m := NewMemoryRatings(dir)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		review := fmt.Sprintf("review %d", i)
		_, err := m.PutRating(ctx, PutParams{CourseID: "C", UserID: fmt.Sprintf("u%d", i), Stars: 3, Review: &review, Now: base.Add(time.Duration(i) * time.Second)})
		if err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	first, err := m.ListCourseRatings(ctx, "C", ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Ratings) != 2 || first.Ratings[0].UserID != "u4" || first.NextCursor == nil {
		t.Fatalf("first page: %+v", first)
	}
	cursor, err := DecodeCursor(*first.NextCursor)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rest, _ := m.ListCourseRatings(ctx, "C", ListOptions{Limit: 10, Cursor: cursor, HideInactive: true})
	if len(rest.Ratings) != 2 || rest.Ratings[0].UserID != "u2" || rest.Ratings[1].UserID != "u0" || rest.NextCursor != nil {
		t.Fatalf("second page: %+v", rest)
	}

	reviews, err := m.ListRecentReviews(ctx, "C", 3, true)
	if err != nil {
		t.Fatalf("reviews: %v", err)
	}
	if len(reviews) != 3 || reviews[2].UserID != "u2" {
		t.Fatalf("recent reviews: %+v", reviews)
	}

	removed, _ := m.PurgeCourse(ctx, "C")
	if removed != 5 {
		t.Fatalf("removed = %d, want 5", removed)
	}
	mine, _ := m.ListUserRatings(ctx, "u3", ListOptions{})
	if len(mine.Ratings) != 0 {
		t.Fatalf("user index survived purge: %+v", mine.Ratings)
	}
}

func TestDecodeCursor(t *testing.T) {
	token, err := EncodeCursor(Cursor{CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Key: "u1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cursor, err := DecodeCursor(token)
	if err != nil || cursor.Key != "u1" {
		t.Fatalf("round trip = %+v %v", cursor, err)
	}

	if cursor, err := DecodeCursor(""); cursor != nil || err != nil {
		t.Fatalf("empty token = %+v %v", cursor, err)
	}
	for _, bad := range []string{"not base64!", "bnVsbA", "e30"} {
		if _, err := DecodeCursor(bad); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("DecodeCursor(%q) err = %v, want ErrInvalidCursor", bad, err)
		}
	}
}

type aggregateStore interface {
	PutRating(ctx context.Context, params PutParams) (PutResult, error)
	DeleteRating(ctx context.Context, courseID, userID string) (DeleteResult, error)
	GetAggregate(ctx context.Context, courseID string) (domain.CourseAggregate, error)
}

// runRandomSequence applies random puts and deletes and checks the stored
// aggregate against the surviving ratings after every write.
func runRandomSequence(t *testing.T, store aggregateStore, rnd *rand.Rand, ops int) {
	t.Helper()
	ctx := context.Background()
	stars := map[string]int{}
	for op := 0; op < ops; op++ {
		user := fmt.Sprintf("u%d", rnd.Intn(6))
		if _, exists := stars[user]; exists && rnd.Intn(4) == 0 {
			if _, err := store.DeleteRating(ctx, "C", user); err != nil {
				t.Fatalf("op %d delete %s: %v", op, user, err)
			}
			delete(stars, user)
		} else {
			n := 1 + rnd.Intn(5)
			params := PutParams{CourseID: "C", UserID: user, Stars: n, Now: time.Unix(int64(1000+op), 0).UTC()}
			if _, err := store.PutRating(ctx, params); err != nil {
				t.Fatalf("op %d put %s=%d: %v", op, user, n, err)
			}
			stars[user] = n
		}

		agg, err := store.GetAggregate(ctx, "C")
		if err != nil {
			t.Fatalf("op %d GetAggregate: %v", op, err)
		}
		if err := agg.Validate(); err != nil {
			t.Fatalf("op %d: %v", op, err)
		}
		var want domain.Histogram
		for _, n := range stars {
			want[n-1]++
		}
		if agg.Histogram != want || agg.Count != int64(len(stars)) {
			t.Fatalf("op %d: aggregate %+v, want histogram %v", op, agg, want)
		}
	}
}

func TestMemoryRatings_RandomSequencesKeepInvariants(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		runRandomSequence(t, NewMemoryRatings(nil), rnd, 80)
	}
}
