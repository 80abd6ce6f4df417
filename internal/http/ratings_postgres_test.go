package httpserver

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Clark-Hu/upskillpro-ratings/internal/config"
	"github.com/Clark-Hu/upskillpro-ratings/internal/domain"
	"github.com/Clark-Hu/upskillpro-ratings/internal/enrollment"
	"github.com/Clark-Hu/upskillpro-ratings/internal/rating"
	"github.com/Clark-Hu/upskillpro-ratings/internal/repository"
	"github.com/Clark-Hu/upskillpro-ratings/internal/store/storetest"
)

type poolHealth struct{ ping func(context.Context) error }

func (p poolHealth) HealthCheck(ctx context.Context) error { return p.ping(ctx) }

func TestRatingsAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	pool := storetest.NewPool(t, "ratings_handlers_test")
	repo := repository.NewWithPool(pool)
	oracle := enrollment.NewPostgresOracle(pool)

	if _, err := repo.Courses.Create(ctx, repository.CourseCreateParams{ID: "C", InstructorUserID: "inst", Title: "Go Basics"}); err != nil {
		t.Fatalf("create course: %v", err)
	}
	for _, user := range []string{"u1", "u2"} {
		if err := repo.Users.Upsert(ctx, domain.User{ID: user, DisplayName: strings.ToUpper(user), Active: true}); err != nil {
			t.Fatalf("upsert user: %v", err)
		}
		storetest.Exec(t, pool, `INSERT INTO enrollments (course_id, user_id) VALUES ($1, $2)`, "C", user)
	}

	svc := rating.NewService(repo.Ratings, oracle, repo, rating.Options{Backoff: time.Millisecond})
	cfg := config.Config{JWTSecret: testSecret, CORSAllowedOrigins: []string{"*"}, RequestTimeoutSecs: 10}
	ts := &testServer{srv: New(cfg, svc, poolHealth{ping: pool.Ping}, nil)}

	u1 := token(t, "u1", domain.RoleStudent)
	u2 := token(t, "u2", domain.RoleStudent)
	for _, step := range []struct {
		tok, body string
	}{
		{u1, `{"rating":5,"review":"Great!"}`},
		{u2, `{"rating":4}`},
		{u1, `{"rating":3,"review":"Great!"}`},
	} {
		if rec := ts.do(t, http.MethodPost, "/api/courses/C/ratings", step.tok, step.body); rec.Code != http.StatusOK {
			t.Fatalf("submit %s: %d %s", step.body, rec.Code, rec.Body.String())
		}
	}
	expectCode(t, ts.do(t, http.MethodPost, "/api/courses/C/ratings", u2, `{"rating":5,"review":"good\u0000course"}`),
		http.StatusBadRequest, rating.CodeValidation)

	if rec := ts.do(t, http.MethodDelete, "/api/courses/C/ratings", u1, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}

	stats := ts.do(t, http.MethodGet, "/api/courses/C/ratings/stats", "", "")
	want := `{"averageRating":4.0,"ratingCount":1,"distribution":{"1":0,"2":0,"3":0,"4":1,"5":0}}`
	if got := strings.TrimSpace(stats.Body.String()); got != want {
		t.Fatalf("stats = %s, want %s", got, want)
	}

	rec := ts.do(t, http.MethodGet, "/api/courses/C/ratings/me", u2, "")
	if mine := decode[ratingResponse](t, rec); rec.Code != http.StatusOK || mine.UserDisplayName != "U2" {
		t.Fatalf("get mine: %d %s", rec.Code, rec.Body.String())
	}

	expectCode(t, ts.do(t, http.MethodPost, "/api/courses/C/ratings", token(t, "nobody", domain.RoleStudent), `{"rating":5}`),
		http.StatusForbidden, rating.CodeNotEnrolled)

	if rec := ts.do(t, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}
