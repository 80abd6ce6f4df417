package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/upskillpro-ratings/internal/aggregate"
	"github.com/Clark-Hu/upskillpro-ratings/internal/domain"
	"github.com/Clark-Hu/upskillpro-ratings/internal/keys"
)

// RatingsRepository stores rating rows and course aggregates in rating_items.
type RatingsRepository struct {
	pool *pgxpool.Pool
}

const ratingColumns = `
    ri.course_id,
    ri.user_id,
    ri.stars,
    ri.review,
    ri.display_name,
    ri.created_at,
    ri.updated_at
`

const aggregateColumns = `
    course_id,
    rating_count,
    rating_sum,
    stars_1,
    stars_2,
    stars_3,
    stars_4,
    stars_5,
    updated_at
`

// GetRating returns the caller's rating for a course, or nil when none exists.
func (r *RatingsRepository) GetRating(ctx context.Context, courseID, userID string) (*domain.Rating, error) {
	return getRating(ctx, r.pool, courseID, userID)
}

func getRating(ctx context.Context, q pgxQuerier, courseID, userID string) (*domain.Rating, error) {
	key := keys.RatingKey(courseID, userID)
	query := fmt.Sprintf(`SELECT %s FROM rating_items ri WHERE ri.pk = $1 AND ri.sk = $2`, ratingColumns)
	rating, err := scanRating(q.QueryRow(ctx, query, key.PK, key.SK))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rating %s: %w", key, err)
	}
	return &rating, nil
}

// PutRating performs one read-plan-commit cycle. The rating row and the
// aggregate delta commit in a single transaction conditioned on the prior
// state that was read; a concurrent change yields ErrConditionFailed.
func (r *RatingsRepository) PutRating(ctx context.Context, params PutParams) (PutResult, error) {
	if !domain.ValidStars(params.Stars) {
		return PutResult{}, ErrInvalidRating
	}
	prev, err := r.GetRating(ctx, params.CourseID, params.UserID)
	if err != nil {
		return PutResult{}, err
	}
	plan, err := aggregate.PlanPut(prev, params.Stars)
	if err != nil {
		return PutResult{}, fmt.Errorf("%w: %v", ErrInvalidRating, err)
	}
	rating := buildRating(prev, params)

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var tag pgconn.CommandTag
		var err error
		if plan.Shape == aggregate.ShapeCreate {
			tag, err = insertRating(ctx, tx, rating)
		} else {
			tag, err = updateRating(ctx, tx, rating, *plan.PrevStars)
		}
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConditionFailed
		}
		if plan.Delta.IsZero() {
			return nil
		}
		return applyDelta(ctx, tx, params.CourseID, plan.Delta, rating.UpdatedAt)
	})
	if err != nil {
		return PutResult{}, err
	}

	return PutResult{
		Rating:        rating,
		Shape:         plan.Shape,
		Created:       plan.Shape == aggregate.ShapeCreate,
		PreviousStars: plan.PrevStars,
	}, nil
}

// DeleteRating removes the caller's rating and decrements the aggregate in the
// same transaction. A missing rating yields ErrNotFound.
func (r *RatingsRepository) DeleteRating(ctx context.Context, courseID, userID string) (DeleteResult, error) {
	prev, err := r.GetRating(ctx, courseID, userID)
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

	key := keys.RatingKey(courseID, userID)
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM rating_items WHERE pk = $1 AND sk = $2 AND stars = $3`, key.PK, key.SK, *plan.PrevStars)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConditionFailed
		}
		return applyDelta(ctx, tx, courseID, plan.Delta, timestamp(time.Time{}))
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{Deleted: *prev}, nil
}

func insertRating(ctx context.Context, tx pgx.Tx, rating domain.Rating) (pgconn.CommandTag, error) {
	key := keys.RatingKey(rating.CourseID, rating.UserID)
	userKey := keys.UserRatingKey(rating.UserID, rating.CourseID)
	return tx.Exec(ctx, `
        INSERT INTO rating_items (pk, sk, gsi1_pk, gsi1_sk, course_id, user_id, stars, review, display_name, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (pk, sk) DO NOTHING
    `, key.PK, key.SK, userKey.PK, userKey.SK, rating.CourseID, rating.UserID, rating.Stars, rating.Review,
		nullIfEmpty(rating.UserDisplayName), rating.CreatedAt, rating.UpdatedAt)
}

func updateRating(ctx context.Context, tx pgx.Tx, rating domain.Rating, prevStars int) (pgconn.CommandTag, error) {
	key := keys.RatingKey(rating.CourseID, rating.UserID)
	return tx.Exec(ctx, `
        UPDATE rating_items
        SET stars = $3,
            review = $4,
            display_name = $5,
            updated_at = GREATEST(updated_at, $6)
        WHERE pk = $1 AND sk = $2 AND stars = $7
    `, key.PK, key.SK, rating.Stars, rating.Review, nullIfEmpty(rating.UserDisplayName), rating.UpdatedAt, prevStars)
}

// applyDelta adds d to the course aggregate, creating the row on first use.
// CHECK constraints reject any delta that would drive a bucket negative.
func applyDelta(ctx context.Context, tx pgx.Tx, courseID string, d aggregate.Delta, at time.Time) error {
	key := keys.AggregateKey(courseID)
	h := d.Histogram
	_, err := tx.Exec(ctx, `
        INSERT INTO rating_items (pk, sk, course_id, rating_count, rating_sum, stars_1, stars_2, stars_3, stars_4, stars_5, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
        ON CONFLICT (pk, sk) DO UPDATE SET
            rating_count = rating_items.rating_count + EXCLUDED.rating_count,
            rating_sum = rating_items.rating_sum + EXCLUDED.rating_sum,
            stars_1 = rating_items.stars_1 + EXCLUDED.stars_1,
            stars_2 = rating_items.stars_2 + EXCLUDED.stars_2,
            stars_3 = rating_items.stars_3 + EXCLUDED.stars_3,
            stars_4 = rating_items.stars_4 + EXCLUDED.stars_4,
            stars_5 = rating_items.stars_5 + EXCLUDED.stars_5,
            updated_at = GREATEST(rating_items.updated_at, EXCLUDED.updated_at)
    `, key.PK, key.SK, courseID, d.Count, d.Sum, h[0], h[1], h[2], h[3], h[4], at)
	if err != nil {
		return fmt.Errorf("apply aggregate delta %s: %w", key, err)
	}
	return nil
}

// GetAggregate returns the course aggregate; a course without ratings yields
// the zero aggregate.
func (r *RatingsRepository) GetAggregate(ctx context.Context, courseID string) (domain.CourseAggregate, error) {
	return getAggregate(ctx, r.pool, courseID, false)
}

func getAggregate(ctx context.Context, q pgxQuerier, courseID string, forUpdate bool) (domain.CourseAggregate, error) {
	key := keys.AggregateKey(courseID)
	query := fmt.Sprintf(`SELECT %s FROM rating_items WHERE pk = $1 AND sk = $2`, aggregateColumns)
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var agg domain.CourseAggregate
	h := &agg.Histogram
	err := q.QueryRow(ctx, query, key.PK, key.SK).Scan(
		&agg.CourseID,
		&agg.Count,
		&agg.Sum,
		&h[0], &h[1], &h[2], &h[3], &h[4],
		&agg.LastUpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CourseAggregate{CourseID: courseID}, nil
		}
		return domain.CourseAggregate{}, fmt.Errorf("get aggregate %s: %w", key, err)
	}
	return agg, nil
}

// ListCourseRatings pages through a course's ratings, newest first with ties
// broken by user id.
func (r *RatingsRepository) ListCourseRatings(ctx context.Context, courseID string, opts ListOptions) (domain.RatingPage, error) {
	return r.list(ctx, listQuery{
		where:    "ri.pk = %s AND ri.sk LIKE 'RATING#%%'",
		value:    keys.CoursePartition(courseID),
		tieBreak: "ri.user_id",
		cursorID: func(r domain.Rating) string { return r.UserID },
	}, opts)
}

// ListUserRatings pages through the ratings one user has written, newest
// first with ties broken by course id.
func (r *RatingsRepository) ListUserRatings(ctx context.Context, userID string, opts ListOptions) (domain.RatingPage, error) {
	return r.list(ctx, listQuery{
		where:    "ri.gsi1_pk = %s",
		value:    keys.UserPartition(userID),
		tieBreak: "ri.course_id",
		cursorID: func(r domain.Rating) string { return r.CourseID },
	}, opts)
}

type listQuery struct {
	where    string
	value    string
	tieBreak string
	cursorID func(domain.Rating) string
}

func (r *RatingsRepository) list(ctx context.Context, lq listQuery, opts ListOptions) (domain.RatingPage, error) {
	limit := opts.pageSize()

	where := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	where = append(where, fmt.Sprintf(lq.where, arg(lq.value)))
	if opts.Cursor != nil {
		ts := arg(opts.Cursor.CreatedAt)
		id := arg(opts.Cursor.Key)
		where = append(where, fmt.Sprintf("(ri.created_at < %s OR (ri.created_at = %s AND %s > %s))", ts, ts, lq.tieBreak, id))
	}
	join := ""
	if opts.HideInactive {
		join = "LEFT JOIN users u ON u.id = ri.user_id"
		where = append(where, "COALESCE(u.active, TRUE)")
	}

	query := fmt.Sprintf(`SELECT %s FROM rating_items ri %s WHERE %s ORDER BY ri.created_at DESC, %s ASC LIMIT %s`,
		ratingColumns, join, strings.Join(where, " AND "), lq.tieBreak, arg(limit+1))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return domain.RatingPage{}, fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()

	ratings := make([]domain.Rating, 0, limit)
	for rows.Next() {
		rating, err := scanRating(rows)
		if err != nil {
			return domain.RatingPage{}, err
		}
		ratings = append(ratings, rating)
	}
	if err := rows.Err(); err != nil {
		return domain.RatingPage{}, err
	}

	return pageOf(ratings, limit, lq.cursorID)
}

func pageOf(ratings []domain.Rating, limit int, cursorID func(domain.Rating) string) (domain.RatingPage, error) {
	page := domain.RatingPage{Ratings: ratings}
	if len(ratings) > limit {
		page.Ratings = ratings[:limit]
		last := page.Ratings[limit-1]
		next, err := nextCursor(last.CreatedAt, cursorID(last))
		if err != nil {
			return domain.RatingPage{}, err
		}
		page.NextCursor = next
	}
	return page, nil
}

// ListRecentReviews returns up to limit of the newest ratings on a course that
// carry review text.
func (r *RatingsRepository) ListRecentReviews(ctx context.Context, courseID string, limit int, hideInactive bool) ([]domain.Rating, error) {
	join, filter := "", ""
	if hideInactive {
		join = "LEFT JOIN users u ON u.id = ri.user_id"
		filter = "AND COALESCE(u.active, TRUE)"
	}
	query := fmt.Sprintf(`
        SELECT %s FROM rating_items ri %s
        WHERE ri.pk = $1 AND ri.sk LIKE 'RATING#%%' AND ri.review IS NOT NULL %s
        ORDER BY ri.created_at DESC, ri.user_id ASC
        LIMIT $2
    `, ratingColumns, join, filter)

	rows, err := r.pool.Query(ctx, query, keys.CoursePartition(courseID), limit)
	if err != nil {
		return nil, fmt.Errorf("list recent reviews: %w", err)
	}
	defer rows.Close()

	var reviews []domain.Rating
	for rows.Next() {
		rating, err := scanRating(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, rating)
	}
	return reviews, rows.Err()
}

// PurgeCourse deletes every rating of a course together with its aggregate and
// reports how many ratings were removed.
func (r *RatingsRepository) PurgeCourse(ctx context.Context, courseID string) (int64, error) {
	var removed int64
	err := r.pool.QueryRow(ctx, `
        WITH gone AS (
            DELETE FROM rating_items WHERE pk = $1 RETURNING sk
        )
        SELECT count(*) FILTER (WHERE sk <> $2) FROM gone
    `, keys.CoursePartition(courseID), keys.AggregateSort).Scan(&removed)
	if err != nil {
		return 0, fmt.Errorf("purge course %s: %w", courseID, err)
	}
	return removed, nil
}

// RebuildAggregate recomputes a course aggregate from its rating rows. The
// aggregate row is locked first, so writers that commit afterwards apply their
// deltas on top of the rebuilt value.
func (r *RatingsRepository) RebuildAggregate(ctx context.Context, courseID string) (domain.CourseAggregate, error) {
	var rebuilt domain.CourseAggregate
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := applyDelta(ctx, tx, courseID, aggregate.Delta{}, timestamp(time.Time{})); err != nil {
			return err
		}
		if _, err := getAggregate(ctx, tx, courseID, true); err != nil {
			return err
		}

		query := fmt.Sprintf(`SELECT %s FROM rating_items ri WHERE ri.pk = $1 AND ri.sk LIKE 'RATING#%%'`, ratingColumns)
		rows, err := tx.Query(ctx, query, keys.CoursePartition(courseID))
		if err != nil {
			return err
		}
		ratings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Rating, error) {
			return scanRating(row)
		})
		if err != nil {
			return err
		}

		rebuilt, err = aggregate.Recompute(courseID, ratings)
		if err != nil {
			return err
		}
		if rebuilt.LastUpdatedAt.IsZero() {
			rebuilt.LastUpdatedAt = timestamp(time.Time{})
		}

		key := keys.AggregateKey(courseID)
		h := rebuilt.Histogram
		_, err = tx.Exec(ctx, `
            UPDATE rating_items
            SET rating_count = $3, rating_sum = $4,
                stars_1 = $5, stars_2 = $6, stars_3 = $7, stars_4 = $8, stars_5 = $9,
                updated_at = GREATEST(created_at, $10)
            WHERE pk = $1 AND sk = $2
        `, key.PK, key.SK, rebuilt.Count, rebuilt.Sum, h[0], h[1], h[2], h[3], h[4], rebuilt.LastUpdatedAt)
		return err
	})
	if err != nil {
		return domain.CourseAggregate{}, fmt.Errorf("rebuild aggregate %s: %w", courseID, err)
	}
	return rebuilt, nil
}

// IsTransient reports whether err is a storage failure worth one more try:
// lost connections, serialization failures and deadlocks.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"):
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P01", pgErr.Code == "53300":
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanRating(row pgx.Row) (domain.Rating, error) {
	var rating domain.Rating
	var displayName *string
	err := row.Scan(
		&rating.CourseID,
		&rating.UserID,
		&rating.Stars,
		&rating.Review,
		&displayName,
		&rating.CreatedAt,
		&rating.UpdatedAt,
	)
	if err != nil {
		return domain.Rating{}, err
	}
	if displayName != nil {
		rating.UserDisplayName = *displayName
	}
	rating.CreatedAt = rating.CreatedAt.UTC()
	rating.UpdatedAt = rating.UpdatedAt.UTC()
	return rating, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
