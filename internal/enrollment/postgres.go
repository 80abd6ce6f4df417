package enrollment

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresOracle reads the enrollments table.
type PostgresOracle struct {
	pool *pgxpool.Pool
}

// NewPostgresOracle wraps pool.
func NewPostgresOracle(pool *pgxpool.Pool) *PostgresOracle {
	return &PostgresOracle{pool: pool}
}

// IsEnrolled reports whether an enrollments row exists.
func (o *PostgresOracle) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	var enrolled bool
	err := o.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM enrollments WHERE course_id = $1 AND user_id = $2)`,
		courseID, userID,
	).Scan(&enrolled)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return enrolled, nil
}
