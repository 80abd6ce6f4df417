package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/upskillpro-ratings/internal/domain"
)

// UsersRepository reads the user attributes ratings snapshot.
type UsersRepository struct {
	pool *pgxpool.Pool
}

// Upsert creates or replaces a user record.
func (r *UsersRepository) Upsert(ctx context.Context, user domain.User) error {
	role := user.Role
	if role == "" {
		role = domain.RoleStudent
	}
	_, err := r.pool.Exec(ctx, `
        INSERT INTO users (id, display_name, role, active)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (id) DO UPDATE SET
            display_name = EXCLUDED.display_name,
            role = EXCLUDED.role,
            active = EXCLUDED.active
    `, user.ID, user.DisplayName, string(role), user.Active)
	return err
}

// GetByID fetches a user by identifier.
func (r *UsersRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	var user domain.User
	var role string
	err := r.pool.QueryRow(ctx, `SELECT id, display_name, role, active FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.DisplayName, &role, &user.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, err
	}
	user.Role = domain.Role(role)
	return user, nil
}
