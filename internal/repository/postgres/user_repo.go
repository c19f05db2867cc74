package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// UserRepo answers directory lookups against the shared users table.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) FindExistingIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE id = ANY($1::uuid[])`, uuidStrings(ids))
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.FindExistingIDs")
	}
	defer rows.Close()

	var found []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "userRepo.FindExistingIDs.Scan")
		}
		found = append(found, id)
	}
	return found, errors.Wrap(rows.Err(), "userRepo.FindExistingIDs.Rows")
}

// Upsert writes a directory row. The messaging core never calls it; it
// exists for seeding development databases and tests.
func (r *UserRepo) Upsert(ctx context.Context, id uuid.UUID, name string, avatarURL *string) error {
	query := `
		INSERT INTO users (id, name, avatar_url) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url`
	_, err := r.pool.Exec(ctx, query, id, name, avatarURL)
	return errors.Wrap(err, "userRepo.Upsert")
}
