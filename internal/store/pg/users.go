package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/protrackhq/protrack/internal/store"
)

// PGUserStore implements store.UserStore backed by Postgres.
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

func (s *PGUserStore) GetByPhone(ctx context.Context, phone string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone, daily_target_grams, weight_kg, created_at
		 FROM users WHERE phone = $1`, phone)
	return scanUser(row)
}

func (s *PGUserStore) Get(ctx context.Context, id string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone, daily_target_grams, weight_kg, created_at
		 FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*store.User, error) {
	var u store.User
	var target, weight sql.NullFloat64

	err := row.Scan(&u.ID, &u.Name, &u.Phone, &target, &weight, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}

	if target.Valid {
		u.DailyTargetGrams = &target.Float64
	}
	if weight.Valid {
		u.WeightKg = &weight.Float64
	}
	return &u, nil
}
