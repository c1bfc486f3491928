package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/protrackhq/protrack/internal/store"
)

// PGEntryStore implements store.EntryStore backed by Postgres.
type PGEntryStore struct {
	db *sql.DB
}

func NewPGEntryStore(db *sql.DB) *PGEntryStore {
	return &PGEntryStore{db: db}
}

func (s *PGEntryStore) Create(ctx context.Context, entry *store.ProteinEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.Must(uuid.NewV7()).String()
	}
	if entry.ConsumedAt.IsZero() {
		entry.ConsumedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO protein_entries (id, user_id, grams, description, consumed_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.UserID, entry.Grams, entry.Description, entry.ConsumedAt)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (s *PGEntryStore) Delete(ctx context.Context, userID, entryID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM protein_entries WHERE id = $1 AND user_id = $2`,
		entryID, userID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrEntryNotFound
	}
	return nil
}

func (s *PGEntryStore) ListSince(ctx context.Context, userID string, since time.Time) ([]store.ProteinEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, grams, description, consumed_at
		 FROM protein_entries
		 WHERE user_id = $1 AND consumed_at >= $2
		 ORDER BY consumed_at ASC`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []store.ProteinEntry
	for rows.Next() {
		var e store.ProteinEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Grams, &e.Description, &e.ConsumedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PGEntryStore) SumGramsSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(grams), 0)
		 FROM protein_entries
		 WHERE user_id = $1 AND consumed_at >= $2`,
		userID, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum entries: %w", err)
	}
	return total, nil
}
