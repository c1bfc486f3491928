package store

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned when no user matches the given lookup key.
// Callers distinguish it from transient store failures with errors.Is.
var ErrUserNotFound = errors.New("user not found")

// ErrEntryNotFound is returned when a protein entry does not exist or does
// not belong to the requesting user.
var ErrEntryNotFound = errors.New("entry not found")

// User is a registered account, keyed by the phone number the person
// messages from.
type User struct {
	ID               string
	Name             string
	Phone            string   // canonical number, digits only (no @ suffix)
	DailyTargetGrams *float64 // optional daily protein target
	WeightKg         *float64 // optional body weight
	CreatedAt        time.Time
}

// ProteinEntry is one recorded consumption event.
type ProteinEntry struct {
	ID          string
	UserID      string
	Grams       float64
	Description string
	ConsumedAt  time.Time
}

// UserStore provides read access to registered users.
type UserStore interface {
	GetByPhone(ctx context.Context, phone string) (*User, error)
	Get(ctx context.Context, id string) (*User, error)
}

// EntryStore persists protein consumption entries.
type EntryStore interface {
	Create(ctx context.Context, entry *ProteinEntry) error
	// Delete removes an entry owned by userID. Returns ErrEntryNotFound if
	// the entry does not exist or belongs to another user.
	Delete(ctx context.Context, userID, entryID string) error
	ListSince(ctx context.Context, userID string, since time.Time) ([]ProteinEntry, error)
	SumGramsSince(ctx context.Context, userID string, since time.Time) (float64, error)
}

// Stores bundles all persistence interfaces for injection.
type Stores struct {
	Users   UserStore
	Entries EntryStore
}
