// Package users maps external channel identities to registered accounts.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/protrackhq/protrack/internal/store"
)

// Resolver looks up registered users by the phone number they message from.
type Resolver struct {
	users store.UserStore
}

func NewResolver(users store.UserStore) *Resolver {
	return &Resolver{users: users}
}

// ResolveByPhone returns the user registered under the given canonical phone
// number. store.ErrUserNotFound passes through unwrapped so callers can
// distinguish unknown senders from store outages.
func (r *Resolver) ResolveByPhone(ctx context.Context, phone string) (*store.User, error) {
	user, err := r.users.GetByPhone(ctx, phone)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, store.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user by phone: %w", err)
	}
	return user, nil
}
