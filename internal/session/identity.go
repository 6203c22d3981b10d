// Package session carries the current user's identity. It is provided by the
// host and read-only to the sync layer.
package session

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Identity is the signed-in user as seen by the sync layer.
type Identity struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

// Valid reports whether the identity can scope subscriptions.
func (i Identity) Valid() bool {
	return i.Username != ""
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// FromContext retrieves the identity placed by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}
