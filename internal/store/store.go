// Package store provides durable persistence for the session identity.
package store

import (
	"context"

	"github.com/akazantsev/relaychat/internal/domain"
)

// Repository defines the interface for persisting the identity credential.
//
// The credential occupies two logical string slots (user id, secret key).
// Implementations must never expose a partially written credential: a load
// that finds only one slot populated reports no credential at all.
type Repository interface {
	// LoadCredential retrieves the stored credential.
	// Returns (nil, nil) when no complete credential exists.
	LoadCredential(ctx context.Context) (*domain.Credential, error)

	// SaveCredential durably writes both credential slots together.
	SaveCredential(ctx context.Context, cred domain.Credential) error

	// Ping verifies storage connectivity.
	Ping(ctx context.Context) error

	// Close closes the underlying storage.
	Close() error
}
