package subscription

import (
	"context"

	"github.com/google/uuid"
)

// Store defines subscription persistence. Each user has exactly one
// subscription, so UserID serves as the primary key.
type Store interface {
	// Get retrieves a subscription by user ID.
	// Returns ErrNotFound if none exists.
	Get(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// GetByRemoteID retrieves a subscription by its remote subscription ref.
	// Returns ErrNotFound if none exists.
	GetByRemoteID(ctx context.Context, remoteSubID string) (*Subscription, error)

	// Create inserts a new subscription.
	// Returns ErrAlreadyExists if the user already has one.
	Create(ctx context.Context, sub *Subscription) error

	// Update overwrites an existing subscription keyed by UserID.
	// Returns ErrNotFound if none exists.
	Update(ctx context.Context, sub *Subscription) error
}
