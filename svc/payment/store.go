package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines ledger persistence. The processor's payment intent ref is
// the primary key; the upsert operations absorb duplicate and out-of-order
// webhook deliveries so callers can replay them freely.
type Store interface {
	// Create inserts a pending ledger record.
	// Returns ErrAlreadyExists if the intent ref is already recorded.
	Create(ctx context.Context, p *Payment) error

	// GetByIntentID retrieves a record by payment intent ref.
	// Returns ErrNotFound if none exists.
	GetByIntentID(ctx context.Context, intentID string) (*Payment, error)

	// ListByUser returns the user's payment history, newest first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Payment, error)

	// UpsertSucceeded marks the intent succeeded, creating the record if it
	// does not exist. PaidAt is set only on the first success observation;
	// replays leave it unchanged. Returns true when this call performed the
	// transition, so concurrent replays resolve to exactly one true.
	UpsertSucceeded(ctx context.Context, ref IntentRef, paidAt time.Time) (bool, error)

	// UpsertFailed marks the intent failed with the given reason, creating
	// the record if it does not exist. A failure observed after a recorded
	// success is ignored.
	UpsertFailed(ctx context.Context, ref IntentRef, reason string) error

	// SetRefunded marks an existing succeeded payment as refunded.
	// Returns ErrNotFound if the intent is not recorded.
	SetRefunded(ctx context.Context, intentID string) error
}
