// Package payment keeps the ledger of payment intents and their outcomes.
// Records are written when an intent is opened locally and reconciled from
// processor webhooks, which may arrive before, after, or repeatedly relative
// to the local write.
package payment

import (
	"time"

	"github.com/google/uuid"
)

// Status represents a payment's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Payment is a ledger record keyed by the processor's payment intent ref.
type Payment struct {
	StripePaymentIntentID string
	UserID                uuid.UUID
	Amount                int64 // minor currency units
	Currency              string
	Status                Status
	FailureMessage        string
	PaidAt                *time.Time // set exactly once, on first observed success
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IntentRef identifies a payment intent observed in a webhook, carrying
// enough detail to create the ledger record when the local write never
// happened or has not landed yet.
type IntentRef struct {
	IntentID string
	UserID   uuid.UUID
	Amount   int64
	Currency string
}
