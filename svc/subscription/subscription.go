// Package subscription implements the reconciliation core: it keeps the
// locally-owned subscription record consistent with the billing processor's
// remote subscription across user actions and webhook-sourced updates.
package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a subscription. Once a remote
// subscription exists, the billing processor is the source of truth for this
// field.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusCancelled Status = "cancelled"
	StatusPastDue   Status = "past_due"
	StatusTrialing  Status = "trialing"
)

// Subscription is the locally-owned billing record. Each user has exactly
// one; it is never hard-deleted so billing history survives cancellation.
type Subscription struct {
	UserID               uuid.UUID
	Plan                 Plan
	Status               Status
	StripeCustomerID     string // empty for FREE-only subscribers
	StripeSubscriptionID string
	StripePriceID        string
	CurrentPeriodStart   time.Time
	CurrentPeriodEnd     time.Time
	CancelAtPeriodEnd    bool
	CancelAt             *time.Time // mirrors CurrentPeriodEnd while a deferred cancel is scheduled
	Amount               int64      // minor currency units, snapshot at last creation/change
	Currency             string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsActive reports whether the subscription is currently active.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// IsCancelled reports whether the subscription was terminally cancelled.
func (s *Subscription) IsCancelled() bool {
	return s.Status == StatusCancelled
}

// HasRemote reports whether a remote subscription exists at the processor.
func (s *Subscription) HasRemote() bool {
	return s.StripeSubscriptionID != ""
}

// Identity carries the authenticated owner's contact details into operations
// that create processor customers or send notifications. It is supplied by
// the identity provider, which is external to this core.
type Identity struct {
	ID    uuid.UUID
	Email string
	Name  string
}

// mapRemoteStatus translates a processor-reported status into the local
// status set. Unknown processor states degrade to INACTIVE rather than being
// stored verbatim.
func mapRemoteStatus(remote string) Status {
	switch remote {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "past_due":
		return StatusPastDue
	case "canceled", "cancelled":
		return StatusCancelled
	default:
		return StatusInactive
	}
}
