// Package billing wraps the external payment processor behind a narrow
// Gateway interface so the reconciliation engine and webhook ingress never
// touch provider SDK types directly.
package billing

import (
	"context"
	"errors"
	"time"
)

var (
	ErrGateway          = errors.New("billing: gateway request failed")
	ErrInvalidSignature = errors.New("billing: webhook signature verification failed")
	ErrMissingAPIKey    = errors.New("billing: API key is required")
	ErrMissingSecret    = errors.New("billing: webhook secret is required")
)

// Gateway is the minimal surface the core needs from the payment processor.
// All calls are blocking remote I/O with bounded timeouts; any transport or
// provider error is wrapped in ErrGateway.
type Gateway interface {
	// FindCustomerByEmail returns the customer ref for email, or empty
	// string when no customer exists. Used to keep customer creation
	// idempotent across retried subscription creates.
	FindCustomerByEmail(ctx context.Context, email string) (string, error)

	// CreateCustomer registers a new customer and returns its ref.
	CreateCustomer(ctx context.Context, email, name string) (string, error)

	// CreateSubscription creates a remote subscription for the customer on
	// the given price.
	CreateSubscription(ctx context.Context, customerRef, priceRef, userID string) (*RemoteSubscription, error)

	// UpdateSubscription moves an existing remote subscription to a new
	// price; proration arithmetic is entirely the processor's concern.
	UpdateSubscription(ctx context.Context, subscriptionRef, priceRef string) (*RemoteSubscription, error)

	// CancelSubscription cancels the remote subscription immediately.
	CancelSubscription(ctx context.Context, subscriptionRef string) error

	// CreatePaymentIntent opens a payment intent and returns its client
	// secret for frontend confirmation.
	CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error)

	// Refund refunds a payment intent. amount == 0 means a full refund.
	Refund(ctx context.Context, paymentIntentRef string, amount int64) error

	// ParseWebhook verifies the signature over the raw payload and decodes
	// the event. Fails closed with ErrInvalidSignature.
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

// RemoteSubscription is the provider's subscription object, reduced to the
// fields the engine persists.
type RemoteSubscription struct {
	ID       string
	ItemRef  string
	PriceRef string
	Amount   int64 // minor currency units
	Currency string
	Status   string
}

// CreatePaymentIntentParams describes a new payment intent.
type CreatePaymentIntentParams struct {
	UserID   string
	Amount   int64 // minor currency units
	Currency string
	Metadata map[string]string
}

// PaymentIntent is the provider's payment intent, reduced to what callers
// need to confirm the payment client-side.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       string
}

// Event is a verified, decoded webhook event. Exactly one of the typed data
// fields is populated depending on Kind; all may be nil for kinds the core
// does not model.
type Event struct {
	ID            string
	Kind          string
	Subscription  *SubscriptionEventData
	PaymentIntent *PaymentIntentEventData
	Invoice       *InvoiceEventData
}

// SubscriptionEventData carries the provider-authoritative subscription state.
type SubscriptionEventData struct {
	ID                 string
	CustomerRef        string
	Status             string
	CancelAtPeriodEnd  bool
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
}

// PaymentIntentEventData carries payment intent outcomes.
type PaymentIntentEventData struct {
	ID             string
	CustomerRef    string
	UserID         string
	Amount         int64
	Currency       string
	FailureMessage string
}

// InvoiceEventData carries invoice events, which the core only logs.
type InvoiceEventData struct {
	ID         string
	AmountPaid int64
	Currency   string
}
