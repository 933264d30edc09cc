package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/subkit/subkit/svc/billing"
)

// Notifier sends best-effort payment outcome email. Recipients are resolved
// from the user ID because webhook payloads carry no contact details.
type Notifier interface {
	PaymentSucceeded(ctx context.Context, userID uuid.UUID, amount int64, currency string) error
	PaymentFailed(ctx context.Context, userID uuid.UUID, reason string) error
}

// Service manages payment intents and reconciles their outcomes from
// processor webhooks.
type Service struct {
	store    Store
	gateway  billing.Gateway
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithNotifier wires a best-effort payment email notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the payment service. Panics if store or gateway is nil.
func NewService(store Store, gateway billing.Gateway, log *slog.Logger, opts ...Option) *Service {
	if store == nil {
		panic("payment: Store is required")
	}
	if gateway == nil {
		panic("payment: billing.Gateway is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		store:   store,
		gateway: gateway,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateIntent opens a payment intent at the processor and records it as
// pending. The returned intent carries the client secret the frontend needs
// to confirm the payment.
func (s *Service) CreateIntent(ctx context.Context, userID uuid.UUID, amount int64, currency string) (*billing.PaymentIntent, error) {
	if amount <= 0 {
		return nil, errors.New("payment: amount must be positive")
	}
	if currency == "" {
		currency = "usd"
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, billing.CreatePaymentIntentParams{
		UserID:   userID.String(),
		Amount:   amount,
		Currency: currency,
	})
	if err != nil {
		return nil, errors.Join(ErrGateway, err)
	}

	now := s.now()
	err = s.store.Create(ctx, &Payment{
		StripePaymentIntentID: intent.ID,
		UserID:                userID,
		Amount:                amount,
		Currency:              currency,
		Status:                StatusPending,
		CreatedAt:             now,
		UpdatedAt:             now,
	})
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		// The intent exists remotely; report the ledger failure so the
		// caller retries rather than losing the record.
		return nil, err
	}

	s.log.InfoContext(ctx, "payment intent created",
		slog.String("user_id", userID.String()),
		slog.String("payment_intent_id", intent.ID),
		slog.Int64("amount", amount),
	)
	return intent, nil
}

// RecordSuccess reconciles a succeeded payment from a webhook. Idempotent:
// replays never move PaidAt, and the store reports the settling transition
// atomically so concurrent deliveries produce exactly one receipt email.
func (s *Service) RecordSuccess(ctx context.Context, ref IntentRef, paidAt time.Time) error {
	settled, err := s.store.UpsertSucceeded(ctx, ref, paidAt)
	if err != nil {
		return err
	}

	s.log.InfoContext(ctx, "payment succeeded",
		slog.String("payment_intent_id", ref.IntentID),
		slog.String("user_id", ref.UserID.String()),
	)

	if settled {
		s.notifySucceeded(ctx, ref)
	}
	return nil
}

// RecordFailure reconciles a failed payment from a webhook.
func (s *Service) RecordFailure(ctx context.Context, ref IntentRef, reason string) error {
	if err := s.store.UpsertFailed(ctx, ref, reason); err != nil {
		return err
	}

	s.log.WarnContext(ctx, "payment failed",
		slog.String("payment_intent_id", ref.IntentID),
		slog.String("user_id", ref.UserID.String()),
		slog.String("reason", reason),
	)

	s.notifyFailed(ctx, ref, reason)
	return nil
}

// Refund refunds a succeeded payment through the processor and marks the
// ledger record. amount == 0 refunds the full charge.
func (s *Service) Refund(ctx context.Context, intentID string, amount int64) error {
	p, err := s.store.GetByIntentID(ctx, intentID)
	if err != nil {
		return err
	}
	if p.Status != StatusSucceeded {
		return ErrNotRefundable
	}

	if err := s.gateway.Refund(ctx, intentID, amount); err != nil {
		return errors.Join(ErrGateway, err)
	}

	if err := s.store.SetRefunded(ctx, intentID); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "payment refunded",
		slog.String("payment_intent_id", intentID),
		slog.Int64("amount", amount),
	)
	return nil
}

// History returns the user's payment history, newest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID) ([]Payment, error) {
	return s.store.ListByUser(ctx, userID)
}

func (s *Service) notifySucceeded(ctx context.Context, ref IntentRef) {
	if s.notifier == nil || ref.UserID == uuid.Nil {
		return
	}
	if err := s.notifier.PaymentSucceeded(ctx, ref.UserID, ref.Amount, ref.Currency); err != nil {
		s.log.ErrorContext(ctx, "failed to send payment success email",
			slog.String("user_id", ref.UserID.String()),
			slog.Any("error", err),
		)
	}
}

func (s *Service) notifyFailed(ctx context.Context, ref IntentRef, reason string) {
	if s.notifier == nil || ref.UserID == uuid.Nil {
		return
	}
	if err := s.notifier.PaymentFailed(ctx, ref.UserID, reason); err != nil {
		s.log.ErrorContext(ctx, "failed to send payment failure email",
			slog.String("user_id", ref.UserID.String()),
			slog.Any("error", err),
		)
	}
}
