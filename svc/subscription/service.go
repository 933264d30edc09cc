package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/subkit/subkit/pkg/keylock"
	"github.com/subkit/subkit/svc/billing"
)

// billingPeriod is the local period window applied at creation time. Once the
// processor reports its own cycle boundaries via webhook, those overwrite it.
const billingPeriod = 30 * 24 * time.Hour

// Notifier sends best-effort informational email. Failures are logged by the
// engine and never propagated to callers.
type Notifier interface {
	SubscriptionConfirmed(ctx context.Context, email, name string, plan Plan, amount int64) error
	SubscriptionCancelled(ctx context.Context, email, name string, accessUntil time.Time) error
}

// Service orchestrates subscription lifecycle operations and webhook-sourced
// reconciliation. All operations on the same user are serialized through a
// per-user lock so overlapping calls cannot produce a torn record.
type Service struct {
	store    Store
	gateway  billing.Gateway
	notifier Notifier
	events   EventPublisher
	locks    *keylock.KeyLock
	log      *slog.Logger
	now      func() time.Time
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithNotifier wires a best-effort email notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithEventPublisher wires a domain event publisher.
func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClock overrides the time source; tests use this for fixed timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the reconciliation engine. Panics if store or gateway
// is nil so a miswired service fails at startup.
func NewService(store Store, gateway billing.Gateway, log *slog.Logger, opts ...Option) *Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	if gateway == nil {
		panic("subscription: billing.Gateway is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		store:   store,
		gateway: gateway,
		locks:   keylock.New(),
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the user's subscription record.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.store.Get(ctx, userID)
}

// Create provisions a subscription for the user. For paid plans it creates
// (or reuses) a processor customer and a remote subscription before
// persisting the local record. Exactly one subscription may exist per user.
func (s *Service) Create(ctx context.Context, user Identity, plan Plan, priceRef string) (*Subscription, error) {
	if !plan.Valid() {
		return nil, ErrUnknownPlan
	}
	if !plan.IsFree() && priceRef == "" {
		return nil, ErrPriceRefRequired
	}

	s.locks.Lock(user.ID.String())
	defer s.locks.Unlock(user.ID.String())

	if _, err := s.store.Get(ctx, user.ID); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, errors.Join(ErrStore, err)
	}

	now := s.now()
	sub := &Subscription{
		UserID:             user.ID,
		Plan:               plan,
		Status:             StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.Add(billingPeriod),
		Currency:           "usd",
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if !plan.IsFree() {
		customerRef, err := s.findOrCreateCustomer(ctx, user)
		if err != nil {
			return nil, err
		}

		remote, err := s.gateway.CreateSubscription(ctx, customerRef, priceRef, user.ID.String())
		if err != nil {
			return nil, errors.Join(ErrGateway, err)
		}

		sub.StripeCustomerID = customerRef
		sub.StripeSubscriptionID = remote.ID
		sub.StripePriceID = remote.PriceRef
		sub.Amount = remote.Amount
		if remote.Currency != "" {
			sub.Currency = remote.Currency
		}
	}

	if err := s.store.Create(ctx, sub); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, ErrAlreadyExists
		}
		return nil, errors.Join(ErrStore, err)
	}

	s.notifyConfirmed(ctx, user, sub)
	s.publish(ctx, EventCreated, map[string]any{"userId": user.ID.String(), "plan": string(plan)})

	s.log.InfoContext(ctx, "subscription created",
		slog.String("user_id", user.ID.String()),
		slog.String("plan", string(plan)),
	)
	return sub, nil
}

// Upgrade moves the user to a strictly higher-ranked plan, prorating through
// the processor when a remote subscription exists.
func (s *Service) Upgrade(ctx context.Context, user Identity, newPlan Plan, priceRef string) (*Subscription, error) {
	return s.changePlan(ctx, user, newPlan, priceRef, true)
}

// Downgrade moves the user to a strictly lower-ranked plan.
func (s *Service) Downgrade(ctx context.Context, user Identity, newPlan Plan, priceRef string) (*Subscription, error) {
	return s.changePlan(ctx, user, newPlan, priceRef, false)
}

func (s *Service) changePlan(ctx context.Context, user Identity, newPlan Plan, priceRef string, up bool) (*Subscription, error) {
	if !newPlan.Valid() {
		return nil, ErrUnknownPlan
	}

	s.locks.Lock(user.ID.String())
	defer s.locks.Unlock(user.ID.String())

	sub, err := s.store.Get(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	// Direction check against the plan hierarchy; a wrong-direction or
	// lateral move fails before any remote or local write.
	if up && newPlan.Rank() <= sub.Plan.Rank() {
		return nil, ErrInvalidTransition
	}
	if !up && newPlan.Rank() >= sub.Plan.Rank() {
		return nil, ErrInvalidTransition
	}

	oldPlan := sub.Plan

	if sub.HasRemote() && priceRef != "" {
		remote, err := s.gateway.UpdateSubscription(ctx, sub.StripeSubscriptionID, priceRef)
		if err != nil {
			return nil, errors.Join(ErrGateway, err)
		}
		sub.Amount = remote.Amount
		if remote.Currency != "" {
			sub.Currency = remote.Currency
		}
	}

	sub.Plan = newPlan
	sub.StripePriceID = priceRef
	sub.UpdatedAt = s.now()

	if err := s.store.Update(ctx, sub); err != nil {
		return nil, errors.Join(ErrStore, err)
	}

	if up {
		s.notifyConfirmed(ctx, user, sub)
		s.publish(ctx, EventUpgraded, map[string]any{
			"userId":  user.ID.String(),
			"oldPlan": string(oldPlan),
			"newPlan": string(newPlan),
		})
	} else {
		s.publish(ctx, EventDowngraded, map[string]any{
			"userId":  user.ID.String(),
			"oldPlan": string(oldPlan),
			"newPlan": string(newPlan),
		})
	}

	s.log.InfoContext(ctx, "subscription plan changed",
		slog.String("user_id", user.ID.String()),
		slog.String("old_plan", string(oldPlan)),
		slog.String("new_plan", string(newPlan)),
	)
	return sub, nil
}

// Cancel terminates the subscription. The remote cancel happens first: if it
// fails, the local record is left untouched so local and remote state cannot
// diverge. immediately=false schedules termination at period end instead of
// transitioning state.
func (s *Service) Cancel(ctx context.Context, user Identity, immediately bool) (*Subscription, error) {
	s.locks.Lock(user.ID.String())
	defer s.locks.Unlock(user.ID.String())

	sub, err := s.store.Get(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if sub.HasRemote() {
		if err := s.gateway.CancelSubscription(ctx, sub.StripeSubscriptionID); err != nil {
			return nil, errors.Join(ErrGateway, err)
		}
	}

	if immediately {
		sub.Status = StatusCancelled
		sub.Plan = PlanFree
		// Remote refs are kept for audit and dispute history.
	} else {
		sub.CancelAtPeriodEnd = true
		cancelAt := sub.CurrentPeriodEnd
		sub.CancelAt = &cancelAt
	}
	sub.UpdatedAt = s.now()

	if err := s.store.Update(ctx, sub); err != nil {
		return nil, errors.Join(ErrStore, err)
	}

	s.notifyCancelled(ctx, user, sub)
	s.publish(ctx, EventCancelled, map[string]any{
		"userId":      user.ID.String(),
		"immediately": immediately,
	})

	s.log.InfoContext(ctx, "subscription cancelled",
		slog.String("user_id", user.ID.String()),
		slog.Bool("immediately", immediately),
	)
	return sub, nil
}

// Reactivate undoes a scheduled period-end cancellation. It is illegal once
// the subscription is terminally cancelled.
func (s *Service) Reactivate(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	s.locks.Lock(userID.String())
	defer s.locks.Unlock(userID.String())

	sub, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if sub.IsCancelled() || !sub.CancelAtPeriodEnd {
		return nil, ErrInvalidTransition
	}

	sub.CancelAtPeriodEnd = false
	sub.CancelAt = nil
	sub.UpdatedAt = s.now()

	if err := s.store.Update(ctx, sub); err != nil {
		return nil, errors.Join(ErrStore, err)
	}

	s.publish(ctx, EventReactivated, map[string]any{"userId": userID.String()})

	s.log.InfoContext(ctx, "subscription reactivated", slog.String("user_id", userID.String()))
	return sub, nil
}

// ApplyRemoteUpdate ingests a processor-reported subscription state. The
// processor owns status and cycle boundaries, so these are overwritten
// unconditionally. Unknown remote refs are logged and ignored: local creation
// always precedes any remote state the processor could report, so a missing
// record means the event is stale or foreign.
func (s *Service) ApplyRemoteUpdate(ctx context.Context, remoteSubID, remoteStatus string, periodStart, periodEnd time.Time) error {
	sub, err := s.store.GetByRemoteID(ctx, remoteSubID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log.WarnContext(ctx, "remote update for unknown subscription",
				slog.String("remote_subscription_id", remoteSubID))
			return nil
		}
		return errors.Join(ErrStore, err)
	}

	s.locks.Lock(sub.UserID.String())
	defer s.locks.Unlock(sub.UserID.String())

	// Re-read under the lock; a user action may have committed in between.
	sub, err = s.store.Get(ctx, sub.UserID)
	if err != nil {
		return errors.Join(ErrStore, err)
	}

	sub.Status = mapRemoteStatus(remoteStatus)
	sub.CurrentPeriodStart = periodStart
	sub.CurrentPeriodEnd = periodEnd
	sub.UpdatedAt = s.now()

	if err := s.store.Update(ctx, sub); err != nil {
		return errors.Join(ErrStore, err)
	}

	s.log.InfoContext(ctx, "subscription reconciled from processor",
		slog.String("remote_subscription_id", remoteSubID),
		slog.String("status", string(sub.Status)),
	)
	return nil
}

// ApplyRemoteCancellation reconciles a processor-initiated termination.
// The remote cancel call is not re-invoked: the processor already did it.
func (s *Service) ApplyRemoteCancellation(ctx context.Context, remoteSubID string) error {
	sub, err := s.store.GetByRemoteID(ctx, remoteSubID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log.WarnContext(ctx, "remote cancellation for unknown subscription",
				slog.String("remote_subscription_id", remoteSubID))
			return nil
		}
		return errors.Join(ErrStore, err)
	}

	s.locks.Lock(sub.UserID.String())
	defer s.locks.Unlock(sub.UserID.String())

	sub, err = s.store.Get(ctx, sub.UserID)
	if err != nil {
		return errors.Join(ErrStore, err)
	}

	sub.Status = StatusCancelled
	sub.UpdatedAt = s.now()

	if err := s.store.Update(ctx, sub); err != nil {
		return errors.Join(ErrStore, err)
	}

	s.log.InfoContext(ctx, "subscription cancelled by processor",
		slog.String("remote_subscription_id", remoteSubID))
	return nil
}

// findOrCreateCustomer keeps customer creation idempotent across retried
// creates by looking the customer up by email first.
func (s *Service) findOrCreateCustomer(ctx context.Context, user Identity) (string, error) {
	customerRef, err := s.gateway.FindCustomerByEmail(ctx, user.Email)
	if err != nil {
		return "", errors.Join(ErrGateway, err)
	}
	if customerRef != "" {
		return customerRef, nil
	}

	customerRef, err = s.gateway.CreateCustomer(ctx, user.Email, user.Name)
	if err != nil {
		return "", errors.Join(ErrGateway, err)
	}
	return customerRef, nil
}

func (s *Service) notifyConfirmed(ctx context.Context, user Identity, sub *Subscription) {
	if s.notifier == nil || user.Email == "" {
		return
	}
	if err := s.notifier.SubscriptionConfirmed(ctx, user.Email, user.Name, sub.Plan, sub.Amount); err != nil {
		s.log.ErrorContext(ctx, "failed to send subscription confirmation email",
			slog.String("user_id", user.ID.String()),
			slog.Any("error", err),
		)
	}
}

func (s *Service) notifyCancelled(ctx context.Context, user Identity, sub *Subscription) {
	if s.notifier == nil || user.Email == "" {
		return
	}
	if err := s.notifier.SubscriptionCancelled(ctx, user.Email, user.Name, sub.CurrentPeriodEnd); err != nil {
		s.log.ErrorContext(ctx, "failed to send subscription cancellation email",
			slog.String("user_id", user.ID.String()),
			slog.Any("error", err),
		)
	}
}

func (s *Service) publish(ctx context.Context, name string, payload map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, DomainEvent{Name: name, Payload: payload})
}
