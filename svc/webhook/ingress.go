package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/subkit/subkit/svc/billing"
	"github.com/subkit/subkit/svc/payment"
)

// Event kinds the ingress dispatches on. Names follow the processor's
// event type taxonomy.
const (
	kindPaymentSucceeded    = "payment_intent.succeeded"
	kindPaymentFailed       = "payment_intent.payment_failed"
	kindSubscriptionCreated = "customer.subscription.created"
	kindSubscriptionUpdated = "customer.subscription.updated"
	kindSubscriptionDeleted = "customer.subscription.deleted"
	kindInvoicePaid         = "invoice.payment_succeeded"
	kindInvoiceFailed       = "invoice.payment_failed"
)

// SubscriptionReconciler is the subscription-side reconciliation surface.
type SubscriptionReconciler interface {
	ApplyRemoteUpdate(ctx context.Context, remoteSubID, remoteStatus string, periodStart, periodEnd time.Time) error
	ApplyRemoteCancellation(ctx context.Context, remoteSubID string) error
}

// PaymentRecorder is the ledger-side reconciliation surface.
type PaymentRecorder interface {
	RecordSuccess(ctx context.Context, ref payment.IntentRef, paidAt time.Time) error
	RecordFailure(ctx context.Context, ref payment.IntentRef, reason string) error
}

// Ingress verifies, deduplicates, and dispatches processor webhook events.
// Handlers behind it are idempotent, so dedup is an optimization rather than
// a correctness requirement: a dedup store failure is logged and processing
// continues.
type Ingress struct {
	gateway       billing.Gateway
	dedup         EventDedup
	subscriptions SubscriptionReconciler
	payments      PaymentRecorder
	log           *slog.Logger
	now           func() time.Time
}

// NewIngress wires the ingress. Panics on nil required collaborators.
func NewIngress(
	gateway billing.Gateway,
	dedup EventDedup,
	subscriptions SubscriptionReconciler,
	payments PaymentRecorder,
	log *slog.Logger,
) *Ingress {
	if gateway == nil {
		panic("webhook: billing.Gateway is required")
	}
	if subscriptions == nil {
		panic("webhook: SubscriptionReconciler is required")
	}
	if payments == nil {
		panic("webhook: PaymentRecorder is required")
	}
	if dedup == nil {
		dedup = NewMemoryDedup(DefaultDedupTTL)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ingress{
		gateway:       gateway,
		dedup:         dedup,
		subscriptions: subscriptions,
		payments:      payments,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one raw webhook delivery. It returns
// billing.ErrInvalidSignature for unverifiable payloads; any other error is
// transient and the caller should make the processor redeliver. Unknown
// event kinds and duplicate deliveries succeed silently.
//
// An event is marked as processed only after its handler succeeds: a
// transiently failed dispatch leaves no dedup trace, so the processor's
// redelivery of the same event is handled rather than skipped.
func (i *Ingress) Handle(ctx context.Context, payload []byte, signature string) error {
	event, err := i.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}

	if event.ID != "" {
		seen, err := i.dedup.Seen(ctx, event.ID)
		if err != nil {
			i.log.ErrorContext(ctx, "event dedup check failed, processing anyway",
				slog.String("event_id", event.ID),
				slog.Any("error", err),
			)
		} else if seen {
			i.log.InfoContext(ctx, "duplicate webhook event skipped",
				slog.String("event_id", event.ID),
				slog.String("kind", event.Kind),
			)
			return nil
		}
	}

	i.log.InfoContext(ctx, "webhook event received",
		slog.String("event_id", event.ID),
		slog.String("kind", event.Kind),
	)

	if err := i.dispatch(ctx, event); err != nil {
		return err
	}

	if event.ID != "" {
		if err := i.dedup.Mark(ctx, event.ID); err != nil {
			i.log.ErrorContext(ctx, "failed to record processed event",
				slog.String("event_id", event.ID),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

func (i *Ingress) dispatch(ctx context.Context, event *billing.Event) error {
	switch event.Kind {
	case kindPaymentSucceeded:
		return i.handlePaymentSucceeded(ctx, event)
	case kindPaymentFailed:
		return i.handlePaymentFailed(ctx, event)
	case kindSubscriptionCreated, kindSubscriptionUpdated:
		return i.handleSubscriptionUpdate(ctx, event)
	case kindSubscriptionDeleted:
		return i.handleSubscriptionDeleted(ctx, event)
	case kindInvoicePaid, kindInvoiceFailed:
		i.logInvoice(ctx, event)
		return nil
	default:
		i.log.DebugContext(ctx, "unhandled webhook event kind",
			slog.String("kind", event.Kind))
		return nil
	}
}

func (i *Ingress) handlePaymentSucceeded(ctx context.Context, event *billing.Event) error {
	ref, ok := i.intentRef(ctx, event)
	if !ok {
		return nil
	}
	return i.payments.RecordSuccess(ctx, ref, i.now())
}

func (i *Ingress) handlePaymentFailed(ctx context.Context, event *billing.Event) error {
	ref, ok := i.intentRef(ctx, event)
	if !ok {
		return nil
	}

	reason := event.PaymentIntent.FailureMessage
	if reason == "" {
		reason = "payment failed"
	}
	return i.payments.RecordFailure(ctx, ref, reason)
}

func (i *Ingress) handleSubscriptionUpdate(ctx context.Context, event *billing.Event) error {
	sub := event.Subscription
	if sub == nil || sub.ID == "" {
		i.log.WarnContext(ctx, "subscription event without subscription data",
			slog.String("event_id", event.ID),
			slog.String("kind", event.Kind),
		)
		return nil
	}
	return i.subscriptions.ApplyRemoteUpdate(ctx, sub.ID, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
}

func (i *Ingress) handleSubscriptionDeleted(ctx context.Context, event *billing.Event) error {
	sub := event.Subscription
	if sub == nil || sub.ID == "" {
		i.log.WarnContext(ctx, "subscription event without subscription data",
			slog.String("event_id", event.ID),
			slog.String("kind", event.Kind),
		)
		return nil
	}
	return i.subscriptions.ApplyRemoteCancellation(ctx, sub.ID)
}

func (i *Ingress) logInvoice(ctx context.Context, event *billing.Event) {
	attrs := []any{
		slog.String("event_id", event.ID),
		slog.String("kind", event.Kind),
	}
	if inv := event.Invoice; inv != nil {
		attrs = append(attrs,
			slog.String("invoice_id", inv.ID),
			slog.Int64("amount_paid", inv.AmountPaid),
		)
	}
	i.log.InfoContext(ctx, "invoice event", attrs...)
}

// intentRef builds the ledger ref from a payment intent event. Events
// without intent data are malformed and acknowledged without action.
func (i *Ingress) intentRef(ctx context.Context, event *billing.Event) (payment.IntentRef, bool) {
	pi := event.PaymentIntent
	if pi == nil || pi.ID == "" {
		i.log.WarnContext(ctx, "payment event without intent data",
			slog.String("event_id", event.ID),
			slog.String("kind", event.Kind),
		)
		return payment.IntentRef{}, false
	}

	var userID uuid.UUID
	if pi.UserID != "" {
		parsed, err := uuid.Parse(pi.UserID)
		if err != nil {
			i.log.WarnContext(ctx, "payment intent carries malformed user id",
				slog.String("payment_intent_id", pi.ID),
				slog.String("user_id", pi.UserID),
			)
		} else {
			userID = parsed
		}
	}

	return payment.IntentRef{
		IntentID: pi.ID,
		UserID:   userID,
		Amount:   pi.Amount,
		Currency: pi.Currency,
	}, true
}
