package webhook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/subkit/subkit/svc/billing"
	"github.com/subkit/subkit/svc/payment"
	"github.com/subkit/subkit/svc/webhook"
)

// Mock implementations
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	args := m.Called(ctx, email, name)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CreateSubscription(ctx context.Context, customerRef, priceRef, userID string) (*billing.RemoteSubscription, error) {
	args := m.Called(ctx, customerRef, priceRef, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RemoteSubscription), args.Error(1)
}

func (m *mockGateway) UpdateSubscription(ctx context.Context, subscriptionRef, priceRef string) (*billing.RemoteSubscription, error) {
	args := m.Called(ctx, subscriptionRef, priceRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RemoteSubscription), args.Error(1)
}

func (m *mockGateway) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	args := m.Called(ctx, subscriptionRef)
	return args.Error(0)
}

func (m *mockGateway) CreatePaymentIntent(ctx context.Context, params billing.CreatePaymentIntentParams) (*billing.PaymentIntent, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PaymentIntent), args.Error(1)
}

func (m *mockGateway) Refund(ctx context.Context, paymentIntentRef string, amount int64) error {
	args := m.Called(ctx, paymentIntentRef, amount)
	return args.Error(0)
}

func (m *mockGateway) ParseWebhook(payload []byte, signature string) (*billing.Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Event), args.Error(1)
}

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) ApplyRemoteUpdate(ctx context.Context, remoteSubID, remoteStatus string, periodStart, periodEnd time.Time) error {
	args := m.Called(ctx, remoteSubID, remoteStatus, periodStart, periodEnd)
	return args.Error(0)
}

func (m *mockReconciler) ApplyRemoteCancellation(ctx context.Context, remoteSubID string) error {
	args := m.Called(ctx, remoteSubID)
	return args.Error(0)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordSuccess(ctx context.Context, ref payment.IntentRef, paidAt time.Time) error {
	args := m.Called(ctx, ref, paidAt)
	return args.Error(0)
}

func (m *mockRecorder) RecordFailure(ctx context.Context, ref payment.IntentRef, reason string) error {
	args := m.Called(ctx, ref, reason)
	return args.Error(0)
}

// failingDedup always errors to exercise the fail-open path.
type failingDedup struct{}

func (failingDedup) Seen(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func (failingDedup) Mark(context.Context, string) error {
	return errors.New("redis down")
}

func newTestIngress(t *testing.T, gw billing.Gateway, subs *mockReconciler, payments *mockRecorder, dedup webhook.EventDedup) *webhook.Ingress {
	t.Helper()
	return webhook.NewIngress(gw, dedup, subs, payments, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func parsedEvent(gw *mockGateway, event *billing.Event) {
	gw.On("ParseWebhook", []byte("payload"), "sig").Return(event, nil)
}

func TestIngressHandle(t *testing.T) {
	t.Parallel()

	t.Run("rejects invalid signature", func(t *testing.T) {
		t.Parallel()

		gw := new(mockGateway)
		gw.On("ParseWebhook", []byte("payload"), "sig").
			Return(nil, billing.ErrInvalidSignature)

		ing := newTestIngress(t, gw, new(mockReconciler), new(mockRecorder), nil)

		err := ing.Handle(context.Background(), []byte("payload"), "sig")
		require.ErrorIs(t, err, billing.ErrInvalidSignature)
	})

	t.Run("dispatches payment success", func(t *testing.T) {
		t.Parallel()

		userID := uuid.New()
		gw := new(mockGateway)
		parsedEvent(gw, &billing.Event{
			ID:   "evt_1",
			Kind: "payment_intent.succeeded",
			PaymentIntent: &billing.PaymentIntentEventData{
				ID:       "pi_1",
				UserID:   userID.String(),
				Amount:   1500,
				Currency: "usd",
			},
		})

		rec := new(mockRecorder)
		rec.On("RecordSuccess", mock.Anything, payment.IntentRef{
			IntentID: "pi_1",
			UserID:   userID,
			Amount:   1500,
			Currency: "usd",
		}, mock.AnythingOfType("time.Time")).Return(nil)

		ing := newTestIngress(t, gw, new(mockReconciler), rec, nil)

		require.NoError(t, ing.Handle(context.Background(), []byte("payload"), "sig"))
		rec.AssertExpectations(t)
	})

	t.Run("dispatches payment failure with reason", func(t *testing.T) {
		t.Parallel()

		gw := new(mockGateway)
		parsedEvent(gw, &billing.Event{
			ID:   "evt_1",
			Kind: "payment_intent.payment_failed",
			PaymentIntent: &billing.PaymentIntentEventData{
				ID:             "pi_1",
				Amount:         1500,
				Currency:       "usd",
				FailureMessage: "card declined",
			},
		})

		rec := new(mockRecorder)
		rec.On("RecordFailure", mock.Anything, mock.AnythingOfType("payment.IntentRef"), "card declined").
			Return(nil)

		ing := newTestIngress(t, gw, new(mockReconciler), rec, nil)

		require.NoError(t, ing.Handle(context.Background(), []byte("payload"), "sig"))
		rec.AssertExpectations(t)
	})

	t.Run("dispatches subscription update", func(t *testing.T) {
		t.Parallel()

		start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		end := start.Add(30 * 24 * time.Hour)

		gw := new(mockGateway)
		parsedEvent(gw, &billing.Event{
			ID:   "evt_1",
			Kind: "customer.subscription.updated",
			Subscription: &billing.SubscriptionEventData{
				ID:                 "sub_1",
				Status:             "past_due",
				CurrentPeriodStart: start,
				CurrentPeriodEnd:   end,
			},
		})

		subs := new(mockReconciler)
		subs.On("ApplyRemoteUpdate", mock.Anything, "sub_1", "past_due", start, end).Return(nil)

		ing := newTestIngress(t, gw, subs, new(mockRecorder), nil)

		require.NoError(t, ing.Handle(context.Background(), []byte("payload"), "sig"))
		subs.AssertExpectations(t)
	})

	t.Run("dispatches subscription deletion", func(t *testing.T) {
		t.Parallel()

		gw := new(mockGateway)
		parsedEvent(gw, &billing.Event{
			ID:           "evt_1",
			Kind:         "customer.subscription.deleted",
			Subscription: &billing.SubscriptionEventData{ID: "sub_1", Status: "canceled"},
		})

		subs := new(mockReconciler)
		subs.On("ApplyRemoteCancellation", mock.Anything, "sub_1").Return(nil)

		ing := newTestIngress(t, gw, subs, new(mockRecorder), nil)

		require.NoError(t, ing.Handle(context.Background(), []byte("payload"), "sig"))
		subs.AssertExpectations(t)
	})

	t.Run("duplicate event is acknowledged without dispatch", func(t *testing.T) {
		t.Parallel()

		gw := new(mockGateway)
		parsedEvent(gw, &billing.Event{
			ID:           "evt_dup",
			Kind:         "customer.subscription.deleted",
			Subscription: &billing.SubscriptionEventData{ID: "sub_1"},
		})

		subs := new(mockReconciler)
		subs.On("ApplyRemoteCancellation", mock.Anything, "sub_1").Return(nil).Once()

		ing := newTestIngress(t, gw, subs, new(mockRecorder), webhook.NewMemoryDedup(time.Minute))

		require.NoError(t, ing.Handle(context.Background(), []byte("payload"), "sig"))
		require.NoError(t, ing.Handle(context.Background(), []byte("payload"), "sig"))
		subs.AssertExpectations(t)
	})

	t.Run("redelivery after transient failure is processed", func(t *testing.T) {
		t.Parallel()

		userID := uuid.New()
		gw := new(mockGateway)
		parsedEvent(gw, &billing.Event{
			ID:   "evt_retry",
			Kind: "payment_intent.succeeded",
			PaymentIntent: &billing.PaymentIntentEventData{
				ID:       "pi_1",
				UserID:   userID.String(),
				Amount:   1500,
				Currency: "usd",
			},
		})

		rec := new(mockRecorder)
		rec.On("RecordSuccess", mock.Anything, mock.AnythingOfType("payment.IntentRef"), mock.AnythingOfType("time.Time")).
			Return(errors.New("store unavailable")).Once()
		rec.On("RecordSuccess", mock.Anything, mock.AnythingOfType("payment.IntentRef"), mock.AnythingOfType("time.Time")).
			Return(nil).Once()

		ing := newTestIngress(t, gw, new(mockReconciler), rec, webhook.NewMemoryDedup(time.Minute))

		// First delivery fails transiently; the event must not be
		// remembered as processed.
		err := ing.Handle(context.Background(), []byte("payload"), "sig")
		require.Error(t, err)

		// The processor's redelivery reaches the handler again, and only a
		// third delivery is treated as a duplicate.
		require.NoError(t, ing.Handle(context.Background(), []byte("payload"), "sig"))
		require.NoError(t, ing.Handle(context.Background(), []byte("payload"), "sig"))
		rec.AssertNumberOfCalls(t, "RecordSuccess", 2)
	})

	t.Run("dedup failure does not block processing", func(t *testing.T) {
		t.Parallel()

		gw := new(mockGateway)
		parsedEvent(gw, &billing.Event{
			ID:           "evt_1",
			Kind:         "customer.subscription.deleted",
			Subscription: &billing.SubscriptionEventData{ID: "sub_1"},
		})

		subs := new(mockReconciler)
		subs.On("ApplyRemoteCancellation", mock.Anything, "sub_1").Return(nil)

		ing := newTestIngress(t, gw, subs, new(mockRecorder), failingDedup{})

		require.NoError(t, ing.Handle(context.Background(), []byte("payload"), "sig"))
		subs.AssertExpectations(t)
	})

	t.Run("unknown kind is acknowledged", func(t *testing.T) {
		t.Parallel()

		gw := new(mockGateway)
		parsedEvent(gw, &billing.Event{ID: "evt_1", Kind: "charge.dispute.created"})

		ing := newTestIngress(t, gw, new(mockReconciler), new(mockRecorder), nil)

		require.NoError(t, ing.Handle(context.Background(), []byte("payload"), "sig"))
	})

	t.Run("invoice events are logged only", func(t *testing.T) {
		t.Parallel()

		gw := new(mockGateway)
		parsedEvent(gw, &billing.Event{
			ID:      "evt_1",
			Kind:    "invoice.payment_succeeded",
			Invoice: &billing.InvoiceEventData{ID: "in_1", AmountPaid: 999, Currency: "usd"},
		})

		subs := new(mockReconciler)
		rec := new(mockRecorder)
		ing := newTestIngress(t, gw, subs, rec, nil)

		require.NoError(t, ing.Handle(context.Background(), []byte("payload"), "sig"))
		rec.AssertNotCalled(t, "RecordSuccess", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("transient handler failure propagates for redelivery", func(t *testing.T) {
		t.Parallel()

		gw := new(mockGateway)
		parsedEvent(gw, &billing.Event{
			ID:           "evt_1",
			Kind:         "customer.subscription.updated",
			Subscription: &billing.SubscriptionEventData{ID: "sub_1", Status: "active"},
		})

		subs := new(mockReconciler)
		subs.On("ApplyRemoteUpdate", mock.Anything, "sub_1", "active", mock.Anything, mock.Anything).
			Return(errors.New("store unavailable"))

		ing := newTestIngress(t, gw, subs, new(mockRecorder), nil)

		err := ing.Handle(context.Background(), []byte("payload"), "sig")
		require.Error(t, err)
	})

	t.Run("payment event without intent data is acknowledged", func(t *testing.T) {
		t.Parallel()

		gw := new(mockGateway)
		parsedEvent(gw, &billing.Event{ID: "evt_1", Kind: "payment_intent.succeeded"})

		rec := new(mockRecorder)
		ing := newTestIngress(t, gw, new(mockReconciler), rec, nil)

		require.NoError(t, ing.Handle(context.Background(), []byte("payload"), "sig"))
		rec.AssertNotCalled(t, "RecordSuccess", mock.Anything, mock.Anything, mock.Anything)
	})
}
