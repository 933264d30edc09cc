package billing_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subkit/subkit/svc/billing"
)

const testWebhookSecret = "whsec_test_secret"

func newTestGateway(t *testing.T) *billing.StripeGateway {
	t.Helper()
	gw, err := billing.NewStripeGateway(billing.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		Timeout:       5 * time.Second,
	})
	require.NoError(t, err)
	return gw
}

// signPayload produces a Stripe-Signature header value for payload using the
// scheme Stripe documents: v1 = HMAC-SHA256(secret, "<timestamp>.<payload>").
func signPayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestNewStripeGateway(t *testing.T) {
	t.Run("requires secret key", func(t *testing.T) {
		_, err := billing.NewStripeGateway(billing.StripeConfig{WebhookSecret: "whsec"})
		assert.ErrorIs(t, err, billing.ErrMissingAPIKey)
	})

	t.Run("requires webhook secret", func(t *testing.T) {
		_, err := billing.NewStripeGateway(billing.StripeConfig{SecretKey: "sk_test"})
		assert.ErrorIs(t, err, billing.ErrMissingSecret)
	})
}

func TestParseWebhook(t *testing.T) {
	gw := newTestGateway(t)

	t.Run("rejects empty payload", func(t *testing.T) {
		_, err := gw.ParseWebhook(nil, "t=1,v1=abc")
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)
	})

	t.Run("rejects missing signature", func(t *testing.T) {
		_, err := gw.ParseWebhook([]byte(`{}`), "")
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)
	})

	t.Run("rejects forged signature", func(t *testing.T) {
		payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{}}}`)
		sig := signPayload(payload, "whsec_wrong_secret", time.Now())
		_, err := gw.ParseWebhook(payload, sig)
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)
	})

	t.Run("rejects stale timestamp", func(t *testing.T) {
		payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{}}}`)
		sig := signPayload(payload, testWebhookSecret, time.Now().Add(-24*time.Hour))
		_, err := gw.ParseWebhook(payload, sig)
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)
	})

	t.Run("decodes payment intent event", func(t *testing.T) {
		payload := []byte(`{
			"object": "event",
			"id": "evt_pi_1",
			"type": "payment_intent.succeeded",
			"data": {"object": {
				"id": "pi_123",
				"customer": "cus_9",
				"amount": 2999,
				"currency": "usd",
				"metadata": {"user_id": "user-42"}
			}}
		}`)
		sig := signPayload(payload, testWebhookSecret, time.Now())

		event, err := gw.ParseWebhook(payload, sig)
		require.NoError(t, err)
		assert.Equal(t, "evt_pi_1", event.ID)
		assert.Equal(t, "payment_intent.succeeded", event.Kind)
		require.NotNil(t, event.PaymentIntent)
		assert.Equal(t, "pi_123", event.PaymentIntent.ID)
		assert.Equal(t, "user-42", event.PaymentIntent.UserID)
		assert.Equal(t, int64(2999), event.PaymentIntent.Amount)
	})

	t.Run("decodes failed payment intent with reason", func(t *testing.T) {
		payload := []byte(`{
			"object": "event",
			"id": "evt_pi_2",
			"type": "payment_intent.payment_failed",
			"data": {"object": {
				"id": "pi_456",
				"amount": 999,
				"currency": "usd",
				"last_payment_error": {"message": "card declined"}
			}}
		}`)
		sig := signPayload(payload, testWebhookSecret, time.Now())

		event, err := gw.ParseWebhook(payload, sig)
		require.NoError(t, err)
		require.NotNil(t, event.PaymentIntent)
		assert.Equal(t, "card declined", event.PaymentIntent.FailureMessage)
	})

	t.Run("decodes subscription event with top-level period", func(t *testing.T) {
		payload := []byte(`{
			"object": "event",
			"id": "evt_sub_1",
			"type": "customer.subscription.updated",
			"data": {"object": {
				"id": "sub_123",
				"customer": "cus_9",
				"status": "past_due",
				"cancel_at_period_end": false,
				"current_period_start": 1700000000,
				"current_period_end": 1702592000
			}}
		}`)
		sig := signPayload(payload, testWebhookSecret, time.Now())

		event, err := gw.ParseWebhook(payload, sig)
		require.NoError(t, err)
		require.NotNil(t, event.Subscription)
		assert.Equal(t, "sub_123", event.Subscription.ID)
		assert.Equal(t, "past_due", event.Subscription.Status)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), event.Subscription.CurrentPeriodStart)
		assert.Equal(t, time.Unix(1702592000, 0).UTC(), event.Subscription.CurrentPeriodEnd)
	})

	t.Run("falls back to item-level period", func(t *testing.T) {
		payload := []byte(`{
			"object": "event",
			"id": "evt_sub_2",
			"type": "customer.subscription.updated",
			"data": {"object": {
				"id": "sub_456",
				"customer": "cus_9",
				"status": "active",
				"items": {"data": [{
					"current_period_start": 1700000000,
					"current_period_end": 1702592000
				}]}
			}}
		}`)
		sig := signPayload(payload, testWebhookSecret, time.Now())

		event, err := gw.ParseWebhook(payload, sig)
		require.NoError(t, err)
		require.NotNil(t, event.Subscription)
		assert.Equal(t, time.Unix(1702592000, 0).UTC(), event.Subscription.CurrentPeriodEnd)
	})

	t.Run("unknown kinds decode without typed data", func(t *testing.T) {
		payload := []byte(`{"object":"event","id":"evt_x","type":"charge.captured","data":{"object":{"id":"ch_1"}}}`)
		sig := signPayload(payload, testWebhookSecret, time.Now())

		event, err := gw.ParseWebhook(payload, sig)
		require.NoError(t, err)
		assert.Equal(t, "charge.captured", event.Kind)
		assert.Nil(t, event.Subscription)
		assert.Nil(t, event.PaymentIntent)
		assert.Nil(t, event.Invoice)
	})
}
