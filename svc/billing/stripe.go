package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/customer"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/refund"
	"github.com/stripe/stripe-go/v83/subscription"
	"github.com/stripe/stripe-go/v83/webhook"
)

// StripeConfig holds the Stripe credentials and call limits.
type StripeConfig struct {
	SecretKey     string        `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	Timeout       time.Duration `env:"STRIPE_TIMEOUT" envDefault:"15s"`
}

// StripeGateway implements Gateway using the official Stripe SDK.
type StripeGateway struct {
	config StripeConfig
}

// NewStripeGateway creates a Stripe-backed Gateway.
// Note: the Stripe SDK uses a process-global API key.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	stripe.Key = cfg.SecretKey

	return &StripeGateway{config: cfg}, nil
}

// boundedCtx enforces the configured request timeout on every remote call so
// a stalled processor cannot pin a per-user lock indefinitely.
func (g *StripeGateway) boundedCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.config.Timeout)
}

func (g *StripeGateway) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrGateway)
	}

	ctx, cancel := g.boundedCtx(ctx)
	defer cancel()

	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := customer.List(params)
	if iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", wrapStripeError(err)
	}
	return "", nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrGateway)
	}

	ctx, cancel := g.boundedCtx(ctx)
	defer cancel()

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	if name != "" {
		params.Name = stripe.String(name)
	}

	c, err := customer.New(params)
	if err != nil {
		return "", wrapStripeError(err)
	}
	return c.ID, nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, customerRef, priceRef, userID string) (*RemoteSubscription, error) {
	if customerRef == "" || priceRef == "" {
		return nil, fmt.Errorf("%w: customer and price refs are required", ErrGateway)
	}

	ctx, cancel := g.boundedCtx(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerRef),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceRef)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)
	params.AddExpand("latest_invoice.payment_intent")

	s, err := subscription.New(params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return buildRemoteSubscription(s), nil
}

func (g *StripeGateway) UpdateSubscription(ctx context.Context, subscriptionRef, priceRef string) (*RemoteSubscription, error) {
	if subscriptionRef == "" || priceRef == "" {
		return nil, fmt.Errorf("%w: subscription and price refs are required", ErrGateway)
	}

	ctx, cancel := g.boundedCtx(ctx)
	defer cancel()

	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	current, err := subscription.Get(subscriptionRef, getParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, fmt.Errorf("%w: subscription %s has no items", ErrGateway, subscriptionRef)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(priceRef),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx

	updated, err := subscription.Update(subscriptionRef, params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return buildRemoteSubscription(updated), nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	if subscriptionRef == "" {
		return fmt.Errorf("%w: subscription ref is required", ErrGateway)
	}

	ctx, cancel := g.boundedCtx(ctx)
	defer cancel()

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := subscription.Cancel(subscriptionRef, params); err != nil {
		return wrapStripeError(err)
	}
	return nil
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, p CreatePaymentIntentParams) (*PaymentIntent, error) {
	if p.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrGateway)
	}
	if p.Currency == "" {
		p.Currency = "usd"
	}

	ctx, cancel := g.boundedCtx(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.Amount),
		Currency: stripe.String(p.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("user_id", p.UserID)
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
	}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, paymentIntentRef string, amount int64) error {
	if paymentIntentRef == "" {
		return fmt.Errorf("%w: payment intent ref is required", ErrGateway)
	}

	ctx, cancel := g.boundedCtx(ctx)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentRef),
	}
	params.Context = ctx
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}

	if _, err := refund.New(params); err != nil {
		return wrapStripeError(err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header over the raw payload and
// decodes the event into the core's normalized shape.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	if len(payload) == 0 || signature == "" {
		return nil, ErrInvalidSignature
	}

	// IgnoreAPIVersionMismatch keeps verification working when the sender
	// pins a different API version than the SDK; the fields we decode below
	// are stable across versions.
	stripeEvent, err := webhook.ConstructEventWithOptions(payload, signature, g.config.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	event := &Event{
		ID:   stripeEvent.ID,
		Kind: string(stripeEvent.Type),
	}

	switch {
	case strings.HasPrefix(event.Kind, "customer.subscription."):
		data, err := decodeSubscriptionEvent(stripeEvent.Data.Raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGateway, err)
		}
		event.Subscription = data

	case strings.HasPrefix(event.Kind, "payment_intent."):
		data, err := decodePaymentIntentEvent(stripeEvent.Data.Raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGateway, err)
		}
		event.PaymentIntent = data

	case strings.HasPrefix(event.Kind, "invoice."):
		data, err := decodeInvoiceEvent(stripeEvent.Data.Raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGateway, err)
		}
		event.Invoice = data
	}

	return event, nil
}

// Webhook payloads are decoded through minimal wire structs instead of SDK
// types so the fields the core relies on do not drift with API versions.

type wireSubscription struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func decodeSubscriptionEvent(raw json.RawMessage) (*SubscriptionEventData, error) {
	var w wireSubscription
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}

	start, end := w.CurrentPeriodStart, w.CurrentPeriodEnd
	// Newer API versions report the billing period on the item.
	if start == 0 && len(w.Items.Data) > 0 {
		start = w.Items.Data[0].CurrentPeriodStart
		end = w.Items.Data[0].CurrentPeriodEnd
	}

	return &SubscriptionEventData{
		ID:                 w.ID,
		CustomerRef:        w.Customer,
		Status:             w.Status,
		CancelAtPeriodEnd:  w.CancelAtPeriodEnd,
		CurrentPeriodStart: time.Unix(start, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(end, 0).UTC(),
	}, nil
}

type wirePaymentIntent struct {
	ID               string            `json:"id"`
	Customer         string            `json:"customer"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func decodePaymentIntentEvent(raw json.RawMessage) (*PaymentIntentEventData, error) {
	var w wirePaymentIntent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}

	data := &PaymentIntentEventData{
		ID:          w.ID,
		CustomerRef: w.Customer,
		UserID:      w.Metadata["user_id"],
		Amount:      w.Amount,
		Currency:    w.Currency,
	}
	if w.LastPaymentError != nil {
		data.FailureMessage = w.LastPaymentError.Message
	}
	return data, nil
}

type wireInvoice struct {
	ID         string `json:"id"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
}

func decodeInvoiceEvent(raw json.RawMessage) (*InvoiceEventData, error) {
	var w wireInvoice
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &InvoiceEventData{ID: w.ID, AmountPaid: w.AmountPaid, Currency: w.Currency}, nil
}

func buildRemoteSubscription(s *stripe.Subscription) *RemoteSubscription {
	if s == nil {
		return nil
	}

	remote := &RemoteSubscription{
		ID:     s.ID,
		Status: string(s.Status),
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		remote.ItemRef = item.ID
		if item.Price != nil {
			remote.PriceRef = item.Price.ID
			remote.Amount = item.Price.UnitAmount
			remote.Currency = string(item.Price.Currency)
		}
	}
	return remote
}

// wrapStripeError folds SDK errors into the gateway taxonomy while keeping
// the provider message for server-side logs.
func wrapStripeError(err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %s (%s)", ErrGateway, stripeErr.Msg, stripeErr.Code)
	}
	return errors.Join(ErrGateway, err)
}
