package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/subkit/subkit/svc/billing"
	"github.com/subkit/subkit/svc/subscription"
)

// maxWebhookBody bounds the raw webhook payload size.
const maxWebhookBody = 1 << 16 // 64 KiB, well above any processor event

type planRequest struct {
	Plan    string `json:"plan"`
	PriceID string `json:"price_id"`
}

type cancelRequest struct {
	Immediately bool `json:"immediately"`
}

type paymentIntentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type refundRequest struct {
	Amount int64 `json:"amount"`
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req planRequest
	if !decodeBody(w, r, &req) {
		return
	}

	plan, err := subscription.ParsePlan(req.Plan)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	sub, err := h.subscriptions.Create(r.Context(), user, plan, req.PriceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}

	sub, err := h.subscriptions.Get(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

func (h *Handler) upgradeSubscription(w http.ResponseWriter, r *http.Request) {
	h.changePlan(w, r, h.subscriptions.Upgrade)
}

func (h *Handler) downgradeSubscription(w http.ResponseWriter, r *http.Request) {
	h.changePlan(w, r, h.subscriptions.Downgrade)
}

func (h *Handler) changePlan(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, user subscription.Identity, plan subscription.Plan, priceRef string) (*subscription.Subscription, error),
) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req planRequest
	if !decodeBody(w, r, &req) {
		return
	}

	plan, err := subscription.ParsePlan(req.Plan)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	sub, err := op(r.Context(), user, plan, req.PriceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

func (h *Handler) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sub, err := h.subscriptions.Cancel(r.Context(), user, req.Immediately)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

func (h *Handler) reactivateSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}

	sub, err := h.subscriptions.Reactivate(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

func (h *Handler) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req paymentIntentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	intent, err := h.payments.CreateIntent(r.Context(), user.ID, req.Amount, req.Currency)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"payment_intent_id": intent.ID,
		"client_secret":     intent.ClientSecret,
		"amount":            intent.Amount,
		"currency":          intent.Currency,
	})
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}

	history, err := h.payments.History(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]paymentResponse, 0, len(history))
	for _, p := range history {
		out = append(out, toPaymentResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": out})
}

func (h *Handler) refundPayment(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.caller(w, r); !ok {
		return
	}

	intentID := chi.URLParam(r, "intentID")
	if intentID == "" {
		writeError(w, http.StatusBadRequest, "payment intent id is required")
		return
	}

	var req refundRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.payments.Refund(r.Context(), intentID, req.Amount); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refunded": true})
}

// stripeWebhook receives raw processor deliveries. Signature failures are
// 400 so a misconfigured secret shows up in the processor's dashboard;
// transient failures are 500 so the processor redelivers.
func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	err = h.ingress.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			writeError(w, http.StatusBadRequest, "signature verification failed")
			return
		}
		h.log.ErrorContext(r.Context(), "webhook processing failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (subscription.Identity, bool) {
	user, err := h.identity(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return subscription.Identity{}, false
	}
	return user, true
}

// decodeBody decodes a JSON body into v; an empty body leaves v zero-valued
// so endpoints with all-optional fields accept bodiless requests.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}
