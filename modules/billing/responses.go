package billing

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/subkit/subkit/svc/payment"
	"github.com/subkit/subkit/svc/subscription"
)

type errorResponse struct {
	Error string `json:"error"`
}

type subscriptionResponse struct {
	UserID             string     `json:"user_id"`
	Plan               string     `json:"plan"`
	Status             string     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CancelAt           *time.Time `json:"cancel_at,omitempty"`
	Amount             int64      `json:"amount"`
	Currency           string     `json:"currency"`
}

func toSubscriptionResponse(sub *subscription.Subscription) subscriptionResponse {
	return subscriptionResponse{
		UserID:             sub.UserID.String(),
		Plan:               string(sub.Plan),
		Status:             string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CancelAt:           sub.CancelAt,
		Amount:             sub.Amount,
		Currency:           sub.Currency,
	}
}

type paymentResponse struct {
	PaymentIntentID string     `json:"payment_intent_id"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	FailureMessage  string     `json:"failure_message,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toPaymentResponse(p payment.Payment) paymentResponse {
	return paymentResponse{
		PaymentIntentID: p.StripePaymentIntentID,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Status:          string(p.Status),
		FailureMessage:  p.FailureMessage,
		PaidAt:          p.PaidAt,
		CreatedAt:       p.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps domain sentinels onto HTTP statuses. Unrecognized
// errors surface as 500 without leaking internals.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, subscription.ErrNotFound), errors.Is(err, payment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, subscription.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "subscription already exists")
	case errors.Is(err, subscription.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid subscription transition")
	case errors.Is(err, payment.ErrNotRefundable):
		writeError(w, http.StatusConflict, "payment is not refundable")
	case errors.Is(err, subscription.ErrUnknownPlan):
		writeError(w, http.StatusBadRequest, "unknown plan")
	case errors.Is(err, subscription.ErrPriceRefRequired):
		writeError(w, http.StatusBadRequest, "price_id is required for paid plans")
	case errors.Is(err, subscription.ErrGateway), errors.Is(err, payment.ErrGateway):
		writeError(w, http.StatusBadGateway, "payment provider is unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// identityFromHeaders builds an Identity from trusted proxy headers.
func identityFromHeaders(r *http.Request) (subscription.Identity, error) {
	userID, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		return subscription.Identity{}, errors.New("billing: missing or malformed X-User-ID header")
	}
	return subscription.Identity{
		ID:    userID,
		Email: r.Header.Get("X-User-Email"),
		Name:  r.Header.Get("X-User-Name"),
	}, nil
}
