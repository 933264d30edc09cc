// Package billing exposes the subscription and payment services over a JSON
// HTTP API, plus the processor webhook endpoint.
package billing

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/subkit/subkit/svc/payment"
	"github.com/subkit/subkit/svc/subscription"
	"github.com/subkit/subkit/svc/webhook"
)

// IdentityResolver extracts the authenticated caller from the request.
// Authentication itself is external to this module; deployments wire a
// resolver backed by their session or API gateway layer.
type IdentityResolver func(r *http.Request) (subscription.Identity, error)

// Handler serves the billing HTTP surface.
type Handler struct {
	subscriptions *subscription.Service
	payments      *payment.Service
	ingress       *webhook.Ingress
	identity      IdentityResolver
	log           *slog.Logger
}

// NewHandler wires the billing HTTP handler. Panics on nil required
// collaborators so a miswired module fails at startup.
func NewHandler(
	subscriptions *subscription.Service,
	payments *payment.Service,
	ingress *webhook.Ingress,
	identity IdentityResolver,
	log *slog.Logger,
) *Handler {
	if subscriptions == nil {
		panic("billing: subscription.Service is required")
	}
	if payments == nil {
		panic("billing: payment.Service is required")
	}
	if ingress == nil {
		panic("billing: webhook.Ingress is required")
	}
	if identity == nil {
		panic("billing: IdentityResolver is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		subscriptions: subscriptions,
		payments:      payments,
		ingress:       ingress,
		identity:      identity,
		log:           log,
	}
}

// Router mounts the billing routes.
//
//	r.Mount("/billing", billingHandler.Router())
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", h.createSubscription)
		r.Get("/me", h.getSubscription)
		r.Post("/upgrade", h.upgradeSubscription)
		r.Post("/downgrade", h.downgradeSubscription)
		r.Post("/cancel", h.cancelSubscription)
		r.Post("/reactivate", h.reactivateSubscription)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/intents", h.createPaymentIntent)
		r.Get("/", h.listPayments)
		r.Post("/{intentID}/refund", h.refundPayment)
	})

	r.Post("/webhooks/stripe", h.stripeWebhook)

	return r
}

// HeaderIdentityResolver reads the caller identity from trusted gateway
// headers. Only for deployments where an upstream proxy authenticates
// requests and strips client-supplied values of these headers.
func HeaderIdentityResolver(r *http.Request) (subscription.Identity, error) {
	return identityFromHeaders(r)
}
