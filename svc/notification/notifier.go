// Package notification renders and sends the lifecycle emails: subscription
// confirmations and cancellations, payment successes and failures. Delivery
// is best-effort; callers log failures and continue.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/subkit/subkit/pkg/email"
	"github.com/subkit/subkit/svc/subscription"
)

// ErrUnresolvedRecipient is returned when the user's email address cannot be
// resolved for a payment notification.
var ErrUnresolvedRecipient = errors.New("notification: recipient could not be resolved")

// EmailResolver maps a user ID to contact details. Payment webhooks carry
// only the user ID, so payment emails depend on this lookup; subscription
// emails receive the address directly from the authenticated request.
type EmailResolver func(ctx context.Context, userID uuid.UUID) (emailAddr, name string, err error)

// Service sends transactional email through the configured sender.
type Service struct {
	sender  email.EmailSender
	resolve EmailResolver
	log     *slog.Logger
}

// NewService creates the notification service. Panics if sender is nil.
// resolve may be nil, in which case payment notifications are skipped.
func NewService(sender email.EmailSender, resolve EmailResolver, log *slog.Logger) *Service {
	if sender == nil {
		panic("notification: email.EmailSender is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{sender: sender, resolve: resolve, log: log}
}

// SubscriptionConfirmed sends the activation email for a new or upgraded
// subscription.
func (s *Service) SubscriptionConfirmed(ctx context.Context, emailAddr, name string, plan subscription.Plan, amount int64) error {
	body, err := renderTemplate("subscription_confirmed", map[string]any{
		"Name":   displayName(name),
		"Plan":   strings.ToUpper(string(plan)),
		"Amount": amountOrEmpty(amount, "usd"),
	})
	if err != nil {
		return err
	}
	return s.send(ctx, emailAddr, subjectSubscriptionConfirmed, body, "subscription-confirmed")
}

// SubscriptionCancelled sends the cancellation email with the access expiry.
func (s *Service) SubscriptionCancelled(ctx context.Context, emailAddr, name string, accessUntil time.Time) error {
	body, err := renderTemplate("subscription_cancelled", map[string]any{
		"Name":        displayName(name),
		"AccessUntil": accessUntil.Format("January 2, 2006"),
	})
	if err != nil {
		return err
	}
	return s.send(ctx, emailAddr, subjectSubscriptionCancelled, body, "subscription-cancelled")
}

// PaymentSucceeded sends the payment receipt email.
func (s *Service) PaymentSucceeded(ctx context.Context, userID uuid.UUID, amount int64, currency string) error {
	emailAddr, name, err := s.recipient(ctx, userID)
	if err != nil {
		return err
	}

	body, err := renderTemplate("payment_succeeded", map[string]any{
		"Name":   displayName(name),
		"Amount": formatAmount(amount, currency),
	})
	if err != nil {
		return err
	}
	return s.send(ctx, emailAddr, subjectPaymentSucceeded, body, "payment-succeeded")
}

// PaymentFailed sends the payment failure email with the decline reason.
func (s *Service) PaymentFailed(ctx context.Context, userID uuid.UUID, reason string) error {
	emailAddr, name, err := s.recipient(ctx, userID)
	if err != nil {
		return err
	}

	body, err := renderTemplate("payment_failed", map[string]any{
		"Name":   displayName(name),
		"Reason": reason,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, emailAddr, subjectPaymentFailed, body, "payment-failed")
}

func (s *Service) recipient(ctx context.Context, userID uuid.UUID) (string, string, error) {
	if s.resolve == nil || userID == uuid.Nil {
		return "", "", ErrUnresolvedRecipient
	}
	emailAddr, name, err := s.resolve(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrUnresolvedRecipient, err)
	}
	if emailAddr == "" {
		return "", "", ErrUnresolvedRecipient
	}
	return emailAddr, name, nil
}

func (s *Service) send(ctx context.Context, to, subject, body, tag string) error {
	err := s.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   to,
		Subject:  subject,
		BodyHTML: body,
		Tag:      tag,
	})
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, "notification sent",
		slog.String("subject", subject),
		slog.String("tag", tag),
	)
	return nil
}

func displayName(name string) string {
	if name == "" {
		return "there"
	}
	return name
}

// amountOrEmpty renders the amount only for paid plans; free plans skip the
// billing line entirely.
func amountOrEmpty(amount int64, currency string) string {
	if amount <= 0 {
		return ""
	}
	return formatAmount(amount, currency)
}
