package notification

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

// Email subjects for the lifecycle notifications.
const (
	subjectSubscriptionConfirmed = "Subscription Confirmation"
	subjectSubscriptionCancelled = "Subscription Cancelled"
	subjectPaymentSucceeded      = "Payment Successful"
	subjectPaymentFailed         = "Payment Failed"
)

var emailTemplates = template.Must(template.New("emails").Parse(`
{{define "subscription_confirmed"}}
<h1>Subscription Confirmed</h1>
<p>Hi {{.Name}},</p>
<p>Your <strong>{{.Plan}}</strong> subscription is now active.</p>
{{if .Amount}}<p>You will be billed {{.Amount}} per month.</p>{{end}}
<p>Thanks for subscribing!</p>
{{end}}

{{define "subscription_cancelled"}}
<h1>Subscription Cancelled</h1>
<p>Hi {{.Name}},</p>
<p>Your subscription has been cancelled.</p>
<p>You will keep access until <strong>{{.AccessUntil}}</strong>.</p>
<p>We are sorry to see you go.</p>
{{end}}

{{define "payment_succeeded"}}
<h1>Payment Received</h1>
<p>Hi {{.Name}},</p>
<p>We received your payment of <strong>{{.Amount}}</strong>. Thank you!</p>
{{end}}

{{define "payment_failed"}}
<h1>Payment Failed</h1>
<p>Hi {{.Name}},</p>
<p>We could not process your payment{{if .Reason}}: {{.Reason}}{{end}}.</p>
<p>Please update your payment method to keep your subscription active.</p>
{{end}}
`))

func renderTemplate(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("notification: render %s: %w", name, err)
	}
	return buf.String(), nil
}

// formatAmount renders minor currency units as a human amount, e.g.
// 1999/"usd" becomes "$19.99".
func formatAmount(amount int64, currency string) string {
	symbol := currencySymbol(currency)
	return fmt.Sprintf("%s%d.%02d", symbol, amount/100, amount%100)
}

func currencySymbol(currency string) string {
	switch strings.ToLower(currency) {
	case "usd", "":
		return "$"
	case "eur":
		return "€"
	case "gbp":
		return "£"
	default:
		return strings.ToUpper(currency) + " "
	}
}
