package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// Metadata keys the billing frontend stamps on Stripe objects.
const (
	metaOrganizationID = "organization_id"
	metaEmailVerified  = "email_verified"
	metaPersonalOrg    = "personal_organization"
	metaDevPlan        = "dev_plan"
	metaDevPlanCredits = "dev_plan_credits_limit"
)

// Webhook ingests Stripe events into the ledger. All paths are idempotent on
// the payment-intent, invoice, or refund id, so at-least-once delivery is
// safe.
type Webhook struct {
	ledger *Ledger
	secret string
	log    *slog.Logger
}

// NewWebhook creates a Webhook verifier/dispatcher.
func NewWebhook(l *Ledger, signingSecret string, log *slog.Logger) *Webhook {
	if log == nil {
		log = slog.Default()
	}
	return &Webhook{ledger: l, secret: signingSecret, log: log}
}

// HandlePayload verifies the signature and dispatches the event.
// Unhandled event types are acknowledged silently.
func (w *Webhook) HandlePayload(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEvent(payload, sigHeader, w.secret)
	if err != nil {
		return fmt.Errorf("stripe: verify: %w", err)
	}
	return w.HandleEvent(ctx, event)
}

// HandleEvent dispatches an already-verified event.
func (w *Webhook) HandleEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "payment_intent.succeeded":
		return w.paymentSucceeded(ctx, event.Data.Raw)
	case "payment_intent.payment_failed":
		return w.paymentFailed(ctx, event.Data.Raw)
	case "setup_intent.succeeded":
		// Card saved for later use; no ledger movement.
		return nil
	case "checkout.session.completed":
		return w.checkoutCompleted(ctx, event.Data.Raw)
	case "invoice.payment_succeeded":
		return w.invoicePaid(ctx, event.Data.Raw)
	case "customer.subscription.updated":
		return w.subscriptionUpdated(ctx, event.Data.Raw)
	case "customer.subscription.deleted":
		return w.subscriptionDeleted(ctx, event.Data.Raw)
	case "charge.refunded":
		return w.chargeRefunded(ctx, event.Data.Raw)
	default:
		w.log.Debug("stripe_event_ignored", slog.String("type", string(event.Type)))
		return nil
	}
}

// centsToUSD converts a Stripe minor-unit amount.
func centsToUSD(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}

func (w *Webhook) paymentSucceeded(ctx context.Context, raw json.RawMessage) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return fmt.Errorf("stripe: payment_intent: %w", err)
	}
	orgID := pi.Metadata[metaOrganizationID]
	if orgID == "" {
		return nil // not a gateway-originated payment
	}

	amount := centsToUSD(pi.AmountReceived)
	if amount.IsZero() {
		amount = centsToUSD(pi.Amount)
	}

	err := w.ledger.appendWithRetry(ctx, Transaction{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Type:           TypeCreditTopup,
		Amount:         amount,
		CreditAmount:   amount,
		Currency:       string(pi.Currency),
		Status:         StatusCompleted,
		ExternalRef:    pi.ID,
		Description:    "credit purchase",
	})
	if err == ErrDuplicate {
		return nil
	}
	if err != nil {
		return err
	}

	if pi.Metadata[metaEmailVerified] == "true" {
		w.ledger.grantBonus(ctx, orgID, amount, pi.ID)
	}
	return nil
}

func (w *Webhook) paymentFailed(ctx context.Context, raw json.RawMessage) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return fmt.Errorf("stripe: payment_intent: %w", err)
	}
	orgID := pi.Metadata[metaOrganizationID]
	if orgID == "" {
		return nil
	}
	return w.ledger.store.IncrementPaymentFailures(ctx, orgID)
}

func (w *Webhook) checkoutCompleted(ctx context.Context, raw json.RawMessage) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return fmt.Errorf("stripe: checkout_session: %w", err)
	}
	orgID := sess.Metadata[metaOrganizationID]
	if orgID == "" {
		return nil
	}

	ref := sess.ID
	if sess.Invoice != nil {
		ref = sess.Invoice.ID
	}

	personal := sess.Metadata[metaPersonalOrg] == "true"
	if sess.Metadata[metaDevPlan] == "true" {
		credits := parseCredits(sess.Metadata[metaDevPlanCredits])
		err := w.ledger.appendWithRetry(ctx, Transaction{
			ID:             uuid.NewString(),
			OrganizationID: orgID,
			Type:           TypeDevPlanStart,
			Amount:         centsToUSD(sess.AmountTotal),
			CreditAmount:   credits,
			Currency:       string(sess.Currency),
			Status:         StatusCompleted,
			ExternalRef:    ref,
			Description:    "dev plan started",
		})
		if err == ErrDuplicate {
			return nil
		}
		return err
	}

	// Legacy pro-plan path; personal organizations skip it entirely.
	if personal {
		return nil
	}
	err := w.ledger.appendWithRetry(ctx, Transaction{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Type:           TypeSubscriptionStart,
		Amount:         centsToUSD(sess.AmountTotal),
		Currency:       string(sess.Currency),
		Status:         StatusCompleted,
		ExternalRef:    ref,
		Description:    "pro subscription started",
	})
	if err == ErrDuplicate {
		return nil
	}
	return err
}

func (w *Webhook) invoicePaid(ctx context.Context, raw json.RawMessage) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return fmt.Errorf("stripe: invoice: %w", err)
	}
	orgID := inv.Metadata[metaOrganizationID]
	if orgID == "" || inv.Metadata[metaDevPlan] != "true" {
		return nil
	}
	// Dev-plan renewal: the monthly credit allowance renews on payment.
	credits := parseCredits(inv.Metadata[metaDevPlanCredits])
	err := w.ledger.appendWithRetry(ctx, Transaction{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Type:           TypeDevPlanRenewal,
		Amount:         centsToUSD(inv.AmountPaid),
		CreditAmount:   credits,
		Currency:       string(inv.Currency),
		Status:         StatusCompleted,
		ExternalRef:    inv.ID,
		Description:    "dev plan renewal",
	})
	if err == ErrDuplicate {
		return nil
	}
	return err
}

func (w *Webhook) subscriptionUpdated(ctx context.Context, raw json.RawMessage) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("stripe: subscription: %w", err)
	}
	orgID := sub.Metadata[metaOrganizationID]
	if orgID == "" || !sub.CancelAtPeriodEnd {
		return nil
	}
	txType := TypeSubscriptionCancel
	if sub.Metadata[metaDevPlan] == "true" {
		txType = TypeDevPlanCancel
	}
	err := w.ledger.appendWithRetry(ctx, Transaction{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Type:           txType,
		Status:         StatusCompleted,
		Currency:       string(sub.Currency),
		ExternalRef:    sub.ID + ":cancel",
		Description:    "cancellation scheduled at period end",
	})
	if err == ErrDuplicate {
		return nil
	}
	return err
}

func (w *Webhook) subscriptionDeleted(ctx context.Context, raw json.RawMessage) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("stripe: subscription: %w", err)
	}
	orgID := sub.Metadata[metaOrganizationID]
	if orgID == "" {
		return nil
	}
	txType := TypeSubscriptionEnd
	if sub.Metadata[metaDevPlan] == "true" {
		txType = TypeDevPlanEnd
	}
	err := w.ledger.appendWithRetry(ctx, Transaction{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Type:           txType,
		Status:         StatusCompleted,
		Currency:       string(sub.Currency),
		ExternalRef:    sub.ID + ":end",
		Description:    "subscription ended",
	})
	if err == ErrDuplicate {
		return nil
	}
	return err
}

func (w *Webhook) chargeRefunded(ctx context.Context, raw json.RawMessage) error {
	var ch stripe.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return fmt.Errorf("stripe: charge: %w", err)
	}
	orgID := ch.Metadata[metaOrganizationID]
	if orgID == "" {
		return nil
	}
	if ch.Refunds == nil {
		return nil
	}
	related := ""
	if ch.PaymentIntent != nil {
		related = ch.PaymentIntent.ID
	}
	for _, ref := range ch.Refunds.Data {
		amount := centsToUSD(ref.Amount)
		err := w.ledger.appendWithRetry(ctx, Transaction{
			ID:             uuid.NewString(),
			OrganizationID: orgID,
			Type:           TypeCreditRefund,
			Amount:         amount,
			CreditAmount:   amount.Neg(),
			Currency:       string(ref.Currency),
			Status:         StatusCompleted,
			ExternalRef:    ref.ID,
			Description:    "credit refund",
			RelatedID:      related,
		})
		if err != nil && err != ErrDuplicate {
			return err
		}
	}
	return nil
}

// parseCredits reads a decimal metadata value, zero on absence or garbage.
func parseCredits(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
