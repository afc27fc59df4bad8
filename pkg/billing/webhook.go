package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/tollgate/pkg/audit"
)

// unpaidAfterAttempts is how many failed payment attempts move a
// subscription from past_due to unpaid.
const unpaidAfterAttempts = 3

// HandleWebhook verifies and processes a raw webhook delivery. A
// *SignatureError means the caller must reject the request; any other
// error is a processing failure on an authentic event.
func (c *Coordinator) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := c.gateway.ParseWebhookEvent(payload, signatureHeader)
	if err != nil {
		return err
	}
	return c.HandleEvent(ctx, event)
}

// HandleEvent applies one verified processor event. Processing is
// idempotent: replayed event ids are skipped via the deduper, and every
// handler converges to the same state when run twice. Unknown event
// kinds are logged and acknowledged.
func (c *Coordinator) HandleEvent(ctx context.Context, event *Event) error {
	log := c.logger.WithField("event_id", event.ID).WithField("event_type", event.RawType)

	if event.Kind == EventUnknown {
		log.Debug("ignoring unhandled webhook event type")
		return nil
	}

	seen, err := c.dedupe.Seen(ctx, event.ID)
	if err != nil {
		// Dedupe is an optimization; handlers are idempotent anyway.
		log.WithError(err).Warn("webhook dedupe check failed, processing anyway")
	} else if seen {
		log.Info("skipping already-processed webhook event")
		return nil
	}

	switch event.Kind {
	case EventPaymentSucceeded:
		err = c.handlePaymentSucceeded(ctx, event.Payment)
	case EventPaymentFailed:
		err = c.handlePaymentFailed(ctx, event.Payment)
	case EventSubscriptionUpdated:
		err = c.handleSubscriptionUpdated(ctx, event.Subscription)
	case EventSubscriptionDeleted:
		err = c.handleSubscriptionDeleted(ctx, event.Subscription)
	default:
		log.Debug("ignoring unhandled webhook event type")
		return nil
	}
	if err != nil {
		return err
	}

	// Mark only after successful processing so a crash mid-handler lets
	// the processor's retry complete the work.
	if err := c.dedupe.Mark(ctx, event.ID); err != nil {
		log.WithError(err).Warn("failed to mark webhook event as processed")
	}
	return nil
}

// lockByProcessorID locks the local subscription row mirroring a
// processor subscription. Canceled rows are still matched: late webhooks
// for a dead subscription must resolve to the same row, not a miss.
func (c *Coordinator) lockByProcessorID(ctx context.Context, tx *sql.Tx, processorSubscriptionID string) (*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE processor_subscription_id = $1
		FOR UPDATE
	`
	sub, err := scanSubscription(tx.QueryRowContext(ctx, query, processorSubscriptionID))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "subscription", Ref: processorSubscriptionID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock subscription: %w", err)
	}
	return sub, nil
}

func (c *Coordinator) handlePaymentSucceeded(ctx context.Context, payment *PaymentEvent) error {
	if payment == nil {
		return fmt.Errorf("payment_succeeded event missing payment payload")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sub, err := c.lockByProcessorID(ctx, tx, payment.ProcessorSubscriptionID)
	if err != nil {
		return err
	}

	paidAt := payment.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	// Upsert by processor invoice id: the processor's confirmation is
	// the only thing allowed to mark an invoice paid.
	res, err := tx.ExecContext(ctx, `
		UPDATE invoices
		SET status = 'paid', paid_at = $2, amount_cents = $3, updated_at = NOW()
		WHERE processor_invoice_id = $1
	`, payment.ProcessorInvoiceID, paidAt, payment.AmountCents)
	if err != nil {
		return fmt.Errorf("failed to mark invoice paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO invoices (id, tenant_id, subscription_id, processor_invoice_id, amount_cents, currency, status, paid_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'paid', $7)
			ON CONFLICT (processor_invoice_id) DO UPDATE
			SET status = 'paid', paid_at = EXCLUDED.paid_at, updated_at = NOW()
		`, uuid.New().String(), sub.TenantID, sub.ID, payment.ProcessorInvoiceID,
			payment.AmountCents, payment.Currency, paidAt); err != nil {
			return fmt.Errorf("failed to record paid invoice: %w", err)
		}
	}

	// A successful payment restores delinquent subscriptions.
	switch sub.Status {
	case SubscriptionStatusPastDue, SubscriptionStatusUnpaid, SubscriptionStatusTrialing:
		sub.Status = SubscriptionStatusActive
		if err := c.updateLocked(ctx, tx, sub); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment: %w", err)
	}

	c.auditEvent(ctx, audit.EventTypeInvoicePaid, sub.TenantID, sub.ID,
		fmt.Sprintf("invoice %s paid", payment.ProcessorInvoiceID),
		map[string]any{"processor_invoice_id": payment.ProcessorInvoiceID, "amount_cents": payment.AmountCents})
	return nil
}

func (c *Coordinator) handlePaymentFailed(ctx context.Context, payment *PaymentEvent) error {
	if payment == nil {
		return fmt.Errorf("payment_failed event missing payment payload")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sub, err := c.lockByProcessorID(ctx, tx, payment.ProcessorSubscriptionID)
	if err != nil {
		return err
	}

	if !sub.Status.Terminal() {
		if payment.AttemptCount >= unpaidAfterAttempts {
			sub.Status = SubscriptionStatusUnpaid
		} else {
			sub.Status = SubscriptionStatusPastDue
		}
		if err := c.updateLocked(ctx, tx, sub); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment failure: %w", err)
	}

	c.auditEvent(ctx, audit.EventTypePaymentFailed, sub.TenantID, sub.ID,
		fmt.Sprintf("payment failed (attempt %d)", payment.AttemptCount),
		map[string]any{"attempt_count": payment.AttemptCount, "status": string(sub.Status)})
	return nil
}

// handleSubscriptionUpdated resyncs the local row from the processor's
// view verbatim; the processor is the source of truth for status and
// period fields.
func (c *Coordinator) handleSubscriptionUpdated(ctx context.Context, ref *SubscriptionRef) error {
	if ref == nil {
		return fmt.Errorf("subscription_updated event missing subscription payload")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sub, err := c.lockByProcessorID(ctx, tx, ref.ID)
	if err != nil {
		return err
	}

	sub.Status = ref.Status
	sub.CurrentPeriodStart = ref.CurrentPeriodStart
	sub.CurrentPeriodEnd = ref.CurrentPeriodEnd
	sub.CancelAtPeriodEnd = ref.CancelAtPeriodEnd
	sub.TrialEnd = ref.TrialEnd
	if ref.PlanID != "" {
		sub.PlanID = ref.PlanID
	}
	if ref.Status == SubscriptionStatusCanceled && sub.CanceledAt == nil {
		now := time.Now().UTC()
		sub.CanceledAt = &now
	}

	if err := c.updateLocked(ctx, tx, sub); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit subscription resync: %w", err)
	}
	return nil
}

func (c *Coordinator) handleSubscriptionDeleted(ctx context.Context, ref *SubscriptionRef) error {
	if ref == nil {
		return fmt.Errorf("subscription_deleted event missing subscription payload")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sub, err := c.lockByProcessorID(ctx, tx, ref.ID)
	if err != nil {
		return err
	}

	if !sub.Status.Terminal() {
		now := time.Now().UTC()
		sub.Status = SubscriptionStatusCanceled
		sub.CanceledAt = &now
		if err := c.updateLocked(ctx, tx, sub); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit subscription deletion: %w", err)
	}

	c.auditEvent(ctx, audit.EventTypeSubscriptionCanceled, sub.TenantID, sub.ID,
		"subscription ended at processor",
		map[string]any{"processor_subscription_id": ref.ID})
	return nil
}
