package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/tollgate/pkg/audit"
	"github.com/forgeworks/tollgate/pkg/observability"
	"github.com/forgeworks/tollgate/pkg/plans"
)

// DefaultTrialDays is the trial period applied to new paid subscriptions
// when the caller does not specify one.
const DefaultTrialDays = 14

// Coordinator owns subscription and invoice records and keeps them in
// sync with the payment processor through the Gateway.
type Coordinator struct {
	db      *sql.DB
	catalog plans.Catalog
	gateway Gateway
	dedupe  Deduper
	audit   audit.Logger
	logger  *observability.Logger
}

// NewCoordinator creates a Coordinator. audit and logger may be nil.
func NewCoordinator(db *sql.DB, catalog plans.Catalog, gateway Gateway, dedupe Deduper, auditLog audit.Logger, logger *observability.Logger) *Coordinator {
	if dedupe == nil {
		dedupe = NopDeduper{}
	}
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Coordinator{
		db:      db,
		catalog: catalog,
		gateway: gateway,
		dedupe:  dedupe,
		audit:   auditLog,
		logger:  logger,
	}
}

const subscriptionColumns = `id, tenant_id, plan_id, status, billing_email,
	       COALESCE(processor_customer_id, ''), COALESCE(processor_subscription_id, ''),
	       current_period_start, current_period_end, cancel_at_period_end,
	       trial_end, canceled_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	sub := &Subscription{}
	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.PlanID, &sub.Status, &sub.BillingEmail,
		&sub.ProcessorCustomerID, &sub.ProcessorSubscriptionID,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd,
		&sub.TrialEnd, &sub.CanceledAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// CreateSubscriptionRequest is the input to Create.
type CreateSubscriptionRequest struct {
	PlanID       string `json:"plan_id"`
	BillingEmail string `json:"billing_email"`
	TrialDays    int    `json:"trial_days,omitempty"`
}

// Create starts a subscription for a tenant. Free plans are managed
// entirely locally and never touch the processor; paid plans are created
// at the processor first, and the local row is written only from the
// confirmed response.
func (c *Coordinator) Create(ctx context.Context, tenantID string, req *CreateSubscriptionRequest) (*Subscription, error) {
	plan, err := c.catalog.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	if existing, err := c.GetByTenant(ctx, tenantID); err == nil {
		return nil, &InvalidStateError{SubscriptionID: existing.ID, Status: existing.Status, Operation: "create a second subscription for"}
	} else if !IsNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	sub := &Subscription{
		ID:                 uuid.New().String(),
		TenantID:           tenantID,
		PlanID:             plan.ID,
		BillingEmail:       req.BillingEmail,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}

	if plan.IsFree() {
		sub.Status = SubscriptionStatusActive
	} else {
		customer, err := c.gateway.FindOrCreateCustomer(ctx, req.BillingEmail, map[string]string{"tenant_id": tenantID})
		if err != nil {
			return nil, err
		}

		trialDays := req.TrialDays
		if trialDays <= 0 {
			trialDays = DefaultTrialDays
		}
		idempotencyKey := fmt.Sprintf("sub-create:%s:%s", tenantID, plan.ID)
		ref, err := c.gateway.CreateSubscription(ctx, customer.ID, plan.ID, trialDays, idempotencyKey)
		if err != nil {
			return nil, err
		}

		sub.Status = ref.Status
		sub.ProcessorCustomerID = customer.ID
		sub.ProcessorSubscriptionID = ref.ID
		sub.CurrentPeriodStart = ref.CurrentPeriodStart
		sub.CurrentPeriodEnd = ref.CurrentPeriodEnd
		sub.TrialEnd = ref.TrialEnd
	}

	query := `
		INSERT INTO subscriptions (id, tenant_id, plan_id, status, billing_email,
		                           processor_customer_id, processor_subscription_id,
		                           current_period_start, current_period_end, cancel_at_period_end, trial_end)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	err = c.db.QueryRowContext(ctx, query, sub.ID, sub.TenantID, sub.PlanID, sub.Status, sub.BillingEmail,
		sub.ProcessorCustomerID, sub.ProcessorSubscriptionID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.TrialEnd).
		Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	c.auditEvent(ctx, audit.EventTypeSubscriptionCreated, tenantID, sub.ID,
		fmt.Sprintf("subscription created on plan %s", sub.PlanID),
		map[string]any{"plan_id": sub.PlanID, "status": string(sub.Status)})

	return sub, nil
}

// GetByTenant returns the tenant's current (non-canceled) subscription.
func (c *Coordinator) GetByTenant(ctx context.Context, tenantID string) (*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE tenant_id = $1 AND status != 'canceled'
	`
	sub, err := scanSubscription(c.db.QueryRowContext(ctx, query, tenantID))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "subscription", Ref: tenantID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// lockByTenant loads the tenant's latest subscription with a row lock,
// serializing concurrent mutations for that tenant. Canceled rows are
// returned too so callers can report the terminal state instead of a
// spurious not-found.
func (c *Coordinator) lockByTenant(ctx context.Context, tx *sql.Tx, tenantID string) (*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`
	sub, err := scanSubscription(tx.QueryRowContext(ctx, query, tenantID))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "subscription", Ref: tenantID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock subscription: %w", err)
	}
	return sub, nil
}

func (c *Coordinator) updateLocked(ctx context.Context, tx *sql.Tx, sub *Subscription) error {
	query := `
		UPDATE subscriptions
		SET plan_id = $2, status = $3,
		    processor_customer_id = NULLIF($4, ''), processor_subscription_id = NULLIF($5, ''),
		    current_period_start = $6, current_period_end = $7,
		    cancel_at_period_end = $8, trial_end = $9, canceled_at = $10,
		    updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query, sub.ID, sub.PlanID, sub.Status,
		sub.ProcessorCustomerID, sub.ProcessorSubscriptionID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.TrialEnd, sub.CanceledAt); err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// ChangePlan moves the tenant's subscription to a new plan. The row lock
// is held across the gateway call so a concurrent webhook resync for the
// same tenant cannot interleave.
func (c *Coordinator) ChangePlan(ctx context.Context, tenantID, newPlanID string) (*Subscription, error) {
	newPlan, err := c.catalog.GetPlan(ctx, newPlanID)
	if err != nil {
		return nil, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sub, err := c.lockByTenant(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.Status.Terminal() {
		return nil, &InvalidStateError{SubscriptionID: sub.ID, Status: sub.Status, Operation: "change plan of"}
	}
	if sub.PlanID == newPlan.ID {
		return sub, tx.Commit()
	}

	oldPlanID := sub.PlanID

	switch {
	case newPlan.IsFree() && sub.Local():
		// free -> free, nothing at the processor

	case newPlan.IsFree():
		// paid -> free: end the processor subscription now, keep the
		// local record alive on the free plan.
		if _, err := c.gateway.CancelSubscription(ctx, sub.ProcessorSubscriptionID, false); err != nil {
			return nil, err
		}
		sub.ProcessorSubscriptionID = ""
		sub.Status = SubscriptionStatusActive
		sub.TrialEnd = nil

	case sub.Local():
		// free -> paid: the processor subscription starts here.
		customer := &CustomerRef{ID: sub.ProcessorCustomerID}
		if customer.ID == "" {
			customer, err = c.gateway.FindOrCreateCustomer(ctx, sub.BillingEmail, map[string]string{"tenant_id": tenantID})
			if err != nil {
				return nil, err
			}
		}
		idempotencyKey := fmt.Sprintf("sub-upgrade:%s:%s:%s", tenantID, sub.ID, newPlan.ID)
		ref, err := c.gateway.CreateSubscription(ctx, customer.ID, newPlan.ID, 0, idempotencyKey)
		if err != nil {
			return nil, err
		}
		sub.ProcessorCustomerID = customer.ID
		sub.ProcessorSubscriptionID = ref.ID
		sub.Status = ref.Status
		sub.CurrentPeriodStart = ref.CurrentPeriodStart
		sub.CurrentPeriodEnd = ref.CurrentPeriodEnd
		sub.TrialEnd = ref.TrialEnd

	default:
		// paid -> paid: move the processor subscription, prorated.
		ref, err := c.gateway.UpdateSubscriptionPlan(ctx, sub.ProcessorSubscriptionID, newPlan.ID)
		if err != nil {
			return nil, err
		}
		sub.Status = ref.Status
		sub.CurrentPeriodStart = ref.CurrentPeriodStart
		sub.CurrentPeriodEnd = ref.CurrentPeriodEnd
	}

	sub.PlanID = newPlan.ID
	if err := c.updateLocked(ctx, tx, sub); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit plan change: %w", err)
	}

	c.auditEvent(ctx, audit.EventTypeSubscriptionChanged, tenantID, sub.ID,
		fmt.Sprintf("plan changed from %s to %s", oldPlanID, newPlan.ID),
		map[string]any{"old_plan_id": oldPlanID, "new_plan_id": newPlan.ID})

	return sub, nil
}

// Cancel ends the tenant's subscription. By default the subscription
// stays active until the period ends; immediately forces the transition
// now. Processor-backed subscriptions apply the processor's confirmed
// response rather than local guesses.
func (c *Coordinator) Cancel(ctx context.Context, tenantID string, immediately bool) (*Subscription, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sub, err := c.lockByTenant(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.Status.Terminal() {
		return nil, &InvalidStateError{SubscriptionID: sub.ID, Status: sub.Status, Operation: "cancel"}
	}

	if sub.Local() {
		if immediately {
			now := time.Now().UTC()
			sub.Status = SubscriptionStatusCanceled
			sub.CanceledAt = &now
		} else {
			sub.CancelAtPeriodEnd = true
		}
	} else {
		ref, err := c.gateway.CancelSubscription(ctx, sub.ProcessorSubscriptionID, !immediately)
		if err != nil {
			return nil, err
		}
		sub.Status = ref.Status
		sub.CancelAtPeriodEnd = ref.CancelAtPeriodEnd
		if ref.Status == SubscriptionStatusCanceled {
			now := time.Now().UTC()
			sub.CanceledAt = &now
		}
	}

	if err := c.updateLocked(ctx, tx, sub); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	c.auditEvent(ctx, audit.EventTypeSubscriptionCanceled, tenantID, sub.ID,
		"subscription canceled",
		map[string]any{"immediately": immediately, "plan_id": sub.PlanID})

	return sub, nil
}

// RenewLocalPeriods advances the billing period of local (processor-less)
// subscriptions whose period has lapsed, applying scheduled cancellations.
// Processor-backed subscriptions renew via webhooks instead. Run
// periodically from the renewal sweep.
func (c *Coordinator) RenewLocalPeriods(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()

	canceled, err := c.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'canceled', canceled_at = current_period_end, updated_at = NOW()
		WHERE processor_subscription_id IS NULL
		  AND status != 'canceled'
		  AND cancel_at_period_end
		  AND current_period_end <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to apply scheduled cancellations: %w", err)
	}

	renewed, err := c.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET current_period_start = current_period_end,
		    current_period_end = current_period_end + INTERVAL '1 month',
		    updated_at = NOW()
		WHERE processor_subscription_id IS NULL
		  AND status != 'canceled'
		  AND NOT cancel_at_period_end
		  AND current_period_end <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to renew local periods: %w", err)
	}

	var total int64
	if n, err := canceled.RowsAffected(); err == nil {
		total += n
	}
	if n, err := renewed.RowsAffected(); err == nil {
		total += n
	}
	return int(total), nil
}

const invoiceColumns = `id, tenant_id, subscription_id, COALESCE(processor_invoice_id, ''),
	       amount_cents, currency, status, due_date, paid_at, created_at, updated_at`

func scanInvoice(row rowScanner) (*Invoice, error) {
	inv := &Invoice{}
	err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.SubscriptionID, &inv.ProcessorInvoiceID,
		&inv.AmountCents, &inv.Currency, &inv.Status, &inv.DueDate, &inv.PaidAt,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvoices returns the tenant's invoices, newest first.
func (c *Coordinator) ListInvoices(ctx context.Context, tenantID string, limit int) ([]*Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// GetInvoice returns one invoice with its line items.
func (c *Coordinator) GetInvoice(ctx context.Context, tenantID, invoiceID string) (*Invoice, error) {
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE id = $1 AND tenant_id = $2
	`
	inv, err := scanInvoice(c.db.QueryRowContext(ctx, query, invoiceID, tenantID))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "invoice", Ref: invoiceID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, invoice_id, description, quantity, unit_price_cents, amount_cents, item_type
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoice items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item InvoiceItem
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.Description,
			&item.Quantity, &item.UnitPriceCents, &item.AmountCents, &item.Type); err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		inv.Items = append(inv.Items, item)
	}
	return inv, rows.Err()
}

// CreateCharge records a one-time charge for the tenant. For
// processor-backed subscriptions the line item is also pushed to the
// customer's next processor invoice; the local invoice stays open until a
// payment webhook confirms it.
func (c *Coordinator) CreateCharge(ctx context.Context, tenantID, description string, amountCents int64) (*Invoice, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("charge amount must be positive, got %d", amountCents)
	}

	sub, err := c.GetByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	const currency = "usd"
	if !sub.Local() {
		if err := c.gateway.CreateInvoiceItem(ctx, sub.ProcessorCustomerID, description, amountCents, currency); err != nil {
			return nil, err
		}
	}

	inv := &Invoice{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		SubscriptionID: sub.ID,
		AmountCents:    amountCents,
		Currency:       currency,
		Status:         InvoiceStatusOpen,
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO invoices (id, tenant_id, subscription_id, amount_cents, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, inv.ID, inv.TenantID, inv.SubscriptionID, inv.AmountCents, inv.Currency, inv.Status).
		Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}

	item := InvoiceItem{
		ID:             uuid.New().String(),
		InvoiceID:      inv.ID,
		Description:    description,
		Quantity:       1,
		UnitPriceCents: amountCents,
		AmountCents:    amountCents,
		Type:           InvoiceItemTypeOneTime,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO invoice_items (id, invoice_id, description, quantity, unit_price_cents, amount_cents, item_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.InvoiceID, item.Description, item.Quantity, item.UnitPriceCents, item.AmountCents, item.Type); err != nil {
		return nil, fmt.Errorf("failed to create invoice item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit charge: %w", err)
	}

	inv.Items = []InvoiceItem{item}
	return inv, nil
}

// SweepRenewals runs the periodic renewal pass: local subscriptions with
// lapsed periods are advanced (or canceled, when scheduled), and each
// renewed subscription gets a renewal invoice for its new period.
// Invoice failures are logged per tenant and do not stop the sweep.
func (c *Coordinator) SweepRenewals(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()

	rows, err := c.db.QueryContext(ctx, `
		SELECT tenant_id
		FROM subscriptions
		WHERE processor_subscription_id IS NULL
		  AND status != 'canceled'
		  AND NOT cancel_at_period_end
		  AND current_period_end <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list renewable subscriptions: %w", err)
	}
	var tenants []string
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan renewable subscription: %w", err)
		}
		tenants = append(tenants, tenantID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to list renewable subscriptions: %w", err)
	}

	renewed, err := c.RenewLocalPeriods(ctx, now)
	if err != nil {
		return 0, err
	}

	for _, tenantID := range tenants {
		if _, err := c.GenerateRenewalInvoice(ctx, tenantID); err != nil {
			c.logger.WithError(err).WithField("tenant_id", tenantID).
				Warn("failed to generate renewal invoice")
		}
	}
	return renewed, nil
}

// GenerateRenewalInvoice records the local invoice for a subscription's
// current period with a subscription line item. The renewal sweep calls
// this for subscriptions with no processor record; processor-billed
// tenants get their invoices mirrored from payment webhooks instead.
// The invoice stays open: only a processor event may mark it paid.
func (c *Coordinator) GenerateRenewalInvoice(ctx context.Context, tenantID string) (*Invoice, error) {
	sub, err := c.GetByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !sub.Local() {
		return nil, &InvalidStateError{SubscriptionID: sub.ID, Status: sub.Status, Operation: "generate a local renewal invoice for"}
	}

	plan, err := c.catalog.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	inv := &Invoice{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		SubscriptionID: sub.ID,
		AmountCents:    plan.PriceCents,
		Currency:       plan.Currency,
		Status:         InvoiceStatusOpen,
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO invoices (id, tenant_id, subscription_id, amount_cents, currency, status, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, inv.ID, inv.TenantID, inv.SubscriptionID, inv.AmountCents, inv.Currency, inv.Status, sub.CurrentPeriodEnd).
		Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create renewal invoice: %w", err)
	}
	dueDate := sub.CurrentPeriodEnd
	inv.DueDate = &dueDate

	item := InvoiceItem{
		ID:        uuid.New().String(),
		InvoiceID: inv.ID,
		Description: fmt.Sprintf("%s plan, %s to %s", plan.Name,
			sub.CurrentPeriodStart.Format("2006-01-02"), sub.CurrentPeriodEnd.Format("2006-01-02")),
		Quantity:       1,
		UnitPriceCents: plan.PriceCents,
		AmountCents:    plan.PriceCents,
		Type:           InvoiceItemTypeSubscription,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO invoice_items (id, invoice_id, description, quantity, unit_price_cents, amount_cents, item_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.InvoiceID, item.Description, item.Quantity, item.UnitPriceCents, item.AmountCents, item.Type); err != nil {
		return nil, fmt.Errorf("failed to create renewal invoice item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit renewal invoice: %w", err)
	}

	inv.Items = []InvoiceItem{item}
	return inv, nil
}

func (c *Coordinator) auditEvent(ctx context.Context, eventType audit.EventType, tenantID, subscriptionID, message string, metadata map[string]any) {
	err := c.audit.Log(ctx, &audit.Event{
		EventType:    eventType,
		Actor:        audit.ActorTenant,
		TenantID:     tenantID,
		ResourceType: "subscription",
		ResourceID:   subscriptionID,
		Message:      message,
		Metadata:     metadata,
	})
	if err != nil {
		c.logger.WithError(err).WithField("tenant_id", tenantID).Warn("failed to write billing audit event")
	}
}
