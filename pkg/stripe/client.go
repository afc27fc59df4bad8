package stripe

import (
	"context"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoiceitem"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/forgeworks/tollgate/pkg/billing"
)

// PlanPrices maps plan ids to Stripe price ids. The prices must exist in
// the Stripe dashboard.
type PlanPrices map[string]string

// Client implements billing.Gateway against the Stripe API.
type Client struct {
	webhookSecret string
	planPrices    PlanPrices
	pricePlans    map[string]string // price id -> plan id
}

// NewClient configures the Stripe SDK and returns a gateway adapter.
func NewClient(apiKey, webhookSecret string, planPrices PlanPrices) *Client {
	stripe.Key = apiKey

	pricePlans := make(map[string]string, len(planPrices))
	for planID, priceID := range planPrices {
		pricePlans[priceID] = planID
	}
	return &Client{
		webhookSecret: webhookSecret,
		planPrices:    planPrices,
		pricePlans:    pricePlans,
	}
}

func (c *Client) priceFor(planID string) (string, error) {
	priceID, ok := c.planPrices[planID]
	if !ok {
		return "", fmt.Errorf("no stripe price configured for plan %q", planID)
	}
	return priceID, nil
}

// planFor maps a price id back to a plan id; unknown prices return the
// empty string and the caller keeps its local plan.
func (c *Client) planFor(priceID string) string {
	return c.pricePlans[priceID]
}

// FindOrCreateCustomer looks the customer up by email before creating,
// so retried subscription flows reuse the same Stripe customer.
func (c *Client) FindOrCreateCustomer(ctx context.Context, email string, metadata map[string]string) (*billing.CustomerRef, error) {
	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)
	iter := customer.List(listParams)
	for iter.Next() {
		cus := iter.Customer()
		return &billing.CustomerRef{ID: cus.ID, Email: email}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, &billing.GatewayError{Op: "find_customer", Err: err}
	}

	params := &stripe.CustomerParams{
		Email:    stripe.String(email),
		Metadata: metadata,
	}
	params.Context = ctx
	cus, err := customer.New(params)
	if err != nil {
		return nil, &billing.GatewayError{Op: "create_customer", Err: err}
	}
	return &billing.CustomerRef{ID: cus.ID, Email: email}, nil
}

// CreateSubscription starts a Stripe subscription on the plan's price.
func (c *Client) CreateSubscription(ctx context.Context, customerID, planID string, trialDays int, idempotencyKey string) (*billing.SubscriptionRef, error) {
	priceID, err := c.priceFor(planID)
	if err != nil {
		return nil, &billing.GatewayError{Op: "create_subscription", Err: err}
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
	}
	params.Context = ctx
	if trialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(trialDays))
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	sub, err := subscription.New(params)
	if err != nil {
		return nil, &billing.GatewayError{Op: "create_subscription", Err: err}
	}
	return c.subscriptionRef(sub, planID), nil
}

// UpdateSubscriptionPlan swaps the subscription item to the new plan's
// price with prorations.
func (c *Client) UpdateSubscriptionPlan(ctx context.Context, subscriptionID, newPlanID string) (*billing.SubscriptionRef, error) {
	priceID, err := c.priceFor(newPlanID)
	if err != nil {
		return nil, &billing.GatewayError{Op: "update_subscription", Err: err}
	}

	current, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, &billing.GatewayError{Op: "update_subscription", Err: err}
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, &billing.GatewayError{Op: "update_subscription", Err: fmt.Errorf("subscription %s has no items", subscriptionID)}
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx

	sub, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return nil, &billing.GatewayError{Op: "update_subscription", Err: err}
	}
	return c.subscriptionRef(sub, newPlanID), nil
}

// CancelSubscription schedules or executes cancellation.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*billing.SubscriptionRef, error) {
	var sub *stripe.Subscription
	var err error
	if atPeriodEnd {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		sub, err = subscription.Update(subscriptionID, params)
	} else {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		sub, err = subscription.Cancel(subscriptionID, params)
	}
	if err != nil {
		return nil, &billing.GatewayError{Op: "cancel_subscription", Err: err}
	}
	return c.subscriptionRef(sub, ""), nil
}

// CreateInvoiceItem adds a pending line item to the customer's next
// invoice. Amounts are already minor units on both sides.
func (c *Client) CreateInvoiceItem(ctx context.Context, customerID, description string, amountCents int64, currency string) error {
	params := &stripe.InvoiceItemParams{
		Customer:    stripe.String(customerID),
		Amount:      stripe.Int64(amountCents),
		Currency:    stripe.String(currency),
		Description: stripe.String(description),
	}
	params.Context = ctx
	if _, err := invoiceitem.New(params); err != nil {
		return &billing.GatewayError{Op: "create_invoice_item", Err: err}
	}
	return nil
}

// subscriptionRef normalizes a Stripe subscription. Period fields live on
// the subscription item; planID overrides the price lookup when the
// caller already knows it.
func (c *Client) subscriptionRef(sub *stripe.Subscription, planID string) *billing.SubscriptionRef {
	ref := &billing.SubscriptionRef{
		ID:                sub.ID,
		Status:            mapStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		ref.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		ref.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		ref.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		if planID == "" && item.Price != nil {
			planID = c.planFor(item.Price.ID)
		}
	}
	ref.PlanID = planID
	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		ref.TrialEnd = &trialEnd
	}
	return ref
}

// mapStatus folds Stripe's subscription statuses onto the local state
// machine. Incomplete flavors behave like payment trouble.
func mapStatus(status stripe.SubscriptionStatus) billing.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusTrialing:
		return billing.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusActive:
		return billing.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusPaused:
		return billing.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusUnpaid:
		return billing.SubscriptionStatusUnpaid
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return billing.SubscriptionStatusCanceled
	default:
		return billing.SubscriptionStatusPastDue
	}
}
