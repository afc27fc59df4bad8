package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/forgeworks/tollgate/pkg/billing"
)

// invoicePayload is the subset of a Stripe invoice webhook payload the
// coordinator needs. Older API versions carry the subscription id at the
// top level; newer ones nest it under parent.subscription_details.
type invoicePayload struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	AmountPaid        int64  `json:"amount_paid"`
	AmountDue         int64  `json:"amount_due"`
	Currency          string `json:"currency"`
	AttemptCount      int    `json:"attempt_count"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
}

func (p *invoicePayload) subscriptionID() string {
	if p.Subscription != "" {
		return p.Subscription
	}
	return p.Parent.SubscriptionDetails.Subscription
}

// subscriptionPayload is the subset of a Stripe subscription webhook
// payload the coordinator needs.
type subscriptionPayload struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	TrialEnd          int64  `json:"trial_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// ParseWebhookEvent verifies the Stripe signature and decodes the event
// into the gateway's union. Verification failures return a
// *billing.SignatureError; unrecognized event types map to EventUnknown.
func (c *Client) ParseWebhookEvent(payload []byte, signatureHeader string) (*billing.Event, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, c.webhookSecret)
	if err != nil {
		return nil, &billing.SignatureError{Err: err}
	}
	return c.parseEvent(&event)
}

func (c *Client) parseEvent(event *stripe.Event) (*billing.Event, error) {
	out := &billing.Event{
		ID:      event.ID,
		RawType: string(event.Type),
	}

	switch event.Type {
	case "invoice.payment_succeeded", "invoice.paid":
		out.Kind = billing.EventPaymentSucceeded
		payment, err := decodePayment(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		out.Payment = payment

	case "invoice.payment_failed":
		out.Kind = billing.EventPaymentFailed
		payment, err := decodePayment(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		out.Payment = payment

	case "customer.subscription.updated":
		out.Kind = billing.EventSubscriptionUpdated
		ref, err := c.decodeSubscription(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		out.Subscription = ref

	case "customer.subscription.deleted":
		out.Kind = billing.EventSubscriptionDeleted
		ref, err := c.decodeSubscription(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		out.Subscription = ref

	default:
		out.Kind = billing.EventUnknown
	}
	return out, nil
}

func decodePayment(raw json.RawMessage) (*billing.PaymentEvent, error) {
	var inv invoicePayload
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("failed to decode invoice payload: %w", err)
	}

	payment := &billing.PaymentEvent{
		ProcessorInvoiceID:      inv.ID,
		ProcessorCustomerID:     inv.Customer,
		ProcessorSubscriptionID: inv.subscriptionID(),
		AmountCents:             inv.AmountPaid,
		Currency:                inv.Currency,
		AttemptCount:            inv.AttemptCount,
	}
	if payment.AmountCents == 0 {
		payment.AmountCents = inv.AmountDue
	}
	if inv.StatusTransitions.PaidAt > 0 {
		payment.PaidAt = time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
	}
	return payment, nil
}

func (c *Client) decodeSubscription(raw json.RawMessage) (*billing.SubscriptionRef, error) {
	var sub subscriptionPayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription payload: %w", err)
	}

	ref := &billing.SubscriptionRef{
		ID:                sub.ID,
		CustomerID:        sub.Customer,
		Status:            mapStatus(stripe.SubscriptionStatus(sub.Status)),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		ref.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		ref.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		ref.PlanID = c.planFor(item.Price.ID)
	}
	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		ref.TrialEnd = &trialEnd
	}
	return ref, nil
}
