package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v75"
)

type SubscriptionInput struct {
	CustomerID string
	ProductID  string
	// UnitAmount is the gross amount billed each interval.
	UnitAmount int64
	Interval   string
	Metadata   map[string]string
	// IdempotencyKey prefixes the keys of every object created for this
	// subscription.
	IdempotencyKey string
}

// Mandate is the customer's consent to be charged, required by the
// processor when confirming off-session reusable payments.
type Mandate struct {
	IPAddress  string
	UserAgent  string
	AcceptedAt time.Time
}

func (c *Client) createPrice(ctx context.Context, productID string, amount int64, interval, idempotencyKey string) (*stripe.Price, error) {
	p := &stripe.PriceParams{
		Currency:   stripe.String(currency),
		Product:    stripe.String(productID),
		UnitAmount: stripe.Int64(amount),
	}
	if interval != "" {
		p.Recurring = &stripe.PriceRecurringParams{Interval: stripe.String(interval)}
	}
	p.Context = ctx
	if idempotencyKey != "" {
		p.SetIdempotencyKey(idempotencyKey)
	}
	price, err := c.api.Prices.New(p)
	return price, classify("create_price", err)
}

// CreateEntryFeeItem adds a one-time charge to the customer's next invoice,
// which is the first invoice of the subscription created right after.
func (c *Client) CreateEntryFeeItem(ctx context.Context, customerID, productID string, amount int64, description, idempotencyKey string) (*stripe.InvoiceItem, error) {
	price, err := c.createPrice(ctx, productID, amount, "", keyFor(idempotencyKey, "entry-price"))
	if err != nil {
		return nil, err
	}

	p := &stripe.InvoiceItemParams{
		Customer:    stripe.String(customerID),
		Price:       stripe.String(price.ID),
		Description: stripe.String(description),
	}
	p.Context = ctx
	if idempotencyKey != "" {
		p.SetIdempotencyKey(keyFor(idempotencyKey, "entry-item"))
	}
	item, err := c.api.InvoiceItems.New(p)
	return item, classify("create_invoice_item", err)
}

// CreateSubscription creates an incomplete subscription: nothing is charged
// until its first payment intent is confirmed.
func (c *Client) CreateSubscription(ctx context.Context, in SubscriptionInput) (*stripe.Subscription, error) {
	price, err := c.createPrice(ctx, in.ProductID, in.UnitAmount, in.Interval, keyFor(in.IdempotencyKey, "recurring-price"))
	if err != nil {
		return nil, err
	}

	p := &stripe.SubscriptionParams{
		Customer:        stripe.String(in.CustomerID),
		Items:           []*stripe.SubscriptionItemsParams{{Price: stripe.String(price.ID)}},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	p.Context = ctx
	p.AddExtra("payment_settings[save_default_payment_method]", "on_subscription")
	p.AddExpand("latest_invoice.payment_intent")
	for k, v := range in.Metadata {
		p.AddMetadata(k, v)
	}
	if in.IdempotencyKey != "" {
		p.SetIdempotencyKey(keyFor(in.IdempotencyKey, "subscription"))
	}
	sub, err := c.api.Subscriptions.New(p)
	return sub, classify("create_subscription", err)
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	p := &stripe.SubscriptionParams{}
	p.Context = ctx
	p.AddExpand("latest_invoice.payment_intent")
	sub, err := c.api.Subscriptions.Get(id, p)
	return sub, classify("get_subscription", err)
}

// UpdateSubscriptionPrice replaces the subscription's single line item with
// a new recurring price, without proration, and clears any pending
// cancellation.
func (c *Client) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, productID string, amount int64, interval string) (*stripe.Subscription, error) {
	current, err := c.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, &Error{Kind: KindFatal, Op: "update_subscription_price", Message: fmt.Sprintf("subscription %s has no items", subscriptionID)}
	}

	price, err := c.createPrice(ctx, productID, amount, interval, "")
	if err != nil {
		return nil, err
	}

	p := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(current.Items.Data[0].ID),
			Price: stripe.String(price.ID),
		}},
		ProrationBehavior: stripe.String("none"),
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	p.Context = ctx
	sub, err := c.api.Subscriptions.Update(subscriptionID, p)
	return sub, classify("update_subscription_price", err)
}

// ConfirmPayment confirms a payment intent with the given payment method and
// the customer's online mandate.
func (c *Client) ConfirmPayment(ctx context.Context, paymentIntentID, paymentMethodID string, m Mandate) (*stripe.PaymentIntent, error) {
	p := &stripe.PaymentIntentConfirmParams{PaymentMethod: stripe.String(paymentMethodID)}
	p.Context = ctx
	p.AddExtra("mandate_data[customer_acceptance][type]", "online")
	p.AddExtra("mandate_data[customer_acceptance][online][ip_address]", m.IPAddress)
	p.AddExtra("mandate_data[customer_acceptance][online][user_agent]", m.UserAgent)
	if !m.AcceptedAt.IsZero() {
		p.AddExtra("mandate_data[customer_acceptance][accepted_at]", strconv.FormatInt(m.AcceptedAt.Unix(), 10))
	}
	pi, err := c.api.PaymentIntents.Confirm(paymentIntentID, p)
	return pi, classify("confirm_payment", err)
}

func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	p := &stripe.PaymentIntentParams{}
	p.Context = ctx
	pi, err := c.api.PaymentIntents.Get(id, p)
	return pi, classify("get_payment_intent", err)
}

func keyFor(base, step string) string {
	if base == "" {
		return ""
	}
	return base + ":" + step
}
