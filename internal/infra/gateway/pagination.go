package gateway

import (
	"context"

	"github.com/stripe/stripe-go/v75"
)

const defaultPageSize = 100

type ListFilter struct {
	// Customer restricts the listing to one remote customer.
	Customer string
	PageSize int64
	// FirstPageOnly stops after one page, for most-recent lookups.
	FirstPageOnly bool
}

// pageIter is the subset of the SDK's list iterators used here.
type pageIter interface {
	Next() bool
	Current() interface{}
	Err() error
	Meta() *stripe.ListMeta
}

// listAll walks the cursor pagination, asking for one page at a time and
// starting each page after the last item of the previous one.
func listAll[T any](ctx context.Context, op string, f ListFilter, id func(T) string, page func(stripe.ListParams) pageIter) ([]T, error) {
	size := f.PageSize
	if size <= 0 || size > 100 {
		size = defaultPageSize
	}

	var (
		all    []T
		cursor string
	)
	for {
		lp := stripe.ListParams{Context: ctx, Limit: stripe.Int64(size), Single: true}
		if cursor != "" {
			lp.StartingAfter = stripe.String(cursor)
		}

		it := page(lp)
		n := 0
		for it.Next() {
			item, ok := it.Current().(T)
			if !ok {
				continue
			}
			all = append(all, item)
			n++
		}
		if err := it.Err(); err != nil {
			return nil, classify(op, err)
		}

		meta := it.Meta()
		if f.FirstPageOnly || n == 0 || meta == nil || !meta.HasMore {
			return all, nil
		}
		cursor = id(all[len(all)-1])
	}
}

func (c *Client) ListCustomers(ctx context.Context, f ListFilter) ([]*stripe.Customer, error) {
	return listAll(ctx, "list_customers", f,
		func(cus *stripe.Customer) string { return cus.ID },
		func(lp stripe.ListParams) pageIter {
			return c.api.Customers.List(&stripe.CustomerListParams{ListParams: lp})
		})
}

func (c *Client) ListPaymentMethods(ctx context.Context, f ListFilter) ([]*stripe.PaymentMethod, error) {
	return listAll(ctx, "list_payment_methods", f,
		func(pm *stripe.PaymentMethod) string { return pm.ID },
		func(lp stripe.ListParams) pageIter {
			p := &stripe.PaymentMethodListParams{ListParams: lp, Type: stripe.String("card")}
			if f.Customer != "" {
				p.Customer = stripe.String(f.Customer)
			}
			return c.api.PaymentMethods.List(p)
		})
}

// ListSubscriptions includes canceled subscriptions.
func (c *Client) ListSubscriptions(ctx context.Context, f ListFilter) ([]*stripe.Subscription, error) {
	return listAll(ctx, "list_subscriptions", f,
		func(s *stripe.Subscription) string { return s.ID },
		func(lp stripe.ListParams) pageIter {
			p := &stripe.SubscriptionListParams{ListParams: lp, Status: stripe.String("all")}
			if f.Customer != "" {
				p.Customer = stripe.String(f.Customer)
			}
			return c.api.Subscriptions.List(p)
		})
}

func (c *Client) ListPaymentIntents(ctx context.Context, f ListFilter) ([]*stripe.PaymentIntent, error) {
	return listAll(ctx, "list_payment_intents", f,
		func(pi *stripe.PaymentIntent) string { return pi.ID },
		func(lp stripe.ListParams) pageIter {
			p := &stripe.PaymentIntentListParams{ListParams: lp}
			if f.Customer != "" {
				p.Customer = stripe.String(f.Customer)
			}
			return c.api.PaymentIntents.List(p)
		})
}

func (c *Client) ListInvoices(ctx context.Context, f ListFilter) ([]*stripe.Invoice, error) {
	return listAll(ctx, "list_invoices", f,
		func(in *stripe.Invoice) string { return in.ID },
		func(lp stripe.ListParams) pageIter {
			p := &stripe.InvoiceListParams{ListParams: lp}
			if f.Customer != "" {
				p.Customer = stripe.String(f.Customer)
			}
			return c.api.Invoices.List(p)
		})
}

// LatestEventTime returns the creation time of the newest event on the
// account, in the gateway's clock, or zero when there are none.
func (c *Client) LatestEventTime(ctx context.Context) (int64, error) {
	events, err := listAll(ctx, "list_events", ListFilter{PageSize: 1, FirstPageOnly: true},
		func(ev *stripe.Event) string { return ev.ID },
		func(lp stripe.ListParams) pageIter {
			return c.api.Events.List(&stripe.EventListParams{ListParams: lp})
		})
	if err != nil || len(events) == 0 {
		return 0, err
	}
	return events[0].Created, nil
}
