package reconcile

import (
	"context"
	"errors"
	"fmt"

	"membership-app/database"
	"membership-app/internal/domain/billing"
	"membership-app/internal/domain/memberships"

	"github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var paymentMethodSpec = database.UpsertSpec{
	Key:       "remote_payment_method_id",
	Versioned: billing.PaymentMethodColumns,
}

func (r *Reconciler) handlePaymentMethodAttached(ctx context.Context, tx *gorm.DB, event stripe.Event) error {
	pm, err := decode[stripe.PaymentMethod](event)
	if err != nil {
		return err
	}
	_, err = r.SyncPaymentMethod(ctx, tx, pm, event.Created)
	return err
}

func (r *Reconciler) handlePaymentMethodDetached(ctx context.Context, tx *gorm.DB, event stripe.Event) error {
	pm, err := decode[stripe.PaymentMethod](event)
	if err != nil {
		return err
	}
	return tx.WithContext(ctx).Where("remote_payment_method_id = ?", pm.ID).Delete(&billing.PaymentMethod{}).Error
}

func (r *Reconciler) handleInvoicePaid(ctx context.Context, tx *gorm.DB, event stripe.Event) error {
	inv, err := decode[stripe.Invoice](event)
	if err != nil {
		return err
	}
	_, err = r.SyncInvoicePayment(ctx, tx, inv, event.Created, "")
	return err
}

func (r *Reconciler) handleInvoiceFailed(ctx context.Context, tx *gorm.DB, event stripe.Event) error {
	inv, err := decode[stripe.Invoice](event)
	if err != nil {
		return err
	}
	_, err = r.SyncInvoicePayment(ctx, tx, inv, event.Created, billing.PaymentFailed)
	return err
}

func (r *Reconciler) handlePaymentIntentSucceeded(ctx context.Context, tx *gorm.DB, event stripe.Event) error {
	pi, err := decode[stripe.PaymentIntent](event)
	if err != nil {
		return err
	}
	_, err = r.SyncPaymentIntent(ctx, tx, pi, event.Created, IntentSync{RequireMethod: true})
	return err
}

func (r *Reconciler) handlePaymentIntentFailed(ctx context.Context, tx *gorm.DB, event stripe.Event) error {
	pi, err := decode[stripe.PaymentIntent](event)
	if err != nil {
		return err
	}
	_, err = r.SyncPaymentIntent(ctx, tx, pi, event.Created, IntentSync{Status: billing.PaymentFailed})
	return err
}

func (r *Reconciler) handleChargeRefunded(ctx context.Context, tx *gorm.DB, event stripe.Event) error {
	ch, err := decode[stripe.Charge](event)
	if err != nil {
		return err
	}
	if !ch.Refunded || ch.PaymentIntent == nil {
		return nil
	}
	return r.setPaymentStatus(ctx, tx, ch.PaymentIntent.ID, billing.PaymentRefunded, event.Created)
}

func (r *Reconciler) handleDisputeCreated(ctx context.Context, tx *gorm.DB, event stripe.Event) error {
	d, err := decode[stripe.Dispute](event)
	if err != nil {
		return err
	}
	if d.PaymentIntent == nil {
		return nil
	}
	return r.setPaymentStatus(ctx, tx, d.PaymentIntent.ID, billing.PaymentDisputed, event.Created)
}

// SyncPaymentMethod upserts a card owned by an already stored customer.
func (r *Reconciler) SyncPaymentMethod(ctx context.Context, tx *gorm.DB, pm *stripe.PaymentMethod, version int64) (*billing.PaymentMethod, error) {
	var customerID string
	if pm.Customer != nil {
		customerID = pm.Customer.ID
	}
	cus, err := r.findCustomer(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}

	row := billing.PaymentMethod{
		RemotePaymentMethodID: pm.ID,
		CustomerUserID:        cus.ID,
		CardType:              string(pm.Type),
		RemoteUpdatedAt:       version,
	}
	if pm.BillingDetails != nil {
		row.NameOnCard = pm.BillingDetails.Name
	}
	if pm.Card != nil {
		row.CardType = string(pm.Card.Brand)
		row.Last4 = pm.Card.Last4
		row.ExpMonth = int64(pm.Card.ExpMonth)
		row.ExpYear = int64(pm.Card.ExpYear)
	}

	if err := database.Upsert(ctx, tx, paymentMethodSpec, pm.ID, &row); err != nil {
		return nil, fmt.Errorf("sync payment method %s: %w", pm.ID, err)
	}
	return &row, nil
}

// SyncInvoicePayment records the payment an invoice settles, keyed by the
// invoice's payment intent when it has one. A non-empty status overrides the
// one derived from the invoice.
func (r *Reconciler) SyncInvoicePayment(ctx context.Context, tx *gorm.DB, inv *stripe.Invoice, version int64, status billing.PaymentStatus) (*billing.Payment, error) {
	key := inv.ID
	if inv.PaymentIntent != nil && inv.PaymentIntent.ID != "" {
		key = inv.PaymentIntent.ID
	}
	if key == "" {
		return nil, fmt.Errorf("%w: invoice without id", ErrMalformedEvent)
	}

	if status == "" {
		status = billing.NormalizePaymentStatus(string(inv.Status))
		if inv.Paid {
			status = billing.PaymentSucceeded
		}
	}

	row := billing.Payment{
		RemotePaymentID: key,
		Description:     invoiceDescription(inv),
		Subtotal:        inv.Subtotal,
		Tax:             invoiceTax(inv),
		Total:           inv.Total,
		Status:          status,
		PaidOn:          unixOrZero(inv.Created),
		RemoteUpdatedAt: version,
	}
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		row.PaidOn = unixOrZero(inv.StatusTransitions.PaidAt)
	}

	spec := database.UpsertSpec{
		Key:       "remote_payment_id",
		Always:    []string{"description", "subtotal", "tax", "total", "paid_on"},
		Versioned: []string{"status"},
	}
	if inv.Subscription != nil && inv.Subscription.ID != "" {
		sub, err := r.findSubscription(ctx, tx, inv.Subscription.ID)
		if err != nil {
			return nil, err
		}
		row.SubscriptionID = &sub.ID
		spec.Always = append(spec.Always, "subscription_id")
	}

	if err := database.Upsert(ctx, tx, spec, key, &row); err != nil {
		return nil, fmt.Errorf("sync invoice %s: %w", inv.ID, err)
	}
	return &row, nil
}

type IntentSync struct {
	// RequireMethod fails the sync when the intent's payment method is not
	// stored locally yet.
	RequireMethod bool
	// Status overrides the status derived from the intent.
	Status billing.PaymentStatus
}

// SyncPaymentIntent upserts the payment for a payment intent. Amounts are
// only set when the payment is first recorded; invoices own them after that.
func (r *Reconciler) SyncPaymentIntent(ctx context.Context, tx *gorm.DB, pi *stripe.PaymentIntent, version int64, opts IntentSync) (*billing.Payment, error) {
	if pi.ID == "" {
		return nil, fmt.Errorf("%w: payment intent without id", ErrMalformedEvent)
	}

	status := opts.Status
	if status == "" {
		status = billing.NormalizePaymentStatus(string(pi.Status))
	}
	row := billing.Payment{
		RemotePaymentID: pi.ID,
		Description:     pi.Description,
		Subtotal:        pi.Amount,
		Total:           pi.Amount,
		Status:          status,
		PaidOn:          unixOrZero(pi.Created),
		RemoteUpdatedAt: version,
	}
	spec := database.UpsertSpec{Key: "remote_payment_id", Versioned: []string{"status"}}
	if pi.Description != "" {
		spec.Always = append(spec.Always, "description")
	}

	if pi.PaymentMethod != nil && pi.PaymentMethod.ID != "" {
		var pm billing.PaymentMethod
		err := tx.WithContext(ctx).Where("remote_payment_method_id = ?", pi.PaymentMethod.ID).Take(&pm).Error
		switch {
		case err == nil:
			row.PaymentMethodID = &pm.ID
			spec.Always = append(spec.Always, "payment_method_id")
		case errors.Is(err, gorm.ErrRecordNotFound):
			if opts.RequireMethod {
				return nil, fmt.Errorf("%w: payment method %s", ErrParentNotFound, pi.PaymentMethod.ID)
			}
		default:
			return nil, err
		}
	}

	if err := database.Upsert(ctx, tx, spec, pi.ID, &row); err != nil {
		return nil, fmt.Errorf("sync payment intent %s: %w", pi.ID, err)
	}
	return &row, nil
}

// setPaymentStatus moves a known payment to status unless a newer snapshot
// was already applied. Unknown payments are left for the next resync.
func (r *Reconciler) setPaymentStatus(ctx context.Context, tx *gorm.DB, remoteID string, status billing.PaymentStatus, version int64) error {
	res := tx.WithContext(ctx).Model(&billing.Payment{}).
		Where("remote_payment_id = ? AND remote_updated_at <= ?", remoteID, version).
		Updates(map[string]interface{}{"status": status, "remote_updated_at": version})
	if res.Error != nil {
		return fmt.Errorf("set payment %s to %s: %w", remoteID, status, res.Error)
	}
	if res.RowsAffected == 0 {
		r.log.Info("payment status change not applied",
			zap.String("payment", remoteID), zap.String("status", string(status)))
	}
	return nil
}

func (r *Reconciler) findSubscription(ctx context.Context, tx *gorm.DB, remoteID string) (*memberships.Subscription, error) {
	var s memberships.Subscription
	err := tx.WithContext(ctx).Where("remote_subscription_id = ?", remoteID).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: subscription %s", ErrParentNotFound, remoteID)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func invoiceTax(inv *stripe.Invoice) int64 {
	var tax int64
	for _, t := range inv.TotalTaxAmounts {
		if t != nil {
			tax += t.Amount
		}
	}
	return tax
}

func invoiceDescription(inv *stripe.Invoice) string {
	if inv.Description != "" {
		return inv.Description
	}
	if inv.Number != "" {
		return "Invoice " + inv.Number
	}
	return "Invoice " + inv.ID
}
