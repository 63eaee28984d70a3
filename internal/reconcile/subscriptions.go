package reconcile

import (
	"context"
	"errors"
	"fmt"

	"membership-app/database"
	"membership-app/internal/domain/memberships"

	"github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var subscriptionSpec = database.UpsertSpec{
	Key:       "remote_subscription_id",
	Versioned: memberships.SyncedColumns,
}

func (r *Reconciler) handleSubscription(ctx context.Context, tx *gorm.DB, event stripe.Event) error {
	sub, err := decode[stripe.Subscription](event)
	if err != nil {
		return err
	}
	_, err = r.SyncSubscription(ctx, tx, sub, event.Created)
	return err
}

func (r *Reconciler) handleProductDeleted(ctx context.Context, tx *gorm.DB, event stripe.Event) error {
	prod, err := decode[stripe.Product](event)
	if err != nil {
		return err
	}
	return r.DeleteMembershipByProduct(ctx, tx, prod.ID)
}

// SyncSubscription upserts the local subscription for a remote one. The
// owning customer and the membership selling the subscribed product must
// already be stored.
func (r *Reconciler) SyncSubscription(ctx context.Context, tx *gorm.DB, sub *stripe.Subscription, version int64) (*memberships.Subscription, error) {
	if sub.ID == "" {
		return nil, fmt.Errorf("%w: subscription without id", ErrMalformedEvent)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return nil, fmt.Errorf("%w: subscription %s has no priced item", ErrMalformedEvent, sub.ID)
	}
	price := sub.Items.Data[0].Price

	var customerID string
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	cus, err := r.findCustomer(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}

	var productID string
	if price.Product != nil {
		productID = price.Product.ID
	}
	membership, err := r.findMembership(ctx, tx, productID)
	if err != nil {
		return nil, err
	}

	row := memberships.Subscription{
		RemoteSubscriptionID: sub.ID,
		CustomerUserID:       cus.ID,
		MembershipID:         membership.ID,
		Status:               memberships.NormalizeStatus(string(sub.Status)),
		RecurringPrice:       price.UnitAmount,
		RecurringInterval:    membership.Interval,
		DateSubscribed:       unixOrZero(sub.StartDate),
		RemoteUpdatedAt:      version,
	}
	if price.Recurring != nil && price.Recurring.Interval != "" {
		row.RecurringInterval = memberships.Interval(price.Recurring.Interval)
	}
	if row.DateSubscribed.IsZero() {
		row.DateSubscribed = unixOrZero(sub.Created)
	}
	if end := unixOrZero(sub.CurrentPeriodEnd); !end.IsZero() {
		row.CurrentPeriodEnd = &end
	}

	// One subscription per customer. The slot goes to the live, most recently
	// started remote subscription; event versions only order snapshots of the
	// same subscription.
	var slot memberships.Subscription
	err = tx.WithContext(ctx).Where("customer_user_id = ? AND remote_subscription_id <> ?", cus.ID, sub.ID).Take(&slot).Error
	switch {
	case err == nil:
		if !row.Supersedes(slot) {
			r.log.Info("ignoring subscription superseded by the customer's current one",
				zap.String("subscription", sub.ID), zap.String("current", slot.RemoteSubscriptionID))
			return &slot, nil
		}
		// The version belongs to the replaced subscription; reset it so the
		// incoming snapshot applies in full.
		if err := tx.WithContext(ctx).Model(&slot).Updates(map[string]any{
			"remote_subscription_id": sub.ID,
			"remote_updated_at":      0,
		}).Error; err != nil {
			return nil, fmt.Errorf("move subscription slot to %s: %w", sub.ID, err)
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	if err := database.Upsert(ctx, tx, subscriptionSpec, sub.ID, &row); err != nil {
		return nil, fmt.Errorf("sync subscription %s: %w", sub.ID, err)
	}
	return &row, nil
}

// DeleteMembershipByProduct removes the membership selling a deleted remote
// product. Memberships still referenced by subscriptions are retired instead.
func (r *Reconciler) DeleteMembershipByProduct(ctx context.Context, tx *gorm.DB, productID string) error {
	if productID == "" {
		return nil
	}
	var m memberships.Membership
	err := tx.WithContext(ctx).Where("remote_product_id = ?", productID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	live, err := memberships.CountLiveSubscriptions(ctx, tx, m.ID)
	if err != nil {
		return err
	}
	if live > 0 {
		r.log.Warn("remote product deleted while membership has live subscriptions",
			zap.String("product", productID), zap.Uint("membership", m.ID), zap.Int64("live", live))
		return nil
	}

	total, err := memberships.CountSubscriptions(ctx, tx, m.ID)
	if err != nil {
		return err
	}
	if total > 0 {
		return memberships.Retire(ctx, tx, &m)
	}
	return tx.WithContext(ctx).Delete(&m).Error
}

func (r *Reconciler) findMembership(ctx context.Context, tx *gorm.DB, productID string) (*memberships.Membership, error) {
	if productID == "" {
		return nil, fmt.Errorf("%w: empty product reference", ErrParentNotFound)
	}
	var m memberships.Membership
	err := tx.WithContext(ctx).Where("remote_product_id = ?", productID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: membership for product %s", ErrParentNotFound, productID)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
