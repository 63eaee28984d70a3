package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"membership-app/database"
	"membership-app/internal/domain/billing"
	"membership-app/internal/domain/customers"
	"membership-app/internal/domain/memberships"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:reconcile_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func newTestReconciler(t *testing.T) (*Reconciler, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	r := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		PasswordCost: bcrypt.MinCost,
		Now:          func() time.Time { return fixedNow },
	})
	return r, db
}

func seedMembership(t *testing.T, db *gorm.DB, productID, slug string) memberships.Membership {
	t.Helper()
	m := memberships.Membership{
		RemoteProductID: productID,
		Name:            "Gold",
		Slug:            slug,
		EntryCost:       2500,
		RecurringPrice:  1049,
		Interval:        memberships.IntervalMonth,
		IsVisible:       true,
		IsPurchasable:   true,
	}
	require.NoError(t, db.Create(&m).Error)
	return m
}

func newEvent(t *testing.T, id, eventType string, created int64, object string) stripe.Event {
	t.Helper()
	raw := fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":%d,"data":{"object":%s}}`, id, eventType, created, object)
	var ev stripe.Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	return ev
}

func customerJSON(id, email string) string {
	return fmt.Sprintf(`{"id":%q,"object":"customer","email":%q,"name":"Ana Rivera","phone":"787-555-0100","created":1700000000,
		"address":{"line1":"1 Calle Luna","city":"San Juan","postal_code":"00901","country":"us","state":"PR"},
		"metadata":{"accept_terms_conditions":"true"}}`, id, email)
}

func subscriptionJSON(id, customerID, productID, status string, amount int64) string {
	return subscriptionStartedJSON(id, customerID, productID, status, amount, 1700000000)
}

func subscriptionStartedJSON(id, customerID, productID, status string, amount, start int64) string {
	return fmt.Sprintf(`{"id":%q,"object":"subscription","customer":%q,"status":%q,"created":%d,
		"start_date":%d,"current_period_end":1702592000,
		"items":{"object":"list","data":[{"id":"si_%s","object":"subscription_item",
		"price":{"id":"price_%s","object":"price","unit_amount":%d,"product":%q,"recurring":{"interval":"month","interval_count":1}}}]}}`,
		id, customerID, status, start, start, id, id, amount, productID)
}

func mustSubscription(t *testing.T, object string) *stripe.Subscription {
	t.Helper()
	var sub stripe.Subscription
	require.NoError(t, json.Unmarshal([]byte(object), &sub))
	return &sub
}

func apply(t *testing.T, r *Reconciler, ev stripe.Event) Result {
	t.Helper()
	res, err := r.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	return res
}

func TestCustomerCreatedAssignsPartnerNumberAndPassword(t *testing.T) {
	r, db := newTestReconciler(t)

	res := apply(t, r, newEvent(t, "evt_1", "customer.created", 100, customerJSON("cus_1", "Ana@Example.com")))
	assert.Equal(t, ResultProcessed, res)

	var c customers.CustomerUser
	require.NoError(t, db.Where("remote_customer_id = ?", "cus_1").Take(&c).Error)
	assert.Equal(t, "ana@example.com", c.Email)
	assert.Equal(t, "Ana", c.FirstName)
	assert.Equal(t, "Rivera", c.LastName)
	assert.Equal(t, "US", c.Country)
	assert.Equal(t, "00901", c.Zip)
	assert.True(t, c.AcceptTermsConditions)
	assert.Equal(t, "2026-05-0001", c.PartnerNumber)
	assert.NotEmpty(t, c.PasswordHash)

	// An update keeps the partner number and password.
	apply(t, r, newEvent(t, "evt_2", "customer.updated", 200, customerJSON("cus_1", "ana@example.com")))
	var again customers.CustomerUser
	require.NoError(t, db.Where("email = ?", "ana@example.com").Take(&again).Error)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, c.PartnerNumber, again.PartnerNumber)
	assert.Equal(t, c.PasswordHash, again.PasswordHash)
}

func TestCustomerWithoutEmailIsSkipped(t *testing.T) {
	r, db := newTestReconciler(t)

	res := apply(t, r, newEvent(t, "evt_1", "customer.created", 100, `{"id":"cus_x","object":"customer"}`))
	assert.Equal(t, ResultProcessed, res)

	var n int64
	require.NoError(t, db.Model(&customers.CustomerUser{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestSubscriptionEventIsIdempotent(t *testing.T) {
	r, db := newTestReconciler(t)
	seedMembership(t, db, "prod_gold", "gold")
	apply(t, r, newEvent(t, "evt_c", "customer.created", 100, customerJSON("cus_1", "ana@example.com")))

	sub := subscriptionJSON("sub_1", "cus_1", "prod_gold", "active", 1112)
	apply(t, r, newEvent(t, "evt_1", "customer.subscription.created", 150, sub))
	apply(t, r, newEvent(t, "evt_2", "customer.subscription.updated", 150, sub))

	var rows []memberships.Subscription
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, memberships.StatusActive, rows[0].Status)
	assert.Equal(t, int64(1112), rows[0].RecurringPrice)
	assert.Equal(t, memberships.IntervalMonth, rows[0].RecurringInterval)
	require.NotNil(t, rows[0].CurrentPeriodEnd)
	assert.Equal(t, int64(1702592000), rows[0].CurrentPeriodEnd.Unix())
}

func TestDuplicateEventIDIsNotReapplied(t *testing.T) {
	r, db := newTestReconciler(t)

	ev := newEvent(t, "evt_1", "customer.created", 100, customerJSON("cus_1", "ana@example.com"))
	assert.Equal(t, ResultProcessed, apply(t, r, ev))
	assert.Equal(t, ResultDuplicate, apply(t, r, ev))

	var n int64
	require.NoError(t, db.Model(&billing.WebhookEvent{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestOlderSnapshotDoesNotRegress(t *testing.T) {
	r, db := newTestReconciler(t)
	seedMembership(t, db, "prod_gold", "gold")
	apply(t, r, newEvent(t, "evt_c", "customer.created", 100, customerJSON("cus_1", "ana@example.com")))

	apply(t, r, newEvent(t, "evt_new", "customer.subscription.updated", 300,
		subscriptionJSON("sub_1", "cus_1", "prod_gold", "past_due", 1112)))
	apply(t, r, newEvent(t, "evt_old", "customer.subscription.created", 200,
		subscriptionJSON("sub_1", "cus_1", "prod_gold", "active", 1112)))

	var s memberships.Subscription
	require.NoError(t, db.Where("remote_subscription_id = ?", "sub_1").Take(&s).Error)
	assert.Equal(t, memberships.StatusPastDue, s.Status)
	assert.Equal(t, int64(300), s.RemoteUpdatedAt)
}

func TestNewerSubscriptionTakesOverCustomerSlot(t *testing.T) {
	r, db := newTestReconciler(t)
	seedMembership(t, db, "prod_gold", "gold")
	apply(t, r, newEvent(t, "evt_c", "customer.created", 100, customerJSON("cus_1", "ana@example.com")))

	apply(t, r, newEvent(t, "evt_1", "customer.subscription.created", 200,
		subscriptionJSON("sub_1", "cus_1", "prod_gold", "canceled", 1112)))
	apply(t, r, newEvent(t, "evt_2", "customer.subscription.created", 300,
		subscriptionJSON("sub_2", "cus_1", "prod_gold", "active", 1500)))
	// A late event for the replaced subscription is dropped.
	apply(t, r, newEvent(t, "evt_3", "customer.subscription.updated", 250,
		subscriptionJSON("sub_1", "cus_1", "prod_gold", "canceled", 1112)))

	var rows []memberships.Subscription
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "sub_2", rows[0].RemoteSubscriptionID)
	assert.Equal(t, memberships.StatusActive, rows[0].Status)
	assert.Equal(t, int64(1500), rows[0].RecurringPrice)
}

func TestSubscriptionSlotIgnoresEventOrder(t *testing.T) {
	snapshots := map[string]string{
		"sub_new": subscriptionStartedJSON("sub_new", "cus_1", "prod_gold", "active", 1500, 1710000000),
		"sub_old": subscriptionStartedJSON("sub_old", "cus_1", "prod_gold", "canceled", 1112, 1700000000),
	}
	for _, order := range [][]string{{"sub_new", "sub_old"}, {"sub_old", "sub_new"}} {
		t.Run(order[0]+"_first", func(t *testing.T) {
			r, db := newTestReconciler(t)
			seedMembership(t, db, "prod_gold", "gold")
			apply(t, r, newEvent(t, "evt_c", "customer.created", 100, customerJSON("cus_1", "ana@example.com")))

			// A resync writes every snapshot at the same version.
			for _, id := range order {
				sub := mustSubscription(t, snapshots[id])
				_, err := r.SyncSubscription(context.Background(), db, sub, 1000)
				require.NoError(t, err)
			}
			// A later event for the replaced subscription does not reclaim the slot.
			apply(t, r, newEvent(t, "evt_old", "customer.subscription.updated", 2000, snapshots["sub_old"]))

			var rows []memberships.Subscription
			require.NoError(t, db.Find(&rows).Error)
			require.Len(t, rows, 1)
			assert.Equal(t, "sub_new", rows[0].RemoteSubscriptionID)
			assert.Equal(t, memberships.StatusActive, rows[0].Status)
			assert.Equal(t, int64(1500), rows[0].RecurringPrice)
		})
	}
}

func TestLaterStartedSubscriptionTakesOverNewerVersionedSlot(t *testing.T) {
	r, db := newTestReconciler(t)
	seedMembership(t, db, "prod_gold", "gold")
	apply(t, r, newEvent(t, "evt_c", "customer.created", 100, customerJSON("cus_1", "ana@example.com")))

	apply(t, r, newEvent(t, "evt_1", "customer.subscription.deleted", 500,
		subscriptionStartedJSON("sub_1", "cus_1", "prod_gold", "canceled", 1112, 1700000000)))
	// Delivered late, with an older event timestamp than the slot's last write.
	apply(t, r, newEvent(t, "evt_2", "customer.subscription.created", 400,
		subscriptionStartedJSON("sub_2", "cus_1", "prod_gold", "active", 1500, 1710000000)))

	var s memberships.Subscription
	require.NoError(t, db.Take(&s).Error)
	assert.Equal(t, "sub_2", s.RemoteSubscriptionID)
	assert.Equal(t, memberships.StatusActive, s.Status)
	assert.Equal(t, int64(1500), s.RecurringPrice)
	assert.Equal(t, int64(400), s.RemoteUpdatedAt)
}

func TestUnhandledEventTypeIsIgnored(t *testing.T) {
	r, db := newTestReconciler(t)

	res := apply(t, r, newEvent(t, "evt_1", "balance.available", 100, `{"object":"balance"}`))
	assert.Equal(t, ResultIgnored, res)
	assert.False(t, r.Handles("balance.available"))

	var n int64
	require.NoError(t, db.Model(&billing.WebhookEvent{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestMissingParentFailsAndCanBeRedelivered(t *testing.T) {
	r, db := newTestReconciler(t)
	seedMembership(t, db, "prod_gold", "gold")
	ev := newEvent(t, "evt_1", "customer.subscription.created", 200,
		subscriptionJSON("sub_1", "cus_1", "prod_gold", "active", 1112))

	res, err := r.HandleEvent(context.Background(), ev)
	assert.Equal(t, ResultFailed, res)
	assert.ErrorIs(t, err, ErrParentNotFound)

	var n int64
	require.NoError(t, db.Model(&billing.WebhookEvent{}).Count(&n).Error)
	assert.Zero(t, n, "failed event must not be marked processed")

	apply(t, r, newEvent(t, "evt_c", "customer.created", 100, customerJSON("cus_1", "ana@example.com")))
	assert.Equal(t, ResultProcessed, apply(t, r, ev))
}

func TestMalformedEventFails(t *testing.T) {
	r, _ := newTestReconciler(t)

	_, err := r.HandleEvent(context.Background(), newEvent(t, "evt_1", "customer.subscription.created", 100,
		`{"id":"sub_1","object":"subscription","customer":"cus_1","items":{"object":"list","data":[]}}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func seedCustomerWithCard(t *testing.T, r *Reconciler) {
	t.Helper()
	apply(t, r, newEvent(t, "evt_c", "customer.created", 100, customerJSON("cus_1", "ana@example.com")))
	apply(t, r, newEvent(t, "evt_pm", "payment_method.attached", 110, `{"id":"pm_1","object":"payment_method","type":"card",
		"customer":"cus_1","billing_details":{"name":"Ana Rivera"},
		"card":{"brand":"visa","last4":"4242","exp_month":12,"exp_year":2030}}`))
	apply(t, r, newEvent(t, "evt_s", "customer.subscription.created", 120,
		subscriptionJSON("sub_1", "cus_1", "prod_gold", "active", 1112)))
}

func TestCustomerDeletedCascades(t *testing.T) {
	r, db := newTestReconciler(t)
	seedMembership(t, db, "prod_gold", "gold")
	seedCustomerWithCard(t, r)

	var pm billing.PaymentMethod
	require.NoError(t, db.Where("remote_payment_method_id = ?", "pm_1").Take(&pm).Error)
	assert.Equal(t, "visa", pm.CardType)
	assert.Equal(t, "4242", pm.Last4)
	assert.Equal(t, "Ana Rivera", pm.NameOnCard)

	apply(t, r, newEvent(t, "evt_d", "customer.deleted", 400, `{"id":"cus_1","object":"customer","deleted":true}`))

	for _, model := range []any{&customers.CustomerUser{}, &billing.PaymentMethod{}, &memberships.Subscription{}} {
		var n int64
		require.NoError(t, db.Model(model).Count(&n).Error)
		assert.Zero(t, n)
	}
}

func TestInvoiceAndIntentMergeIntoOnePayment(t *testing.T) {
	r, db := newTestReconciler(t)
	seedMembership(t, db, "prod_gold", "gold")
	seedCustomerWithCard(t, r)

	apply(t, r, newEvent(t, "evt_pi", "payment_intent.succeeded", 200, `{"id":"pi_1","object":"payment_intent",
		"amount":1112,"status":"succeeded","payment_method":"pm_1","created":1700000400}`))
	apply(t, r, newEvent(t, "evt_in", "invoice.paid", 210, `{"id":"in_1","object":"invoice","number":"A-0001",
		"subscription":"sub_1","payment_intent":"pi_1","subtotal":1049,"total":1112,"paid":true,"status":"paid",
		"total_tax_amounts":[{"amount":63}],"status_transitions":{"paid_at":1700000500},"created":1700000300}`))

	var payments []billing.Payment
	require.NoError(t, db.Find(&payments).Error)
	require.Len(t, payments, 1)
	p := payments[0]
	assert.Equal(t, "pi_1", p.RemotePaymentID)
	assert.Equal(t, billing.PaymentSucceeded, p.Status)
	assert.Equal(t, int64(1049), p.Subtotal)
	assert.Equal(t, int64(63), p.Tax)
	assert.Equal(t, int64(1112), p.Total)
	assert.Equal(t, "Invoice A-0001", p.Description)
	assert.Equal(t, int64(1700000500), p.PaidOn.Unix())
	require.NotNil(t, p.SubscriptionID)
	require.NotNil(t, p.PaymentMethodID)

	apply(t, r, newEvent(t, "evt_rf", "charge.refunded", 300, `{"id":"ch_1","object":"charge","refunded":true,"payment_intent":"pi_1"}`))
	require.NoError(t, db.First(&p, p.ID).Error)
	assert.Equal(t, billing.PaymentRefunded, p.Status)
}

func TestIntentWithUnknownMethodWaitsForIt(t *testing.T) {
	r, _ := newTestReconciler(t)

	_, err := r.HandleEvent(context.Background(), newEvent(t, "evt_pi", "payment_intent.succeeded", 200,
		`{"id":"pi_1","object":"payment_intent","amount":1112,"status":"succeeded","payment_method":"pm_missing"}`))
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestRefundForUnknownPaymentIsAcknowledged(t *testing.T) {
	r, _ := newTestReconciler(t)

	res := apply(t, r, newEvent(t, "evt_rf", "charge.refunded", 300,
		`{"id":"ch_1","object":"charge","refunded":true,"payment_intent":"pi_unknown"}`))
	assert.Equal(t, ResultProcessed, res)
}

func TestProductDeletedKeepsMembershipWithLiveSubscriptions(t *testing.T) {
	r, db := newTestReconciler(t)
	m := seedMembership(t, db, "prod_gold", "gold")
	seedCustomerWithCard(t, r)

	apply(t, r, newEvent(t, "evt_p1", "product.deleted", 300, `{"id":"prod_gold","object":"product","deleted":true}`))
	var got memberships.Membership
	require.NoError(t, db.First(&got, m.ID).Error)
	assert.True(t, got.IsPurchasable)
	assert.Equal(t, "prod_gold", got.RemoteProductID)

	apply(t, r, newEvent(t, "evt_s2", "customer.subscription.deleted", 400,
		subscriptionJSON("sub_1", "cus_1", "prod_gold", "canceled", 1112)))
	apply(t, r, newEvent(t, "evt_p2", "product.deleted", 500, `{"id":"prod_gold","object":"product","deleted":true}`))

	require.NoError(t, db.First(&got, m.ID).Error)
	assert.False(t, got.IsPurchasable)
	assert.False(t, got.IsVisible)
	assert.Empty(t, got.RemoteProductID)
}

func TestProductDeletedRemovesUnusedMembership(t *testing.T) {
	r, db := newTestReconciler(t)
	m := seedMembership(t, db, "prod_silver", "silver")

	apply(t, r, newEvent(t, "evt_p", "product.deleted", 300, `{"id":"prod_silver","object":"product","deleted":true}`))

	var n int64
	require.NoError(t, db.Model(&memberships.Membership{}).Where("id = ?", m.ID).Count(&n).Error)
	assert.Zero(t, n)
}
