package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"membership-app/database"
	"membership-app/internal/domain/billing"
	"membership-app/internal/domain/customers"
	"membership-app/internal/domain/memberships"
	"membership-app/internal/resync"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubResync struct {
	rep  resync.Report
	err  error
	runs int
}

func (s *stubResync) Run(context.Context) (resync.Report, error) {
	s.runs++
	return s.rep, s.err
}

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:admin_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

// seed stores one member on Gold with two paid invoices, one of them older
// than thirty days, and one canceled member on Silver.
func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	gold := memberships.Membership{Name: "Gold", Slug: "gold", RecurringPrice: 1049, Interval: memberships.IntervalMonth, IsVisible: true, IsPurchasable: true}
	silver := memberships.Membership{Name: "Silver", Slug: "silver", RecurringPrice: 500, Interval: memberships.IntervalMonth}
	require.NoError(t, db.Create(&gold).Error)
	require.NoError(t, db.Create(&silver).Error)

	ana := customers.CustomerUser{RemoteCustomerID: "cus_1", PartnerNumber: "2026-03-0001", Email: "ana@example.com", FirstName: "Ana", LastName: "Rivera", DateJoined: now.AddDate(0, -2, 0)}
	luis := customers.CustomerUser{RemoteCustomerID: "cus_2", PartnerNumber: "2026-04-0001", Email: "luis@example.com", FirstName: "Luis", DateJoined: now.AddDate(0, -1, 0)}
	require.NoError(t, db.Create(&ana).Error)
	require.NoError(t, db.Create(&luis).Error)

	subGold := memberships.Subscription{
		RemoteSubscriptionID: "sub_1", CustomerUserID: ana.ID, MembershipID: gold.ID, Status: memberships.StatusActive,
		RecurringPrice: 1112, RecurringInterval: memberships.IntervalMonth, DateSubscribed: now.AddDate(0, -2, 0),
	}
	subSilver := memberships.Subscription{
		RemoteSubscriptionID: "sub_2", CustomerUserID: luis.ID, MembershipID: silver.ID, Status: memberships.StatusCanceled,
		RecurringPrice: 546, RecurringInterval: memberships.IntervalMonth, DateSubscribed: now.AddDate(0, -1, 0),
	}
	require.NoError(t, db.Create(&subGold).Error)
	require.NoError(t, db.Create(&subSilver).Error)

	pm := billing.PaymentMethod{RemotePaymentMethodID: "pm_1", CustomerUserID: ana.ID, CardType: "visa", Last4: "4242"}
	require.NoError(t, db.Create(&pm).Error)

	for i, paid := range []time.Time{now.AddDate(0, -2, 0), now.AddDate(0, 0, -3)} {
		require.NoError(t, db.Create(&billing.Payment{
			RemotePaymentID: fmt.Sprintf("pi_%d", i+1),
			SubscriptionID:  &subGold.ID,
			PaymentMethodID: &pm.ID,
			PaidOn:          paid,
			Subtotal:        1049,
			Tax:             63,
			Total:           1112,
			Status:          billing.PaymentSucceeded,
		}).Error)
	}
	require.NoError(t, db.Create(&billing.Payment{
		RemotePaymentID: "pi_failed", SubscriptionID: &subGold.ID, PaidOn: now.AddDate(0, 0, -1),
		Total: 1112, Status: billing.PaymentFailed,
	}).Error)
}

func newRouter(db *gorm.DB, job Resyncer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(db, job, zap.NewNop())
	h.now = func() time.Time { return now }

	r := gin.New()
	r.GET("/admin/customers", h.ListCustomers)
	r.GET("/admin/subscriptions", h.ListSubscriptions)
	r.GET("/admin/payments", h.ListPayments)
	r.GET("/admin/stats", h.GetStats)
	r.POST("/admin/resync", h.Resync)
	return r
}

func get(t *testing.T, r *gin.Engine, path string, out any) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestListCustomersNewestFirst(t *testing.T) {
	db := setupDB(t)
	seed(t, db)
	r := newRouter(db, &stubResync{})

	var got []AdminCustomer
	get(t, r, "/admin/customers", &got)
	require.Len(t, got, 2)
	assert.Equal(t, "luis@example.com", got[0].Email)
	assert.Equal(t, "Ana Rivera", got[1].Name)
	assert.Equal(t, "2026-03-0001", got[1].PartnerNumber)

	get(t, r, "/admin/customers?limit=1", &got)
	assert.Len(t, got, 1)
}

func TestListSubscriptionsWithNextBillingDate(t *testing.T) {
	db := setupDB(t)
	seed(t, db)
	r := newRouter(db, &stubResync{})

	var got []AdminSubscription
	get(t, r, "/admin/subscriptions", &got)
	require.Len(t, got, 2)

	byRef := map[string]AdminSubscription{}
	for _, s := range got {
		byRef[s.RemoteSubscriptionID] = s
	}
	active := byRef["sub_1"]
	assert.Equal(t, "Gold", active.MembershipName)
	assert.Equal(t, "ana@example.com", active.Email)
	// Two successful payments put the next bill two months after the start.
	require.NotNil(t, active.NextBillingDate)
	assert.True(t, now.Equal(*active.NextBillingDate), active.NextBillingDate)

	assert.Nil(t, byRef["sub_2"].NextBillingDate)
}

func TestListPayments(t *testing.T) {
	db := setupDB(t)
	seed(t, db)
	r := newRouter(db, &stubResync{})

	var got []AdminPayment
	get(t, r, "/admin/payments", &got)
	require.Len(t, got, 3)
	assert.Equal(t, "pi_failed", got[0].RemotePaymentID)
	require.NotNil(t, got[1].Email)
	assert.Equal(t, "ana@example.com", *got[1].Email)
	require.NotNil(t, got[1].Card)
	assert.Equal(t, "visa 4242", *got[1].Card)
	assert.Nil(t, got[0].Card)
}

func TestGetStats(t *testing.T) {
	db := setupDB(t)
	seed(t, db)
	r := newRouter(db, &stubResync{})

	var got AdminStats
	get(t, r, "/admin/stats", &got)
	assert.Equal(t, int64(2), got.TotalCustomers)
	assert.Equal(t, int64(1), got.LiveSubscriptions)
	assert.Equal(t, int64(2224), got.TotalRevenue)
	assert.Equal(t, int64(1112), got.RecentRevenue)
	assert.Equal(t, map[string]int64{"Gold": 1}, got.MembersByMembership)
}

func TestResyncReturnsReport(t *testing.T) {
	job := &stubResync{rep: resync.Report{Stages: []resync.StageReport{{Name: resync.StageCustomers, Processed: 3}}}}
	r := newRouter(setupDB(t), job)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/resync", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, job.runs)

	var rep resync.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	require.Len(t, rep.Stages, 1)
	assert.Equal(t, 3, rep.Stages[0].Processed)
}

func TestResyncFailureKeepsReport(t *testing.T) {
	job := &stubResync{
		rep: resync.Report{FailedStage: resync.StageSubscriptions},
		err: errors.New("list subscriptions: unavailable"),
	}
	r := newRouter(setupDB(t), job)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/resync", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), `"failed_stage":"subscriptions"`)
	assert.NotContains(t, w.Body.String(), "unavailable")
}
