package memberships

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"membership-app/internal/domain/billing"
	"membership-app/internal/domain/memberships"
	membershipsvc "membership-app/internal/memberships"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubService struct {
	list      []memberships.Membership
	bySlug    map[string]*memberships.Membership
	err       error
	created   membershipsvc.Input
	deleted   uint
	priceRes  membershipsvc.PriceUpdateResult
	priceSeen membershipsvc.PriceUpdate
}

func (s *stubService) Create(_ context.Context, in membershipsvc.Input) (*memberships.Membership, error) {
	s.created = in
	if s.err != nil {
		return nil, s.err
	}
	return &memberships.Membership{ID: 9, Name: in.Name, Slug: "new", RecurringPrice: in.RecurringPrice, RemoteProductID: "prod_new", IsVisible: true}, nil
}

func (s *stubService) Update(_ context.Context, id uint, in membershipsvc.Input) (*memberships.Membership, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &memberships.Membership{ID: id, Name: in.Name}, nil
}

func (s *stubService) Delete(_ context.Context, id uint) error {
	s.deleted = id
	return s.err
}

func (s *stubService) List(context.Context) ([]memberships.Membership, error) {
	return s.list, s.err
}

func (s *stubService) ListVisible(context.Context) ([]memberships.Membership, error) {
	return s.list, s.err
}

func (s *stubService) GetBySlug(_ context.Context, slug string) (*memberships.Membership, error) {
	if m, ok := s.bySlug[slug]; ok {
		return m, nil
	}
	return nil, membershipsvc.ErrNotFound
}

func (s *stubService) Quote(m *memberships.Membership) billing.Quote {
	return billing.StripeCardFees.Quote(m.EntryCost, m.RecurringPrice)
}

func (s *stubService) UpdateSubscriptionPrices(_ context.Context, in membershipsvc.PriceUpdate) (membershipsvc.PriceUpdateResult, error) {
	s.priceSeen = in
	return s.priceRes, s.err
}

func newRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(svc, zap.NewNop())
	r := gin.New()
	r.GET("/memberships", h.ListMemberships)
	r.GET("/memberships/:slug", h.GetMembership)
	r.GET("/admin/memberships", h.AdminListMemberships)
	r.POST("/admin/memberships", h.CreateMembership)
	r.PUT("/admin/memberships/:id", h.UpdateMembership)
	r.DELETE("/admin/memberships/:id", h.DeleteMembership)
	r.POST("/admin/subscriptions/prices", h.UpdateSubscriptionPrices)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var gold = memberships.Membership{
	ID: 1, Name: "Gold", Slug: "gold", EntryCost: 2500, RecurringPrice: 1049,
	Interval: memberships.IntervalMonth, IsVisible: true, IsPurchasable: true, RemoteProductID: "prod_gold",
}

func TestListMembershipsIncludesQuote(t *testing.T) {
	r := newRouter(&stubService{list: []memberships.Membership{gold}})
	w := do(r, http.MethodGet, "/memberships", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got []MembershipDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(2606), got[0].Quote.EntryGross)
	assert.Equal(t, int64(1112), got[0].Quote.RecurringGross)
	assert.Equal(t, int64(3718), got[0].Quote.DueToday)
	assert.Empty(t, got[0].RemoteProductID)
	assert.Nil(t, got[0].IsVisible)
}

func TestAdminListShowsProduct(t *testing.T) {
	r := newRouter(&stubService{list: []memberships.Membership{gold}})
	w := do(r, http.MethodGet, "/admin/memberships", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "prod_gold")
	assert.Contains(t, w.Body.String(), `"is_visible":true`)
}

func TestGetMembershipBySlug(t *testing.T) {
	r := newRouter(&stubService{bySlug: map[string]*memberships.Membership{"gold": &gold}})

	w := do(r, http.MethodGet, "/memberships/gold", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"slug":"gold"`)

	w = do(r, http.MethodGet, "/memberships/silver", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateMembership(t *testing.T) {
	svc := &stubService{}
	r := newRouter(svc)
	w := do(r, http.MethodPost, "/admin/memberships", `{"name":"Silver","recurring_price":500,"interval":"month","is_visible":true}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Silver", svc.created.Name)
	assert.Equal(t, int64(500), svc.created.RecurringPrice)
	assert.Equal(t, memberships.IntervalMonth, svc.created.Interval)
}

func TestMembershipErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: name is required", membershipsvc.ErrInvalid), http.StatusBadRequest},
		{membershipsvc.ErrSlugTaken, http.StatusConflict},
		{membershipsvc.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: 2 live", memberships.ErrMembershipInUse), http.StatusConflict},
		{fmt.Errorf("gateway unavailable"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			r := newRouter(&stubService{err: tc.err})
			w := do(r, http.MethodDelete, "/admin/memberships/4", "")
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestDeleteMembership(t *testing.T) {
	svc := &stubService{}
	r := newRouter(svc)

	w := do(r, http.MethodDelete, "/admin/memberships/4", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, uint(4), svc.deleted)

	w = do(r, http.MethodDelete, "/admin/memberships/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateSubscriptionPricesReportsPartialFailure(t *testing.T) {
	svc := &stubService{priceRes: membershipsvc.PriceUpdateResult{
		Updated: []string{"sub_1"},
		Failed:  map[string]string{"sub_2": "gateway update failed"},
	}}
	r := newRouter(svc)

	w := do(r, http.MethodPost, "/admin/subscriptions/prices", `{"subscription_ids":[1,2],"recurring_price":2500,"interval":"year"}`)
	assert.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Equal(t, []uint{1, 2}, svc.priceSeen.SubscriptionIDs)
	assert.Equal(t, memberships.IntervalYear, svc.priceSeen.Interval)
	assert.Contains(t, w.Body.String(), "sub_2")
}
