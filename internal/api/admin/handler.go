package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"membership-app/internal/domain/billing"
	"membership-app/internal/domain/customers"
	"membership-app/internal/domain/memberships"
	"membership-app/internal/resync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Resyncer interface {
	Run(ctx context.Context) (resync.Report, error)
}

type Handler struct {
	db     *gorm.DB
	resync Resyncer
	log    *zap.Logger
	now    func() time.Time
}

func NewHandler(db *gorm.DB, job Resyncer, log *zap.Logger) *Handler {
	return &Handler{db: db, resync: job, log: log.Named("api.admin"), now: time.Now}
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

type AdminCustomer struct {
	ID               uint      `json:"id"`
	PartnerNumber    string    `json:"partner_number"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone"`
	RemoteCustomerID string    `json:"remote_customer_id"`
	DateJoined       time.Time `json:"date_joined"`
}

type AdminSubscription struct {
	ID                   uint       `json:"id"`
	RemoteSubscriptionID string     `json:"remote_subscription_id"`
	Email                string     `json:"email"`
	PartnerNumber        string     `json:"partner_number"`
	MembershipName       string     `json:"membership_name"`
	Status               string     `json:"status"`
	RecurringPrice       int64      `json:"recurring_price"`
	Interval             string     `json:"interval"`
	DateSubscribed       time.Time  `json:"date_subscribed"`
	NextBillingDate      *time.Time `json:"next_billing_date,omitempty"`
}

type AdminPayment struct {
	ID              uint    `json:"id"`
	RemotePaymentID string  `json:"remote_payment_id"`
	Email           *string `json:"email,omitempty"`
	MembershipName  *string `json:"membership_name,omitempty"`
	Description     string  `json:"description"`
	Subtotal        int64   `json:"subtotal"`
	Tax             int64   `json:"tax"`
	Total           int64   `json:"total"`
	Status          string  `json:"status"`
	Card            *string `json:"card,omitempty"`
	PaidOn          string  `json:"paid_on"`
}

type AdminStats struct {
	TotalCustomers      int64            `json:"total_customers"`
	LiveSubscriptions   int64            `json:"live_subscriptions"`
	TotalRevenue        int64            `json:"total_revenue"`
	RecentRevenue       int64            `json:"recent_revenue"`
	MembersByMembership map[string]int64 `json:"members_by_membership"`
}

func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func (h *Handler) ListCustomers(c *gin.Context) {
	var rows []customers.CustomerUser
	err := h.db.WithContext(c.Request.Context()).
		Order("date_joined DESC, id DESC").
		Limit(limitParam(c)).
		Find(&rows).Error
	if err != nil {
		h.log.Error("listing customers", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load customers"})
		return
	}

	result := make([]AdminCustomer, 0, len(rows))
	for _, u := range rows {
		result = append(result, AdminCustomer{
			ID:               u.ID,
			PartnerNumber:    u.PartnerNumber,
			Name:             u.FullName(),
			Email:            u.Email,
			Phone:            u.Phone,
			RemoteCustomerID: u.RemoteCustomerID,
			DateJoined:       u.DateJoined,
		})
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ListSubscriptions(c *gin.Context) {
	ctx := c.Request.Context()
	var rows []memberships.Subscription
	err := h.db.WithContext(ctx).
		Preload("CustomerUser").Preload("Membership").
		Order("date_subscribed DESC, id DESC").
		Limit(limitParam(c)).
		Find(&rows).Error
	if err != nil {
		h.log.Error("listing subscriptions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load subscriptions"})
		return
	}

	paid, err := h.successfulPayments(ctx, rows)
	if err != nil {
		h.log.Error("counting subscription payments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load subscriptions"})
		return
	}

	result := make([]AdminSubscription, 0, len(rows))
	for _, s := range rows {
		item := AdminSubscription{
			ID:                   s.ID,
			RemoteSubscriptionID: s.RemoteSubscriptionID,
			Status:               string(s.Status),
			RecurringPrice:       s.RecurringPrice,
			Interval:             string(s.RecurringInterval),
			DateSubscribed:       s.DateSubscribed,
		}
		if s.CustomerUser != nil {
			item.Email = s.CustomerUser.Email
			item.PartnerNumber = s.CustomerUser.PartnerNumber
		}
		if s.Membership != nil {
			item.MembershipName = s.Membership.Name
		}
		if s.Status.Live() {
			next := s.NextBillingDate(paid[s.ID])
			item.NextBillingDate = &next
		}
		result = append(result, item)
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) successfulPayments(ctx context.Context, subs []memberships.Subscription) (map[uint]int, error) {
	out := make(map[uint]int, len(subs))
	if len(subs) == 0 {
		return out, nil
	}
	ids := make([]uint, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.ID)
	}

	var counts []struct {
		SubscriptionID uint
		N              int
	}
	err := h.db.WithContext(ctx).Model(&billing.Payment{}).
		Select("subscription_id, COUNT(*) AS n").
		Where("subscription_id IN ? AND status = ?", ids, billing.PaymentSucceeded).
		Group("subscription_id").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		out[c.SubscriptionID] = c.N
	}
	return out, nil
}

func (h *Handler) ListPayments(c *gin.Context) {
	var rows []billing.Payment
	err := h.db.WithContext(c.Request.Context()).
		Preload("Subscription.CustomerUser").Preload("Subscription.Membership").Preload("PaymentMethod").
		Order("paid_on DESC, id DESC").
		Limit(limitParam(c)).
		Find(&rows).Error
	if err != nil {
		h.log.Error("listing payments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payments"})
		return
	}

	result := make([]AdminPayment, 0, len(rows))
	for _, p := range rows {
		item := AdminPayment{
			ID:              p.ID,
			RemotePaymentID: p.RemotePaymentID,
			Description:     p.Description,
			Subtotal:        p.Subtotal,
			Tax:             p.Tax,
			Total:           p.Total,
			Status:          string(p.Status),
			PaidOn:          p.PaidOn.Format("2006-01-02 15:04"),
		}
		if s := p.Subscription; s != nil {
			if s.CustomerUser != nil {
				item.Email = &s.CustomerUser.Email
			}
			if s.Membership != nil {
				item.MembershipName = &s.Membership.Name
			}
		}
		if pm := p.PaymentMethod; pm != nil {
			card := pm.CardType + " " + pm.Last4
			item.Card = &card
		}
		result = append(result, item)
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetStats(c *gin.Context) {
	db := h.db.WithContext(c.Request.Context())
	stats := AdminStats{MembersByMembership: map[string]int64{}}

	if err := db.Model(&customers.CustomerUser{}).Count(&stats.TotalCustomers).Error; err != nil {
		h.statsFailed(c, err)
		return
	}
	if err := db.Model(&memberships.Subscription{}).
		Where("status IN ?", memberships.LiveStatuses).
		Count(&stats.LiveSubscriptions).Error; err != nil {
		h.statsFailed(c, err)
		return
	}
	if err := db.Model(&billing.Payment{}).
		Where("status = ?", billing.PaymentSucceeded).
		Select("COALESCE(SUM(total), 0)").Scan(&stats.TotalRevenue).Error; err != nil {
		h.statsFailed(c, err)
		return
	}
	thirtyDaysAgo := h.now().AddDate(0, 0, -30)
	if err := db.Model(&billing.Payment{}).
		Where("status = ? AND paid_on >= ?", billing.PaymentSucceeded, thirtyDaysAgo).
		Select("COALESCE(SUM(total), 0)").Scan(&stats.RecentRevenue).Error; err != nil {
		h.statsFailed(c, err)
		return
	}

	var counts []struct {
		Name  string
		Count int64
	}
	err := db.Model(&memberships.Subscription{}).
		Select("memberships.name AS name, COUNT(subscriptions.id) AS count").
		Joins("JOIN memberships ON memberships.id = subscriptions.membership_id").
		Where("subscriptions.status IN ?", memberships.LiveStatuses).
		Group("memberships.name").
		Scan(&counts).Error
	if err != nil {
		h.statsFailed(c, err)
		return
	}
	for _, row := range counts {
		stats.MembersByMembership[row.Name] = row.Count
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) statsFailed(c *gin.Context, err error) {
	h.log.Error("computing admin stats", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute stats"})
}

// Resync rebuilds local state from the gateway. The report is returned even
// when a stage failed, so the operator can see how far it got.
func (h *Handler) Resync(c *gin.Context) {
	rep, err := h.resync.Run(c.Request.Context())
	if err != nil {
		h.log.Error("resync failed", zap.String("stage", rep.FailedStage), zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{"error": "Resync failed", "report": rep})
		return
	}
	c.JSON(http.StatusOK, rep)
}
