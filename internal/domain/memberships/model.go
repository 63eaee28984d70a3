package memberships

import (
	"time"

	"membership-app/internal/domain/customers"
)

type Interval string

const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

func (i Interval) Valid() bool {
	switch i {
	case IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
		return true
	}
	return false
}

// AddTo advances t by n intervals.
func (i Interval) AddTo(t time.Time, n int) time.Time {
	switch i {
	case IntervalDay:
		return t.AddDate(0, 0, n)
	case IntervalWeek:
		return t.AddDate(0, 0, 7*n)
	case IntervalYear:
		return t.AddDate(n, 0, 0)
	default:
		return t.AddDate(0, n, 0)
	}
}

// EntryFeeSlug identifies the hidden membership that carries the gateway
// product entry fees are billed against.
const EntryFeeSlug = "entry-fee"

type Membership struct {
	ID              uint   `gorm:"primaryKey"`
	RemoteProductID string `gorm:"column:remote_product_id;index"`
	Name            string `gorm:"not null"`
	Slug            string `gorm:"not null;uniqueIndex:idx_memberships_slug"`
	Description     string
	EntryCost       int64    `gorm:"not null;default:0"`
	RecurringPrice  int64    `gorm:"not null;default:0"`
	Interval        Interval `gorm:"column:recurring_interval;type:varchar(8);not null;default:'month'"`
	IsVisible       bool     `gorm:"not null"`
	IsPurchasable   bool     `gorm:"not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Status string

const (
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusUnpaid            Status = "unpaid"
	StatusCanceled          Status = "canceled"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusEnded             Status = "ended"
)

// Subscription binds one customer to one membership.
type Subscription struct {
	ID                   uint                    `gorm:"primaryKey"`
	RemoteSubscriptionID string                  `gorm:"column:remote_subscription_id;not null;uniqueIndex:idx_subscriptions_remote_id"`
	CustomerUserID       uint                    `gorm:"not null;uniqueIndex:idx_subscriptions_customer"`
	CustomerUser         *customers.CustomerUser `gorm:"constraint:OnDelete:CASCADE"`
	MembershipID         uint                    `gorm:"not null;index"`
	Membership           *Membership             `gorm:"constraint:OnDelete:RESTRICT"`

	Status            Status   `gorm:"type:varchar(24);not null"`
	RecurringPrice    int64    `gorm:"not null"`
	RecurringInterval Interval `gorm:"type:varchar(8);not null"`
	DateSubscribed    time.Time
	CurrentPeriodEnd  *time.Time

	RemoteUpdatedAt int64 `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SyncedColumns are the columns a remote subscription snapshot may overwrite.
var SyncedColumns = []string{
	"customer_user_id", "membership_id", "status",
	"recurring_price", "recurring_interval", "date_subscribed", "current_period_end",
}

// NextBillingDate prefers the remote billing period. Without it, the date is
// estimated from the start date and the number of successful payments.
func (s Subscription) NextBillingDate(successfulPayments int) time.Time {
	if s.CurrentPeriodEnd != nil && !s.CurrentPeriodEnd.IsZero() {
		return *s.CurrentPeriodEnd
	}
	if successfulPayments < 1 {
		successfulPayments = 1
	}
	return s.RecurringInterval.AddTo(s.DateSubscribed, successfulPayments)
}

// Supersedes reports whether s should hold the customer's subscription slot
// instead of current. A live subscription beats a non-live one; otherwise the
// later start wins and ties keep current.
func (s Subscription) Supersedes(current Subscription) bool {
	if s.Status.Live() != current.Status.Live() {
		return s.Status.Live()
	}
	return s.DateSubscribed.After(current.DateSubscribed)
}
