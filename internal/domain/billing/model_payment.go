package billing

import (
	"strings"
	"time"

	"membership-app/internal/domain/customers"
	"membership-app/internal/domain/memberships"
)

type PaymentStatus string

const (
	PaymentSucceeded             PaymentStatus = "succeeded"
	PaymentBlocked               PaymentStatus = "blocked"
	PaymentCancelled             PaymentStatus = "cancelled"
	PaymentPending               PaymentStatus = "pending"
	PaymentIncomplete            PaymentStatus = "incomplete"
	PaymentFailed                PaymentStatus = "failed"
	PaymentRefunded              PaymentStatus = "refunded"
	PaymentDisputed              PaymentStatus = "disputed"
	PaymentRequiresPaymentMethod PaymentStatus = "requires_payment_method"
)

// NormalizePaymentStatus maps payment intent and invoice statuses onto the
// local enum.
func NormalizePaymentStatus(s string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "succeeded", "paid":
		return PaymentSucceeded
	case "canceled", "cancelled", "void":
		return PaymentCancelled
	case "processing", "open", "requires_capture":
		return PaymentPending
	case "requires_action", "requires_confirmation", "draft":
		return PaymentIncomplete
	case "requires_payment_method":
		return PaymentRequiresPaymentMethod
	case "uncollectible", "failed":
		return PaymentFailed
	case "blocked":
		return PaymentBlocked
	case "refunded":
		return PaymentRefunded
	case "disputed":
		return PaymentDisputed
	}
	return PaymentIncomplete
}

type PaymentMethod struct {
	ID                    uint                    `gorm:"primaryKey"`
	RemotePaymentMethodID string                  `gorm:"column:remote_payment_method_id;not null;uniqueIndex:idx_payment_methods_remote_id"`
	CustomerUserID        uint                    `gorm:"not null;index"`
	CustomerUser          *customers.CustomerUser `gorm:"constraint:OnDelete:CASCADE"`
	NameOnCard            string
	CardType              string `gorm:"type:varchar(24)"`
	Last4                 string `gorm:"column:last4;type:varchar(4)"`
	ExpMonth              int64
	ExpYear               int64

	RemoteUpdatedAt int64 `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var PaymentMethodColumns = []string{
	"customer_user_id", "name_on_card", "card_type", "last4", "exp_month", "exp_year",
}

type Payment struct {
	ID              uint                      `gorm:"primaryKey"`
	RemotePaymentID string                    `gorm:"column:remote_payment_id;not null;uniqueIndex:idx_payments_remote_id"`
	Description     string                    `gorm:"type:varchar(255)"`
	SubscriptionID  *uint                     `gorm:"index"`
	Subscription    *memberships.Subscription `gorm:"constraint:OnDelete:CASCADE"`
	PaymentMethodID *uint                     `gorm:"index"`
	PaymentMethod   *PaymentMethod            `gorm:"constraint:OnDelete:SET NULL"`
	PaidOn          time.Time
	Subtotal        int64         `gorm:"not null;default:0"`
	Tax             int64         `gorm:"not null;default:0"`
	Total           int64         `gorm:"not null;default:0"`
	Status          PaymentStatus `gorm:"type:varchar(32);not null"`

	RemoteUpdatedAt int64 `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CheckoutAttempt records the remote objects created by one checkout so a
// retry resumes instead of duplicating them.
type CheckoutAttempt struct {
	ID              uint   `gorm:"primaryKey"`
	AttemptKey      string `gorm:"not null;uniqueIndex:idx_checkout_attempts_key"`
	Email           string `gorm:"not null;index"`
	MembershipID    uint   `gorm:"not null"`
	Status          string `gorm:"type:varchar(24);not null"`
	// Round is bumped when a failed attempt is restarted, so the restart
	// gets fresh idempotency keys.
	Round           int
	CustomerID      string
	CustomerCreated bool
	InvoiceItemID   string
	SubscriptionID  string
	PaymentIntentID string
	ClientSecret    string `json:"-"`
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WebhookEvent marks a delivered event as processed.
type WebhookEvent struct {
	ID          uint   `gorm:"primaryKey"`
	EventID     string `gorm:"not null;uniqueIndex:idx_webhook_events_event_id"`
	Type        string `gorm:"not null"`
	Created     int64
	ProcessedAt time.Time
}
