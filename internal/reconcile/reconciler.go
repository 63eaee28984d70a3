package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"membership-app/database"
	"membership-app/internal/domain/billing"
	"membership-app/internal/infra/metrics"

	"github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrParentNotFound means a record the event refers to is not stored
	// locally yet. The event must be redelivered later.
	ErrParentNotFound = errors.New("reconcile: referenced record not found")
	// ErrMalformedEvent means the event body does not decode to the object
	// its type announces.
	ErrMalformedEvent = errors.New("reconcile: malformed event object")
)

type Result string

const (
	ResultProcessed Result = "processed"
	ResultDuplicate Result = "duplicate"
	ResultIgnored   Result = "ignored"
	ResultFailed    Result = "failed"
)

type Params struct {
	DB      *gorm.DB
	Log     *zap.Logger
	Metrics *metrics.Metrics
	// PasswordCost is the bcrypt cost for generated customer passwords.
	PasswordCost int
	Now          func() time.Time
}

type handlerFunc func(ctx context.Context, tx *gorm.DB, event stripe.Event) error

type Reconciler struct {
	db           *gorm.DB
	log          *zap.Logger
	metrics      *metrics.Metrics
	passwordCost int
	now          func() time.Time
	handlers     map[string]handlerFunc
}

func New(p Params) *Reconciler {
	r := &Reconciler{
		db:           p.DB,
		log:          p.Log.Named("reconcile"),
		metrics:      p.Metrics,
		passwordCost: p.PasswordCost,
		now:          p.Now,
	}
	if r.passwordCost == 0 {
		r.passwordCost = bcrypt.DefaultCost
	}
	if r.now == nil {
		r.now = time.Now
	}

	r.handlers = map[string]handlerFunc{
		"customer.created":                     r.handleCustomerUpsert,
		"customer.updated":                     r.handleCustomerUpsert,
		"customer.deleted":                     r.handleCustomerDeleted,
		"customer.subscription.created":        r.handleSubscription,
		"customer.subscription.updated":        r.handleSubscription,
		"customer.subscription.deleted":        r.handleSubscription,
		"product.deleted":                      r.handleProductDeleted,
		"payment_method.attached":              r.handlePaymentMethodAttached,
		"payment_method.updated":               r.handlePaymentMethodAttached,
		"payment_method.automatically_updated": r.handlePaymentMethodAttached,
		"payment_method.detached":              r.handlePaymentMethodDetached,
		"invoice.paid":                         r.handleInvoicePaid,
		"invoice.payment_succeeded":            r.handleInvoicePaid,
		"invoice.payment_failed":               r.handleInvoiceFailed,
		"payment_intent.succeeded":             r.handlePaymentIntentSucceeded,
		"payment_intent.payment_failed":        r.handlePaymentIntentFailed,
		"charge.refunded":                      r.handleChargeRefunded,
		"charge.dispute.created":               r.handleDisputeCreated,
	}
	return r
}

// Handles reports whether the event type has a handler.
func (r *Reconciler) Handles(eventType string) bool {
	_, ok := r.handlers[eventType]
	return ok
}

// HandleEvent applies one delivered event. The event id is recorded in the
// same transaction as the writes, so a committed event is never applied
// twice and a failed one is retried in full on redelivery.
func (r *Reconciler) HandleEvent(ctx context.Context, event stripe.Event) (Result, error) {
	eventType := string(event.Type)
	log := r.log.With(zap.String("event_id", event.ID), zap.String("event_type", eventType))

	h, ok := r.handlers[eventType]
	if !ok {
		log.Info("ignoring unhandled event type")
		r.metrics.WebhookEvent(eventType, string(ResultIgnored))
		return ResultIgnored, nil
	}

	result := ResultProcessed
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh, err := database.InsertOnce(ctx, tx, "event_id", &billing.WebhookEvent{
			EventID:     event.ID,
			Type:        eventType,
			Created:     event.Created,
			ProcessedAt: r.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("record event: %w", err)
		}
		if !fresh {
			result = ResultDuplicate
			return nil
		}
		return h(ctx, tx, event)
	})
	if err != nil {
		if errors.Is(err, ErrParentNotFound) {
			log.Warn("event references records not stored yet", zap.Error(err))
		} else {
			log.Error("event handling failed", zap.Error(err))
		}
		r.metrics.WebhookEvent(eventType, string(ResultFailed))
		return ResultFailed, err
	}

	if result == ResultDuplicate {
		log.Info("event already processed")
	}
	r.metrics.WebhookEvent(eventType, string(result))
	return result, nil
}

func decode[T any](event stripe.Event) (*T, error) {
	var obj T
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: %s has no data", ErrMalformedEvent, event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, event.ID, err)
	}
	return &obj, nil
}

func unixOrZero(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
