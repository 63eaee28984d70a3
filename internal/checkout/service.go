package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"membership-app/internal/domain/billing"
	"membership-app/internal/domain/customers"
	"membership-app/internal/domain/memberships"
	"membership-app/internal/infra/gateway"
	"membership-app/internal/infra/metrics"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidRequest         = errors.New("checkout: invalid request")
	ErrNotPurchasable         = errors.New("checkout: membership is not purchasable")
	ErrAlreadySubscribed      = errors.New("checkout: customer already has a live subscription")
	ErrEntryFeeProductMissing = errors.New("checkout: entry fee product is not configured")
	ErrAttemptMismatch        = errors.New("checkout: attempt key belongs to another checkout")
)

// Gateway is the part of the gateway client a checkout drives.
type Gateway interface {
	CreateCustomer(ctx context.Context, in gateway.CustomerInput, idempotencyKey string) (*stripe.Customer, error)
	UpdateCustomer(ctx context.Context, id string, in gateway.CustomerInput) (*stripe.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*stripe.PaymentMethod, error)
	CreateEntryFeeItem(ctx context.Context, customerID, productID string, amount int64, description, idempotencyKey string) (*stripe.InvoiceItem, error)
	CreateSubscription(ctx context.Context, in gateway.SubscriptionInput) (*stripe.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	ConfirmPayment(ctx context.Context, paymentIntentID, paymentMethodID string, m gateway.Mandate) (*stripe.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

// Recorder writes gateway objects to the local tables.
type Recorder interface {
	SyncCustomer(ctx context.Context, tx *gorm.DB, cus *stripe.Customer, version int64) (*customers.CustomerUser, error)
	SyncSubscription(ctx context.Context, tx *gorm.DB, sub *stripe.Subscription, version int64) (*memberships.Subscription, error)
}

type Params struct {
	DB       *gorm.DB
	Gateway  Gateway
	Recorder Recorder
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	Fees     billing.FeePolicy
	// CompanyName prefixes the descriptions of gateway objects.
	CompanyName   string
	MaxAttempts   uint
	RetryInterval time.Duration
	Now           func() time.Time
}

type Service struct {
	db            *gorm.DB
	gw            Gateway
	rec           Recorder
	log           *zap.Logger
	metrics       *metrics.Metrics
	fees          billing.FeePolicy
	company       string
	maxAttempts   uint
	retryInterval time.Duration
	now           func() time.Time
}

func New(p Params) *Service {
	s := &Service{
		db:            p.DB,
		gw:            p.Gateway,
		rec:           p.Recorder,
		log:           p.Log.Named("checkout"),
		metrics:       p.Metrics,
		fees:          p.Fees,
		company:       p.CompanyName,
		maxAttempts:   p.MaxAttempts,
		retryInterval: p.RetryInterval,
		now:           p.Now,
	}
	if s.fees == (billing.FeePolicy{}) {
		s.fees = billing.StripeCardFees
	}
	if s.maxAttempts == 0 {
		s.maxAttempts = 1
	}
	if s.retryInterval <= 0 {
		s.retryInterval = 500 * time.Millisecond
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type CustomerForm struct {
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	Email                 string `json:"email"`
	Company               string `json:"company"`
	Phone                 string `json:"phone"`
	Address1              string `json:"address1"`
	Address2              string `json:"address2"`
	City                  string `json:"city"`
	State                 string `json:"state"`
	Country               string `json:"country"`
	Zip                   string `json:"zip"`
	AcceptEmailMarketing  bool   `json:"accept_email_marketing"`
	AcceptSMSMarketing    bool   `json:"accept_sms_marketing"`
	AcceptTermsConditions bool   `json:"accept_terms_conditions"`
}

// ClientContext is what the customer's browser tells us, kept as mandate
// evidence.
type ClientContext struct {
	IPAddress string
	UserAgent string
}

type Request struct {
	// AttemptKey identifies one checkout across retries. A new key is
	// generated when empty.
	AttemptKey      string
	Customer        CustomerForm
	PaymentMethodID string
	MembershipID    uint
	// ClientSecret is sent back after the customer completed a challenge.
	ClientSecret string
	Client       ClientContext
}

type Status string

const (
	StatusSucceeded      Status = "succeeded"
	StatusRequiresAction Status = "requires_action"
	StatusError          Status = "error"
)

type Outcome struct {
	Status       Status `json:"status"`
	AttemptKey   string `json:"attempt_key"`
	ClientSecret string `json:"client_secret,omitempty"`
	Message      string `json:"message,omitempty"`
	DeclineCode  string `json:"decline_code,omitempty"`
}

// attempt statuses
const (
	attemptPending        = "pending"
	attemptRequiresAction = "requires_action"
	attemptSucceeded      = "succeeded"
	attemptDeclined       = "declined"
	attemptFailed         = "failed"
)

const genericDecline = "Your card was declined. Please try another payment method."

// checkoutRun carries the state of one Checkout call.
type checkoutRun struct {
	req        Request
	attempt    *billing.CheckoutAttempt
	membership memberships.Membership
	entryFee   *memberships.Membership
	local      *customers.CustomerUser
	hadSub     bool
	sub        *stripe.Subscription
	log        *zap.Logger
}

// Checkout bills the entry fee and starts the recurring subscription. User
// facing results, including declines, come back as an Outcome; the error is
// reserved for failures the customer cannot fix.
func (s *Service) Checkout(ctx context.Context, req Request) (Outcome, error) {
	if err := validate(&req); err != nil {
		return Outcome{}, err
	}
	run := &checkoutRun{req: req}

	if err := s.load(ctx, run); err != nil {
		return Outcome{}, err
	}
	run.log = s.log.With(zap.String("attempt", run.attempt.AttemptKey), zap.String("email", req.Customer.Email))

	out, err := s.proceed(ctx, run)
	if err != nil {
		run.attempt.LastError = err.Error()
		if run.attempt.Status == attemptPending && !gateway.IsTransient(err) {
			run.attempt.Status = attemptFailed
		}
		if saveErr := s.saveAttempt(ctx, run.attempt); saveErr != nil {
			run.log.Error("saving failed checkout attempt", zap.Error(saveErr))
		}
		if gateway.IsTransient(err) {
			run.log.Warn("checkout stopped on a transient gateway error", zap.Error(err))
		} else {
			run.log.Error("checkout failed", zap.Error(err))
		}
		s.metrics.CheckoutOutcome(string(StatusError))
		return Outcome{}, err
	}
	s.metrics.CheckoutOutcome(string(out.Status))
	return out, nil
}

func validate(req *Request) error {
	f := &req.Customer
	f.Email = customers.NormalizeEmail(f.Email)
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	f.Country = strings.ToUpper(strings.TrimSpace(f.Country))
	if f.Country == "" {
		f.Country = customers.DefaultCountry
	}
	if strings.TrimSpace(f.State) == "" {
		f.State = customers.DefaultState
	}

	var missing []string
	if f.Email == "" || !strings.Contains(f.Email, "@") {
		missing = append(missing, "email")
	}
	if f.FirstName == "" {
		missing = append(missing, "first_name")
	}
	if f.LastName == "" {
		missing = append(missing, "last_name")
	}
	if !f.AcceptTermsConditions {
		missing = append(missing, "accept_terms_conditions")
	}
	if strings.TrimSpace(req.PaymentMethodID) == "" && req.ClientSecret == "" {
		missing = append(missing, "payment_method")
	}
	if req.MembershipID == 0 {
		missing = append(missing, "membership_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing or invalid %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

func (s *Service) load(ctx context.Context, run *checkoutRun) error {
	db := s.db.WithContext(ctx)
	req := run.req

	if err := db.First(&run.membership, req.MembershipID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotPurchasable
		}
		return err
	}
	if !run.membership.IsPurchasable || run.membership.RemoteProductID == "" {
		return ErrNotPurchasable
	}

	if s.fees.Gross(run.membership.EntryCost) > 0 {
		var fee memberships.Membership
		err := db.Where("slug = ?", memberships.EntryFeeSlug).Take(&fee).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err != nil || fee.RemoteProductID == "" {
			s.log.Error("entry fee product is missing, run the server bootstrap or the resync job")
			return ErrEntryFeeProductMissing
		}
		run.entryFee = &fee
	}

	var local customers.CustomerUser
	err := db.Where("email = ?", req.Customer.Email).Take(&local).Error
	switch {
	case err == nil:
		run.local = &local
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	attempt, err := s.loadAttempt(ctx, req)
	if err != nil {
		return err
	}
	run.attempt = attempt

	if run.local != nil && attempt.Status != attemptSucceeded {
		var sub memberships.Subscription
		err := db.Where("customer_user_id = ?", run.local.ID).Take(&sub).Error
		switch {
		case err == nil:
			run.hadSub = true
			if sub.Status.Live() && sub.RemoteSubscriptionID != attempt.SubscriptionID {
				return ErrAlreadySubscribed
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
	}
	return nil
}

func (s *Service) loadAttempt(ctx context.Context, req Request) (*billing.CheckoutAttempt, error) {
	key := strings.TrimSpace(req.AttemptKey)
	if key == "" {
		key = uuid.NewString()
	}

	var a billing.CheckoutAttempt
	err := s.db.WithContext(ctx).Where("attempt_key = ?", key).Take(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		a = billing.CheckoutAttempt{
			AttemptKey:   key,
			Email:        req.Customer.Email,
			MembershipID: req.MembershipID,
			Status:       attemptPending,
		}
		if err := s.db.WithContext(ctx).Create(&a).Error; err != nil {
			return nil, fmt.Errorf("create checkout attempt: %w", err)
		}
		return &a, nil
	}
	if err != nil {
		return nil, err
	}

	if a.Email != req.Customer.Email || a.MembershipID != req.MembershipID {
		return nil, ErrAttemptMismatch
	}
	if a.Status == attemptDeclined || a.Status == attemptFailed {
		// Start over. The remote customer may be gone, so nothing recorded
		// for the previous round can be reused.
		a.Round++
		a.Status = attemptPending
		a.CustomerID, a.CustomerCreated = "", false
		a.InvoiceItemID, a.SubscriptionID, a.PaymentIntentID, a.ClientSecret = "", "", "", ""
		if err := s.saveAttempt(ctx, &a); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func (s *Service) saveAttempt(ctx context.Context, a *billing.CheckoutAttempt) error {
	if err := s.db.WithContext(ctx).Save(a).Error; err != nil {
		return fmt.Errorf("save checkout attempt %s: %w", a.AttemptKey, err)
	}
	return nil
}

func (s *Service) proceed(ctx context.Context, run *checkoutRun) (Outcome, error) {
	a := run.attempt
	if a.Status == attemptSucceeded {
		return Outcome{Status: StatusSucceeded, AttemptKey: a.AttemptKey}, nil
	}

	if a.Status == attemptRequiresAction && a.PaymentIntentID != "" {
		return s.resume(ctx, run)
	}

	if err := s.ensureCustomer(ctx, run); err != nil {
		return s.failed(ctx, run, err)
	}
	if err := s.ensureEntryFee(ctx, run); err != nil {
		return s.failed(ctx, run, err)
	}
	if err := s.ensureSubscription(ctx, run); err != nil {
		return s.failed(ctx, run, err)
	}
	if a.PaymentIntentID == "" {
		// Nothing to charge today.
		return s.succeed(ctx, run)
	}
	return s.confirm(ctx, run)
}

// resume continues a checkout that stopped on a customer challenge. It never
// creates remote objects; it only reads the payment intent back.
func (s *Service) resume(ctx context.Context, run *checkoutRun) (Outcome, error) {
	a := run.attempt
	// The attempt key alone is not enough to act on a pending payment.
	if run.req.ClientSecret == "" {
		return Outcome{}, fmt.Errorf("%w: client secret is required to resume", ErrInvalidRequest)
	}
	if run.req.ClientSecret != a.ClientSecret {
		return Outcome{}, fmt.Errorf("%w: client secret does not match", ErrInvalidRequest)
	}

	var pi *stripe.PaymentIntent
	err := s.retry(ctx, "get_payment_intent", run.log, func() (err error) {
		pi, err = s.gw.GetPaymentIntent(ctx, a.PaymentIntentID)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}

	if string(pi.Status) == string(stripe.PaymentIntentStatusRequiresPaymentMethod) && run.req.PaymentMethodID != "" {
		// The challenge failed and the customer picked another card.
		return s.confirm(ctx, run)
	}
	return s.settle(ctx, run, pi)
}

func (s *Service) ensureCustomer(ctx context.Context, run *checkoutRun) error {
	a := run.attempt
	if a.CustomerID != "" {
		return nil
	}
	in := customerInput(run.req)

	if run.local != nil && run.local.RemoteCustomerID != "" {
		var cus *stripe.Customer
		err := s.retry(ctx, "update_customer", run.log, func() (err error) {
			cus, err = s.gw.UpdateCustomer(ctx, run.local.RemoteCustomerID, in)
			return err
		})
		if err != nil {
			return err
		}
		err = s.retry(ctx, "attach_payment_method", run.log, func() error {
			_, err := s.gw.AttachPaymentMethod(ctx, run.req.PaymentMethodID, cus.ID)
			return err
		})
		if err != nil {
			return err
		}
		a.CustomerID = cus.ID
		a.CustomerCreated = cus.ID != run.local.RemoteCustomerID
		return s.saveAttempt(ctx, a)
	}

	in.PaymentMethod = run.req.PaymentMethodID
	var cus *stripe.Customer
	err := s.retry(ctx, "create_customer", run.log, func() (err error) {
		cus, err = s.gw.CreateCustomer(ctx, in, s.key(a, "customer"))
		return err
	})
	if err != nil {
		return err
	}
	a.CustomerID = cus.ID
	a.CustomerCreated = true
	return s.saveAttempt(ctx, a)
}

func (s *Service) ensureEntryFee(ctx context.Context, run *checkoutRun) error {
	a := run.attempt
	gross := s.fees.Gross(run.membership.EntryCost)
	if a.InvoiceItemID != "" || gross == 0 {
		return nil
	}

	desc := strings.TrimSpace(fmt.Sprintf("%s %s entry fee", s.company, run.membership.Name))
	var item *stripe.InvoiceItem
	err := s.retry(ctx, "create_invoice_item", run.log, func() (err error) {
		item, err = s.gw.CreateEntryFeeItem(ctx, a.CustomerID, run.entryFee.RemoteProductID, gross, desc, s.key(a, "entry"))
		return err
	})
	if err != nil {
		return err
	}
	a.InvoiceItemID = item.ID
	return s.saveAttempt(ctx, a)
}

func (s *Service) ensureSubscription(ctx context.Context, run *checkoutRun) error {
	a := run.attempt
	if a.SubscriptionID != "" {
		return nil
	}

	in := gateway.SubscriptionInput{
		CustomerID:     a.CustomerID,
		ProductID:      run.membership.RemoteProductID,
		UnitAmount:     s.fees.Gross(run.membership.RecurringPrice),
		Interval:       string(run.membership.Interval),
		IdempotencyKey: s.key(a, "subscription"),
		Metadata: map[string]string{
			"membership_id": strconv.FormatUint(uint64(run.membership.ID), 10),
			"attempt_key":   a.AttemptKey,
		},
	}
	var sub *stripe.Subscription
	err := s.retry(ctx, "create_subscription", run.log, func() (err error) {
		sub, err = s.gw.CreateSubscription(ctx, in)
		return err
	})
	if err != nil {
		return err
	}

	run.sub = sub
	a.SubscriptionID = sub.ID
	if pi := latestPaymentIntent(sub); pi != nil {
		a.PaymentIntentID = pi.ID
		a.ClientSecret = pi.ClientSecret
	}
	return s.saveAttempt(ctx, a)
}

func (s *Service) confirm(ctx context.Context, run *checkoutRun) (Outcome, error) {
	a := run.attempt
	mandate := gateway.Mandate{
		IPAddress:  run.req.Client.IPAddress,
		UserAgent:  run.req.Client.UserAgent,
		AcceptedAt: s.now(),
	}

	var pi *stripe.PaymentIntent
	err := s.retry(ctx, "confirm_payment", run.log, func() (err error) {
		pi, err = s.gw.ConfirmPayment(ctx, a.PaymentIntentID, run.req.PaymentMethodID, mandate)
		return err
	})
	if err != nil {
		return s.failed(ctx, run, err)
	}
	return s.settle(ctx, run, pi)
}

// settle maps a confirmed payment intent onto the outcome.
func (s *Service) settle(ctx context.Context, run *checkoutRun, pi *stripe.PaymentIntent) (Outcome, error) {
	a := run.attempt
	if pi.ClientSecret != "" {
		a.ClientSecret = pi.ClientSecret
	}

	switch string(pi.Status) {
	case string(stripe.PaymentIntentStatusSucceeded):
		return s.succeed(ctx, run)

	case string(stripe.PaymentIntentStatusRequiresAction),
		string(stripe.PaymentIntentStatusRequiresConfirmation),
		string(stripe.PaymentIntentStatusProcessing):
		a.Status = attemptRequiresAction
		if err := s.saveAttempt(ctx, a); err != nil {
			return Outcome{}, err
		}
		run.log.Info("payment requires customer action", zap.String("payment_intent", pi.ID))
		return Outcome{Status: StatusRequiresAction, AttemptKey: a.AttemptKey, ClientSecret: a.ClientSecret}, nil

	default:
		decline := &gateway.Error{Kind: gateway.KindCardDeclined, Op: "confirm_payment", Message: genericDecline}
		if pi.LastPaymentError != nil {
			decline.Code = string(pi.LastPaymentError.Code)
			decline.DeclineCode = string(pi.LastPaymentError.DeclineCode)
			if pi.LastPaymentError.Msg != "" {
				decline.Message = pi.LastPaymentError.Msg
			}
		}
		return s.failed(ctx, run, decline)
	}
}

// failed turns a step error into the checkout's result. Declines and fatal
// errors roll the attempt back; transient errors keep it for a resume.
func (s *Service) failed(ctx context.Context, run *checkoutRun, err error) (Outcome, error) {
	if gateway.IsTransient(err) {
		return Outcome{}, err
	}

	a := run.attempt
	s.rollback(ctx, run)

	if !gateway.IsCardDeclined(err) {
		a.Status = attemptFailed
		return Outcome{}, err
	}

	var gwErr *gateway.Error
	errors.As(err, &gwErr)
	a.Status = attemptDeclined
	a.LastError = err.Error()
	if saveErr := s.saveAttempt(ctx, a); saveErr != nil {
		return Outcome{}, saveErr
	}
	run.log.Info("card declined", zap.String("code", gwErr.Code), zap.String("decline_code", gwErr.DeclineCode))

	msg := gwErr.Message
	if msg == "" {
		msg = genericDecline
	}
	return Outcome{Status: StatusError, AttemptKey: a.AttemptKey, Message: msg, DeclineCode: gwErr.DeclineCode}, nil
}

// rollback deletes the remote customer this attempt created, unless the
// customer already had a subscription before it.
func (s *Service) rollback(ctx context.Context, run *checkoutRun) {
	a := run.attempt
	if !a.CustomerCreated || a.CustomerID == "" || run.hadSub {
		return
	}
	err := s.retry(ctx, "delete_customer", run.log, func() error {
		return s.gw.DeleteCustomer(ctx, a.CustomerID)
	})
	if err != nil {
		run.log.Error("rolling back remote customer", zap.String("customer", a.CustomerID), zap.Error(err))
		return
	}
	run.log.Info("rolled back remote customer", zap.String("customer", a.CustomerID))
}

// succeed records the paid subscription locally. The webhook events that
// follow find the rows already in place.
func (s *Service) succeed(ctx context.Context, run *checkoutRun) (Outcome, error) {
	a := run.attempt

	sub := run.sub
	if sub == nil || sub.Items == nil {
		err := s.retry(ctx, "get_subscription", run.log, func() (err error) {
			sub, err = s.gw.GetSubscription(ctx, a.SubscriptionID)
			return err
		})
		if err != nil {
			return Outcome{}, err
		}
	}
	sub.Status = stripe.SubscriptionStatusActive
	cus := remoteCustomer(a.CustomerID, run.req.Customer)
	// Versioned on the gateway's clock so that any event raised after the
	// subscription was created wins over this write.
	version := sub.Created
	if version == 0 {
		version = sub.StartDate
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.rec.SyncCustomer(ctx, tx, cus, version); err != nil {
			return err
		}
		if _, err := s.rec.SyncSubscription(ctx, tx, sub, version); err != nil {
			return err
		}
		a.Status = attemptSucceeded
		a.LastError = ""
		return tx.Save(a).Error
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("record paid subscription %s: %w", a.SubscriptionID, err)
	}

	run.log.Info("checkout succeeded", zap.String("subscription", a.SubscriptionID))
	return Outcome{Status: StatusSucceeded, AttemptKey: a.AttemptKey}, nil
}

// retry runs a gateway call, retrying transient failures with exponential
// backoff. Other errors are returned on the first failure.
func (s *Service) retry(ctx context.Context, op string, log *zap.Logger, call func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := call()
		if err != nil && !gateway.IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.metrics.GatewayRetry(op)
			log.Warn("retrying gateway call", zap.String("op", op), zap.Duration("in", next), zap.Error(err))
		}),
	)
	return err
}

func (s *Service) key(a *billing.CheckoutAttempt, step string) string {
	return fmt.Sprintf("checkout:%s:%d:%s", a.AttemptKey, a.Round, step)
}

func customerMetadata(f CustomerForm) map[string]string {
	return map[string]string{
		"first_name":              f.FirstName,
		"last_name":               f.LastName,
		"company":                 f.Company,
		"accept_email_marketing":  strconv.FormatBool(f.AcceptEmailMarketing),
		"accept_sms_marketing":    strconv.FormatBool(f.AcceptSMSMarketing),
		"accept_terms_conditions": strconv.FormatBool(f.AcceptTermsConditions),
	}
}

func customerInput(req Request) gateway.CustomerInput {
	f := req.Customer
	return gateway.CustomerInput{
		Email:     f.Email,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Company:   f.Company,
		Phone:     f.Phone,
		Address: gateway.Address{
			Line1:      f.Address1,
			Line2:      f.Address2,
			City:       f.City,
			State:      f.State,
			PostalCode: f.Zip,
			Country:    f.Country,
		},
		Metadata: customerMetadata(f),
	}
}

// remoteCustomer rebuilds the customer the gateway holds from what was sent
// to it.
func remoteCustomer(id string, f CustomerForm) *stripe.Customer {
	return &stripe.Customer{
		ID:    id,
		Email: f.Email,
		Name:  strings.TrimSpace(f.FirstName + " " + f.LastName),
		Phone: f.Phone,
		Address: &stripe.Address{
			Line1:      f.Address1,
			Line2:      f.Address2,
			City:       f.City,
			State:      f.State,
			PostalCode: f.Zip,
			Country:    f.Country,
		},
		Metadata: customerMetadata(f),
	}
}

func latestPaymentIntent(sub *stripe.Subscription) *stripe.PaymentIntent {
	if sub.LatestInvoice == nil || sub.LatestInvoice.PaymentIntent == nil || sub.LatestInvoice.PaymentIntent.ID == "" {
		return nil
	}
	return sub.LatestInvoice.PaymentIntent
}
