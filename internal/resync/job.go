package resync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"membership-app/internal/domain/billing"
	"membership-app/internal/domain/customers"
	"membership-app/internal/domain/memberships"
	"membership-app/internal/infra/gateway"
	"membership-app/internal/infra/metrics"
	"membership-app/internal/reconcile"

	"github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Gateway lists the remote state the job rebuilds from.
type Gateway interface {
	ListCustomers(ctx context.Context, f gateway.ListFilter) ([]*stripe.Customer, error)
	ListPaymentMethods(ctx context.Context, f gateway.ListFilter) ([]*stripe.PaymentMethod, error)
	ListSubscriptions(ctx context.Context, f gateway.ListFilter) ([]*stripe.Subscription, error)
	ListPaymentIntents(ctx context.Context, f gateway.ListFilter) ([]*stripe.PaymentIntent, error)
	ListInvoices(ctx context.Context, f gateway.ListFilter) ([]*stripe.Invoice, error)
	LatestEventTime(ctx context.Context) (int64, error)
}

// Recorder writes one remote object into the local tables.
type Recorder interface {
	SyncCustomer(ctx context.Context, tx *gorm.DB, cus *stripe.Customer, version int64) (*customers.CustomerUser, error)
	SyncPaymentMethod(ctx context.Context, tx *gorm.DB, pm *stripe.PaymentMethod, version int64) (*billing.PaymentMethod, error)
	SyncSubscription(ctx context.Context, tx *gorm.DB, sub *stripe.Subscription, version int64) (*memberships.Subscription, error)
	SyncPaymentIntent(ctx context.Context, tx *gorm.DB, pi *stripe.PaymentIntent, version int64, opts reconcile.IntentSync) (*billing.Payment, error)
	SyncInvoicePayment(ctx context.Context, tx *gorm.DB, inv *stripe.Invoice, version int64, status billing.PaymentStatus) (*billing.Payment, error)
}

type Params struct {
	DB       *gorm.DB
	Gateway  Gateway
	Recorder Recorder
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

type Job struct {
	db      *gorm.DB
	gw      Gateway
	rec     Recorder
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(p Params) *Job {
	j := &Job{
		db:      p.DB,
		gw:      p.Gateway,
		rec:     p.Recorder,
		log:     p.Log.Named("resync"),
		metrics: p.Metrics,
		now:     p.Now,
	}
	if j.now == nil {
		j.now = time.Now
	}
	return j
}

const (
	// StageClock reads the gateway clock that versions every written row.
	StageClock          = "clock"
	StageCustomers      = "customers"
	StagePaymentMethods = "payment_methods"
	StageSubscriptions  = "subscriptions"
	StagePayments       = "payments"
	StageInvoices       = "invoices"
)

type StageReport struct {
	Name string `json:"name"`
	// Processed counts records written. For a failed stage it is the count
	// reached before the failure; the stage's writes were rolled back.
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

type Report struct {
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Stages      []StageReport `json:"stages"`
	FailedStage string        `json:"failed_stage,omitempty"`
}

func (r Report) Failed() bool { return r.FailedStage != "" }

func (r Report) Stage(name string) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageReport{}, false
}

func (r Report) String() string {
	var b strings.Builder
	for _, s := range r.Stages {
		fmt.Fprintf(&b, "%-16s processed=%d skipped=%d", s.Name, s.Processed, s.Skipped)
		if s.Error != "" {
			fmt.Fprintf(&b, " FAILED: %s", s.Error)
		}
		b.WriteByte('\n')
	}
	if r.Failed() {
		fmt.Fprintf(&b, "resync failed at stage %s\n", r.FailedStage)
	} else {
		fmt.Fprintf(&b, "resync finished in %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	return b.String()
}

type stageFunc func(ctx context.Context, version int64, st *StageReport) error

// Run rebuilds local state from the gateway. Stages run in dependency order
// and each commits on its own; the first failing stage stops the run.
func (j *Job) Run(ctx context.Context) (Report, error) {
	rep := Report{StartedAt: j.now().UTC()}
	version, err := j.version(ctx)
	if err != nil {
		rep.FailedStage = StageClock
		rep.FinishedAt = j.now().UTC()
		j.log.Error("reading gateway clock failed", zap.Error(err))
		return rep, fmt.Errorf("resync %s: %w", StageClock, err)
	}

	stages := []struct {
		name string
		run  stageFunc
	}{
		{StageCustomers, j.customers},
		{StagePaymentMethods, j.paymentMethods},
		{StageSubscriptions, j.subscriptions},
		{StagePayments, j.payments},
		{StageInvoices, j.invoices},
	}

	for _, stage := range stages {
		st := StageReport{Name: stage.name}
		log := j.log.With(zap.String("stage", stage.name))
		log.Info("stage started")

		err := stage.run(ctx, version, &st)
		if err != nil {
			st.Error = err.Error()
			rep.Stages = append(rep.Stages, st)
			rep.FailedStage = stage.name
			rep.FinishedAt = j.now().UTC()
			log.Error("stage failed", zap.Int("processed", st.Processed), zap.Error(err))
			return rep, fmt.Errorf("resync %s: %w", stage.name, err)
		}

		j.metrics.ResyncRecords(stage.name, st.Processed)
		rep.Stages = append(rep.Stages, st)
		log.Info("stage finished", zap.Int("processed", st.Processed), zap.Int("skipped", st.Skipped))
	}

	rep.FinishedAt = j.now().UTC()
	return rep, nil
}

// version stamps the rebuilt rows with the newest event time seen by the
// gateway. Events raised while the job lists remote state are at least as
// new and still apply; the local clock is never compared with event times.
func (j *Job) version(ctx context.Context) (int64, error) {
	latest, err := j.gw.LatestEventTime(ctx)
	if err != nil {
		return 0, err
	}
	if latest == 0 {
		j.log.Warn("gateway has no events, versioning rows with the local clock")
		return j.now().Unix(), nil
	}
	return latest, nil
}

type preserved struct {
	PartnerNumber string
	PasswordHash  string
}

// customers clears and rebuilds the customer table. Partner numbers and
// passwords survive the rebuild for customers matched by email.
func (j *Job) customers(ctx context.Context, version int64, st *StageReport) error {
	remote, err := j.gw.ListCustomers(ctx, gateway.ListFilter{})
	if err != nil {
		return err
	}

	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old []customers.CustomerUser
		if err := tx.Select("email", "partner_number", "password_hash").Find(&old).Error; err != nil {
			return err
		}
		keep := make(map[string]preserved, len(old))
		for _, c := range old {
			keep[c.Email] = preserved{PartnerNumber: c.PartnerNumber, PasswordHash: c.PasswordHash}
		}

		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&customers.CustomerUser{}).Error; err != nil {
			return fmt.Errorf("clear customers: %w", err)
		}

		for _, cus := range remote {
			row, err := j.rec.SyncCustomer(ctx, tx, cus, version)
			if errors.Is(err, reconcile.ErrNoEmail) {
				st.Skipped++
				continue
			}
			if err != nil {
				return err
			}
			if p, ok := keep[row.Email]; ok {
				err := tx.Model(row).Updates(map[string]interface{}{
					"partner_number": p.PartnerNumber,
					"password_hash":  p.PasswordHash,
				}).Error
				if err != nil {
					return fmt.Errorf("restore partner number for %s: %w", row.Email, err)
				}
			}
			st.Processed++
		}
		return nil
	})
}

func (j *Job) paymentMethods(ctx context.Context, version int64, st *StageReport) error {
	var owners []customers.CustomerUser
	err := j.db.WithContext(ctx).Select("id", "remote_customer_id").
		Where("remote_customer_id <> ''").Order("id").Find(&owners).Error
	if err != nil {
		return err
	}

	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, owner := range owners {
			pms, err := j.gw.ListPaymentMethods(ctx, gateway.ListFilter{Customer: owner.RemoteCustomerID})
			if err != nil {
				return err
			}
			for _, pm := range pms {
				if pm.Customer == nil || pm.Customer.ID == "" {
					pm.Customer = &stripe.Customer{ID: owner.RemoteCustomerID}
				}
				if _, err := j.rec.SyncPaymentMethod(ctx, tx, pm, version); err != nil {
					return err
				}
				st.Processed++
			}
		}
		return nil
	})
}

func (j *Job) subscriptions(ctx context.Context, version int64, st *StageReport) error {
	remote, err := j.gw.ListSubscriptions(ctx, gateway.ListFilter{})
	if err != nil {
		return err
	}

	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, sub := range remote {
			_, err := j.rec.SyncSubscription(ctx, tx, sub, version)
			if errors.Is(err, reconcile.ErrParentNotFound) {
				j.log.Warn("skipping subscription without local parent", zap.String("subscription", sub.ID), zap.Error(err))
				st.Skipped++
				continue
			}
			if err != nil {
				return err
			}
			st.Processed++
		}
		return nil
	})
}

// payments clears and rebuilds payments from payment intents.
func (j *Job) payments(ctx context.Context, version int64, st *StageReport) error {
	remote, err := j.gw.ListPaymentIntents(ctx, gateway.ListFilter{})
	if err != nil {
		return err
	}

	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&billing.Payment{}).Error; err != nil {
			return fmt.Errorf("clear payments: %w", err)
		}
		for _, pi := range remote {
			if _, err := j.rec.SyncPaymentIntent(ctx, tx, pi, version, reconcile.IntentSync{}); err != nil {
				return err
			}
			st.Processed++
		}
		return nil
	})
}

// invoices back-fills totals, tax and the subscription link of payments.
func (j *Job) invoices(ctx context.Context, version int64, st *StageReport) error {
	remote, err := j.gw.ListInvoices(ctx, gateway.ListFilter{})
	if err != nil {
		return err
	}

	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, inv := range remote {
			if inv.PaymentIntent == nil || inv.PaymentIntent.ID == "" || string(inv.Status) == "draft" {
				st.Skipped++
				continue
			}
			_, err := j.rec.SyncInvoicePayment(ctx, tx, inv, version, "")
			if errors.Is(err, reconcile.ErrParentNotFound) {
				j.log.Warn("skipping invoice without local subscription", zap.String("invoice", inv.ID))
				st.Skipped++
				continue
			}
			if err != nil {
				return err
			}
			st.Processed++
		}
		return nil
	})
}
