package app

import (
	"context"
	"fmt"

	"membership-app/config"
	"membership-app/database"
	"membership-app/internal/checkout"
	"membership-app/internal/domain/billing"
	"membership-app/internal/infra/gateway"
	"membership-app/internal/infra/logger"
	"membership-app/internal/infra/metrics"
	"membership-app/internal/memberships"
	"membership-app/internal/reconcile"
	"membership-app/internal/resync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// App holds the wired services shared by the server and the resync command.
type App struct {
	Config      config.Config
	Log         *zap.Logger
	DB          *gorm.DB
	Gateway     *gateway.Client
	Metrics     *metrics.Metrics
	Registry    *prometheus.Registry
	Reconciler  *reconcile.Reconciler
	Checkout    *checkout.Service
	Memberships *memberships.Service
	Resync      *resync.Job
}

// New connects to the database and the gateway, and makes sure the entry fee
// product exists before anything can bill against it.
func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	log, err := logger.New(logger.Config{
		ServiceName: service,
		Environment: cfg.AppEnv,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.DBURL, log)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	gw := gateway.New(gateway.Config{
		SecretKey:         cfg.StripeSecretKey,
		WebhookSecret:     cfg.StripeWebhookSecret,
		MaxNetworkRetries: cfg.StripeMaxNetworkRetries,
		URL:               cfg.StripeAPIURL,
	}, log)

	rec := reconcile.New(reconcile.Params{
		DB:           db,
		Log:          log,
		Metrics:      m,
		PasswordCost: bcrypt.DefaultCost,
	})

	a := &App{
		Config:     cfg,
		Log:        log,
		DB:         db,
		Gateway:    gw,
		Metrics:    m,
		Registry:   reg,
		Reconciler: rec,
		Checkout: checkout.New(checkout.Params{
			DB:            db,
			Gateway:       gw,
			Recorder:      rec,
			Log:           log,
			Metrics:       m,
			Fees:          billing.StripeCardFees,
			CompanyName:   cfg.CompanyName,
			MaxAttempts:   cfg.CheckoutMaxAttempts,
			RetryInterval: cfg.CheckoutRetryInterval,
		}),
		Memberships: memberships.New(memberships.Params{
			DB:                  db,
			Gateway:             gw,
			Log:                 log,
			Fees:                billing.StripeCardFees,
			EntryFeeProductName: cfg.EntryFeeProductName,
		}),
		Resync: resync.New(resync.Params{
			DB:       db,
			Gateway:  gw,
			Recorder: rec,
			Log:      log,
			Metrics:  m,
		}),
	}

	if _, err := a.Memberships.EnsureEntryFeeProduct(ctx); err != nil {
		return nil, err
	}
	return a, nil
}
