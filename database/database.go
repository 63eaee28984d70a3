package database

import (
	"fmt"
	"time"

	"membership-app/internal/domain/billing"
	"membership-app/internal/domain/customers"
	"membership-app/internal/domain/memberships"
	"membership-app/internal/infra/logger"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to postgres and migrates every domain model.
func Open(dsn string, log *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database: empty DSN")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLogger(log, gormlogger.Warn, 200*time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("database: connect: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info("database connected and migrated")
	return db, nil
}

// Migrate creates or updates the schema. Parents come before children so
// foreign keys resolve.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&customers.CustomerUser{},
		&customers.PartnerSequence{},
		&memberships.Membership{},
		&memberships.Subscription{},
		&billing.PaymentMethod{},
		&billing.Payment{},
		&billing.CheckoutAttempt{},
		&billing.WebhookEvent{},
	); err != nil {
		return fmt.Errorf("database: migrate: %w", err)
	}
	return nil
}
