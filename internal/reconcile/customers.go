package reconcile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"membership-app/database"
	"membership-app/internal/domain/customers"

	"github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrNoEmail is returned for remote customers without an email, which
// cannot be keyed locally.
var ErrNoEmail = errors.New("reconcile: customer has no email")

var customerSpec = database.UpsertSpec{
	Key:       "email",
	Versioned: customers.SyncedColumns,
}

func (r *Reconciler) handleCustomerUpsert(ctx context.Context, tx *gorm.DB, event stripe.Event) error {
	cus, err := decode[stripe.Customer](event)
	if err != nil {
		return err
	}
	_, err = r.SyncCustomer(ctx, tx, cus, event.Created)
	if errors.Is(err, ErrNoEmail) {
		r.log.Info("skipping customer without email", zap.String("customer", cus.ID))
		return nil
	}
	return err
}

func (r *Reconciler) handleCustomerDeleted(ctx context.Context, tx *gorm.DB, event stripe.Event) error {
	cus, err := decode[stripe.Customer](event)
	if err != nil {
		return err
	}
	return r.DeleteCustomer(ctx, tx, cus.ID)
}

// SyncCustomer upserts the local customer matching the remote customer's
// email. New customers get a partner number and a random password.
func (r *Reconciler) SyncCustomer(ctx context.Context, tx *gorm.DB, cus *stripe.Customer, version int64) (*customers.CustomerUser, error) {
	email := customers.NormalizeEmail(cus.Email)
	if email == "" {
		return nil, ErrNoEmail
	}

	first, last := customers.SplitName(cus.Name, cus.Metadata)
	row := customers.CustomerUser{
		RemoteCustomerID:      cus.ID,
		Email:                 email,
		FirstName:             first,
		LastName:              last,
		Company:               cus.Metadata["company"],
		Phone:                 cus.Phone,
		Country:               customers.DefaultCountry,
		State:                 customers.DefaultState,
		AcceptEmailMarketing:  metadataFlag(cus.Metadata, "accept_email_marketing"),
		AcceptSMSMarketing:    metadataFlag(cus.Metadata, "accept_sms_marketing"),
		AcceptTermsConditions: metadataFlag(cus.Metadata, "accept_terms_conditions"),
		RemoteUpdatedAt:       version,
		DateJoined:            unixOrZero(cus.Created),
	}
	if a := cus.Address; a != nil {
		row.Address1 = a.Line1
		row.Address2 = a.Line2
		row.City = a.City
		row.Zip = a.PostalCode
		if a.Country != "" {
			row.Country = strings.ToUpper(a.Country)
		}
		if a.State != "" {
			row.State = a.State
		}
	}
	if row.DateJoined.IsZero() {
		row.DateJoined = r.now().UTC()
	}

	var existing customers.CustomerUser
	err := tx.WithContext(ctx).Select("partner_number", "password_hash").Where("email = ?", email).Take(&existing).Error
	switch {
	case err == nil:
		row.PartnerNumber = existing.PartnerNumber
		row.PasswordHash = existing.PasswordHash
	case errors.Is(err, gorm.ErrRecordNotFound):
		if row.PartnerNumber, err = customers.NextPartnerNumber(ctx, tx, r.now()); err != nil {
			return nil, err
		}
		if row.PasswordHash, err = r.randomPasswordHash(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("find customer %s: %w", email, err)
	}

	if err := database.Upsert(ctx, tx, customerSpec, email, &row); err != nil {
		return nil, fmt.Errorf("sync customer %s: %w", cus.ID, err)
	}
	return &row, nil
}

// DeleteCustomer removes the customer with the remote reference. Payment
// methods and the subscription go with it through foreign keys.
func (r *Reconciler) DeleteCustomer(ctx context.Context, tx *gorm.DB, remoteID string) error {
	if remoteID == "" {
		return nil
	}
	res := tx.WithContext(ctx).Where("remote_customer_id = ?", remoteID).Delete(&customers.CustomerUser{})
	if res.Error != nil {
		return fmt.Errorf("delete customer %s: %w", remoteID, res.Error)
	}
	if res.RowsAffected == 0 {
		r.log.Info("deleted customer was not stored locally", zap.String("customer", remoteID))
	}
	return nil
}

func (r *Reconciler) findCustomer(ctx context.Context, tx *gorm.DB, remoteID string) (*customers.CustomerUser, error) {
	if remoteID == "" {
		return nil, fmt.Errorf("%w: empty customer reference", ErrParentNotFound)
	}
	var c customers.CustomerUser
	err := tx.WithContext(ctx).Where("remote_customer_id = ?", remoteID).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: customer %s", ErrParentNotFound, remoteID)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Reconciler) randomPasswordHash() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(buf)), r.passwordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func metadataFlag(md map[string]string, key string) bool {
	switch strings.ToLower(strings.TrimSpace(md[key])) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
