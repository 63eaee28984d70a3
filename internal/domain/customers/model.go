package customers

import "time"

const (
	DefaultCountry = "US"
	DefaultState   = "PR"
)

type CustomerUser struct {
	ID               uint   `gorm:"primaryKey"`
	RemoteCustomerID string `gorm:"column:remote_customer_id;index"`
	PartnerNumber    string `gorm:"not null;uniqueIndex:idx_customer_users_partner_number"`
	Email            string `gorm:"not null;uniqueIndex:idx_customer_users_email"`
	FirstName        string
	LastName         string
	Company          string
	Phone            string

	Address1 string
	Address2 string
	City     string
	State    string `gorm:"type:varchar(8)"`
	Country  string `gorm:"type:varchar(2)"`
	Zip      string

	AcceptEmailMarketing  bool
	AcceptSMSMarketing    bool
	AcceptTermsConditions bool

	PasswordHash string `json:"-"`

	RemoteUpdatedAt int64 `gorm:"not null;default:0"`
	DateJoined      time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (c CustomerUser) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// SyncedColumns are the columns a remote customer snapshot may overwrite.
// Partner number, password and join date are fixed at creation.
var SyncedColumns = []string{
	"remote_customer_id",
	"first_name", "last_name", "company", "phone",
	"address1", "address2", "city", "state", "country", "zip",
	"accept_email_marketing", "accept_sms_marketing", "accept_terms_conditions",
}
