package memberships

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrMembershipInUse = errors.New("membership has live subscriptions")

// LiveStatuses are the statuses for which Status.Live reports true.
var LiveStatuses = []Status{StatusActive, StatusTrialing, StatusPastDue}

func CountLiveSubscriptions(ctx context.Context, db *gorm.DB, membershipID uint) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&Subscription{}).
		Where("membership_id = ? AND status IN ?", membershipID, LiveStatuses).
		Count(&n).Error
	return n, err
}

func CountSubscriptions(ctx context.Context, db *gorm.DB, membershipID uint) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&Subscription{}).
		Where("membership_id = ?", membershipID).
		Count(&n).Error
	return n, err
}

// Retire hides a membership that past subscriptions still point at, so it
// cannot be bought again but history stays intact.
func Retire(ctx context.Context, db *gorm.DB, m *Membership) error {
	m.IsVisible = false
	m.IsPurchasable = false
	m.RemoteProductID = ""
	return db.WithContext(ctx).Model(m).Select("is_visible", "is_purchasable", "remote_product_id").Updates(m).Error
}
