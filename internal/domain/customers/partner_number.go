package customers

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var partnerNumberPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{4}$`)

// PartnerSequence holds the last partner number issued in a month.
type PartnerSequence struct {
	Period string `gorm:"primaryKey;type:varchar(7)"`
	Last   int    `gorm:"not null"`
}

func FormatPartnerNumber(at time.Time, seq int) string {
	return fmt.Sprintf("%s-%04d", at.UTC().Format("2006-01"), seq)
}

func ValidPartnerNumber(s string) bool {
	return partnerNumberPattern.MatchString(s)
}

// NextPartnerNumber increments the month's counter and returns the new
// number. Run it inside the transaction that inserts the customer: the
// counter row stays locked until commit, so concurrent callers serialise.
func NextPartnerNumber(ctx context.Context, tx *gorm.DB, at time.Time) (string, error) {
	period := at.UTC().Format("2006-01")
	seq := PartnerSequence{Period: period, Last: 1}

	err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "period"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last": gorm.Expr("partner_sequences.last + 1"),
		}),
	}).Create(&seq).Error
	if err != nil {
		return "", fmt.Errorf("bump partner sequence: %w", err)
	}

	if err := tx.WithContext(ctx).Where("period = ?", period).First(&seq).Error; err != nil {
		return "", fmt.Errorf("read partner sequence: %w", err)
	}
	return FormatPartnerNumber(at, seq.Last), nil
}
