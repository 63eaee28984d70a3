package memberships

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBillingDatePrefersRemotePeriod(t *testing.T) {
	start := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	sub := Subscription{DateSubscribed: start, RecurringInterval: IntervalMonth, CurrentPeriodEnd: &periodEnd}
	assert.Equal(t, periodEnd, sub.NextBillingDate(7))

	sub.CurrentPeriodEnd = nil
	assert.Equal(t, start.AddDate(0, 2, 0), sub.NextBillingDate(2))
	assert.Equal(t, start.AddDate(0, 1, 0), sub.NextBillingDate(0))

	sub.RecurringInterval = IntervalWeek
	assert.Equal(t, start.AddDate(0, 0, 21), sub.NextBillingDate(3))
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, StatusActive, NormalizeStatus(" Active "))
	assert.Equal(t, StatusIncompleteExpired, NormalizeStatus("incomplete_expired"))
	assert.Equal(t, StatusPastDue, NormalizeStatus("paused"))
	assert.Equal(t, StatusIncomplete, NormalizeStatus(""))
	assert.Equal(t, StatusIncomplete, NormalizeStatus("something_new"))
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusActive.Live())
	assert.True(t, StatusPastDue.Live())
	assert.False(t, StatusCanceled.Live())
	assert.True(t, StatusCanceled.Terminal())
	assert.False(t, StatusIncomplete.Terminal())
}

func TestIntervalValid(t *testing.T) {
	assert.True(t, IntervalYear.Valid())
	assert.False(t, Interval("fortnight").Valid())
}

func TestSupersedesPrefersLiveThenLaterStart(t *testing.T) {
	older := Subscription{Status: StatusActive, DateSubscribed: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	newer := Subscription{Status: StatusActive, DateSubscribed: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	assert.True(t, newer.Supersedes(older))
	assert.False(t, older.Supersedes(newer))
	assert.False(t, newer.Supersedes(newer), "ties keep the current subscription")

	newer.Status = StatusCanceled
	assert.True(t, older.Supersedes(newer))
	assert.False(t, newer.Supersedes(older))

	older.Status = StatusIncompleteExpired
	assert.True(t, newer.Supersedes(older))
}
