package billing

import "time"

// ClampBillingDay keeps the billing day within 1-28 so every month has the
// charge date.
func ClampBillingDay(day int) int {
	if day < 1 {
		return 1
	}
	if day > 28 {
		return 28
	}
	return day
}

// NextChargeDate projects the billing day into the first month where it
// falls strictly after the reference time: the current month if the day has
// not arrived yet, otherwise the next month. Both the subscribe path and the
// sweep use this single projection, so consecutive charges can neither
// repeat nor skip a period.
func NextChargeDate(after time.Time, billingDay int) time.Time {
	day := ClampBillingDay(billingDay)
	after = after.UTC()

	y, m, _ := after.Date()
	if after.Day() >= day {
		m++
	}
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}
