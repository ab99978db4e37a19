package metrics

import "time"

// BookingAdmitted records an admitted booking and the bucket it consumed.
func BookingAdmitted(bucket string) {
	BookingsAdmittedTotal.WithLabelValues(bucket).Inc()
}

// BookingRejected records a rejected booking request.
func BookingRejected(reason string) {
	BookingsRejectedTotal.WithLabelValues(reason).Inc()
}

// BillingEvent records a received billing event and its reconciliation outcome.
func BillingEvent(eventType, outcome string) {
	BillingEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// WeeklyResetRun records one pass of the weekly reset and its duration.
func WeeklyResetRun(duration time.Duration, updated, skipped, failed int) {
	WeeklyResetRunsTotal.Inc()
	WeeklyResetDuration.Observe(duration.Seconds())
	WeeklyResetAccountsTotal.WithLabelValues("updated").Add(float64(updated))
	WeeklyResetAccountsTotal.WithLabelValues("skipped").Add(float64(skipped))
	WeeklyResetAccountsTotal.WithLabelValues("failed").Add(float64(failed))
}
