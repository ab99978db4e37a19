package domain

import "time"

// EventType classifies billing-provider subscription notifications.
type EventType string

const (
	// EventSubscriptionActivated means the subscription became entitled:
	// first activation or a plan switch. Applying it grants the full weekly
	// entitlement immediately.
	EventSubscriptionActivated EventType = "subscription_activated"

	// EventPlanChanged re-asserts an already-active subscription (renewals,
	// cancel-at-period-end flags, metadata edits). Applying it records plan
	// and allowance but never refills the week.
	EventPlanChanged EventType = "plan_changed"

	EventPaymentFailed        EventType = "payment_failed"
	EventSubscriptionCanceled EventType = "subscription_canceled"
)

// SubscriptionEvent is a verified, decoded billing-provider notification.
// Signature verification and transport parsing happen at the webhook layer;
// the reconciler only sees well-formed-or-rejected events.
//
// Delivery is at-least-once and unordered. ID and OccurredAt exist so the
// reconciler can drop duplicates and stale events.
type SubscriptionEvent struct {
	ID             string
	Type           EventType
	SubscriptionID string
	CustomerID     string
	Plan           Plan
	OccurredAt     time.Time
}

// Malformed reports whether the event is missing fields required for
// reconciliation. Malformed events are logged and dropped, never retried
// here; the delivery layer owns retries.
func (e SubscriptionEvent) Malformed() bool {
	if e.ID == "" || e.SubscriptionID == "" {
		return true
	}
	switch e.Type {
	case EventSubscriptionActivated, EventPlanChanged:
		return e.Plan == ""
	case EventPaymentFailed, EventSubscriptionCanceled:
		return false
	default:
		return true
	}
}

// ReconcileOutcome describes what the reconciler did with an event.
type ReconcileOutcome string

const (
	OutcomeApplied             ReconcileOutcome = "applied"
	OutcomeDuplicate           ReconcileOutcome = "duplicate"
	OutcomeStale               ReconcileOutcome = "stale"
	OutcomeUnknownSubscription ReconcileOutcome = "unknown_subscription"
	OutcomeMalformed           ReconcileOutcome = "malformed"
)
