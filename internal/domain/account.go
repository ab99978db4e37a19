// Package domain contains core business types and interfaces.
//
// This file defines the Account domain type. An account is the billable
// entity holding quota and plan state. It is the unit of consistency: all
// quota mutations for one account are linearizable with respect to each
// other, while unrelated accounts never contend.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// FreeSessionGrant is the one-time free session bucket granted at account
// creation. It is never replenished.
const FreeSessionGrant = 1

// Account represents a registered account of the tutoring platform.
//
// Invariants (enforced by the repository layer, also as CHECK constraints):
//   - 0 <= WeeklyRemaining <= WeeklyAllowance
//   - FreeSessionsRemaining >= 0, monotonically non-increasing
//   - LastWeekStart only advances forward
type Account struct {
	ID                    uuid.UUID
	Email                 string
	Name                  string
	Plan                  Plan
	WeeklyAllowance       int
	WeeklyRemaining       int
	FreeSessionsRemaining int
	LastWeekStart         time.Time

	// Billing provider correlation. Empty for accounts that never subscribed.
	BillingCustomerID     string
	BillingSubscriptionID string

	// Bookkeeping for rejecting duplicate or stale billing notifications.
	LastAppliedEventID string
	LastAppliedEventAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasQuota returns true if the account can admit at least one booking.
func (a *Account) HasQuota() bool {
	return a.FreeSessionsRemaining > 0 || a.WeeklyRemaining > 0
}

// Subscribed returns true if the account is correlated to a billing-provider
// subscription.
func (a *Account) Subscribed() bool {
	return a.BillingSubscriptionID != ""
}

// DisplayName returns the account's name or email if name is empty.
func (a *Account) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Email
}
