package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/DukeRupert/tutorbook/internal/domain"
)

// ApplyEventParams carries a billing event plus its resolved target state.
// The caller resolves the plan and allowance; the store applies them
// atomically with the dedup bookkeeping.
type ApplyEventParams struct {
	Event     domain.SubscriptionEvent
	Plan      domain.Plan
	Allowance int
	WeekStart time.Time
}

// ApplySubscriptionEvent applies a billing notification to the correlated
// account in a single transaction:
//
//  1. The event id is inserted into billing_events; a conflict means the
//     event was already applied and the whole transaction is abandoned.
//  2. The account row is locked and the event's occurred-at is compared to
//     the last applied event; older events are dropped as stale.
//  3. The plan, allowance, and remaining quota are updated together with the
//     dedup bookkeeping, so a crash can never record an event as applied
//     without its effects (or vice versa).
//
// The free session bucket is never touched: it is a one-time grant
// independent of subscription state.
func (s *Store) ApplySubscriptionEvent(ctx context.Context, p ApplyEventParams) (domain.ReconcileOutcome, error) {
	const op = "repository.apply_subscription_event"
	ev := p.Event

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", translateErr(err, op)
	}
	defer tx.Rollback(ctx)

	// Record the event id first. A conflict means a concurrent or earlier
	// delivery already applied it; the insert conflict makes the check
	// race-free without a separate read.
	tag, err := tx.Exec(ctx, `
		INSERT INTO billing_events (event_id, subscription_id, event_type, occurred_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.ID, ev.SubscriptionID, string(ev.Type), ev.OccurredAt.UTC())
	if err != nil {
		return "", translateErr(err, op)
	}
	if tag.RowsAffected() == 0 {
		return domain.OutcomeDuplicate, nil
	}

	// Resolve and lock the account. Subscription id is the primary
	// correlation; the customer id covers activation events that outrun the
	// checkout-completed delivery.
	account, err := s.lockAccountForEvent(ctx, tx, ev)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return domain.OutcomeUnknownSubscription, nil
		}
		return "", err
	}

	// An already-applied newer event wins regardless of delivery order.
	if account.LastAppliedEventAt != nil && account.LastAppliedEventAt.After(ev.OccurredAt) {
		return domain.OutcomeStale, nil
	}

	switch ev.Type {
	case domain.EventSubscriptionActivated:
		// A fresh subscription grants its full weekly entitlement
		// immediately rather than waiting for the next reset.
		_, err = tx.Exec(ctx, `
			UPDATE accounts
			SET plan = $2,
				weekly_allowance = $3,
				weekly_remaining = $3,
				last_week_start = $4,
				billing_subscription_id = $5,
				billing_customer_id = CASE WHEN $6 <> '' THEN $6 ELSE billing_customer_id END,
				last_applied_event_id = $7,
				last_applied_event_at = $8,
				updated_at = now()
			WHERE id = $1`,
			account.ID, p.Plan, p.Allowance, p.WeekStart.UTC(),
			ev.SubscriptionID, ev.CustomerID, ev.ID, ev.OccurredAt.UTC())
	case domain.EventPlanChanged:
		// A re-asserted subscription never refills the week: remaining
		// quota carries over, capped at the new allowance.
		_, err = tx.Exec(ctx, `
			UPDATE accounts
			SET plan = $2,
				weekly_allowance = $3,
				weekly_remaining = LEAST(weekly_remaining, $3),
				billing_subscription_id = $4,
				billing_customer_id = CASE WHEN $5 <> '' THEN $5 ELSE billing_customer_id END,
				last_applied_event_id = $6,
				last_applied_event_at = $7,
				updated_at = now()
			WHERE id = $1`,
			account.ID, p.Plan, p.Allowance,
			ev.SubscriptionID, ev.CustomerID, ev.ID, ev.OccurredAt.UTC())
	case domain.EventPaymentFailed, domain.EventSubscriptionCanceled:
		_, err = tx.Exec(ctx, `
			UPDATE accounts
			SET plan = $2,
				weekly_allowance = 0,
				weekly_remaining = 0,
				last_applied_event_id = $3,
				last_applied_event_at = $4,
				updated_at = now()
			WHERE id = $1`,
			account.ID, domain.PlanFree, ev.ID, ev.OccurredAt.UTC())
	default:
		return domain.OutcomeMalformed, nil
	}
	if err != nil {
		return "", translateErr(err, op)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", translateErr(err, op)
	}
	return domain.OutcomeApplied, nil
}

func (s *Store) lockAccountForEvent(ctx context.Context, tx pgx.Tx, ev domain.SubscriptionEvent) (*domain.Account, error) {
	const op = "repository.lock_account_for_event"

	row := tx.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE billing_subscription_id = $1
		FOR UPDATE`,
		ev.SubscriptionID)
	a, err := scanAccount(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, translateErr(err, op)
	}

	if ev.CustomerID == "" {
		return nil, domain.NotFound(op, "account", ev.SubscriptionID)
	}
	row = tx.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE billing_customer_id = $1
		FOR UPDATE`,
		ev.CustomerID)
	a, err = scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(op, "account", ev.SubscriptionID)
		}
		return nil, translateErr(err, op)
	}
	return a, nil
}
