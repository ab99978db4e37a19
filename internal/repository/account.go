package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/DukeRupert/tutorbook/internal/domain"
)

const accountColumns = `
	id, email, name, plan, weekly_allowance, weekly_remaining,
	free_sessions_remaining, last_week_start, billing_customer_id,
	COALESCE(billing_subscription_id, ''), last_applied_event_id,
	last_applied_event_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID, &a.Email, &a.Name, &a.Plan, &a.WeeklyAllowance, &a.WeeklyRemaining,
		&a.FreeSessionsRemaining, &a.LastWeekStart, &a.BillingCustomerID,
		&a.BillingSubscriptionID, &a.LastAppliedEventID,
		&a.LastAppliedEventAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new account on the free plan with the one-time
// free session grant and no weekly allowance.
func (s *Store) CreateAccount(ctx context.Context, email, name string, now time.Time) (*domain.Account, error) {
	const op = "repository.create_account"

	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, name, plan, weekly_allowance, weekly_remaining,
			free_sessions_remaining, last_week_start)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $6)
		RETURNING `+accountColumns,
		uuid.New(), email, name, domain.PlanFree, domain.FreeSessionGrant,
		domain.CurrentWeekStart(now),
	)

	a, err := scanAccount(row)
	if err != nil {
		return nil, translateErr(err, op)
	}
	return a, nil
}

// GetAccountByID retrieves an account by its ID.
func (s *Store) GetAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	const op = "repository.get_account"

	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(op, "account", id.String())
		}
		return nil, translateErr(err, op)
	}
	return a, nil
}

// GetAccountBySubscriptionID retrieves the account correlated to a billing
// provider subscription.
func (s *Store) GetAccountBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.Account, error) {
	const op = "repository.get_account_by_subscription"

	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE billing_subscription_id = $1`,
		subscriptionID)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(op, "account", subscriptionID)
		}
		return nil, translateErr(err, op)
	}
	return a, nil
}

// SetBillingRefs records the billing provider customer and subscription IDs
// for an account. Called when checkout completes, before the subscription
// activation event arrives.
func (s *Store) SetBillingRefs(ctx context.Context, id uuid.UUID, customerID, subscriptionID string) error {
	const op = "repository.set_billing_refs"

	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET billing_customer_id = $2, billing_subscription_id = $3, updated_at = now()
		WHERE id = $1`,
		id, customerID, subscriptionID)
	if err != nil {
		return translateErr(err, op)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound(op, "account", id.String())
	}
	return nil
}

// TryConsume atomically charges one quota unit for the account: the free
// session bucket first, then the weekly allowance. The decision and the
// decrement happen in a single statement under a row lock, so two concurrent
// callers can never both succeed when one unit remains.
//
// Returns the bucket charged, domain.EQUOTA when nothing remains, or
// domain.ENOTFOUND for an unknown account.
func (s *Store) TryConsume(ctx context.Context, id uuid.UUID) (domain.Bucket, error) {
	const op = "repository.try_consume"

	var bucket domain.Bucket
	err := s.pool.QueryRow(ctx, `
		WITH candidate AS (
			SELECT id, free_sessions_remaining, weekly_remaining
			FROM accounts
			WHERE id = $1
			FOR UPDATE
		)
		UPDATE accounts a
		SET free_sessions_remaining = a.free_sessions_remaining
				- CASE WHEN c.free_sessions_remaining > 0 THEN 1 ELSE 0 END,
			weekly_remaining = a.weekly_remaining
				- CASE WHEN c.free_sessions_remaining = 0 AND c.weekly_remaining > 0 THEN 1 ELSE 0 END,
			updated_at = now()
		FROM candidate c
		WHERE a.id = c.id
		  AND (c.free_sessions_remaining > 0 OR c.weekly_remaining > 0)
		RETURNING CASE
			WHEN c.free_sessions_remaining > 0 THEN 'free_session'
			ELSE 'weekly_allowance'
		END`,
		id).Scan(&bucket)
	if err == nil {
		return bucket, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", translateErr(err, op)
	}

	// No row updated: either the account is unknown or both buckets are
	// empty. A plain read distinguishes the two.
	if _, getErr := s.GetAccountByID(ctx, id); getErr != nil {
		return "", getErr
	}
	return "", domain.QuotaExceeded(op)
}

// RestoreConsumed returns one unit to the given bucket. This is the
// compensating action for a booking that consumed quota but failed to
// persist. The weekly bucket never restores past the plan allowance, which
// can happen when a reset or downgrade landed between consume and restore.
func (s *Store) RestoreConsumed(ctx context.Context, id uuid.UUID, bucket domain.Bucket) error {
	const op = "repository.restore_consumed"

	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET free_sessions_remaining = free_sessions_remaining
				+ CASE WHEN $2 = 'free_session' THEN 1 ELSE 0 END,
			weekly_remaining = LEAST(
				weekly_remaining + CASE WHEN $2 = 'weekly_allowance' THEN 1 ELSE 0 END,
				weekly_allowance),
			updated_at = now()
		WHERE id = $1`,
		id, string(bucket))
	if err != nil {
		return translateErr(err, op)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound(op, "account", id.String())
	}
	return nil
}

// ResetWeek replenishes the weekly allowance for one account, guarded by the
// recorded week start: the update only applies when the account's
// last_week_start is strictly before weekStart, so duplicate or re-triggered
// resets converge without double-granting.
//
// The stored allowance is synchronized to the catalog value at the same time;
// this is also how catalog changes take effect at the next boundary.
//
// Returns true when the account was reset, false when it was already current.
func (s *Store) ResetWeek(ctx context.Context, id uuid.UUID, weekStart time.Time, allowance int) (bool, error) {
	const op = "repository.reset_week"

	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET weekly_allowance = $3,
			weekly_remaining = $3,
			last_week_start = $2,
			updated_at = now()
		WHERE id = $1 AND last_week_start < $2`,
		id, weekStart.UTC(), allowance)
	if err != nil {
		return false, translateErr(err, op)
	}
	return tag.RowsAffected() > 0, nil
}

// AccountRef is the slice of account state the reset scheduler needs.
type AccountRef struct {
	ID   uuid.UUID
	Plan domain.Plan
}

// ListAccountsDueReset returns up to limit accounts whose recorded week start
// is behind weekStart, in id order starting after afterID. Callers page with
// the last returned id; a zero afterID starts from the beginning.
func (s *Store) ListAccountsDueReset(ctx context.Context, weekStart time.Time, afterID uuid.UUID, limit int) ([]AccountRef, error) {
	const op = "repository.list_accounts_due_reset"

	rows, err := s.pool.Query(ctx, `
		SELECT id, plan
		FROM accounts
		WHERE last_week_start < $1 AND id > $2
		ORDER BY id
		LIMIT $3`,
		weekStart.UTC(), afterID, limit)
	if err != nil {
		return nil, translateErr(err, op)
	}
	defer rows.Close()

	var refs []AccountRef
	for rows.Next() {
		var ref AccountRef
		if err := rows.Scan(&ref.ID, &ref.Plan); err != nil {
			return nil, translateErr(err, op)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err, op)
	}
	return refs, nil
}
