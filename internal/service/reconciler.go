// Package service contains the business logic layer.
//
// This file implements the subscription event reconciler: it applies billing
// provider notifications to account plan and quota state. Deliveries are
// at-least-once and unordered; every transition is idempotent.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/DukeRupert/tutorbook/internal/domain"
	"github.com/DukeRupert/tutorbook/internal/metrics"
	"github.com/DukeRupert/tutorbook/internal/repository"
)

// AllowanceTable resolves plans to weekly allowances.
type AllowanceTable interface {
	Allowance(domain.Plan) int
	Known(domain.Plan) bool
}

// EventStore applies billing events transactionally.
type EventStore interface {
	ApplySubscriptionEvent(ctx context.Context, p repository.ApplyEventParams) (domain.ReconcileOutcome, error)
}

// ReconcilerService applies billing-provider subscription events.
type ReconcilerService interface {
	// ApplyEvent applies one verified billing event. It never returns an
	// error for duplicate, stale, malformed, or unresolvable events; those
	// are reported through the outcome and logged. Errors mean the event
	// could not be applied and should be redelivered by the provider.
	ApplyEvent(ctx context.Context, ev domain.SubscriptionEvent) (domain.ReconcileOutcome, error)
}

type reconcilerService struct {
	store  EventStore
	table  AllowanceTable
	logger *slog.Logger
	now    func() time.Time
}

// NewReconcilerService creates a new ReconcilerService.
func NewReconcilerService(store EventStore, table AllowanceTable, logger *slog.Logger) ReconcilerService {
	return &reconcilerService{
		store:  store,
		table:  table,
		logger: logger,
		now:    time.Now,
	}
}

// ApplyEvent applies a billing event to the correlated account.
func (s *reconcilerService) ApplyEvent(ctx context.Context, ev domain.SubscriptionEvent) (domain.ReconcileOutcome, error) {
	const op = "reconciler.apply_event"

	if ev.Malformed() {
		s.logger.Warn("dropping malformed billing event",
			"event_id", ev.ID,
			"type", ev.Type,
			"subscription_id", ev.SubscriptionID,
		)
		metrics.BillingEvent(string(ev.Type), string(domain.OutcomeMalformed))
		return domain.OutcomeMalformed, nil
	}

	params := repository.ApplyEventParams{
		Event:     ev,
		Plan:      ev.Plan,
		WeekStart: domain.CurrentWeekStart(s.now()),
	}
	if ev.Type == domain.EventSubscriptionActivated || ev.Type == domain.EventPlanChanged {
		if !s.table.Known(ev.Plan) {
			// Never crash on an unrecognized plan: the account still
			// activates, just with no weekly entitlement until the catalog
			// is corrected.
			s.logger.Warn("unknown plan in billing event, treating allowance as 0",
				"event_id", ev.ID,
				"plan", ev.Plan,
			)
		}
		params.Allowance = s.table.Allowance(ev.Plan)
	}

	outcome, err := s.applyWithRetry(ctx, params)
	if err != nil {
		return "", err
	}

	metrics.BillingEvent(string(ev.Type), string(outcome))
	switch outcome {
	case domain.OutcomeApplied:
		s.logger.Info("billing event applied",
			"event_id", ev.ID,
			"type", ev.Type,
			"subscription_id", ev.SubscriptionID,
			"plan", params.Plan,
			"allowance", params.Allowance,
		)
	case domain.OutcomeDuplicate:
		// Expected under at-least-once delivery; not an error.
		s.logger.Debug("duplicate billing event ignored", "event_id", ev.ID)
	case domain.OutcomeStale:
		s.logger.Info("stale billing event ignored",
			"event_id", ev.ID,
			"occurred_at", ev.OccurredAt,
		)
	case domain.OutcomeUnknownSubscription:
		s.logger.Warn("billing event for unknown subscription ignored",
			"event_id", ev.ID,
			"subscription_id", ev.SubscriptionID,
		)
	}

	return outcome, nil
}

func (s *reconcilerService) applyWithRetry(ctx context.Context, params repository.ApplyEventParams) (domain.ReconcileOutcome, error) {
	var outcome domain.ReconcileOutcome

	backoff := retry.WithMaxRetries(consumeMaxRetries, retry.NewExponential(consumeRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		outcome, err = s.store.ApplySubscriptionEvent(ctx, params)
		if domain.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}
