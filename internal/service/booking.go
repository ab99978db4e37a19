// Package service contains the business logic layer.
//
// Services orchestrate interactions between the storage layer, external
// collaborators, and domain logic. They are responsible for:
// - Business rule enforcement
// - Compensation when a downstream write fails
// - Error translation (database errors -> domain errors)
//
// This file implements booking admission: the decision whether a
// quota-consuming booking may proceed.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/DukeRupert/tutorbook/internal/domain"
	"github.com/DukeRupert/tutorbook/internal/metrics"
)

const (
	// consumeMaxRetries bounds retries on storage contention. Contention on
	// one account is rare (a reset or billing event racing a booking), so a
	// small cap is enough; past it the caller gets a transient failure.
	consumeMaxRetries = 3

	// consumeRetryBase is the initial backoff between contention retries.
	consumeRetryBase = 25 * time.Millisecond
)

// =============================================================================
// Interface Definitions
// =============================================================================

// Ledger is the slice of the storage layer that owns quota state. All three
// call paths (admission, reconciliation, weekly reset) mutate accounts only
// through its atomic primitives.
type Ledger interface {
	// TryConsume atomically charges one quota unit, free sessions before
	// weekly allowance. Returns domain.EQUOTA when nothing remains.
	TryConsume(ctx context.Context, accountID uuid.UUID) (domain.Bucket, error)

	// RestoreConsumed returns one unit to the given bucket.
	RestoreConsumed(ctx context.Context, accountID uuid.UUID, bucket domain.Bucket) error
}

// BookingStore persists booking records.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *domain.Booking) error
	ListBookingsByAccount(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]*domain.Booking, error)
}

// AccountReader reads account state.
type AccountReader interface {
	GetAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

// Schedule is an account's booking overview: what is booked and what quota
// remains.
type Schedule struct {
	Account        *domain.Account
	Upcoming       []*domain.Booking
	Past           []*domain.Booking
	BookedThisWeek int
}

// BookingService decides admission for booking requests.
type BookingService interface {
	// RequestBooking admits or rejects a booking against the account's
	// quota. On admission the booking record is persisted, tagged with the
	// bucket it consumed. Returns domain.EQUOTA when the account has no
	// units left and domain.ECONTENTION when the account stayed contended
	// past the retry budget.
	RequestBooking(ctx context.Context, req domain.BookingRequest) (*domain.Admission, error)

	// GetSchedule returns the account's upcoming and past bookings together
	// with its remaining quota.
	GetSchedule(ctx context.Context, accountID uuid.UUID) (*Schedule, error)
}

// =============================================================================
// Implementation
// =============================================================================

type bookingService struct {
	ledger   Ledger
	bookings BookingStore
	accounts AccountReader
	logger   *slog.Logger
	now      func() time.Time
}

// NewBookingService creates a new BookingService.
func NewBookingService(ledger Ledger, bookings BookingStore, accounts AccountReader, logger *slog.Logger) BookingService {
	return &bookingService{
		ledger:   ledger,
		bookings: bookings,
		accounts: accounts,
		logger:   logger,
		now:      time.Now,
	}
}

// RequestBooking admits or rejects a booking request.
func (s *bookingService) RequestBooking(ctx context.Context, req domain.BookingRequest) (*domain.Admission, error) {
	const op = "booking.request"

	if req.AccountID == uuid.Nil {
		return nil, domain.Invalid(op, "account id is required")
	}
	if req.ScheduledTime.IsZero() {
		return nil, domain.Invalid(op, "scheduled time is required")
	}

	bucket, err := s.consumeWithRetry(ctx, req.AccountID)
	if err != nil {
		if domain.ErrorCode(err) == domain.EQUOTA {
			metrics.BookingRejected(domain.ErrorCode(err))
			s.logger.Info("booking rejected",
				"account_id", req.AccountID,
				"reason", domain.EQUOTA,
			)
		}
		return nil, err
	}

	booking := &domain.Booking{
		AccountID:     req.AccountID,
		ScheduledTime: req.ScheduledTime,
		ConsumedFrom:  bucket,
		ParentName:    req.ParentName,
		StudentName:   req.StudentName,
		Email:         req.Email,
		Phone:         req.Phone,
		Grade:         req.Grade,
		Concerns:      req.Concerns,
	}

	if err := s.bookings.CreateBooking(ctx, booking); err != nil {
		// The unit was consumed but the booking never existed: restore it.
		// Only this controller knows the downstream write failed, so the
		// compensation lives here and not in the ledger.
		if restoreErr := s.ledger.RestoreConsumed(ctx, req.AccountID, bucket); restoreErr != nil {
			s.logger.Error("failed to restore consumed quota after booking persist failure",
				"account_id", req.AccountID,
				"bucket", bucket,
				"error", restoreErr,
			)
		}
		return nil, domain.Internal(err, op, "failed to persist booking")
	}

	metrics.BookingAdmitted(string(bucket))
	s.logger.Info("booking admitted",
		"account_id", req.AccountID,
		"booking_id", booking.ID,
		"bucket", bucket,
	)

	return &domain.Admission{Booking: booking, Bucket: bucket}, nil
}

// consumeWithRetry calls TryConsume, retrying a bounded number of times when
// the account row is contended. Quota exhaustion and unknown accounts are
// terminal and returned immediately.
func (s *bookingService) consumeWithRetry(ctx context.Context, accountID uuid.UUID) (domain.Bucket, error) {
	var bucket domain.Bucket

	backoff := retry.WithMaxRetries(consumeMaxRetries, retry.NewExponential(consumeRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		bucket, err = s.ledger.TryConsume(ctx, accountID)
		if domain.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return bucket, nil
}

// GetSchedule returns the account's bookings and remaining quota.
func (s *bookingService) GetSchedule(ctx context.Context, accountID uuid.UUID) (*Schedule, error) {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	weekStart := domain.CurrentWeekStart(now)
	horizon := now.AddDate(1, 0, 0)

	upcoming, err := s.bookings.ListBookingsByAccount(ctx, accountID, now, horizon)
	if err != nil {
		return nil, err
	}
	past, err := s.bookings.ListBookingsByAccount(ctx, accountID, weekStart.AddDate(-1, 0, 0), now)
	if err != nil {
		return nil, err
	}

	booked := 0
	for _, b := range append(append([]*domain.Booking{}, past...), upcoming...) {
		if !b.ScheduledTime.Before(weekStart) && b.ScheduledTime.Before(weekStart.AddDate(0, 0, 7)) {
			booked++
		}
	}

	return &Schedule{
		Account:        account,
		Upcoming:       upcoming,
		Past:           past,
		BookedThisWeek: booked,
	}, nil
}
