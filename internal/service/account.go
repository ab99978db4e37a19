// Package service contains the business logic layer.
//
// This file implements account lifecycle operations: creation at
// registration time (with the one-time free session grant) and billing
// correlation when checkout completes.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/tutorbook/internal/domain"
)

// AccountStore is the slice of the storage layer account operations need.
type AccountStore interface {
	CreateAccount(ctx context.Context, email, name string, now time.Time) (*domain.Account, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	SetBillingRefs(ctx context.Context, id uuid.UUID, customerID, subscriptionID string) error
}

// AccountService defines account lifecycle operations.
type AccountService interface {
	// Create registers a new account on the free plan with the one-time
	// free session grant. Returns domain.ECONFLICT if the email exists.
	Create(ctx context.Context, email, name string) (*domain.Account, error)

	// GetByID retrieves an account.
	// Returns domain.ENOTFOUND if the account does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)

	// AttachSubscription correlates the account to a billing-provider
	// customer and subscription, ahead of the activation event.
	AttachSubscription(ctx context.Context, id uuid.UUID, customerID, subscriptionID string) error
}

type accountService struct {
	store  AccountStore
	logger *slog.Logger
	now    func() time.Time
}

// NewAccountService creates a new AccountService.
func NewAccountService(store AccountStore, logger *slog.Logger) AccountService {
	return &accountService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func (s *accountService) Create(ctx context.Context, email, name string) (*domain.Account, error) {
	const op = "account.create"

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, domain.Invalid(op, "email is required")
	}

	account, err := s.store.CreateAccount(ctx, email, strings.TrimSpace(name), s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("account created",
		"account_id", account.ID,
		"free_sessions", account.FreeSessionsRemaining,
	)
	return account, nil
}

func (s *accountService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.store.GetAccountByID(ctx, id)
}

func (s *accountService) AttachSubscription(ctx context.Context, id uuid.UUID, customerID, subscriptionID string) error {
	const op = "account.attach_subscription"

	if subscriptionID == "" {
		return domain.Invalid(op, "subscription id is required")
	}
	if err := s.store.SetBillingRefs(ctx, id, customerID, subscriptionID); err != nil {
		return err
	}

	s.logger.Info("subscription attached",
		"account_id", id,
		"subscription_id", subscriptionID,
	)
	return nil
}
