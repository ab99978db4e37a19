// Package handler contains HTTP handlers for the tutorbook API.
//
// This file implements account intake and lookup.
//
// Routes:
//   - POST /api/accounts -> CreateAccount
//   - GET  /api/account  -> GetAccount
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/tutorbook/internal/domain"
	"github.com/DukeRupert/tutorbook/internal/service"
)

// AccountHandler handles account creation and inspection.
type AccountHandler struct {
	accounts service.AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts service.AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

type createAccountRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type accountResponse struct {
	ID                    string    `json:"id"`
	Email                 string    `json:"email"`
	Name                  string    `json:"name,omitempty"`
	Plan                  string    `json:"plan"`
	WeeklyAllowance       int       `json:"weeklyAllowance"`
	WeeklyRemaining       int       `json:"weeklyRemaining"`
	FreeSessionsRemaining int       `json:"freeSessionsRemaining"`
	WeekStart             time.Time `json:"weekStart"`
	Subscribed            bool      `json:"subscribed"`
	CreatedAt             time.Time `json:"createdAt"`
}

// CreateAccount registers a new account. New accounts start on the free
// plan with one free session and no weekly allowance.
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.CreateAccount", "invalid request body"))
		return
	}

	account, err := h.accounts.Create(r.Context(), req.Email, req.Name)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.logger.Info("account created", "account_id", account.ID, "email", account.Email)

	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

// GetAccount returns the requesting account with its current quota state.
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	account, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

func toAccountResponse(a *domain.Account) accountResponse {
	return accountResponse{
		ID:                    a.ID.String(),
		Email:                 a.Email,
		Name:                  a.Name,
		Plan:                  string(a.Plan),
		WeeklyAllowance:       a.WeeklyAllowance,
		WeeklyRemaining:       a.WeeklyRemaining,
		FreeSessionsRemaining: a.FreeSessionsRemaining,
		WeekStart:             a.LastWeekStart,
		Subscribed:            a.Subscribed(),
		CreatedAt:             a.CreatedAt,
	}
}
