// Package handler contains HTTP handlers for the tutorbook API.
//
// This file implements subscription purchase endpoints backed by Stripe.
//
// Routes:
//   - GET  /api/subscription/plans    -> ListPlans
//   - POST /api/subscription/checkout -> CreateCheckout
//   - GET  /api/subscription/verify   -> VerifyCheckout
//   - POST /api/subscription/cancel   -> CancelSubscription
//
// Quota state never changes here. Purchasing starts a checkout session and
// verification only reports its status; the account's allowance moves when
// the corresponding webhook event is reconciled.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/tutorbook/internal/billing"
	"github.com/DukeRupert/tutorbook/internal/domain"
	"github.com/DukeRupert/tutorbook/internal/service"
)

var errNoBilling = errors.New("billing is not configured")

// BillingHandler handles subscription plan listing and checkout.
type BillingHandler struct {
	billing  billing.Service
	accounts service.AccountService
	baseURL  string
	logger   *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
// billingService may be nil when Stripe is not configured; all routes then
// respond 500.
func NewBillingHandler(billingService billing.Service, accounts service.AccountService, baseURL string, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		billing:  billingService,
		accounts: accounts,
		baseURL:  baseURL,
		logger:   logger,
	}
}

// RegisterRoutes registers billing routes on the provided mux.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/subscription/plans", h.ListPlans)
	mux.HandleFunc("POST /api/subscription/checkout", h.CreateCheckout)
	mux.HandleFunc("GET /api/subscription/verify", h.VerifyCheckout)
	mux.HandleFunc("POST /api/subscription/cancel", h.CancelSubscription)
}

type checkoutRequest struct {
	PriceID    string `json:"priceId"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

type checkoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type verifyResponse struct {
	SessionID      string `json:"sessionId"`
	Status         string `json:"status"`
	PaymentStatus  string `json:"paymentStatus"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
}

// ListPlans returns the purchasable plans with their weekly allowances.
func (h *BillingHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Internal(errNoBilling, "handler.ListPlans", "Billing is not configured."))
		return
	}

	plansList, err := h.billing.ListPlans()
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"plans": plansList})
}

// CreateCheckout starts a Stripe checkout session for the requesting
// account and returns the redirect URL.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Internal(errNoBilling, "handler.CreateCheckout", "Billing is not configured."))
		return
	}

	id, err := accountID(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.CreateCheckout", "invalid request body"))
		return
	}
	if req.PriceID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.CreateCheckout", "priceId is required"))
		return
	}
	if _, ok := h.billing.PlanForPriceID(req.PriceID); !ok {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.CreateCheckout", "unknown priceId"))
		return
	}

	account, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = h.baseURL + "/subscription/success?session_id={CHECKOUT_SESSION_ID}"
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = h.baseURL + "/subscription/cancel"
	}

	session, err := h.billing.CreateCheckoutSession(account.ID.String(), account.Email, req.PriceID, successURL, cancelURL)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.logger.Info("checkout session created",
		"account_id", account.ID,
		"session_id", session.ID,
		"price_id", req.PriceID)

	writeJSON(w, http.StatusOK, checkoutResponse{
		SessionID: session.ID,
		URL:       session.URL,
	})
}

// VerifyCheckout reports the status of a checkout session by its session_id
// query parameter. It does not mutate quota state.
func (h *BillingHandler) VerifyCheckout(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Internal(errNoBilling, "handler.VerifyCheckout", "Billing is not configured."))
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.VerifyCheckout", "session_id is required"))
		return
	}

	session, err := h.billing.GetCheckoutSession(sessionID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := verifyResponse{
		SessionID:     session.ID,
		Status:        string(session.Status),
		PaymentStatus: string(session.PaymentStatus),
	}
	if session.Subscription != nil {
		resp.SubscriptionID = session.Subscription.ID
	}

	writeJSON(w, http.StatusOK, resp)
}

// CancelSubscription flags the requesting account's subscription to cancel at
// period end. Quota stays untouched until the provider emits the cancellation
// event and the reconciler applies it.
func (h *BillingHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Internal(errNoBilling, "handler.CancelSubscription", "Billing is not configured."))
		return
	}

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
	if account.BillingSubscriptionID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.CancelSubscription", "account has no active subscription"))
		return
	}

	if err := h.billing.CancelSubscription(account.BillingSubscriptionID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.logger.Info("subscription cancellation requested",
		"account_id", account.ID,
		"subscription_id", account.BillingSubscriptionID)

	writeJSON(w, http.StatusOK, map[string]any{"cancelAtPeriodEnd": true})
}
