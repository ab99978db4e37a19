// Package handler contains HTTP handlers for the tutorbook API.
//
// This file implements the Stripe webhook handler for processing billing
// events.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification. The
// handler's job ends at translation: it verifies the signature, decodes the
// provider payload into a subscription event, and hands it to the
// reconciler, which owns duplicate and ordering guarantees. Ignored events
// (duplicates, unknown subscriptions, malformed payloads) still get a 200 —
// redelivering them cannot change the outcome. An activation that outruns
// checkout.session.completed lands as unknown-subscription, so checkout
// completion re-derives the activation from the live subscription after
// attaching the billing refs. Only a failure to apply gets a 500, so Stripe
// redelivers and the idempotent reconciler absorbs the retry.
package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"

	"github.com/DukeRupert/tutorbook/internal/billing"
	"github.com/DukeRupert/tutorbook/internal/domain"
	"github.com/DukeRupert/tutorbook/internal/service"
)

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing    billing.Service
	reconciler service.ReconcilerService
	accounts   service.AccountService
	logger     *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, reconciler service.ReconcilerService, accounts service.AccountService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:    billingService,
		reconciler: reconciler,
		accounts:   accounts,
		logger:     logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are PUBLIC — no auth middleware.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Read body (limit to 64KB)
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Verify signature
	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	// Route to event-specific handler
	switch event.Type {
	case "checkout.session.completed":
		err = h.handleCheckoutCompleted(r, event)
	case "customer.subscription.created", "customer.subscription.updated":
		err = h.handleSubscriptionChanged(r, event)
	case "customer.subscription.deleted":
		err = h.handleSubscriptionDeleted(r, event)
	case "invoice.payment_failed":
		err = h.handlePaymentFailed(r, event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
	}

	if err != nil {
		h.logger.Error("failed to apply billing event", "error", err, "event_id", event.ID, "type", event.Type)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleCheckoutCompleted correlates the account to its new subscription and
// then re-derives the activation from the live subscription. The separate
// activation delivery may have landed before the refs existed and been
// dropped as unknown; Stripe does not redeliver an acknowledged event, so
// the activation is replayed here. The reconciler's dedup and stale guards
// make the replay harmless when the original delivery did apply.
func (h *WebhookHandler) handleCheckoutCompleted(r *http.Request, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.logger.Error("failed to parse checkout session", "error", err)
		return nil
	}

	rawID := session.Metadata["account_id"]
	if rawID == "" || session.Subscription == nil {
		h.logger.Warn("checkout session missing account metadata or subscription",
			"session_id", session.ID)
		return nil
	}
	accountID, err := uuid.Parse(rawID)
	if err != nil {
		h.logger.Warn("checkout session has invalid account id", "account_id", rawID)
		return nil
	}

	customerID := ""
	if session.Customer != nil {
		customerID = session.Customer.ID
	}

	if err := h.accounts.AttachSubscription(r.Context(), accountID, customerID, session.Subscription.ID); err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			h.logger.Warn("checkout completed for unknown account", "account_id", accountID)
			return nil
		}
		return err
	}

	sub, err := h.billing.GetSubscription(session.Subscription.ID)
	if err != nil {
		// Redelivery retries the fetch.
		return err
	}
	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
	default:
		h.logger.Info("checkout subscription not yet active",
			"subscription_id", sub.ID, "status", sub.Status)
		return nil
	}

	ev := domain.SubscriptionEvent{
		ID:             event.ID,
		Type:           domain.EventSubscriptionActivated,
		SubscriptionID: sub.ID,
		CustomerID:     customerID,
		Plan:           h.planFromSubscription(sub),
		OccurredAt:     time.Unix(event.Created, 0).UTC(),
	}
	_, err = h.reconciler.ApplyEvent(r.Context(), ev)
	return err
}

// handleSubscriptionChanged translates subscription lifecycle updates into
// reconciler events. An active subscription maps to an activation only when
// it is newly entitled (created, transitioned into an active status, or
// switched plans); routine updates on an already-active subscription map to
// a plan-change event, which never refills the weekly quota. Terminal
// payment states map to a downgrade.
func (h *WebhookHandler) handleSubscriptionChanged(r *http.Request, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription event", "error", err)
		return nil
	}

	ev := domain.SubscriptionEvent{
		ID:             event.ID,
		SubscriptionID: sub.ID,
		OccurredAt:     time.Unix(event.Created, 0).UTC(),
	}
	if sub.Customer != nil {
		ev.CustomerID = sub.Customer.ID
	}

	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		ev.Plan = h.planFromSubscription(&sub)
		if subscriptionActivates(event) {
			ev.Type = domain.EventSubscriptionActivated
		} else {
			ev.Type = domain.EventPlanChanged
		}
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		ev.Type = domain.EventPaymentFailed
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		ev.Type = domain.EventSubscriptionCanceled
	default:
		h.logger.Debug("ignoring subscription status", "status", sub.Status, "subscription_id", sub.ID)
		return nil
	}

	_, err := h.reconciler.ApplyEvent(r.Context(), ev)
	return err
}

// subscriptionActivates reports whether an active subscription delivery
// represents a fresh entitlement. Creation events always do. Update events
// do only when the previous attributes show the status entering the active
// family or the subscribed items changing (a plan switch); everything else
// (cancel-at-period-end flags, renewals, metadata edits) re-asserts the same
// entitlement.
func subscriptionActivates(event stripe.Event) bool {
	if event.Type == "customer.subscription.created" {
		return true
	}
	prev := event.Data.PreviousAttributes
	if prev == nil {
		return false
	}
	if raw, ok := prev["status"].(string); ok {
		switch stripe.SubscriptionStatus(raw) {
		case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		default:
			return true
		}
	}
	if _, ok := prev["items"]; ok {
		return true
	}
	return false
}

func (h *WebhookHandler) handleSubscriptionDeleted(r *http.Request, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription deleted event", "error", err)
		return nil
	}

	ev := domain.SubscriptionEvent{
		ID:             event.ID,
		Type:           domain.EventSubscriptionCanceled,
		SubscriptionID: sub.ID,
		OccurredAt:     time.Unix(event.Created, 0).UTC(),
	}
	if sub.Customer != nil {
		ev.CustomerID = sub.Customer.ID
	}

	_, err := h.reconciler.ApplyEvent(r.Context(), ev)
	return err
}

func (h *WebhookHandler) handlePaymentFailed(r *http.Request, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error("failed to parse invoice payment failed event", "error", err)
		return nil
	}

	ev := domain.SubscriptionEvent{
		ID:         event.ID,
		Type:       domain.EventPaymentFailed,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if invoice.Subscription != nil {
		ev.SubscriptionID = invoice.Subscription.ID
	}
	if invoice.Customer != nil {
		ev.CustomerID = invoice.Customer.ID
	}

	_, err := h.reconciler.ApplyEvent(r.Context(), ev)
	return err
}

// planFromSubscription resolves the internal plan from the subscription's
// first price item.
func (h *WebhookHandler) planFromSubscription(sub *stripe.Subscription) domain.Plan {
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID := sub.Items.Data[0].Price.ID
		if plan, ok := h.billing.PlanForPriceID(priceID); ok {
			return plan
		}
		h.logger.Warn("no plan mapping for price", "price_id", priceID, "subscription_id", sub.ID)
		return domain.PlanUnknown
	}
	return ""
}
