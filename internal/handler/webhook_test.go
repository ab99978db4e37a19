package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"github.com/DukeRupert/tutorbook/internal/billing"
	"github.com/DukeRupert/tutorbook/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubBilling returns a canned event from signature verification and a
// canned subscription from lookups; checkout and cancel paths are not under
// test here.
type stubBilling struct {
	event  stripe.Event
	sub    *stripe.Subscription
	subErr error
	prices map[string]domain.Plan
}

func (s *stubBilling) CreateCheckoutSession(accountID, email, priceID, successURL, cancelURL string) (*stripe.CheckoutSession, error) {
	return nil, errors.New("not implemented")
}

func (s *stubBilling) GetCheckoutSession(sessionID string) (*stripe.CheckoutSession, error) {
	return nil, errors.New("not implemented")
}

func (s *stubBilling) GetSubscription(subscriptionID string) (*stripe.Subscription, error) {
	return s.sub, s.subErr
}

func (s *stubBilling) CancelSubscription(subscriptionID string) error { return nil }

func (s *stubBilling) ListPlans() ([]billing.PlanInfo, error) { return nil, nil }

func (s *stubBilling) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	return s.event, nil
}

func (s *stubBilling) PlanForPriceID(priceID string) (domain.Plan, bool) {
	p, ok := s.prices[priceID]
	return p, ok
}

func (s *stubBilling) PlanForProductName(name string) (domain.Plan, bool) { return "", false }

type stubReconciler struct {
	events  []domain.SubscriptionEvent
	outcome domain.ReconcileOutcome
	err     error
}

func (s *stubReconciler) ApplyEvent(ctx context.Context, ev domain.SubscriptionEvent) (domain.ReconcileOutcome, error) {
	s.events = append(s.events, ev)
	if s.err != nil {
		return "", s.err
	}
	if s.outcome == "" {
		return domain.OutcomeApplied, nil
	}
	return s.outcome, nil
}

type stubAccounts struct {
	attached  []string
	attachErr error
}

func (s *stubAccounts) Create(ctx context.Context, email, name string) (*domain.Account, error) {
	return nil, errors.New("not implemented")
}

func (s *stubAccounts) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return nil, errors.New("not implemented")
}

func (s *stubAccounts) AttachSubscription(ctx context.Context, id uuid.UUID, customerID, subscriptionID string) error {
	s.attached = append(s.attached, subscriptionID)
	return s.attachErr
}

func subscriptionJSON(status, priceID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "sub_123",
		"status": %q,
		"customer": {"id": "cus_123"},
		"items": {"data": [{"price": {"id": %q}}]}
	}`, status, priceID))
}

func subscriptionEvent(eventType string, raw []byte, prev map[string]any) stripe.Event {
	return stripe.Event{
		ID:      "evt_" + uuid.NewString(),
		Type:    stripe.EventType(eventType),
		Created: 1717500000,
		Data: &stripe.EventData{
			Raw:                raw,
			PreviousAttributes: prev,
		},
	}
}

func deliverWebhook(t *testing.T, b *stubBilling, rec *stubReconciler, acc *stubAccounts) *httptest.ResponseRecorder {
	t.Helper()
	h := NewWebhookHandler(b, rec, acc, testLogger())

	req := httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader("{}"))
	req.Header.Set("Stripe-Signature", "t=1,v1=stub")
	w := httptest.NewRecorder()
	h.HandleStripeWebhook(w, req)
	return w
}

func TestWebhook_RoutineUpdateDoesNotActivate(t *testing.T) {
	// A cancel-at-period-end flip on an already-active subscription must
	// not be treated as a fresh activation, or the weekly quota would
	// refill mid-week.
	b := &stubBilling{
		event: subscriptionEvent("customer.subscription.updated",
			subscriptionJSON("active", "price_pro"),
			map[string]any{"cancel_at_period_end": false}),
		prices: map[string]domain.Plan{"price_pro": domain.PlanPro},
	}
	rec := &stubReconciler{}

	w := deliverWebhook(t, b, rec, &stubAccounts{})

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, rec.events, 1)
	assert.Equal(t, domain.EventPlanChanged, rec.events[0].Type)
	assert.Equal(t, domain.PlanPro, rec.events[0].Plan)
	assert.Equal(t, "sub_123", rec.events[0].SubscriptionID)
}

func TestWebhook_UpdateWithoutPreviousAttributesDoesNotActivate(t *testing.T) {
	b := &stubBilling{
		event: subscriptionEvent("customer.subscription.updated",
			subscriptionJSON("active", "price_pro"), nil),
		prices: map[string]domain.Plan{"price_pro": domain.PlanPro},
	}
	rec := &stubReconciler{}

	deliverWebhook(t, b, rec, &stubAccounts{})

	require.Len(t, rec.events, 1)
	assert.Equal(t, domain.EventPlanChanged, rec.events[0].Type)
}

func TestWebhook_NewlyActiveSubscriptionActivates(t *testing.T) {
	b := &stubBilling{
		event: subscriptionEvent("customer.subscription.updated",
			subscriptionJSON("active", "price_pro"),
			map[string]any{"status": "incomplete"}),
		prices: map[string]domain.Plan{"price_pro": domain.PlanPro},
	}
	rec := &stubReconciler{}

	deliverWebhook(t, b, rec, &stubAccounts{})

	require.Len(t, rec.events, 1)
	assert.Equal(t, domain.EventSubscriptionActivated, rec.events[0].Type)
	assert.Equal(t, domain.PlanPro, rec.events[0].Plan)
}

func TestWebhook_PlanSwitchActivates(t *testing.T) {
	b := &stubBilling{
		event: subscriptionEvent("customer.subscription.updated",
			subscriptionJSON("active", "price_advanced"),
			map[string]any{"items": map[string]any{"data": []any{}}}),
		prices: map[string]domain.Plan{"price_advanced": domain.PlanAdvanced},
	}
	rec := &stubReconciler{}

	deliverWebhook(t, b, rec, &stubAccounts{})

	require.Len(t, rec.events, 1)
	assert.Equal(t, domain.EventSubscriptionActivated, rec.events[0].Type)
	assert.Equal(t, domain.PlanAdvanced, rec.events[0].Plan)
}

func TestWebhook_SubscriptionCreatedActivates(t *testing.T) {
	b := &stubBilling{
		event: subscriptionEvent("customer.subscription.created",
			subscriptionJSON("active", "price_basic"), nil),
		prices: map[string]domain.Plan{"price_basic": domain.PlanBasic},
	}
	rec := &stubReconciler{}

	deliverWebhook(t, b, rec, &stubAccounts{})

	require.Len(t, rec.events, 1)
	assert.Equal(t, domain.EventSubscriptionActivated, rec.events[0].Type)
}

func TestWebhook_UnmappedPriceUsesUnknownPlan(t *testing.T) {
	b := &stubBilling{
		event: subscriptionEvent("customer.subscription.updated",
			subscriptionJSON("active", "price_mystery"),
			map[string]any{"status": "incomplete"}),
		prices: map[string]domain.Plan{},
	}
	rec := &stubReconciler{}

	deliverWebhook(t, b, rec, &stubAccounts{})

	require.Len(t, rec.events, 1)
	assert.Equal(t, domain.PlanUnknown, rec.events[0].Plan)
}

func TestWebhook_CheckoutCompletedReplaysActivation(t *testing.T) {
	// The activation delivery can arrive before the billing refs exist and
	// be dropped as unknown. Checkout completion attaches the refs and then
	// re-derives the activation from the live subscription.
	accountID := uuid.New()
	checkout := []byte(fmt.Sprintf(`{
		"id": "cs_test_1",
		"metadata": {"account_id": %q},
		"customer": {"id": "cus_123"},
		"subscription": {"id": "sub_123"}
	}`, accountID))

	var sub stripe.Subscription
	sub.ID = "sub_123"
	sub.Status = stripe.SubscriptionStatusActive
	sub.Items = &stripe.SubscriptionItemList{
		Data: []*stripe.SubscriptionItem{
			{Price: &stripe.Price{ID: "price_pro"}},
		},
	}

	b := &stubBilling{
		event:  subscriptionEvent("checkout.session.completed", checkout, nil),
		sub:    &sub,
		prices: map[string]domain.Plan{"price_pro": domain.PlanPro},
	}
	rec := &stubReconciler{}
	acc := &stubAccounts{}

	w := deliverWebhook(t, b, rec, acc)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"sub_123"}, acc.attached)
	require.Len(t, rec.events, 1)
	assert.Equal(t, domain.EventSubscriptionActivated, rec.events[0].Type)
	assert.Equal(t, "sub_123", rec.events[0].SubscriptionID)
	assert.Equal(t, domain.PlanPro, rec.events[0].Plan)
	assert.Equal(t, "cus_123", rec.events[0].CustomerID)
}

func TestWebhook_CheckoutSubscriptionFetchFailureReturns500(t *testing.T) {
	accountID := uuid.New()
	checkout := []byte(fmt.Sprintf(`{
		"id": "cs_test_1",
		"metadata": {"account_id": %q},
		"customer": {"id": "cus_123"},
		"subscription": {"id": "sub_123"}
	}`, accountID))

	b := &stubBilling{
		event:  subscriptionEvent("checkout.session.completed", checkout, nil),
		subErr: errors.New("stripe unavailable"),
	}
	rec := &stubReconciler{}

	w := deliverWebhook(t, b, rec, &stubAccounts{})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, rec.events)
}

func TestWebhook_ApplyFailureReturns500(t *testing.T) {
	b := &stubBilling{
		event: subscriptionEvent("customer.subscription.created",
			subscriptionJSON("active", "price_pro"), nil),
		prices: map[string]domain.Plan{"price_pro": domain.PlanPro},
	}
	rec := &stubReconciler{err: errors.New("database down")}

	w := deliverWebhook(t, b, rec, &stubAccounts{})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
