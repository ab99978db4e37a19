// Package billing provides Stripe billing integration for subscription management.
package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/price"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/DukeRupert/tutorbook/internal/domain"
	"github.com/DukeRupert/tutorbook/internal/plans"
)

// PlanInfo describes a purchasable plan as configured at the provider.
type PlanInfo struct {
	PriceID     string      `json:"priceId"`
	Plan        domain.Plan `json:"plan"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Amount      int64       `json:"amount"`
	Currency    string      `json:"currency"`
	Interval    string      `json:"interval"`
}

// Service defines the interface for billing operations.
type Service interface {
	// CreateCheckoutSession creates a Stripe Checkout session for
	// subscribing the given account to a price. The account id travels in
	// the session metadata so the webhook can correlate the completed
	// checkout. Returns the created session; its URL is where the user is
	// redirected to pay.
	CreateCheckoutSession(accountID, email, priceID, successURL, cancelURL string) (*stripe.CheckoutSession, error)

	// GetCheckoutSession retrieves a checkout session by ID, used to verify
	// payment status after the redirect.
	GetCheckoutSession(sessionID string) (*stripe.CheckoutSession, error)

	// GetSubscription retrieves a Stripe subscription by ID.
	GetSubscription(subscriptionID string) (*stripe.Subscription, error)

	// CancelSubscription sets a subscription to cancel at period end.
	CancelSubscription(subscriptionID string) error

	// ListPlans returns the purchasable plans for the configured price IDs.
	ListPlans() ([]PlanInfo, error)

	// VerifyWebhookSignature verifies the Stripe webhook signature and
	// returns the decoded event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// PlanForPriceID resolves a Stripe price ID to an internal plan.
	PlanForPriceID(priceID string) (domain.Plan, bool)

	// PlanForProductName resolves a Stripe product name to an internal plan.
	PlanForProductName(name string) (domain.Plan, bool)
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
	catalog       *plans.Catalog
	priceIDs      []string
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey authenticates Stripe API calls, the webhookSecret verifies
// incoming webhook signatures, and the catalog maps provider price IDs and
// product names to internal plans.
func NewStripeService(secretKey, webhookSecret string, catalog *plans.Catalog, priceIDs []string) Service {
	stripe.Key = secretKey

	return &stripeService{
		webhookSecret: webhookSecret,
		catalog:       catalog,
		priceIDs:      priceIDs,
	}
}

func (s *stripeService) CreateCheckoutSession(accountID, email, priceID, successURL, cancelURL string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		CustomerEmail: stripe.String(email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Metadata: map[string]string{
			"account_id": accountID,
		},
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create checkout session: %w", err)
	}
	return sess, nil
}

func (s *stripeService) GetCheckoutSession(sessionID string) (*stripe.CheckoutSession, error) {
	sess, err := checkoutsession.Get(sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("stripe get checkout session: %w", err)
	}
	return sess, nil
}

func (s *stripeService) GetSubscription(subscriptionID string) (*stripe.Subscription, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("stripe get subscription: %w", err)
	}
	return sub, nil
}

func (s *stripeService) CancelSubscription(subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	_, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return fmt.Errorf("stripe cancel subscription: %w", err)
	}
	return nil
}

func (s *stripeService) ListPlans() ([]PlanInfo, error) {
	infos := make([]PlanInfo, 0, len(s.priceIDs))
	for _, id := range s.priceIDs {
		p, err := price.Get(id, &stripe.PriceParams{
			Expand: []*string{stripe.String("product")},
		})
		if err != nil {
			return nil, fmt.Errorf("stripe get price %s: %w", id, err)
		}

		info := PlanInfo{
			PriceID:  p.ID,
			Amount:   p.UnitAmount,
			Currency: string(p.Currency),
		}
		if p.Recurring != nil {
			info.Interval = string(p.Recurring.Interval)
		}
		if p.Product != nil {
			info.Name = p.Product.Name
			info.Description = p.Product.Description
		}
		if plan, ok := s.catalog.PlanForPriceID(p.ID); ok {
			info.Plan = plan
		} else if plan, ok := s.catalog.PlanForProductName(info.Name); ok {
			info.Plan = plan
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("webhook signature verification: %w", err)
	}
	return event, nil
}

func (s *stripeService) PlanForPriceID(priceID string) (domain.Plan, bool) {
	return s.catalog.PlanForPriceID(priceID)
}

func (s *stripeService) PlanForProductName(name string) (domain.Plan, bool) {
	return s.catalog.PlanForProductName(name)
}
