// Package plans loads the plan catalog: the single authoritative mapping from
// plan identifiers to weekly class allowances and to the billing provider's
// price IDs and product names.
//
// The catalog is supplied as a YAML file so the mapping can be corrected
// against the provider's product catalog without a code change. When no file
// is configured the built-in defaults apply.
package plans

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/DukeRupert/tutorbook/internal/domain"
)

// planEntry is the file representation of one plan.
type planEntry struct {
	WeeklyAllowance int      `mapstructure:"weekly_allowance"`
	PriceIDs        []string `mapstructure:"price_ids"`
	ProductNames    []string `mapstructure:"product_names"`
}

// Catalog resolves plans to allowances and provider references to plans.
type Catalog struct {
	allowances    domain.PlanCatalog
	priceToPlan   map[string]domain.Plan
	productToPlan map[string]domain.Plan
}

// Default returns the built-in catalog matching the provider's current
// product lineup.
func Default() *Catalog {
	c := &Catalog{
		allowances:    domain.DefaultPlanCatalog(),
		priceToPlan:   map[string]domain.Plan{},
		productToPlan: map[string]domain.Plan{},
	}
	// Product names as they appear on the provider's dashboard.
	c.productToPlan["basic plan"] = domain.PlanBasic
	c.productToPlan["pro plan"] = domain.PlanPro
	c.productToPlan["advanced plan"] = domain.PlanAdvanced
	return c
}

// Load reads a catalog file. Plans present in the file replace the built-in
// defaults entirely.
func Load(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}

	var entries map[string]planEntry
	if err := v.UnmarshalKey("plans", &entries); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("plan catalog %s defines no plans", path)
	}

	c := &Catalog{
		allowances:    domain.PlanCatalog{},
		priceToPlan:   map[string]domain.Plan{},
		productToPlan: map[string]domain.Plan{},
	}
	for name, entry := range entries {
		if entry.WeeklyAllowance < 0 {
			return nil, fmt.Errorf("plan %q: weekly_allowance must be non-negative", name)
		}
		plan := domain.Plan(strings.ToLower(name))
		c.allowances[plan] = entry.WeeklyAllowance
		for _, id := range entry.PriceIDs {
			c.priceToPlan[id] = plan
		}
		for _, product := range entry.ProductNames {
			c.productToPlan[strings.ToLower(product)] = plan
		}
	}

	// The free plan always exists: canceled subscriptions downgrade to it.
	if _, ok := c.allowances[domain.PlanFree]; !ok {
		c.allowances[domain.PlanFree] = 0
	}

	return c, nil
}

// Allowances returns the plan-to-allowance table.
func (c *Catalog) Allowances() domain.PlanCatalog {
	return c.allowances
}

// Allowance returns the weekly allowance for a plan, 0 for unknown plans.
func (c *Catalog) Allowance(p domain.Plan) int {
	return c.allowances.Allowance(p)
}

// Known reports whether the plan exists in the catalog.
func (c *Catalog) Known(p domain.Plan) bool {
	return c.allowances.Known(p)
}

// PriceIDs returns every configured provider price ID, sorted for stable
// listings.
func (c *Catalog) PriceIDs() []string {
	ids := make([]string, 0, len(c.priceToPlan))
	for id := range c.priceToPlan {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PlanForPriceID maps a provider price ID to a plan.
func (c *Catalog) PlanForPriceID(priceID string) (domain.Plan, bool) {
	p, ok := c.priceToPlan[priceID]
	return p, ok
}

// PlanForProductName maps a provider product name (case-insensitive) to a plan.
func (c *Catalog) PlanForProductName(name string) (domain.Plan, bool) {
	p, ok := c.productToPlan[strings.ToLower(name)]
	return p, ok
}
