package spec

import "strings"

// CountryPricing is the price list of a Plan in one country
type CountryPricing struct {
	CountryCode           string  `json:"country_code"`
	Currency              string  `json:"currency"`
	PriceMonthly          float64 `json:"price_monthly"`
	PriceAnnual           float64 `json:"price_annual"`
	TaxRate               float64 `json:"tax_rate"`
	DiscountAnnualPercent float64 `json:"discount_annual_percent"`
	IsActive              bool    `json:"is_active"`
	IsPublic              bool    `json:"is_public"`
}

// Price returns the listed price for the given cycle
func (c CountryPricing) Price(cycle Cycle) float64 {
	if cycle == Annual {
		return c.PriceAnnual
	}
	return c.PriceMonthly
}

// Plan is an immutable catalog record. It is loaded fresh for each checkout and never mutated.
type Plan struct {
	ID                  string           `json:"plan_id"`
	Name                string           `json:"name"`
	DisplayName         string           `json:"display_name"`
	Description         string           `json:"description"`
	CountryAvailability []CountryPricing `json:"country_availability"`
	BillingCycles       []Cycle          `json:"billing_cycles"`
	TrialDays           int              `json:"trial_days"`
	IsActive            bool             `json:"is_active"`
	IsPublic            bool             `json:"is_public"`
}

// Title is the name shown to the customer
func (p *Plan) Title() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

// AllowsCycle reports whether the plan can be billed with cycle.
// A plan that lists no cycles allows both.
func (p *Plan) AllowsCycle(cycle Cycle) bool {
	if !cycle.Valid() {
		return false
	}
	if len(p.BillingCycles) == 0 {
		return true
	}
	for _, c := range p.BillingCycles {
		if Cycle(strings.ToLower(string(c))) == cycle {
			return true
		}
	}
	return false
}

// PricingFor returns the entry for country, if any
func (p *Plan) PricingFor(country string) (CountryPricing, bool) {
	for _, c := range p.CountryAvailability {
		if strings.EqualFold(c.CountryCode, country) {
			return c, true
		}
	}
	return CountryPricing{}, false
}
