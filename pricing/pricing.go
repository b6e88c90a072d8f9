package pricing

import (
	"fmt"
	"strings"
	"time"

	"github.com/zllovesuki/storecheckout/spec"

	extErrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// TaxMode tells the Resolver how to read catalog prices
type TaxMode string

// Defining tax modes
const (
	// TaxExclusive: the catalog price is the subtotal, tax is added on top
	TaxExclusive TaxMode = "exclusive"
	// TaxInclusive: the catalog price already embeds tax, which is back-calculated
	TaxInclusive TaxMode = "inclusive"
)

// ChangeKind classifies a quote relative to the shop's current subscription
type ChangeKind string

// Defining change kinds
const (
	ChangeNew       ChangeKind = "new"
	ChangeNone      ChangeKind = "none"
	ChangeUpgrade   ChangeKind = "upgrade"
	ChangeDowngrade ChangeKind = "downgrade"
)

// zero-decimal currencies; everything else rounds to cents
var currencyPlaces = map[string]int32{
	"JPY": 0,
	"CLP": 0,
	"KRW": 0,
	"PYG": 0,
}

// Places returns the number of decimal places used when rounding amounts in currency
func Places(currency string) int32 {
	if p, ok := currencyPlaces[strings.ToUpper(currency)]; ok {
		return p
	}
	return 2
}

// DowngradeNotice tells the customer that the cheaper plan only applies after the paid period
type DowngradeNotice struct {
	EffectiveDate   time.Time       `json:"effective_date"`
	CurrentPlanName string          `json:"current_plan_name"`
	NewPlanName     string          `json:"new_plan_name"`
	NewPrice        decimal.Decimal `json:"new_price"`
}

// CreditLine is a proration adjustment supplied by the subscription service
type CreditLine struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// Quote is the resolved price of a plan for one cycle. Total is always Subtotal + Tax.
type Quote struct {
	PlanID     string           `json:"plan_id"`
	PlanName   string           `json:"plan_name"`
	Country    string           `json:"country"`
	Currency   string           `json:"currency"`
	Cycle      spec.Cycle       `json:"cycle"`
	CycleLabel string           `json:"cycle_label"`
	TaxRate    decimal.Decimal  `json:"tax_rate"`
	Subtotal   decimal.Decimal  `json:"subtotal"`
	Tax        decimal.Decimal  `json:"tax"`
	Total      decimal.Decimal  `json:"total"`
	TrialDays  int              `json:"trial_days"`
	Change     ChangeKind       `json:"change"`
	Downgrade  *DowngradeNotice `json:"downgrade_notice,omitempty"`
	Credit     *CreditLine      `json:"credit_line,omitempty"`
}

// Options configures a Resolver
type Options struct {
	TaxMode        TaxMode
	DefaultCountry string
	// StrictCountry fails with ErrPlanNotAvailable instead of falling back to the first country entry
	StrictCountry bool
}

// Resolver computes price quotes from catalog records
type Resolver struct {
	Options
}

// NewResolver returns a Resolver; empty options take the package defaults
func NewResolver(option Options) (*Resolver, error) {
	switch option.TaxMode {
	case "":
		option.TaxMode = TaxExclusive
	case TaxExclusive, TaxInclusive:
	default:
		return nil, fmt.Errorf("unknown TaxMode %q", option.TaxMode)
	}
	if option.DefaultCountry == "" {
		option.DefaultCountry = spec.DefaultCountry
	}
	return &Resolver{
		Options: option,
	}, nil
}

// Request describes what to quote
type Request struct {
	Plan    *spec.Plan
	Country string
	Cycle   spec.Cycle

	// Current and CurrentPlan are set when the shop already has a subscription
	Current     *spec.CurrentSubscription
	CurrentPlan *spec.Plan

	// Credit comes from the subscription service's change preview, when it supplies one
	Credit *CreditLine
}

// Resolve computes the Quote for req
func (r *Resolver) Resolve(req Request) (*Quote, error) {
	if req.Plan == nil {
		return nil, extErrors.Wrap(ErrPlanNotAvailable, "nil plan")
	}
	if !req.Plan.AllowsCycle(req.Cycle) {
		return nil, extErrors.Wrapf(ErrInvalidCycle, "plan %s does not offer %q", req.Plan.ID, req.Cycle)
	}

	entry, err := r.selectCountry(req.Plan, req.Country)
	if err != nil {
		return nil, err
	}

	subtotal, tax, total, err := r.amounts(entry, req.Cycle)
	if err != nil {
		return nil, extErrors.Wrapf(err, "plan %s", req.Plan.ID)
	}

	q := &Quote{
		PlanID:     req.Plan.ID,
		PlanName:   req.Plan.Title(),
		Country:    strings.ToUpper(entry.CountryCode),
		Currency:   strings.ToUpper(entry.Currency),
		Cycle:      req.Cycle,
		CycleLabel: req.Cycle.Label(),
		TaxRate:    normalizeRate(entry.TaxRate),
		Subtotal:   subtotal,
		Tax:        tax,
		Total:      total,
		TrialDays:  req.Plan.TrialDays,
		Change:     ChangeNew,
	}

	if req.Current == nil {
		return q, nil
	}

	if req.Current.PlanID == req.Plan.ID && req.Current.BillingCycle == req.Cycle {
		q.Change = ChangeNone
		return q, nil
	}

	currentPlan := req.CurrentPlan
	if currentPlan == nil {
		currentPlan = req.Current.Plan
	}

	q.Change = ChangeUpgrade
	if currentPlan != nil {
		if currentSubtotal, ok := r.currentSubtotal(currentPlan, req.Current.BillingCycle, q.Country); ok && subtotal.LessThan(currentSubtotal) {
			q.Change = ChangeDowngrade
			q.Downgrade = &DowngradeNotice{
				EffectiveDate:   req.Current.CurrentPeriodEnd,
				CurrentPlanName: currentPlan.Title(),
				NewPlanName:     q.PlanName,
				NewPrice:        total,
			}
			return q, nil
		}
	}

	// no preview, no credit line: never guess an amount
	if req.Credit != nil {
		credit := *req.Credit
		credit.Amount = credit.Amount.Round(Places(q.Currency))
		q.Credit = &credit
	}
	return q, nil
}

func (r *Resolver) selectCountry(plan *spec.Plan, country string) (spec.CountryPricing, error) {
	if country == "" {
		country = r.DefaultCountry
	}
	if entry, ok := plan.PricingFor(country); ok {
		return entry, nil
	}
	if r.StrictCountry || len(plan.CountryAvailability) == 0 {
		return spec.CountryPricing{}, extErrors.Wrapf(ErrPlanNotAvailable, "plan %s has no pricing for %s", plan.ID, country)
	}
	return plan.CountryAvailability[0], nil
}

func (r *Resolver) amounts(entry spec.CountryPricing, cycle spec.Cycle) (subtotal, tax, total decimal.Decimal, err error) {
	price := decimal.NewFromFloat(entry.Price(cycle))
	rate := normalizeRate(entry.TaxRate)
	if price.IsNegative() || rate.IsNegative() {
		return subtotal, tax, total, extErrors.Wrap(ErrPlanNotAvailable, "negative price or tax rate")
	}
	places := Places(entry.Currency)

	switch r.TaxMode {
	case TaxInclusive:
		total = price.Round(places)
		subtotal = total.Div(decimal.NewFromInt(1).Add(rate)).Round(places)
		tax = total.Sub(subtotal)
	default:
		subtotal = price.Round(places)
		tax = subtotal.Mul(rate).Round(places)
		total = subtotal.Add(tax)
	}
	return subtotal, tax, total, nil
}

func (r *Resolver) currentSubtotal(plan *spec.Plan, cycle spec.Cycle, country string) (decimal.Decimal, bool) {
	entry, err := r.selectCountry(plan, country)
	if err != nil {
		return decimal.Zero, false
	}
	subtotal, _, _, err := r.amounts(entry, cycle)
	if err != nil {
		return decimal.Zero, false
	}
	return subtotal, true
}

// catalog rates are fractions (0.16); some entries carry percentages (16)
func normalizeRate(rate float64) decimal.Decimal {
	d := decimal.NewFromFloat(rate)
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return d.Div(decimal.NewFromInt(100))
	}
	return d
}
