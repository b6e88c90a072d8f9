package subscription

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/zllovesuki/storecheckout/spec"

	"github.com/shopspring/decimal"
)

type wirePlan struct {
	PlanID              string                `json:"plan_id"`
	ID                  string                `json:"id"`
	Name                string                `json:"name"`
	DisplayName         string                `json:"display_name"`
	Description         string                `json:"description"`
	BillingCycles       []string              `json:"billing_cycles"`
	CountryAvailability []spec.CountryPricing `json:"country_availability"`
	TrialDays           int                   `json:"trial_days"`
	IsActive            bool                  `json:"is_active"`
	IsPublic            bool                  `json:"is_public"`
}

func (w *wirePlan) toPlan() *spec.Plan {
	id := w.PlanID
	if id == "" {
		id = w.ID
	}
	cycles := make([]spec.Cycle, 0, len(w.BillingCycles))
	for _, c := range w.BillingCycles {
		cycles = append(cycles, normalizeCycle(c))
	}
	return &spec.Plan{
		ID:                  id,
		Name:                w.Name,
		DisplayName:         w.DisplayName,
		Description:         w.Description,
		CountryAvailability: w.CountryAvailability,
		BillingCycles:       cycles,
		TrialDays:           w.TrialDays,
		IsActive:            w.IsActive,
		IsPublic:            w.IsPublic,
	}
}

type planResponse struct {
	Data struct {
		Plan *wirePlan `json:"plan"`
	} `json:"data"`
}

type wireSubscription struct {
	SubscriptionID   string `json:"cronos_subscription_id"`
	PlanID           string `json:"plan_id"`
	PlanName         string `json:"plan_name"`
	BillingCycle     string `json:"billing_cycle"`
	Status           string `json:"status"`
	PaymentID        string `json:"payment_id"`
	TrialEndsAt      string `json:"trial_ends_at"`
	CurrentPeriodEnd string `json:"current_period_end"`
}

func (w *wireSubscription) toCurrent(plan *wirePlan) *spec.CurrentSubscription {
	cur := &spec.CurrentSubscription{
		SubscriptionID:   w.SubscriptionID,
		PlanID:           w.PlanID,
		PlanName:         w.PlanName,
		BillingCycle:     normalizeCycle(w.BillingCycle),
		Status:           spec.SubscriptionStatus(strings.ToLower(w.Status)),
		PaymentMethodID:  w.PaymentID,
		CurrentPeriodEnd: parseTime(w.CurrentPeriodEnd),
	}
	if t := parseTime(w.TrialEndsAt); !t.IsZero() {
		cur.TrialEndsAt = &t
	}
	if plan != nil {
		p := plan.toPlan()
		if p.ID == "" || p.ID == cur.PlanID {
			p.ID = cur.PlanID
			cur.Plan = p
		}
	}
	if cur.PlanName == "" && cur.Plan != nil {
		cur.PlanName = cur.Plan.Title()
	}
	return cur
}

type currentResponse struct {
	Data struct {
		Plan         *wirePlan         `json:"plan"`
		Subscription *wireSubscription `json:"subscription"`
	} `json:"data"`
}

type createBody struct {
	SellerID      int64         `json:"seller_id"`
	ShopID        int64         `json:"shop_id"`
	ServiceType   string        `json:"service_type"`
	PlanID        string        `json:"plan_id"`
	CardID        string        `json:"card_id"`
	PaymentID     string        `json:"payment_id"`
	PaymentMethod string        `json:"payment_method"`
	BillingCycle  spec.Cycle    `json:"billing_cycle"`
	CountryCode   string        `json:"country_code"`
	Currency      string        `json:"currency"`
	Metadata      spec.Metadata `json:"metadata"`
}

type changeBody struct {
	PlanID       string     `json:"plan_id,omitempty"`
	BillingCycle spec.Cycle `json:"billing_cycle"`
}

type paymentBody struct {
	CardID        string `json:"card_id"`
	PaymentID     string `json:"payment_id"`
	PaymentMethod string `json:"payment_method"`
}

type mutationResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

type previewPrice struct {
	ExecutionDate  string           `json:"execution_date"`
	ProratedAmount *decimal.Decimal `json:"prorated_amount"`
	RemainingDays  int              `json:"remaining_days"`
	NewPrice       struct {
		Currency string `json:"currency"`
	} `json:"new_price"`
}

type previewResponse struct {
	Data *struct {
		Preview struct {
			Preview struct {
				Prices      []previewPrice  `json:"prices"`
				TotalAmount decimal.Decimal `json:"total_amount"`
			} `json:"preview"`
		} `json:"preview"`
	} `json:"data"`
}

func (r previewResponse) toPreview() *Preview {
	if r.Data == nil {
		return nil
	}
	inner := r.Data.Preview.Preview
	p := &Preview{TotalAmount: inner.TotalAmount}
	for _, price := range inner.Prices {
		if price.ProratedAmount != nil && p.ProratedAmount == nil {
			amount := *price.ProratedAmount
			p.ProratedAmount = &amount
			p.ExecutionDate = parseTime(price.ExecutionDate)
			p.RemainingDays = price.RemainingDays
			p.Currency = strings.ToUpper(price.NewPrice.Currency)
		}
	}
	return p
}

// the service has used both "annual" and "yearly"
func normalizeCycle(s string) spec.Cycle {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "annual", "yearly", "anual", "year":
		return spec.Annual
	case "monthly", "mensual", "month":
		return spec.Monthly
	}
	return spec.Cycle(strings.ToLower(s))
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func decode(body []byte, out interface{}) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}
