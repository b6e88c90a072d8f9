package spec

import "time"

// SubscriptionStatus is the state reported by the subscription service
type SubscriptionStatus string

// Known statuses; the service may report others
const (
	StatusActive    SubscriptionStatus = "active"
	StatusTrialing  SubscriptionStatus = "trialing"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// CurrentSubscription is the shop's subscription as seen by the checkout.
// It is read-only here; only the explicit change calls mutate it remotely.
type CurrentSubscription struct {
	SubscriptionID   string             `json:"subscription_id"`
	PlanID           string             `json:"plan_id"`
	PlanName         string             `json:"plan_name,omitempty"`
	BillingCycle     Cycle              `json:"billing_cycle"`
	Status           SubscriptionStatus `json:"status"`
	PaymentMethodID  string             `json:"payment_method_id"`
	CurrentPeriodEnd time.Time          `json:"current_period_end"`
	TrialEndsAt      *time.Time         `json:"trial_ends_at,omitempty"`

	// Plan is the catalog record of PlanID when the service embeds it
	Plan *Plan `json:"plan,omitempty"`
}
