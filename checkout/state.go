package checkout

import "github.com/zllovesuki/storecheckout/spec"

// Phase is where a submission stands. Redirecting and Failed are terminal.
type Phase string

// Defining the checkout phases
const (
	Idle                  Phase = "idle"
	SavingFiscalData      Phase = "saving_fiscal_data"
	CreatingCard          Phase = "creating_card"
	CreatingSubscription  Phase = "creating_subscription"
	ChangingSubscription  Phase = "changing_subscription"
	UpdatingPaymentMethod Phase = "updating_payment_method"
	Redirecting           Phase = "redirecting"
	Failed                Phase = "failed"
)

// Terminal reports whether no further step follows p
func (p Phase) Terminal() bool {
	return p == Redirecting || p == Failed
}

// Await names the call whose completion the continuation waits for
type Await string

// Defining awaited calls
const (
	AwaitNothing       Await = ""
	AwaitFiscal        Await = "fiscal"
	AwaitCard          Await = "card"
	AwaitPaymentUpdate Await = "payment_update"
)

// Then names what runs once the awaited call succeeds
type Then string

// Defining continuations
const (
	ThenNothing             Then = ""
	ThenSubscribe           Then = "subscribe"
	ThenCreateThenSubscribe Then = "create_then_subscribe"
	ThenChangePlan          Then = "change_plan"
	ThenRedirect            Then = "redirect"
)

// Pending is the continuation of the in-flight call:
//
//	None
//	AwaitingCardThen(Subscribe | ChangePlan | Redirect)
//	AwaitingFiscalThen(Subscribe | CreateThenSubscribe | ChangePlan)
//	AwaitingPaymentUpdateThen(ChangePlan | Redirect)
//
// A card awaited before ChangePlan or Redirect is attached with a payment update first.
type Pending struct {
	Await Await `json:"await,omitempty"`
	Then  Then  `json:"then,omitempty"`
}

// None is the empty continuation
var None = Pending{}

// AwaitingCardThen continues with next once the new card has an id
func AwaitingCardThen(next Then) Pending {
	return Pending{Await: AwaitCard, Then: next}
}

// AwaitingFiscalThen continues with next once the fiscal data is saved
func AwaitingFiscalThen(next Then) Pending {
	return Pending{Await: AwaitFiscal, Then: next}
}

// AwaitingPaymentUpdateThen continues with next once the subscription charges the chosen card
func AwaitingPaymentUpdateThen(next Then) Pending {
	return Pending{Await: AwaitPaymentUpdate, Then: next}
}

// Targets is everything the chain needs to issue its calls, fixed when the submission is decided
type Targets struct {
	ShopID   int64      `json:"shop_id"`
	SellerID int64      `json:"seller_id"`
	PlanID   string     `json:"plan_id"`
	PlanName string     `json:"plan_name"`
	Cycle    spec.Cycle `json:"cycle"`
	Currency string     `json:"currency"`

	// SubscriptionID is set when the shop already has a subscription
	SubscriptionID string `json:"subscription_id,omitempty"`
	PlanChanged    bool   `json:"plan_changed,omitempty"`

	// CardID is empty until a new card is created
	CardID        string `json:"card_id,omitempty"`
	NewCard       bool   `json:"new_card,omitempty"`
	UpdatePayment bool   `json:"update_payment,omitempty"`
	CardBrand     string `json:"card_brand,omitempty"`
	CardLast4     string `json:"card_last4,omitempty"`
}

// IsUpdate reports whether the chain mutates an existing subscription
func (t Targets) IsUpdate() bool {
	return t.SubscriptionID != ""
}

// Failure is the message of the step that stopped the chain
type Failure struct {
	Phase   Phase  `json:"phase"`
	Message string `json:"message"`
}

// State is the orchestrator's single state value
type State struct {
	Phase   Phase    `json:"phase"`
	Pending Pending  `json:"pending"`
	Targets Targets  `json:"targets"`
	Failure *Failure `json:"failure,omitempty"`
}

// EffectKind names a call the runner must issue
type EffectKind string

// Defining effects
const (
	EffectSaveFiscal          EffectKind = "save_fiscal"
	EffectCreateCard          EffectKind = "create_card"
	EffectCreateSubscription  EffectKind = "create_subscription"
	EffectChangeSubscription  EffectKind = "change_subscription"
	EffectUpdatePaymentMethod EffectKind = "update_payment_method"
	EffectRedirect            EffectKind = "redirect"
)

// Effect is one call to issue, with the inputs decided by Step
type Effect struct {
	Kind           EffectKind `json:"kind"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	// PlanID is empty on a change that only moves the cycle
	PlanID   string     `json:"plan_id,omitempty"`
	Cycle    spec.Cycle `json:"cycle,omitempty"`
	CardID   string     `json:"card_id,omitempty"`
	Currency string     `json:"currency,omitempty"`
}

// EventKind names the outcome fed back into Step
type EventKind string

// Defining events
const (
	FiscalSaved          EventKind = "fiscal_saved"
	CardCreated          EventKind = "card_created"
	SubscriptionCreated  EventKind = "subscription_created"
	SubscriptionChanged  EventKind = "subscription_changed"
	PaymentMethodUpdated EventKind = "payment_method_updated"
	StepFailed           EventKind = "step_failed"
)

// Event is the result of the in-flight effect
type Event struct {
	Kind EventKind

	// set by CardCreated
	CardID string
	Brand  string
	Last4  string

	// set by StepFailed
	Message string
}
