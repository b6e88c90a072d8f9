package checkout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zllovesuki/storecheckout/access"
	"github.com/zllovesuki/storecheckout/pricing"
	"github.com/zllovesuki/storecheckout/remote"
	"github.com/zllovesuki/storecheckout/spec"
	"github.com/zllovesuki/storecheckout/spec/broker"
	"github.com/zllovesuki/storecheckout/subscription"
	"github.com/zllovesuki/storecheckout/vault"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

var periodEnd = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func plan(id, name string, monthly, annual float64) *spec.Plan {
	return &spec.Plan{
		ID:            id,
		DisplayName:   name,
		BillingCycles: []spec.Cycle{spec.Monthly, spec.Annual},
		CountryAvailability: []spec.CountryPricing{{
			CountryCode:  "MX",
			Currency:     "MXN",
			PriceMonthly: monthly,
			PriceAnnual:  annual,
			TaxRate:      0.16,
			IsActive:     true,
		}},
	}
}

var catalog = map[string]*spec.Plan{
	"P1": plan("P1", "Pro", 399, 3990),
	"P2": plan("P2", "Básico", 199, 1990),
	"P3": plan("P3", "Premium", 599, 5990),
}

// calls records mutating calls in issue order
type calls struct {
	mu  sync.Mutex
	log []string
}

func (c *calls) add(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, fmt.Sprintf(format, args...))
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

func failure(msg string) *remote.AdapterError {
	return &remote.AdapterError{Op: "test", StatusCode: 400, Message: msg}
}

type fakeSubscriptions struct {
	calls   *calls
	current *spec.CurrentSubscription
	preview *subscription.Preview
	fail    map[string]error

	created []subscription.CreateRequest
}

func (f *fakeSubscriptions) GetPlan(ctx context.Context, planID string) (*spec.Plan, error) {
	return catalog[planID], nil
}

func (f *fakeSubscriptions) GetCurrent(ctx context.Context, shopID int64) (*spec.CurrentSubscription, error) {
	if f.current == nil {
		return nil, nil
	}
	cur := *f.current
	return &cur, nil
}

func (f *fakeSubscriptions) Create(ctx context.Context, req subscription.CreateRequest) error {
	f.calls.add("createSubscription(%s,%s,%s)", req.PlanID, req.Cycle, req.CardID)
	if err := f.fail["create"]; err != nil {
		return err
	}
	f.created = append(f.created, req)
	return nil
}

func (f *fakeSubscriptions) Change(ctx context.Context, subscriptionID, planID string, cycle spec.Cycle) error {
	f.calls.add("changeSubscription(%s,%s,%s)", subscriptionID, planID, cycle)
	return f.fail["change"]
}

func (f *fakeSubscriptions) UpdatePaymentMethod(ctx context.Context, subscriptionID, cardID string) error {
	f.calls.add("updatePaymentMethod(%s,%s)", subscriptionID, cardID)
	return f.fail["payment"]
}

func (f *fakeSubscriptions) Preview(ctx context.Context, subscriptionID, planID string, cycle spec.Cycle) (*subscription.Preview, error) {
	return f.preview, nil
}

type fakeCards struct {
	calls *calls
	cards []spec.SavedCard
	fail  *remote.AdapterError
	next  string
}

func (f *fakeCards) ListCards(ctx context.Context, customerID string) ([]spec.SavedCard, error) {
	return f.cards, nil
}

func (f *fakeCards) CreateCard(ctx context.Context, fields vault.CardFields, o vault.Owner) (*vault.CreateResult, error) {
	f.calls.add("createCard(%s)", fields.Last4())
	if f.fail != nil {
		return nil, &vault.CreateError{AdapterError: f.fail}
	}
	id := f.next
	if id == "" {
		id = "card-new"
	}
	f.cards = append(f.cards, spec.SavedCard{ID: id, Brand: fields.Brand(), Last4: fields.Last4(), ExpirationMonth: 12, ExpirationYear: 2028})
	return &vault.CreateResult{CardID: id, SellerID: o.SellerID, Brand: fields.Brand(), Last4: fields.Last4()}, nil
}

type fakeFiscal struct {
	calls  *calls
	exists bool
	fail   error
}

func (f *fakeFiscal) Exists(ctx context.Context, sellerID int64) (bool, error) {
	return f.exists, nil
}

func (f *fakeFiscal) Save(ctx context.Context, storeID int64, rec spec.FiscalRecord) error {
	f.calls.add("saveFiscalData(%s)", rec.RFC)
	if f.fail != nil {
		return f.fail
	}
	f.exists = true
	return nil
}

type fakeEvents struct {
	events []broker.CheckoutEvent
}

func (f *fakeEvents) Close() {}

func (f *fakeEvents) PublishCheckoutEvent(ctx context.Context, e broker.CheckoutEvent) error {
	f.events = append(f.events, e)
	return nil
}

type fakeJournal struct {
	begun    []Attempt
	steps    []StepResult
	finished []State
}

func (f *fakeJournal) Begin(ctx context.Context, a Attempt) error {
	f.begun = append(f.begun, a)
	return nil
}

func (f *fakeJournal) Record(ctx context.Context, attemptID string, step StepResult) error {
	f.steps = append(f.steps, step)
	return nil
}

func (f *fakeJournal) Finish(ctx context.Context, attemptID string, s State) error {
	f.finished = append(f.finished, s)
	return nil
}

type fakeReconciler struct {
	records []AttemptRecord
	shopID  int64
	before  time.Time
	err     error
}

func (f *fakeReconciler) GetByID(ctx context.Context, id string) (*AttemptRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.records {
		if f.records[i].ID == id {
			return &f.records[i], nil
		}
	}
	return nil, nil
}

func (f *fakeReconciler) Unfinished(ctx context.Context, shopID int64, before time.Time) ([]AttemptRecord, error) {
	f.shopID, f.before = shopID, before
	if f.err != nil {
		return nil, f.err
	}
	out := []AttemptRecord{}
	for _, r := range f.records {
		if r.FinishedAt == nil && r.StartedAt.Before(before) && (shopID == 0 || r.ShopID == shopID) {
			out = append(out, r)
		}
	}
	return out, nil
}

type harness struct {
	calls   *calls
	subs    *fakeSubscriptions
	cards   *fakeCards
	fiscal  *fakeFiscal
	events  *fakeEvents
	journal *fakeJournal
	runner  *Runner
}

var savedCards = []spec.SavedCard{
	{ID: "card-A", Brand: "visa", Last4: "4242", ExpirationMonth: 12, ExpirationYear: 2028, IsDefault: true},
	{ID: "card-B", Brand: "mastercard", Last4: "4444", ExpirationMonth: 6, ExpirationYear: 2027},
	{ID: "card-old", Brand: "visa", Last4: "0002", ExpirationMonth: 1, ExpirationYear: 2026},
}

func newHarness(t *testing.T, current *spec.CurrentSubscription) *harness {
	c := &calls{}
	h := &harness{
		calls:   c,
		subs:    &fakeSubscriptions{calls: c, current: current, fail: map[string]error{}},
		cards:   &fakeCards{calls: c, cards: append([]spec.SavedCard(nil), savedCards...)},
		fiscal:  &fakeFiscal{calls: c},
		events:  &fakeEvents{},
		journal: &fakeJournal{},
	}
	resolver, err := pricing.NewResolver(pricing.Options{TaxMode: pricing.TaxExclusive})
	require.NoError(t, err)
	h.runner, err = NewRunner(Options{
		Subscriptions: h.subs,
		Cards:         h.cards,
		Fiscal:        h.fiscal,
		Pricing:       resolver,
		Logger:        zap.NewNop(),
		SuccessURL:    "https://store.example.com/success?from=checkout",
		Journal:       h.journal,
		Events:        h.events,
		Now:           func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return h
}

var testActor = Actor{
	Store: access.Store{ID: 42, SellerID: 9, Name: "Tienda", PaymentCustomerID: "cus_1"},
	Email: "owner@shop.mx",
}

func onPlan(planID string, cycle spec.Cycle, cardID string) *spec.CurrentSubscription {
	return &spec.CurrentSubscription{
		SubscriptionID:   "sub_1",
		PlanID:           planID,
		BillingCycle:     cycle,
		Status:           spec.StatusActive,
		PaymentMethodID:  cardID,
		CurrentPeriodEnd: periodEnd,
	}
}

func newCard() *vault.CardFields {
	return &vault.CardFields{
		Name:       "Ana López",
		CardNumber: "4111 1111 1111 1111",
		Expiration: "12/28",
		CVV:        "123",
		Address:    "Av. Reforma 1",
		Zip:        "06600",
		City:       "CDMX",
		Country:    "MX",
		Type:       "credit",
	}
}

func fiscalRecord() *spec.FiscalRecord {
	return &spec.FiscalRecord{RFC: "TAC010101AB1", BusinessName: "Tacos SA de CV", PostalCode: "06600"}
}
