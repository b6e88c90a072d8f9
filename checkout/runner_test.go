package checkout

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/zllovesuki/storecheckout/pricing"
	"github.com/zllovesuki/storecheckout/spec"
	"github.com/zllovesuki/storecheckout/subscription"
	"github.com/zllovesuki/storecheckout/vault"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redirectQuery(t *testing.T, res *Result) url.Values {
	require.NotEmpty(t, res.RedirectURL)
	u, err := url.Parse(res.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "/success", u.Path)
	return u.Query()
}

func TestSameSelectionIssuesNoCalls(t *testing.T) {
	intents := map[string]Intent{
		"same card":    {PlanID: "P1", Cycle: spec.Monthly, CardID: "card-A"},
		"card omitted": {PlanID: "P1", Cycle: spec.Monthly},
		"fiscal asked": {PlanID: "P1", Cycle: spec.Monthly, CardID: "card-A", WantsFiscal: true, Fiscal: fiscalRecord()},
	}
	for name, in := range intents {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, onPlan("P1", spec.Monthly, "card-A"))
			res, err := h.runner.Submit(context.Background(), testActor, in)
			assert.ErrorIs(t, err, ErrNoChange)
			assert.Nil(t, res)
			assert.Empty(t, h.calls.list())
			assert.Empty(t, h.journal.begun)
		})
	}
}

func TestNewCardFirstSubscription(t *testing.T) {
	h := newHarness(t, nil)
	h.cards.next = "card-777"

	res, err := h.runner.Submit(context.Background(), testActor, Intent{
		PlanID:  "P1",
		Cycle:   spec.Monthly,
		NewCard: newCard(),
	})
	require.NoError(t, err)
	assert.Equal(t, Redirecting, res.Phase)
	assert.Equal(t, []string{
		"createCard(1111)",
		"createSubscription(P1,monthly,card-777)",
	}, h.calls.list())

	require.Len(t, h.subs.created, 1)
	assert.Equal(t, "MXN", h.subs.created[0].Currency)
	assert.EqualValues(t, 42, h.subs.created[0].ShopID)

	q := redirectQuery(t, res)
	assert.Equal(t, "Pro", q.Get("planName"))
	assert.Equal(t, "399.00", q.Get("subtotal"))
	assert.Equal(t, "63.84", q.Get("tax"))
	assert.Equal(t, "462.84", q.Get("total"))
	assert.Equal(t, "visa", q.Get("cardBrand"))
	assert.Equal(t, "1111", q.Get("cardLast4"))
	assert.Equal(t, "false", q.Get("isUpdate"))
	assert.Equal(t, "MXN", q.Get("currency"))
	assert.Equal(t, "checkout", q.Get("from"))

	require.Len(t, h.events.events, 1)
	assert.Equal(t, "checkout.completed", h.events.events[0].Kind)
	assert.Equal(t, "create_card,create_subscription", h.events.events[0].Attributes["steps"])
	require.Len(t, h.journal.steps, 2)
	assert.Equal(t, "card-777", h.journal.steps[0].CardID)
}

func TestCardFailureStopsBeforeSubscription(t *testing.T) {
	h := newHarness(t, nil)
	h.cards.fail = failure("Tarjeta declinada")

	res, err := h.runner.Submit(context.Background(), testActor, Intent{PlanID: "P1", Cycle: spec.Monthly, NewCard: newCard()})
	require.NoError(t, err)
	assert.Equal(t, Failed, res.Phase)
	assert.Equal(t, "Tarjeta declinada", res.Error)
	assert.Empty(t, res.RedirectURL)
	assert.Equal(t, []string{"createCard(1111)"}, h.calls.list())

	require.Len(t, h.events.events, 1)
	assert.Equal(t, "checkout.failed", h.events.events[0].Kind)
	assert.Equal(t, string(CreatingCard), h.events.events[0].Attributes["failed_step"])
}

func TestSavedCardFirstSubscription(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.runner.Submit(context.Background(), testActor, Intent{PlanID: "P3", Cycle: spec.Annual, CardID: "card-B"})
	require.NoError(t, err)
	assert.Equal(t, Redirecting, res.Phase)
	assert.Equal(t, []string{"createSubscription(P3,annual,card-B)"}, h.calls.list())

	q := redirectQuery(t, res)
	assert.Equal(t, "mastercard", q.Get("cardBrand"))
	assert.Equal(t, "4444", q.Get("cardLast4"))
	assert.Equal(t, "5990.00", q.Get("subtotal"))
	assert.Equal(t, "Año", q.Get("period"))
}

func TestFiscalDataIsSavedFirst(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.runner.Submit(context.Background(), testActor, Intent{
		PlanID:      "P1",
		Cycle:       spec.Monthly,
		NewCard:     newCard(),
		WantsFiscal: true,
		Fiscal:      fiscalRecord(),
	})
	require.NoError(t, err)
	assert.Equal(t, Redirecting, res.Phase)
	assert.Equal(t, []string{
		"saveFiscalData(TAC010101AB1)",
		"createCard(1111)",
		"createSubscription(P1,monthly,card-new)",
	}, h.calls.list())
}

func TestFiscalFailureIssuesNoSubscriptionCall(t *testing.T) {
	for name, in := range map[string]Intent{
		"new card":   {PlanID: "P1", Cycle: spec.Monthly, NewCard: newCard()},
		"saved card": {PlanID: "P1", Cycle: spec.Monthly, CardID: "card-A"},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.fiscal.fail = failure("RFC rechazado")
			in.WantsFiscal = true
			in.Fiscal = fiscalRecord()

			res, err := h.runner.Submit(context.Background(), testActor, in)
			require.NoError(t, err)
			assert.Equal(t, Failed, res.Phase)
			assert.Equal(t, "RFC rechazado", res.Error)
			assert.Equal(t, []string{"saveFiscalData(TAC010101AB1)"}, h.calls.list())
		})
	}
}

func TestExistingFiscalDataIsNotSavedAgain(t *testing.T) {
	h := newHarness(t, nil)
	h.fiscal.exists = true
	_, err := h.runner.Submit(context.Background(), testActor, Intent{
		PlanID: "P1", Cycle: spec.Monthly, CardID: "card-A", WantsFiscal: true, Fiscal: fiscalRecord(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"createSubscription(P1,monthly,card-A)"}, h.calls.list())
}

func TestUpgradeWithAnotherCardUpdatesPaymentFirst(t *testing.T) {
	h := newHarness(t, onPlan("P1", spec.Monthly, "card-A"))
	res, err := h.runner.Submit(context.Background(), testActor, Intent{PlanID: "P3", Cycle: spec.Monthly, CardID: "card-B"})
	require.NoError(t, err)
	assert.Equal(t, Redirecting, res.Phase)
	assert.Equal(t, []string{
		"updatePaymentMethod(sub_1,card-B)",
		"changeSubscription(sub_1,P3,monthly)",
	}, h.calls.list())
	assert.Equal(t, "true", redirectQuery(t, res).Get("isUpdate"))
}

func TestPaymentUpdateFailureStopsBeforeChange(t *testing.T) {
	h := newHarness(t, onPlan("P1", spec.Monthly, "card-A"))
	h.subs.fail["payment"] = failure("No se pudo actualizar la tarjeta")

	res, err := h.runner.Submit(context.Background(), testActor, Intent{PlanID: "P3", Cycle: spec.Monthly, CardID: "card-B"})
	require.NoError(t, err)
	assert.Equal(t, Failed, res.Phase)
	assert.Equal(t, "No se pudo actualizar la tarjeta", res.Error)
	assert.Equal(t, []string{"updatePaymentMethod(sub_1,card-B)"}, h.calls.list())
}

func TestPaymentOnlyChangeNeverChangesPlan(t *testing.T) {
	h := newHarness(t, onPlan("P1", spec.Monthly, "card-A"))
	res, err := h.runner.Submit(context.Background(), testActor, Intent{PlanID: "P1", Cycle: spec.Monthly, CardID: "card-B"})
	require.NoError(t, err)
	assert.Equal(t, Redirecting, res.Phase)
	assert.Equal(t, []string{"updatePaymentMethod(sub_1,card-B)"}, h.calls.list())

	q := redirectQuery(t, res)
	assert.Equal(t, "true", q.Get("isUpdate"))
	assert.Equal(t, "4444", q.Get("cardLast4"))
}

func TestPaymentOnlyChangeWithNewCard(t *testing.T) {
	h := newHarness(t, onPlan("P1", spec.Monthly, "card-A"))
	res, err := h.runner.Submit(context.Background(), testActor, Intent{PlanID: "P1", Cycle: spec.Monthly, NewCard: newCard()})
	require.NoError(t, err)
	assert.Equal(t, Redirecting, res.Phase)
	assert.Equal(t, []string{"createCard(1111)", "updatePaymentMethod(sub_1,card-new)"}, h.calls.list())
}

func TestDowngradeWithSameCardChangesOnly(t *testing.T) {
	h := newHarness(t, onPlan("P1", spec.Monthly, "card-A"))

	c, err := h.runner.Load(context.Background(), testActor, Query{PlanID: "P2", Cycle: spec.Monthly})
	require.NoError(t, err)
	require.NotNil(t, c.Quote.Downgrade)
	assert.Equal(t, pricing.ChangeDowngrade, c.Quote.Change)
	assert.Equal(t, periodEnd, c.Quote.Downgrade.EffectiveDate)
	assert.Equal(t, "Pro", c.Quote.Downgrade.CurrentPlanName)
	assert.Equal(t, "Básico", c.Quote.Downgrade.NewPlanName)

	res, err := h.runner.Submit(context.Background(), testActor, Intent{PlanID: "P2", Cycle: spec.Monthly, CardID: "card-A"})
	require.NoError(t, err)
	assert.Equal(t, Redirecting, res.Phase)
	assert.Equal(t, []string{"changeSubscription(sub_1,P2,monthly)"}, h.calls.list())
	assert.Equal(t, "visa", redirectQuery(t, res).Get("cardBrand"))
}

func TestCycleOnlyChangeOmitsPlan(t *testing.T) {
	h := newHarness(t, onPlan("P1", spec.Monthly, "card-A"))
	_, err := h.runner.Submit(context.Background(), testActor, Intent{PlanID: "P1", Cycle: spec.Annual})
	require.NoError(t, err)
	assert.Equal(t, []string{"changeSubscription(sub_1,,annual)"}, h.calls.list())
}

func TestUpgradeWithNewCard(t *testing.T) {
	h := newHarness(t, onPlan("P1", spec.Monthly, "card-A"))
	_, err := h.runner.Submit(context.Background(), testActor, Intent{PlanID: "P3", Cycle: spec.Monthly, NewCard: newCard()})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"createCard(1111)",
		"updatePaymentMethod(sub_1,card-new)",
		"changeSubscription(sub_1,P3,monthly)",
	}, h.calls.list())
}

func TestUpgradeAfterFiscalData(t *testing.T) {
	h := newHarness(t, onPlan("P1", spec.Monthly, "card-A"))
	_, err := h.runner.Submit(context.Background(), testActor, Intent{
		PlanID: "P3", Cycle: spec.Monthly, CardID: "card-B", WantsFiscal: true, Fiscal: fiscalRecord(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"saveFiscalData(TAC010101AB1)",
		"updatePaymentMethod(sub_1,card-B)",
		"changeSubscription(sub_1,P3,monthly)",
	}, h.calls.list())
}

func TestResubmissionDecidesFromTheTop(t *testing.T) {
	h := newHarness(t, nil)
	h.subs.fail["create"] = failure("Error al crear la suscripción")

	in := Intent{PlanID: "P1", Cycle: spec.Monthly, NewCard: newCard(), WantsFiscal: true, Fiscal: fiscalRecord()}
	res, err := h.runner.Submit(context.Background(), testActor, in)
	require.NoError(t, err)
	assert.Equal(t, Failed, res.Phase)
	assert.Equal(t, "Error al crear la suscripción", res.Error)
	assert.Equal(t, []string{
		"saveFiscalData(TAC010101AB1)",
		"createCard(1111)",
		"createSubscription(P1,monthly,card-new)",
	}, h.calls.list())

	// fiscal data and the card now exist; the customer picks the saved card
	delete(h.subs.fail, "create")
	h.calls.log = nil
	res, err = h.runner.Submit(context.Background(), testActor, Intent{
		PlanID: "P1", Cycle: spec.Monthly, CardID: "card-new", WantsFiscal: true, Fiscal: fiscalRecord(),
	})
	require.NoError(t, err)
	assert.Equal(t, Redirecting, res.Phase)
	assert.Equal(t, []string{"createSubscription(P1,monthly,card-new)"}, h.calls.list())
	assert.Len(t, h.journal.begun, 2)
}

func TestResubmissionSeesNewSubscription(t *testing.T) {
	h := newHarness(t, nil)
	in := Intent{PlanID: "P1", Cycle: spec.Monthly, CardID: "card-A"}
	_, err := h.runner.Submit(context.Background(), testActor, in)
	require.NoError(t, err)

	// the subscription exists now, so the same submission is a no-op
	h.subs.current = onPlan("P1", spec.Monthly, "card-A")
	_, err = h.runner.Submit(context.Background(), testActor, in)
	assert.ErrorIs(t, err, ErrNoChange)
	assert.Len(t, h.calls.list(), 1)
}

func TestValidationErrorsIssueNoCalls(t *testing.T) {
	cases := map[string]struct {
		in    Intent
		field string
	}{
		"missing plan":   {Intent{Cycle: spec.Monthly, CardID: "card-A"}, "plan_id"},
		"bad cycle":      {Intent{PlanID: "P1", Cycle: "weekly", CardID: "card-A"}, "cycle"},
		"both sources":   {Intent{PlanID: "P1", Cycle: spec.Monthly, CardID: "card-A", NewCard: newCard()}, "card_id"},
		"bad card":       {Intent{PlanID: "P1", Cycle: spec.Monthly, NewCard: func() *vault.CardFields { c := newCard(); c.CardNumber = "1234"; return c }()}, "new_card.card_number"},
		"fiscal missing": {Intent{PlanID: "P1", Cycle: spec.Monthly, CardID: "card-A", WantsFiscal: true}, "fiscal"},
		"fiscal bad rfc": {Intent{PlanID: "P1", Cycle: spec.Monthly, CardID: "card-A", WantsFiscal: true, Fiscal: &spec.FiscalRecord{RFC: "X", BusinessName: "a", PostalCode: "06600"}}, "fiscal.rfc"},
		"no payment":     {Intent{PlanID: "P1", Cycle: spec.Monthly}, "card_id"},
		"unknown card":   {Intent{PlanID: "P1", Cycle: spec.Monthly, CardID: "card-Z"}, "card_id"},
		"expired card":   {Intent{PlanID: "P1", Cycle: spec.Monthly, CardID: "card-old"}, "card_id"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil)
			_, err := h.runner.Submit(context.Background(), testActor, tc.in)
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Contains(t, vErr.Fields, tc.field)
			assert.Empty(t, h.calls.list())
		})
	}
}

func TestInvalidCycleForPlan(t *testing.T) {
	h := newHarness(t, nil)
	catalog["MONTHLY-ONLY"] = &spec.Plan{ID: "MONTHLY-ONLY", BillingCycles: []spec.Cycle{spec.Monthly}, CountryAvailability: catalog["P1"].CountryAvailability}
	defer delete(catalog, "MONTHLY-ONLY")

	_, err := h.runner.Submit(context.Background(), testActor, Intent{PlanID: "MONTHLY-ONLY", Cycle: spec.Annual, CardID: "card-A"})
	assert.ErrorIs(t, err, pricing.ErrInvalidCycle)
	assert.Empty(t, h.calls.list())
}

func TestUnknownPlan(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.runner.Submit(context.Background(), testActor, Intent{PlanID: "nope", Cycle: spec.Monthly, CardID: "card-A"})
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestOneChainPerShop(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.runner.lock(testActor.Store.ID))

	_, err := h.runner.Submit(context.Background(), testActor, Intent{PlanID: "P1", Cycle: spec.Monthly, CardID: "card-A"})
	assert.ErrorIs(t, err, ErrInFlight)
	assert.Empty(t, h.calls.list())

	h.runner.unlock(testActor.Store.ID)
	_, err = h.runner.Submit(context.Background(), testActor, Intent{PlanID: "P1", Cycle: spec.Monthly, CardID: "card-A"})
	assert.NoError(t, err)
}

func TestLoadAddsPreviewCreditOnUpgrade(t *testing.T) {
	h := newHarness(t, onPlan("P1", spec.Monthly, "card-A"))
	amount := decimal.RequireFromString("-101.456")
	h.subs.preview = &subscription.Preview{ProratedAmount: &amount, RemainingDays: 12}

	c, err := h.runner.Load(context.Background(), testActor, Query{PlanID: "P3", Cycle: spec.Monthly, Preview: true})
	require.NoError(t, err)
	assert.Equal(t, pricing.ChangeUpgrade, c.Quote.Change)
	require.NotNil(t, c.Quote.Credit)
	assert.Equal(t, "-101.46", c.Quote.Credit.Amount.String())
	assert.Contains(t, c.Quote.Credit.Label, "12")

	h.subs.preview = nil
	c, err = h.runner.Load(context.Background(), testActor, Query{PlanID: "P3", Cycle: spec.Monthly, Preview: true})
	require.NoError(t, err)
	assert.Nil(t, c.Quote.Credit)
}

func TestNewRunnerRejectsSuccessURL(t *testing.T) {
	h := newHarness(t, nil)
	for _, base := range []string{"", "/success", "store.example.com/success", "https://store.example.com/%zz"} {
		option := h.runner.Options
		option.SuccessURL = base
		_, err := NewRunner(option)
		assert.Error(t, err, base)
	}

	option := h.runner.Options
	option.SuccessURL = "http://localhost:3000/checkout/success"
	_, err := NewRunner(option)
	assert.NoError(t, err)
}
