package checkout

import (
	"github.com/zllovesuki/storecheckout/pricing"
	"github.com/zllovesuki/storecheckout/spec"

	"github.com/samber/lo"
)

// Context is what the checkout knows about the shop when a submission is decided
type Context struct {
	ShopID   int64
	SellerID int64

	Plan  *spec.Plan
	Quote *pricing.Quote

	// Current is nil for a first-time subscription
	Current      *spec.CurrentSubscription
	Cards        []spec.SavedCard
	FiscalExists bool
}

// Card returns the saved card id, if any
func (c Context) Card(id string) (spec.SavedCard, bool) {
	return lo.Find(c.Cards, func(card spec.SavedCard) bool {
		return card.ID == id
	})
}

// Decision is the outcome of Decide: the first state of the chain and the effect that starts it
type Decision struct {
	State   State
	Effects []Effect
}

// NoOp reports whether the submission changes nothing
func (d Decision) NoOp() bool {
	return d.State.Phase == Idle && len(d.Effects) == 0
}

// Decide evaluates the transition table once for a validated intent. Rules, first match wins:
//
//  1. same plan, same cycle, same or no payment change: no-op
//  2. same plan, same cycle, payment changed: payment-only update
//  3. fiscal capture wanted and absent: save fiscal data, then continue with rules 4 to 6
//  4. current subscription with plan or cycle change: change, preceded by a payment update for another card
//  5. saved card: create the subscription
//  6. new card: create the card, then the subscription with its id
func Decide(in Intent, c Context) Decision {
	t := targets(in, c)

	cur := c.Current
	samePlanAndCycle := cur != nil && cur.PlanID == in.PlanID && cur.BillingCycle == in.Cycle

	if samePlanAndCycle {
		if !t.UpdatePayment {
			return Decision{State: State{Phase: Idle, Targets: t}}
		}
		s, effects := advance(State{Targets: t}, ThenRedirect, true)
		return Decision{State: s, Effects: effects}
	}

	next := continuation(t)

	if in.WantsFiscal && !c.FiscalExists {
		s := State{
			Phase:   SavingFiscalData,
			Pending: AwaitingFiscalThen(next),
			Targets: t,
		}
		return Decision{State: s, Effects: []Effect{{Kind: EffectSaveFiscal}}}
	}

	s, effects := advance(State{Targets: t}, next, false)
	return Decision{State: s, Effects: effects}
}

func targets(in Intent, c Context) Targets {
	t := Targets{
		ShopID:   c.ShopID,
		SellerID: c.SellerID,
		PlanID:   in.PlanID,
		Cycle:    in.Cycle,
	}
	if c.Quote != nil {
		t.PlanName = c.Quote.PlanName
		t.Currency = c.Quote.Currency
	} else if c.Plan != nil {
		t.PlanName = c.Plan.Title()
	}

	chosen := in.CardID
	if c.Current != nil {
		t.SubscriptionID = c.Current.SubscriptionID
		t.PlanChanged = c.Current.PlanID != in.PlanID
		if chosen == "" && in.NewCard == nil {
			chosen = c.Current.PaymentMethodID
		}
	}

	switch {
	case in.NewCard != nil:
		t.NewCard = true
		t.UpdatePayment = c.Current != nil
		t.CardBrand = in.NewCard.Brand()
		t.CardLast4 = in.NewCard.Last4()
	default:
		t.CardID = chosen
		t.UpdatePayment = c.Current != nil && chosen != c.Current.PaymentMethodID
		if card, ok := c.Card(chosen); ok {
			t.CardBrand = card.Brand
			t.CardLast4 = card.Last4
		}
	}
	return t
}

// continuation picks rules 4 to 6 for t
func continuation(t Targets) Then {
	switch {
	case t.IsUpdate():
		return ThenChangePlan
	case t.NewCard:
		return ThenCreateThenSubscribe
	default:
		return ThenSubscribe
	}
}

// advance starts next from a state with nothing pending.
// A payment-only chain (paymentOnly) attaches the card and redirects without changing the plan.
func advance(s State, next Then, paymentOnly bool) (State, []Effect) {
	t := s.Targets
	s.Failure = nil

	if paymentOnly || next == ThenChangePlan {
		after := ThenChangePlan
		if paymentOnly {
			after = ThenRedirect
		}
		switch {
		case t.NewCard && t.CardID == "":
			return enter(s, CreatingCard, AwaitingCardThen(after))
		case t.UpdatePayment:
			return enter(s, UpdatingPaymentMethod, AwaitingPaymentUpdateThen(after))
		case paymentOnly:
			return enter(s, Redirecting, None)
		default:
			return enter(s, ChangingSubscription, None)
		}
	}

	switch next {
	case ThenCreateThenSubscribe:
		if t.CardID == "" {
			return enter(s, CreatingCard, AwaitingCardThen(ThenSubscribe))
		}
		return enter(s, CreatingSubscription, None)
	case ThenSubscribe:
		return enter(s, CreatingSubscription, None)
	case ThenRedirect:
		return enter(s, Redirecting, None)
	}
	return enter(s, Redirecting, None)
}

// enter moves s to phase and emits the call that phase issues
func enter(s State, phase Phase, pending Pending) (State, []Effect) {
	s.Phase = phase
	s.Pending = pending
	t := s.Targets

	var e Effect
	switch phase {
	case SavingFiscalData:
		e = Effect{Kind: EffectSaveFiscal}
	case CreatingCard:
		e = Effect{Kind: EffectCreateCard}
	case CreatingSubscription:
		e = Effect{Kind: EffectCreateSubscription, PlanID: t.PlanID, Cycle: t.Cycle, CardID: t.CardID, Currency: t.Currency}
	case ChangingSubscription:
		e = Effect{Kind: EffectChangeSubscription, SubscriptionID: t.SubscriptionID, Cycle: t.Cycle}
		if t.PlanChanged {
			e.PlanID = t.PlanID
		}
	case UpdatingPaymentMethod:
		e = Effect{Kind: EffectUpdatePaymentMethod, SubscriptionID: t.SubscriptionID, CardID: t.CardID}
	case Redirecting:
		e = Effect{Kind: EffectRedirect}
	default:
		return s, nil
	}
	return s, []Effect{e}
}

// expects maps the phase to the only event that completes it
var expects = map[Phase]EventKind{
	SavingFiscalData:      FiscalSaved,
	CreatingCard:          CardCreated,
	CreatingSubscription:  SubscriptionCreated,
	ChangingSubscription:  SubscriptionChanged,
	UpdatingPaymentMethod: PaymentMethodUpdated,
}

// Step is the orchestrator's reducer. It never performs I/O: it returns the next state and
// the calls to issue. Events that do not complete the current phase leave s unchanged.
func Step(s State, ev Event) (State, []Effect) {
	want, inFlight := expects[s.Phase]
	if !inFlight {
		return s, nil
	}

	if ev.Kind == StepFailed {
		msg := ev.Message
		if msg == "" {
			msg = DefaultFailureMessage
		}
		s.Failure = &Failure{Phase: s.Phase, Message: msg}
		s.Phase = Failed
		s.Pending = None
		return s, nil
	}
	if ev.Kind != want {
		return s, nil
	}

	pending := s.Pending
	s.Pending = None

	switch s.Phase {
	case SavingFiscalData:
		return advance(s, pending.Then, false)

	case CreatingCard:
		if ev.CardID == "" {
			s.Failure = &Failure{Phase: CreatingCard, Message: DefaultFailureMessage}
			s.Phase = Failed
			return s, nil
		}
		s.Targets.CardID = ev.CardID
		if ev.Brand != "" {
			s.Targets.CardBrand = ev.Brand
		}
		if ev.Last4 != "" {
			s.Targets.CardLast4 = ev.Last4
		}
		switch pending.Then {
		case ThenChangePlan, ThenRedirect:
			return enter(s, UpdatingPaymentMethod, AwaitingPaymentUpdateThen(pending.Then))
		default:
			return enter(s, CreatingSubscription, None)
		}

	case UpdatingPaymentMethod:
		if pending.Then == ThenChangePlan {
			return enter(s, ChangingSubscription, None)
		}
		return enter(s, Redirecting, None)
	}

	// CreatingSubscription and ChangingSubscription end the chain
	return enter(s, Redirecting, None)
}
