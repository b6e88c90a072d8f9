package checkout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zllovesuki/storecheckout/access"
	"github.com/zllovesuki/storecheckout/pricing"
	"github.com/zllovesuki/storecheckout/remote"
	"github.com/zllovesuki/storecheckout/spec"
	"github.com/zllovesuki/storecheckout/spec/broker"
	"github.com/zllovesuki/storecheckout/subscription"
	"github.com/zllovesuki/storecheckout/vault"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Subscriptions is the subscription service as used by the checkout
type Subscriptions interface {
	GetPlan(ctx context.Context, planID string) (*spec.Plan, error)
	GetCurrent(ctx context.Context, shopID int64) (*spec.CurrentSubscription, error)
	Create(ctx context.Context, req subscription.CreateRequest) error
	Change(ctx context.Context, subscriptionID, planID string, cycle spec.Cycle) error
	UpdatePaymentMethod(ctx context.Context, subscriptionID, cardID string) error
	Preview(ctx context.Context, subscriptionID, planID string, cycle spec.Cycle) (*subscription.Preview, error)
}

// Cards is the card vault as used by the checkout
type Cards interface {
	ListCards(ctx context.Context, customerID string) ([]spec.SavedCard, error)
	CreateCard(ctx context.Context, f vault.CardFields, o vault.Owner) (*vault.CreateResult, error)
}

// FiscalData is the fiscal data service as used by the checkout
type FiscalData interface {
	Exists(ctx context.Context, sellerID int64) (bool, error)
	Save(ctx context.Context, storeID int64, rec spec.FiscalRecord) error
}

// Journal keeps a durable trace of submissions for reconciliation
type Journal interface {
	Begin(ctx context.Context, a Attempt) error
	Record(ctx context.Context, attemptID string, step StepResult) error
	Finish(ctx context.Context, attemptID string, s State) error
}

// Metrics observes submissions
type Metrics interface {
	StepObserved(step string, ok bool, elapsed time.Duration)
	SubmissionFinished(outcome string)
}

// Actor is who submits, and for which store
type Actor struct {
	Store access.Store
	Email string
	Phone string
}

// Attempt is one decided submission
type Attempt struct {
	ID        string     `json:"id"`
	ShopID    int64      `json:"shop_id"`
	SellerID  int64      `json:"seller_id"`
	Email     string     `json:"email"`
	PlanID    string     `json:"plan_id"`
	Cycle     spec.Cycle `json:"cycle"`
	Decision  Phase      `json:"decision"`
	Pending   Pending    `json:"pending"`
	StartedAt time.Time  `json:"started_at"`
}

// AttemptRecord is a journaled Attempt with what became of it.
// State is empty and FinishedAt nil while the chain has not reached a terminal phase.
type AttemptRecord struct {
	Attempt
	State      Phase             `json:"state,omitempty"`
	Failure    *Failure          `json:"failure,omitempty"`
	Targets    map[string]string `json:"targets,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Steps      []StepResult      `json:"steps"`
}

// Reconciler reads the journal back, to find chains whose collaborator side effects were left half done
type Reconciler interface {
	GetByID(ctx context.Context, id string) (*AttemptRecord, error)
	// Unfinished lists attempts started before the cutoff that never finished. shopID 0 means every shop.
	Unfinished(ctx context.Context, shopID int64, before time.Time) ([]AttemptRecord, error)
}

// StepResult is the outcome of one issued call
type StepResult struct {
	Kind    EffectKind    `json:"kind"`
	OK      bool          `json:"ok"`
	Message string        `json:"message,omitempty"`
	CardID  string        `json:"card_id,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Result is the terminal outcome of a submission
type Result struct {
	AttemptID   string         `json:"attempt_id"`
	Phase       Phase          `json:"state"`
	RedirectURL string         `json:"redirect_url,omitempty"`
	Error       string         `json:"error,omitempty"`
	Steps       []StepResult   `json:"steps"`
	Quote       *pricing.Quote `json:"quote,omitempty"`
}

// Options contains the configuration of the checkout Runner
type Options struct {
	Subscriptions Subscriptions
	Cards         Cards
	Fiscal        FiscalData
	Pricing       *pricing.Resolver
	Validator     *vault.Validator
	Logger        *zap.Logger

	// SuccessURL receives the terminal redirect
	SuccessURL string

	// Journal, Events and Metrics are optional
	Journal Journal
	Events  broker.Producer
	Metrics Metrics

	Now func() time.Time
}

// Runner drives submissions from decision to a terminal state
type Runner struct {
	Options

	mu       sync.Mutex
	inflight map[int64]struct{}
}

// NewRunner returns a checkout Runner
func NewRunner(option Options) (*Runner, error) {
	if option.Subscriptions == nil {
		return nil, fmt.Errorf("nil Subscriptions is invalid")
	}
	if option.Cards == nil {
		return nil, fmt.Errorf("nil Cards is invalid")
	}
	if option.Fiscal == nil {
		return nil, fmt.Errorf("nil Fiscal is invalid")
	}
	if option.Pricing == nil {
		return nil, fmt.Errorf("nil Pricing is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.SuccessURL == "" {
		return nil, fmt.Errorf("empty SuccessURL is invalid")
	}
	if err := checkSuccessURL(option.SuccessURL); err != nil {
		return nil, err
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	if option.Validator == nil {
		option.Validator = vault.NewValidator(option.Now)
	}
	return &Runner{
		Options:  option,
		inflight: make(map[int64]struct{}),
	}, nil
}

// Query selects what to load and quote
type Query struct {
	PlanID  string
	Cycle   spec.Cycle
	Country string

	// Cards and Fiscal extend the load beyond plan and subscription
	Cards  bool
	Fiscal bool
	// Preview asks the subscription service for the proration of an upgrade
	Preview bool
}

// Load prefetches the context of a checkout concurrently. Reads only.
func (r *Runner) Load(ctx context.Context, actor Actor, q Query) (Context, error) {
	c := Context{
		ShopID:   actor.Store.ID,
		SellerID: actor.Store.SellerID,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		plan, err := r.Subscriptions.GetPlan(gctx, q.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return extErrors.Wrap(ErrPlanNotFound, q.PlanID)
		}
		c.Plan = plan
		return nil
	})
	g.Go(func() error {
		cur, err := r.Subscriptions.GetCurrent(gctx, actor.Store.ID)
		c.Current = cur
		return err
	})
	if q.Cards {
		g.Go(func() error {
			cards, err := r.Cards.ListCards(gctx, actor.Store.PaymentCustomerID)
			c.Cards = cards
			return err
		})
	}
	if q.Fiscal {
		g.Go(func() error {
			exists, err := r.Fiscal.Exists(gctx, actor.Store.SellerID)
			c.FiscalExists = exists
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return c, err
	}

	var currentPlan *spec.Plan
	if c.Current != nil && c.Current.Plan == nil && c.Current.PlanID != "" {
		if c.Current.PlanID == c.Plan.ID {
			currentPlan = c.Plan
		} else if p, err := r.Subscriptions.GetPlan(ctx, c.Current.PlanID); err != nil {
			// without it a downgrade reads as an upgrade; the change call itself is unaffected
			r.Logger.Info("Cannot load the current plan",
				zap.String("PlanID", c.Current.PlanID),
				zap.Error(err),
			)
		} else {
			currentPlan = p
		}
	}

	req := pricing.Request{
		Plan:        c.Plan,
		Country:     q.Country,
		Cycle:       q.Cycle,
		Current:     c.Current,
		CurrentPlan: currentPlan,
	}
	quote, err := r.Pricing.Resolve(req)
	if err != nil {
		return c, err
	}

	if q.Preview && quote.Change == pricing.ChangeUpgrade {
		if credit := r.credit(ctx, c.Current, q); credit != nil {
			req.Credit = credit
			if quote, err = r.Pricing.Resolve(req); err != nil {
				return c, err
			}
		}
	}
	c.Quote = quote
	return c, nil
}

func (r *Runner) credit(ctx context.Context, cur *spec.CurrentSubscription, q Query) *pricing.CreditLine {
	planID := q.PlanID
	if cur.PlanID == planID {
		planID = ""
	}
	preview, err := r.Subscriptions.Preview(ctx, cur.SubscriptionID, planID, q.Cycle)
	if err != nil {
		r.Logger.Info("Change preview unavailable",
			zap.String("SubscriptionID", cur.SubscriptionID),
			zap.Error(err),
		)
		return nil
	}
	if preview == nil || preview.ProratedAmount == nil {
		return nil
	}
	return &pricing.CreditLine{
		Label:  creditLabel(preview),
		Amount: *preview.ProratedAmount,
	}
}

func creditLabel(p *subscription.Preview) string {
	if p.RemainingDays > 0 {
		return "Crédito por " + strconv.Itoa(p.RemainingDays) + " días no utilizados"
	}
	return "Crédito por tiempo no utilizado"
}

func (r *Runner) lock(shopID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[shopID]; busy {
		return false
	}
	r.inflight[shopID] = struct{}{}
	return true
}

func (r *Runner) unlock(shopID int64) {
	r.mu.Lock()
	delete(r.inflight, shopID)
	r.mu.Unlock()
}

// Submit decides the intent against freshly loaded context and runs the chain to
// Redirecting or Failed. Every call starts from the top; nothing resumes mid-chain.
func (r *Runner) Submit(ctx context.Context, actor Actor, in Intent) (*Result, error) {
	if err := in.Check(r.Validator); err != nil {
		return nil, err
	}

	if !r.lock(actor.Store.ID) {
		return nil, ErrInFlight
	}
	defer r.unlock(actor.Store.ID)

	c, err := r.Load(ctx, actor, Query{
		PlanID:  in.PlanID,
		Cycle:   in.Cycle,
		Country: in.Country,
		Cards:   true,
		Fiscal:  in.WantsFiscal,
	})
	if err != nil {
		return nil, err
	}
	if err := in.CheckContext(c, r.Now()); err != nil {
		return nil, err
	}

	d := Decide(in, c)
	if d.NoOp() {
		if r.Metrics != nil {
			r.Metrics.SubmissionFinished("noop")
		}
		return nil, ErrNoChange
	}

	attempt := Attempt{
		ID:        uuid.New().String(),
		ShopID:    actor.Store.ID,
		SellerID:  actor.Store.SellerID,
		Email:     actor.Email,
		PlanID:    in.PlanID,
		Cycle:     in.Cycle,
		Decision:  d.State.Phase,
		Pending:   d.State.Pending,
		StartedAt: r.Now(),
	}
	logger := r.Logger.With(
		zap.String("AttemptID", attempt.ID),
		zap.String("Email", actor.Email),
		zap.Int64("ShopID", actor.Store.ID),
	)
	logger.Info("Checkout decided",
		zap.String("Phase", string(d.State.Phase)),
		zap.String("Await", string(d.State.Pending.Await)),
		zap.String("Then", string(d.State.Pending.Then)),
	)

	// the chain is not abandoned when the caller goes away
	runCtx := context.WithoutCancel(ctx)

	if r.Journal != nil {
		if err := r.Journal.Begin(runCtx, attempt); err != nil {
			logger.Error("Cannot journal checkout attempt", zap.Error(err))
		}
	}

	result := &Result{
		AttemptID: attempt.ID,
		Quote:     c.Quote,
		Steps:     make([]StepResult, 0, 3),
	}

	state, effects := d.State, d.Effects
	for len(effects) > 0 {
		e := effects[0]
		if e.Kind == EffectRedirect {
			u, err := BuildRedirect(r.SuccessURL, state.Targets, c.Quote)
			if err != nil {
				logger.Error("Cannot build redirect", zap.Error(err))
			}
			result.RedirectURL = u
			break
		}

		start := time.Now()
		ev := r.run(runCtx, actor, in, e)
		step := StepResult{
			Kind:    e.Kind,
			OK:      ev.Kind != StepFailed,
			Message: ev.Message,
			CardID:  lo.Ternary(e.Kind == EffectCreateCard, ev.CardID, e.CardID),
			Elapsed: time.Since(start),
		}
		result.Steps = append(result.Steps, step)
		r.observeStep(runCtx, logger, attempt.ID, step)

		state, effects = Step(state, ev)
	}

	result.Phase = state.Phase
	if state.Failure != nil {
		result.Error = state.Failure.Message
	}
	r.finish(runCtx, logger, attempt, actor, state, result)
	return result, nil
}

func (r *Runner) run(ctx context.Context, actor Actor, in Intent, e Effect) Event {
	var err error
	switch e.Kind {
	case EffectSaveFiscal:
		if in.Fiscal == nil {
			return Event{Kind: StepFailed, Message: DefaultFailureMessage}
		}
		if err = r.Fiscal.Save(ctx, actor.Store.ID, *in.Fiscal); err == nil {
			return Event{Kind: FiscalSaved}
		}

	case EffectCreateCard:
		if in.NewCard == nil {
			return Event{Kind: StepFailed, Message: DefaultFailureMessage}
		}
		var created *vault.CreateResult
		created, err = r.Cards.CreateCard(ctx, *in.NewCard, vault.Owner{
			CustomerID: actor.Store.PaymentCustomerID,
			SellerID:   actor.Store.SellerID,
			StoreName:  actor.Store.Name,
			Email:      actor.Email,
			Phone:      actor.Phone,
		})
		if err == nil {
			return Event{Kind: CardCreated, CardID: created.CardID, Brand: created.Brand, Last4: created.Last4}
		}

	case EffectCreateSubscription:
		if err = r.Subscriptions.Create(ctx, subscription.CreateRequest{
			SellerID:  actor.Store.SellerID,
			ShopID:    actor.Store.ID,
			PlanID:    e.PlanID,
			CardID:    e.CardID,
			Cycle:     e.Cycle,
			Currency:  e.Currency,
			CreatedBy: actor.Email,
		}); err == nil {
			return Event{Kind: SubscriptionCreated}
		}

	case EffectChangeSubscription:
		if err = r.Subscriptions.Change(ctx, e.SubscriptionID, e.PlanID, e.Cycle); err == nil {
			return Event{Kind: SubscriptionChanged}
		}

	case EffectUpdatePaymentMethod:
		if err = r.Subscriptions.UpdatePaymentMethod(ctx, e.SubscriptionID, e.CardID); err == nil {
			return Event{Kind: PaymentMethodUpdated}
		}

	default:
		err = fmt.Errorf("unknown effect %q", e.Kind)
	}

	r.Logger.Info("Checkout step failed",
		zap.String("Step", string(e.Kind)),
		zap.Error(err),
	)
	return Event{Kind: StepFailed, Message: remote.UserMessage(err)}
}

func (r *Runner) observeStep(ctx context.Context, logger *zap.Logger, attemptID string, step StepResult) {
	if r.Metrics != nil {
		r.Metrics.StepObserved(string(step.Kind), step.OK, step.Elapsed)
	}
	if r.Journal != nil {
		if err := r.Journal.Record(ctx, attemptID, step); err != nil {
			logger.Error("Cannot journal checkout step", zap.Error(err))
		}
	}
}

func (r *Runner) finish(ctx context.Context, logger *zap.Logger, attempt Attempt, actor Actor, s State, result *Result) {
	outcome := "completed"
	if s.Phase == Failed {
		outcome = "failed"
	}
	logger.Info("Checkout finished",
		zap.String("Outcome", outcome),
		zap.String("Error", result.Error),
	)
	if r.Metrics != nil {
		r.Metrics.SubmissionFinished(outcome)
	}
	if r.Journal != nil {
		if err := r.Journal.Finish(ctx, attempt.ID, s); err != nil {
			logger.Error("Cannot journal checkout outcome", zap.Error(err))
		}
	}
	if r.Events == nil {
		return
	}

	steps := lo.Map(result.Steps, func(st StepResult, _ int) string {
		return string(st.Kind)
	})
	attrs := spec.Metadata{
		"plan_id":   attempt.PlanID,
		"cycle":     string(attempt.Cycle),
		"steps":     strings.Join(steps, ","),
		"is_update": strconv.FormatBool(s.Targets.IsUpdate()),
	}
	if result.Quote != nil {
		attrs["total"] = result.Quote.Total.StringFixed(pricing.Places(result.Quote.Currency))
		attrs["currency"] = result.Quote.Currency
	}
	if s.Failure != nil {
		attrs["failed_step"] = string(s.Failure.Phase)
	}
	if err := r.Events.PublishCheckoutEvent(ctx, broker.CheckoutEvent{
		Kind:       "checkout." + outcome,
		AttemptID:  attempt.ID,
		ShopID:     strconv.FormatInt(actor.Store.ID, 10),
		SellerID:   strconv.FormatInt(actor.Store.SellerID, 10),
		Email:      actor.Email,
		Path:       string(attempt.Decision),
		State:      string(s.Phase),
		Error:      result.Error,
		Attributes: attrs,
	}); err != nil {
		logger.Error("Cannot publish checkout event", zap.Error(err))
	}
}
