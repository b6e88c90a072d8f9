package checkout

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zllovesuki/storecheckout/access"
	"github.com/zllovesuki/storecheckout/auth"
	"github.com/zllovesuki/storecheckout/pricing"
	"github.com/zllovesuki/storecheckout/remote"
	resp "github.com/zllovesuki/storecheckout/response"
	"github.com/zllovesuki/storecheckout/spec"
	"github.com/zllovesuki/storecheckout/vault"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration of the checkout API router
type ServiceOptions struct {
	Runner *Runner
	Logger *zap.Logger
	// Reconciler is optional; without it the attempt routes are not mounted
	Reconciler Reconciler
}

// StaleAfter is how long an attempt may run before it is listed as unfinished
const StaleAfter = 15 * time.Minute

// Service is the checkout API router
type Service struct {
	ServiceOptions
}

// NewService returns the checkout API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Runner == nil {
		return nil, fmt.Errorf("nil Runner is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) actor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	store, ok := access.FromContext(r.Context())
	if !ok {
		s.Logger.Error("Context has no Store")
		resp.WriteError(w, r, resp.ErrUnexpected())
		return Actor{}, false
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		s.Logger.Error("Context has no Claims")
		resp.WriteError(w, r, resp.ErrUnexpected())
		return Actor{}, false
	}
	return Actor{
		Store: *store,
		Email: claims.Email,
		Phone: claims.PhoneNumber,
	}, true
}

func queryOf(r *http.Request) Query {
	v := r.URL.Query()
	cycle := spec.Cycle(strings.ToLower(v.Get("cycle")))
	if cycle == "" {
		cycle = spec.Monthly
	}
	return Query{
		PlanID:  strings.TrimSpace(v.Get("planId")),
		Cycle:   cycle,
		Country: strings.ToUpper(v.Get("country")),
	}
}

func (s *Service) getQuote(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	q := queryOf(r)
	if q.PlanID == "" {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Missing planId"))
		return
	}
	q.Preview = true

	c, err := s.Runner.Load(r.Context(), actor, q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp.WriteResponse(w, r, c.Quote)
}

type contextResponse struct {
	Plan          *spec.Plan                `json:"plan"`
	Current       *spec.CurrentSubscription `json:"current_subscription"`
	Cards         []vault.CardView          `json:"cards"`
	FiscalExists  bool                      `json:"fiscal_exists"`
	Quote         *pricing.Quote            `json:"quote"`
	SubmitAllowed bool                      `json:"submit_allowed"`
}

func (s *Service) getContext(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	q := queryOf(r)
	if q.PlanID == "" {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Missing planId"))
		return
	}
	q.Cards, q.Fiscal, q.Preview = true, true, true

	c, err := s.Runner.Load(r.Context(), actor, q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// the selection as it stands: plan, cycle and the card picked in the form, if any
	selection := Intent{PlanID: q.PlanID, Cycle: q.Cycle, CardID: r.URL.Query().Get("cardId")}
	resp.WriteResponse(w, r, contextResponse{
		Plan:          c.Plan,
		Current:       c.Current,
		Cards:         vault.View(c.Cards, s.Runner.Now()),
		FiscalExists:  c.FiscalExists,
		Quote:         c.Quote,
		SubmitAllowed: c.Current == nil || !Decide(selection, c).NoOp(),
	})
}

func (s *Service) submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var in Intent
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	result, err := s.Runner.Submit(r.Context(), actor, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if result.Phase == Failed {
		resp.WriteStatus(w, r, http.StatusBadGateway, result)
		return
	}
	resp.WriteResponse(w, r, result)
}

func (s *Service) listUnfinished(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	before := s.Runner.Now().Add(-StaleAfter)
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("before must be an RFC3339 timestamp"))
			return
		}
		before = t
	}

	records, err := s.Reconciler.Unfinished(r.Context(), actor.Store.ID, before)
	if err != nil {
		s.Logger.Error("Cannot list unfinished attempts", zap.Int64("store_id", actor.Store.ID), zap.Error(err))
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	resp.WriteResponse(w, r, records)
}

func (s *Service) getAttempt(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	record, err := s.Reconciler.GetByID(r.Context(), id)
	if err != nil {
		s.Logger.Error("Cannot get attempt", zap.String("attempt_id", id), zap.Error(err))
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	// another shop's attempt is reported the same as a missing one
	if record == nil || record.ShopID != actor.Store.ID {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Attempt not found"))
		return
	}
	resp.WriteResponse(w, r, record)
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *ValidationError
	var aErr *remote.AdapterError
	switch {
	case errors.As(err, &vErr):
		resp.WriteError(w, r, resp.ErrUnprocessable().WithResult(vErr.Fields))
	case errors.Is(err, ErrNoChange):
		resp.WriteError(w, r, resp.ErrConflict().WithMessage("noop").
			AddMessages("Ya tienes este plan con este método de pago"))
	case errors.Is(err, ErrInFlight):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Ya hay un proceso de pago en curso"))
	case errors.Is(err, ErrPlanNotFound):
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("El plan seleccionado no existe"))
	case errors.Is(err, pricing.ErrInvalidCycle):
		resp.WriteError(w, r, resp.ErrUnprocessable().
			WithResult(spec.FieldErrors{"cycle": "El plan no admite este ciclo de facturación"}))
	case errors.Is(err, pricing.ErrPlanNotAvailable):
		resp.WriteError(w, r, resp.ErrUnprocessable().AddMessages("El plan no está disponible en tu país"))
	case errors.As(err, &aErr):
		resp.WriteError(w, r, resp.ErrBadGateway().AddMessages(aErr.Message))
	default:
		s.Logger.Error("Unexpected checkout error", zap.Error(err))
		resp.WriteError(w, r, resp.ErrUnexpected())
	}
}

// Router will return the routes under the checkout API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/quote", s.getQuote)
	r.Get("/context", s.getContext)
	r.Post("/submit", s.submit)

	if s.Reconciler != nil {
		r.Get("/attempts/unfinished", s.listUnfinished)
		r.Get("/attempts/{id}", s.getAttempt)
	}

	return r
}
