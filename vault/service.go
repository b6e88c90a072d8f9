package vault

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/zllovesuki/storecheckout/access"
	"github.com/zllovesuki/storecheckout/auth"
	"github.com/zllovesuki/storecheckout/remote"
	resp "github.com/zllovesuki/storecheckout/response"
	"github.com/zllovesuki/storecheckout/spec"

	"github.com/go-chi/chi"
	extErrors "github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration of the card management router
type ServiceOptions struct {
	Vault     *Client
	Validator *Validator
	Logger    *zap.Logger
	Now       func() time.Time
}

// Service is the card management API router
type Service struct {
	ServiceOptions
}

// NewService returns the card management router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Vault == nil {
		return nil, fmt.Errorf("nil Vault is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	if option.Validator == nil {
		option.Validator = NewValidator(option.Now)
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// CardView is a saved card as shown by the storefront
type CardView struct {
	spec.SavedCard
	Expiration    string `json:"expiration"`
	Expired       bool   `json:"expired"`
	AlmostExpired bool   `json:"almost_expired"`
	DaysLeft      int    `json:"days_left"`
}

// View decorates cards with their expiry state at now
func View(cards []spec.SavedCard, now time.Time) []CardView {
	return lo.Map(cards, func(c spec.SavedCard, _ int) CardView {
		return CardView{
			SavedCard:     c,
			Expiration:    c.ExpirationLabel(),
			Expired:       c.IsExpired(now),
			AlmostExpired: c.AlmostExpired(now),
			DaysLeft:      c.DaysLeft(now),
		}
	})
}

type requestScope struct {
	store  *access.Store
	claims *auth.Claims
	logger *zap.Logger
}

func (s *Service) scope(w http.ResponseWriter, r *http.Request) (*requestScope, bool) {
	store, ok := access.FromContext(r.Context())
	if !ok {
		s.Logger.Error("Context has no Store")
		resp.WriteError(w, r, resp.ErrUnexpected())
		return nil, false
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		s.Logger.Error("Context has no Claims")
		resp.WriteError(w, r, resp.ErrUnexpected())
		return nil, false
	}
	return &requestScope{
		store:  store,
		claims: claims,
		logger: s.Logger.With(
			zap.String("Email", claims.Email),
			zap.Int64("ShopID", store.ID),
		),
	}, true
}

// owned fails the request unless cardID belongs to the store's payment customer
func (s *Service) owned(w http.ResponseWriter, r *http.Request, sc *requestScope, cardID string) bool {
	cards, err := s.Vault.ListCards(r.Context(), sc.store.PaymentCustomerID)
	if err != nil {
		sc.logger.Error("Unable to list cards", zap.Error(err))
		resp.WriteError(w, r, resp.ErrBadGateway().AddMessages(remote.UserMessage(err)))
		return false
	}
	if !lo.ContainsBy(cards, func(c spec.SavedCard) bool { return c.ID == cardID }) {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Tarjeta no encontrada"))
		return false
	}
	return true
}

func (s *Service) listCards(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.scope(w, r)
	if !ok {
		return
	}
	cards, err := s.Vault.ListCards(r.Context(), sc.store.PaymentCustomerID)
	if err != nil {
		sc.logger.Error("Unable to list cards", zap.Error(err))
		resp.WriteError(w, r, resp.ErrBadGateway().AddMessages(remote.UserMessage(err)))
		return
	}
	resp.WriteResponse(w, r, View(cards, s.Now()))
}

type createCardResponse struct {
	CardID       string `json:"card_id"`
	Brand        string `json:"brand"`
	Last4        string `json:"last4"`
	BackupFailed bool   `json:"backup_failed,omitempty"`
}

func (s *Service) createCard(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.scope(w, r)
	if !ok {
		return
	}
	var fields CardFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.Validator.Validate(fields); err != nil {
		var fErrs spec.FieldErrors
		if extErrors.As(err, &fErrs) {
			resp.WriteError(w, r, resp.ErrUnprocessable().WithResult(fErrs))
			return
		}
		sc.logger.Error("Unable to validate card", zap.Error(err))
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	result, err := s.Vault.CreateCard(r.Context(), fields, Owner{
		CustomerID: sc.store.PaymentCustomerID,
		SellerID:   sc.store.SellerID,
		StoreName:  sc.store.Name,
		Email:      sc.claims.Email,
		Phone:      sc.claims.PhoneNumber,
	})
	if err != nil {
		var cErr *CreateError
		if extErrors.As(err, &cErr) && cErr.CVVError {
			resp.WriteError(w, r, resp.ErrUnprocessable().
				AddMessages(cErr.Message).
				WithResult(spec.FieldErrors{"cvv": messageFor("cvv")}))
			return
		}
		resp.WriteError(w, r, resp.ErrBadGateway().AddMessages(remote.UserMessage(err)))
		return
	}

	resp.WriteStatus(w, r, http.StatusCreated, createCardResponse{
		CardID:       result.CardID,
		Brand:        result.Brand,
		Last4:        result.Last4,
		BackupFailed: result.BackupFailed,
	})
}

func (s *Service) setDefault(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.scope(w, r)
	if !ok {
		return
	}
	cardID := chi.URLParam(r, "id")
	if !s.owned(w, r, sc, cardID) {
		return
	}
	if err := s.Vault.SetDefault(r.Context(), sc.store.SellerID, cardID, sc.claims.Email); err != nil {
		sc.logger.Error("Unable to set default card", zap.String("CardID", cardID), zap.Error(err))
		resp.WriteError(w, r, resp.ErrBadGateway().AddMessages(remote.UserMessage(err)))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type backupRequest struct {
	Backup bool `json:"backup"`
}

func (s *Service) setBackup(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.scope(w, r)
	if !ok {
		return
	}
	var req backupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	cardID := chi.URLParam(r, "id")
	if !s.owned(w, r, sc, cardID) {
		return
	}
	if err := s.Vault.SetBackup(r.Context(), sc.store.SellerID, cardID, req.Backup, sc.claims.Email); err != nil {
		sc.logger.Error("Unable to set backup card", zap.String("CardID", cardID), zap.Error(err))
		resp.WriteError(w, r, resp.ErrBadGateway().AddMessages(remote.UserMessage(err)))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) deleteCard(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.scope(w, r)
	if !ok {
		return
	}
	cardID := chi.URLParam(r, "id")
	if !s.owned(w, r, sc, cardID) {
		return
	}
	if err := s.Vault.DeleteCard(r.Context(), cardID); err != nil {
		sc.logger.Error("Unable to delete card", zap.String("CardID", cardID), zap.Error(err))
		resp.WriteError(w, r, resp.ErrBadGateway().AddMessages(remote.UserMessage(err)))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) verifyBIN(w http.ResponseWriter, r *http.Request) {
	bin := onlyDigits(chi.URLParam(r, "bin"))
	if len(bin) < 6 {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("BIN must have at least 6 digits"))
		return
	}
	if len(bin) > 8 {
		bin = bin[:8]
	}
	info, err := s.Vault.VerifyBIN(r.Context(), bin)
	if err != nil {
		s.Logger.Info("BIN verification failed", zap.Error(err))
		resp.WriteError(w, r, resp.ErrBadGateway().AddMessages(remote.UserMessage(err)))
		return
	}
	resp.WriteResponse(w, r, struct {
		Brand string    `json:"brand"`
		Types []BINInfo `json:"types"`
	}{
		Brand: Brand(bin),
		Types: info,
	})
}

// Router will return the routes under the cards API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.listCards)
	r.Post("/", s.createCard)
	r.Get("/bin/{bin}", s.verifyBIN)
	r.Put("/{id}/default", s.setDefault)
	r.Put("/{id}/backup", s.setBackup)
	r.Delete("/{id}", s.deleteCard)

	return r
}
