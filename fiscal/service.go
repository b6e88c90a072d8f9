package fiscal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/zllovesuki/storecheckout/access"
	"github.com/zllovesuki/storecheckout/remote"
	resp "github.com/zllovesuki/storecheckout/response"
	"github.com/zllovesuki/storecheckout/spec"

	"github.com/go-chi/chi"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration of the fiscal API router
type ServiceOptions struct {
	Fiscal  *Client
	Catalog *Catalog
	Logger  *zap.Logger
}

// Service is the fiscal API router
type Service struct {
	ServiceOptions
}

// NewService returns the fiscal API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Fiscal == nil {
		return nil, fmt.Errorf("nil Fiscal is invalid")
	}
	if option.Catalog == nil {
		return nil, fmt.Errorf("nil Catalog is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

type fiscalResponse struct {
	Exists  bool               `json:"exists"`
	Record  *spec.FiscalRecord `json:"record,omitempty"`
	Display *BillingInfo       `json:"display,omitempty"`
}

func (s *Service) getFiscal(w http.ResponseWriter, r *http.Request) {
	store, ok := access.FromContext(r.Context())
	if !ok {
		s.Logger.Error("Context has no Store")
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	rec, err := s.Fiscal.Get(r.Context(), store.SellerID)
	if err != nil {
		s.Logger.Error("Unable to get fiscal data",
			zap.Int64("SellerID", store.SellerID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrBadGateway().AddMessages(remote.UserMessage(err)))
		return
	}
	resp.WriteResponse(w, r, fiscalResponse{
		Exists:  rec != nil,
		Record:  rec,
		Display: Display(rec),
	})
}

func (s *Service) saveFiscal(w http.ResponseWriter, r *http.Request) {
	store, ok := access.FromContext(r.Context())
	if !ok {
		s.Logger.Error("Context has no Store")
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	var rec spec.FiscalRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.Fiscal.Save(r.Context(), store.ID, rec); err != nil {
		var fErrs spec.FieldErrors
		if extErrors.As(err, &fErrs) {
			resp.WriteError(w, r, resp.ErrUnprocessable().WithResult(fErrs))
			return
		}
		s.Logger.Error("Unable to save fiscal data",
			zap.Int64("StoreID", store.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrBadGateway().AddMessages(remote.UserMessage(err)))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) persona(w http.ResponseWriter, r *http.Request) (string, bool) {
	rfc := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("rfc")))
	persona, ok := PersonaFromRFC(rfc)
	if !ok {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("RFC must have 12 or 13 characters"))
		return "", false
	}
	return persona, true
}

func (s *Service) listRegimes(w http.ResponseWriter, r *http.Request) {
	persona, ok := s.persona(w, r)
	if !ok {
		return
	}
	list, err := s.Catalog.Regimes(r.Context(), persona)
	if err != nil {
		s.Logger.Error("Unable to list tax regimes", zap.Error(err))
		resp.WriteError(w, r, resp.ErrBadGateway().AddMessages(remote.UserMessage(err)))
		return
	}
	resp.WriteResponse(w, r, list)
}

func (s *Service) listCFDIUses(w http.ResponseWriter, r *http.Request) {
	persona, ok := s.persona(w, r)
	if !ok {
		return
	}
	regime := strings.TrimSpace(r.URL.Query().Get("regime"))
	if regime == "" {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Missing regime"))
		return
	}
	list, err := s.Catalog.CFDIUses(r.Context(), persona, regime)
	if err != nil {
		s.Logger.Error("Unable to list CFDI uses", zap.Error(err))
		resp.WriteError(w, r, resp.ErrBadGateway().AddMessages(remote.UserMessage(err)))
		return
	}
	resp.WriteResponse(w, r, list)
}

// Router will return the routes under the fiscal API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.getFiscal)
	r.Patch("/", s.saveFiscal)
	r.Get("/regimes", s.listRegimes)
	r.Get("/cfdi-uses", s.listCFDIUses)

	return r
}
