package fiscal

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/zllovesuki/storecheckout/remote"
	"github.com/zllovesuki/storecheckout/spec"

	"go.uber.org/zap"
)

const (
	msgGetFailed  = "No se pudo obtener la información fiscal"
	msgSaveFailed = "Error al guardar la información fiscal. Por favor, intenta nuevamente."
)

// Options contains the configuration of the fiscal data Client
type Options struct {
	// Wallet serves reads, Identity serves writes
	Wallet   *remote.Client
	Identity *remote.Client
	Logger   *zap.Logger
}

// Client reads and writes the seller's tax registration
type Client struct {
	Options
}

// NewClient returns a fiscal data Client
func NewClient(option Options) (*Client, error) {
	if option.Wallet == nil {
		return nil, fmt.Errorf("nil Wallet is invalid")
	}
	if option.Identity == nil {
		return nil, fmt.Errorf("nil Identity is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Client{
		Options: option,
	}, nil
}

type walletAddress struct {
	Street       string `json:"street"`
	OuterNumber  string `json:"outer_number"`
	InsideNumber string `json:"inside_number"`
	Zip          string `json:"zip"`
	Suburb       string `json:"suburb"`
	Town         string `json:"town"`
	State        string `json:"state"`
}

type walletTaxInformation struct {
	Address      walletAddress `json:"address"`
	BusinessName string        `json:"business_name"`
	Regimen      string        `json:"regimen"`
	RFC          string        `json:"rfc"`
	TaxpayerType string        `json:"taxpayer_type"`
}

type walletResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		SellerID       int64                `json:"seller_id"`
		BusinessName   string               `json:"business_name"`
		TaxInformation walletTaxInformation `json:"tax_information"`
	} `json:"data"`
}

// Get returns the seller's fiscal record, or nil when none is registered
func (c *Client) Get(ctx context.Context, sellerID int64) (*spec.FiscalRecord, error) {
	id := strconv.FormatInt(sellerID, 10)
	var resp walletResponse
	err := c.Wallet.Do(ctx, remote.Call{
		Op:       "GetFiscalData",
		Path:     "/wallet/invoice/sellers/" + id + "/fiscal-data",
		Header:   http.Header{"seller_id": {id}},
		Fallback: msgGetFailed,
	}, &resp)
	if remote.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !resp.Success || resp.Data == nil || strings.TrimSpace(resp.Data.TaxInformation.RFC) == "" {
		return nil, nil
	}

	ti := resp.Data.TaxInformation
	businessName := ti.BusinessName
	if businessName == "" {
		businessName = resp.Data.BusinessName
	}
	taxpayer := spec.TaxpayerType(strings.ToLower(ti.TaxpayerType))
	if taxpayer != spec.Fisica && taxpayer != spec.Moral {
		taxpayer, _ = spec.TaxpayerTypeFromRFC(ti.RFC)
	}
	return &spec.FiscalRecord{
		TaxpayerType: taxpayer,
		RFC:          ti.RFC,
		BusinessName: businessName,
		PostalCode:   ti.Address.Zip,
		TaxRegime:    ti.Regimen,
		Address:      formatAddress(ti.Address),
	}, nil
}

// Exists reports whether the seller already registered fiscal data
func (c *Client) Exists(ctx context.Context, sellerID int64) (bool, error) {
	rec, err := c.Get(ctx, sellerID)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

type saveRequest struct {
	TaxpayerType spec.TaxpayerType `json:"taxpayer_type"`
	RFC          string            `json:"rfc"`
	BusinessName string            `json:"business_name"`
	Address      struct {
		Zip string `json:"zip"`
	} `json:"address"`
	TaxRegime string `json:"regimen,omitempty"`
}

type saveResponse struct {
	Error   bool   `json:"__error"`
	Message string `json:"message"`
}

// Save registers rec for the store. The record is validated first.
func (c *Client) Save(ctx context.Context, storeID int64, rec spec.FiscalRecord) error {
	rec, err := Normalize(rec)
	if err != nil {
		return err
	}

	req := saveRequest{
		TaxpayerType: rec.TaxpayerType,
		RFC:          rec.RFC,
		BusinessName: rec.BusinessName,
		TaxRegime:    rec.TaxRegime,
	}
	req.Address.Zip = rec.PostalCode

	body, err := c.Identity.Raw(ctx, remote.Call{
		Op:       "SaveFiscalData",
		Method:   http.MethodPatch,
		Path:     "tax_information/" + strconv.FormatInt(storeID, 10),
		Body:     req,
		Fallback: msgSaveFailed,
	})
	if err != nil {
		return err
	}

	var resp saveResponse
	if jsonErr := decodeLoose(body, &resp); jsonErr == nil && resp.Error {
		c.Logger.Info("Fiscal data rejected",
			zap.Int64("StoreID", storeID),
			zap.String("Message", resp.Message),
		)
		return remote.Failure("SaveFiscalData", body, msgSaveFailed)
	}
	return nil
}

// BillingInfo is a FiscalRecord formatted for display
type BillingInfo struct {
	BusinessName  string `json:"razonSocial"`
	RFC           string `json:"rfc"`
	TaxRegime     string `json:"regimenFiscal"`
	TaxpayerLabel string `json:"tipoContribuyente"`
	Address       string `json:"direccion"`
}

var taxpayerLabels = map[spec.TaxpayerType]string{
	spec.Moral:  "Persona Moral",
	spec.Fisica: "Persona Física",
}

// Display maps rec for the checkout summary
func Display(rec *spec.FiscalRecord) *BillingInfo {
	if rec == nil {
		return nil
	}
	regime := rec.TaxRegime
	if regime == "" {
		regime = "No especificado"
	}
	label, ok := taxpayerLabels[rec.TaxpayerType]
	if !ok {
		label = string(rec.TaxpayerType)
	}
	return &BillingInfo{
		BusinessName:  rec.BusinessName,
		RFC:           rec.RFC,
		TaxRegime:     regime,
		TaxpayerLabel: label,
		Address:       rec.Address,
	}
}

func formatAddress(a walletAddress) string {
	number := a.OuterNumber
	if a.InsideNumber != "" && a.InsideNumber != "S/N" {
		number += " Int. " + a.InsideNumber
	}
	zip := ""
	if a.Zip != "" {
		zip = "C.P. " + a.Zip
	}
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Street, number, a.Suburb, a.State, zip} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
