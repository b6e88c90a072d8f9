package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/zllovesuki/storecheckout/remote"
	"github.com/zllovesuki/storecheckout/spec"

	"github.com/fernet/fernet-go"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

const basePath = "/t1-store-global-invoice"

// Messages surfaced when the vault gives none
const (
	msgCreateFailed = "Ha ocurrido un error inesperado, intenta con otro método de pago."
	msgListFailed   = "No se pudieron obtener las tarjetas"
	msgUpdateFailed = "Error al actualizar la tarjeta"
	msgDeleteFailed = "Error al eliminar la tarjeta"
	msgBINFailed    = "No se pudo verificar la tarjeta"
)

// Options contains the configuration of the card vault Client
type Options struct {
	Remote *remote.Client
	Logger *zap.Logger
	// EncryptionKey is the base64url Fernet key shared with the vault
	EncryptionKey string
}

// Client talks to the card vault
type Client struct {
	Options
	key *fernet.Key
}

// CreateResult is a card the vault accepted
type CreateResult struct {
	CardID   string
	SellerID int64
	Brand    string
	Last4    string
	// BackupFailed is set when the card exists but could not be marked as backup
	BackupFailed bool
}

// CreateError is a rejected card creation. CVVError tells the form to highlight the CVV.
type CreateError struct {
	*remote.AdapterError
	CVVError bool
}

func (e *CreateError) Unwrap() error {
	return e.AdapterError
}

// NewClient returns a vault Client
func NewClient(option Options) (*Client, error) {
	if option.Remote == nil {
		return nil, fmt.Errorf("nil Remote is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	key, err := fernet.DecodeKey(option.EncryptionKey)
	if err != nil {
		return nil, extErrors.Wrap(err, "Invalid card encryption key")
	}
	return &Client{
		Options: option,
		key:     key,
	}, nil
}

// Encrypt seals the card payload into a Fernet token
func (c *Client) Encrypt(f CardFields, o Owner) (string, error) {
	plain, err := json.Marshal(newPayload(f, o))
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot encode card payload")
	}
	token, err := fernet.EncryptAndSign(plain, c.key)
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot encrypt card payload")
	}
	return string(token), nil
}

type cardsResponse struct {
	Success bool       `json:"success"`
	Data    []wireCard `json:"data"`
	Count   int        `json:"count"`
}

// ListCards returns the cards stored for a payment customer
func (c *Client) ListCards(ctx context.Context, customerID string) ([]spec.SavedCard, error) {
	if customerID == "" {
		return []spec.SavedCard{}, nil
	}
	var resp cardsResponse
	if err := c.Remote.Do(ctx, remote.Call{
		Op:       "ListCards",
		Path:     basePath + "/cards/" + url.PathEscape(customerID),
		Fallback: msgListFailed,
	}, &resp); err != nil {
		return nil, err
	}
	cards := make([]spec.SavedCard, 0, len(resp.Data))
	for _, w := range resp.Data {
		cards = append(cards, w.toSavedCard())
	}
	return cards, nil
}

type createRequest struct {
	EncryptedData string `json:"encrypted_data"`
	CreatedBy     string `json:"created_by"`
	Type          string `json:"type"`
}

type createResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	CVVErr  bool   `json:"cvv_err"`
	Data    *struct {
		ID       string      `json:"id"`
		SellerID json.Number `json:"seller_id"`
	} `json:"data"`
}

// CreateCard encrypts f and stores it for o. The returned id is known before the call returns.
func (c *Client) CreateCard(ctx context.Context, f CardFields, o Owner) (*CreateResult, error) {
	logger := c.Logger.With(
		zap.String("Brand", f.Brand()),
		zap.String("Last4", f.Last4()),
		zap.Int64("SellerID", o.SellerID),
	)

	encrypted, err := c.Encrypt(f, o)
	if err != nil {
		logger.Error("Cannot prepare card payload", zap.Error(err))
		return nil, &CreateError{AdapterError: &remote.AdapterError{
			Op:      "CreateCard",
			Message: "Error al cifrar los datos de la tarjeta",
			Err:     err,
		}}
	}

	// the vault answers rejected cards with a non-2xx and the same envelope
	body, err := c.Remote.Raw(ctx, remote.Call{
		Op:       "CreateCard",
		Method:   http.MethodPost,
		Path:     basePath + "/card",
		Body:     createRequest{EncryptedData: encrypted, CreatedBy: o.Email, Type: f.Type},
		Fallback: msgCreateFailed,
	})
	if err != nil {
		var aErr *remote.AdapterError
		if !extErrors.As(err, &aErr) {
			return nil, err
		}
		var resp createResponse
		_ = json.Unmarshal(aErr.Body, &resp)
		logger.Info("Card rejected by vault", zap.Error(err))
		return nil, &CreateError{AdapterError: aErr, CVVError: resp.CVVErr}
	}

	var resp createResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &CreateError{AdapterError: &remote.AdapterError{
			Op:      "CreateCard",
			Message: msgCreateFailed,
			Err:     extErrors.Wrap(err, "Malformed response"),
		}}
	}
	if !resp.Success || resp.Data == nil || resp.Data.ID == "" {
		logger.Info("Card rejected by vault", zap.String("Message", resp.Message))
		return nil, &CreateError{
			AdapterError: remote.Failure("CreateCard", body, msgCreateFailed),
			CVVError:     resp.CVVErr,
		}
	}

	sellerID, err := resp.Data.SellerID.Int64()
	if err != nil {
		sellerID = o.SellerID
	}
	result := &CreateResult{
		CardID:   resp.Data.ID,
		SellerID: sellerID,
		Brand:    f.Brand(),
		Last4:    f.Last4(),
	}

	if f.Secondary {
		if err := c.SetBackup(ctx, sellerID, result.CardID, true, o.Email); err != nil {
			// the card exists; only the flag is missing
			logger.Error("Cannot mark new card as backup",
				zap.String("CardID", result.CardID),
				zap.Error(err),
			)
			result.BackupFailed = true
		}
	}

	logger.Info("Card created", zap.String("CardID", result.CardID))
	return result, nil
}

type updateRequest struct {
	Backup    *bool  `json:"backup,omitempty"`
	UpdatedBy string `json:"updated_by"`
}

// SetDefault makes cardID the seller's default card
func (c *Client) SetDefault(ctx context.Context, sellerID int64, cardID, updatedBy string) error {
	return c.Remote.Do(ctx, remote.Call{
		Op:       "SetDefaultCard",
		Method:   http.MethodPut,
		Path:     fmt.Sprintf("%s/cards/seller/%d/card/%s/default", basePath, sellerID, url.PathEscape(cardID)),
		Body:     updateRequest{UpdatedBy: updatedBy},
		Fallback: msgUpdateFailed,
	}, nil)
}

// SetBackup flags or unflags cardID as the seller's backup card
func (c *Client) SetBackup(ctx context.Context, sellerID int64, cardID string, backup bool, updatedBy string) error {
	return c.Remote.Do(ctx, remote.Call{
		Op:       "SetBackupCard",
		Method:   http.MethodPut,
		Path:     fmt.Sprintf("%s/cards/seller/%d/card/%s/backup", basePath, sellerID, url.PathEscape(cardID)),
		Body:     updateRequest{Backup: &backup, UpdatedBy: updatedBy},
		Fallback: msgUpdateFailed,
	}, nil)
}

// DeleteCard removes cardID from the vault
func (c *Client) DeleteCard(ctx context.Context, cardID string) error {
	return c.Remote.Do(ctx, remote.Call{
		Op:       "DeleteCard",
		Method:   http.MethodDelete,
		Path:     basePath + "/card/" + url.PathEscape(cardID),
		Fallback: msgDeleteFailed,
	}, nil)
}

type binResponse struct {
	Success bool      `json:"success"`
	Data    []BINInfo `json:"data"`
}

// VerifyBIN looks up the card types known for the leading digits of a card
func (c *Client) VerifyBIN(ctx context.Context, bin string) ([]BINInfo, error) {
	var resp binResponse
	if err := c.Remote.Do(ctx, remote.Call{
		Op:       "VerifyBIN",
		Path:     basePath + "/bin/verify",
		Query:    url.Values{"bin": {onlyDigits(bin)}},
		Fallback: msgBINFailed,
	}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return []BINInfo{}, nil
	}
	return resp.Data, nil
}
