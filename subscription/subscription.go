package subscription

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zllovesuki/storecheckout/remote"
	"github.com/zllovesuki/storecheckout/spec"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const basePath = "/suscriptions"

// Messages surfaced when the subscription service gives none
const (
	msgPlanFailed    = "No se pudo obtener el plan"
	msgCurrentFailed = "No se pudo obtener la suscripción actual"
	msgCreateFailed  = "Error al crear la suscripción"
	msgChangeFailed  = "Error al cambiar la suscripción"
	msgPaymentFailed = "Error al actualizar el método de pago de la suscripción"
	msgPreviewFailed = "No se pudo calcular el cambio de plan"
)

// Options contains the configuration of the subscription Client
type Options struct {
	Remote *remote.Client
	Logger *zap.Logger
	// Country and Source are stamped on every new subscription
	Country string
	Source  string
}

// Client talks to the subscription service
type Client struct {
	Options
}

// NewClient returns a subscription Client
func NewClient(option Options) (*Client, error) {
	if option.Remote == nil {
		return nil, fmt.Errorf("nil Remote is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Country == "" {
		option.Country = spec.DefaultCountry
	}
	if option.Source == "" {
		option.Source = "web"
	}
	return &Client{
		Options: option,
	}, nil
}

// GetPlan returns the catalog record of planID, or nil when the plan does not exist
func (c *Client) GetPlan(ctx context.Context, planID string) (*spec.Plan, error) {
	var resp planResponse
	err := c.Remote.Do(ctx, remote.Call{
		Op:       "GetPlan",
		Path:     basePath + "/plans/" + url.PathEscape(planID),
		Fallback: msgPlanFailed,
	}, &resp)
	if remote.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if resp.Data.Plan == nil {
		return nil, nil
	}
	// the catalog keys plans by plan_id; older records only carry id
	p := resp.Data.Plan.toPlan()
	if p.ID == "" {
		return nil, nil
	}
	return p, nil
}

// GetCurrent returns the shop's subscription. A shop without one yields (nil, nil).
func (c *Client) GetCurrent(ctx context.Context, shopID int64) (*spec.CurrentSubscription, error) {
	var resp currentResponse
	err := c.Remote.Do(ctx, remote.Call{
		Op:       "GetCurrentSubscription",
		Path:     basePath + "/shops/" + strconv.FormatInt(shopID, 10) + "/current",
		Query:    url.Values{"service_type": {spec.ServiceType}},
		Fallback: msgCurrentFailed,
	}, &resp)
	if remote.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if resp.Data.Subscription == nil || resp.Data.Subscription.PlanID == "" {
		return nil, nil
	}
	return resp.Data.Subscription.toCurrent(resp.Data.Plan), nil
}

// CreateRequest is a first-time subscription
type CreateRequest struct {
	SellerID  int64
	ShopID    int64
	PlanID    string
	CardID    string
	Cycle     spec.Cycle
	Currency  string
	CreatedBy string
}

// Create subscribes the shop to a plan, charging CardID
func (c *Client) Create(ctx context.Context, req CreateRequest) error {
	body := createBody{
		SellerID:      req.SellerID,
		ShopID:        req.ShopID,
		ServiceType:   spec.ServiceType,
		PlanID:        req.PlanID,
		CardID:        req.CardID,
		PaymentID:     req.CardID,
		PaymentMethod: spec.PaymentMethod,
		BillingCycle:  req.Cycle,
		CountryCode:   c.Country,
		Currency:      req.Currency,
		Metadata:      spec.Metadata{"source": c.Source},
	}
	if body.Currency == "" {
		body.Currency = spec.DefaultCurrency
	}
	if req.CreatedBy != "" {
		body.Metadata["created_by"] = req.CreatedBy
	}
	return c.mutate(ctx, remote.Call{
		Op:       "CreateSubscription",
		Method:   http.MethodPost,
		Path:     basePath + "/subscribe-simple",
		Body:     body,
		Fallback: msgCreateFailed,
	})
}

// Change moves subscriptionID to another plan and/or cycle. An empty planID keeps the plan.
func (c *Client) Change(ctx context.Context, subscriptionID, planID string, cycle spec.Cycle) error {
	return c.mutate(ctx, remote.Call{
		Op:       "ChangeSubscription",
		Method:   http.MethodPost,
		Path:     basePath + "/" + url.PathEscape(subscriptionID) + "/change",
		Body:     changeBody{PlanID: planID, BillingCycle: cycle},
		Fallback: msgChangeFailed,
	})
}

// UpdatePaymentMethod charges future periods of subscriptionID to cardID
func (c *Client) UpdatePaymentMethod(ctx context.Context, subscriptionID, cardID string) error {
	return c.mutate(ctx, remote.Call{
		Op:       "UpdatePaymentMethod",
		Method:   http.MethodPut,
		Path:     basePath + "/" + url.PathEscape(subscriptionID) + "/payment-method",
		Body:     paymentBody{CardID: cardID, PaymentID: cardID, PaymentMethod: spec.PaymentMethod},
		Fallback: msgPaymentFailed,
	})
}

// Preview is the service's proration estimate for a plan change
type Preview struct {
	ProratedAmount *decimal.Decimal
	TotalAmount    decimal.Decimal
	Currency       string
	ExecutionDate  time.Time
	RemainingDays  int
}

// Preview asks what changing subscriptionID would cost. A nil Preview means the service had no estimate.
func (c *Client) Preview(ctx context.Context, subscriptionID, planID string, cycle spec.Cycle) (*Preview, error) {
	var resp previewResponse
	// read-only despite the POST; never retried all the same
	err := c.Remote.Do(ctx, remote.Call{
		Op:       "PreviewChange",
		Method:   http.MethodPost,
		Path:     basePath + "/" + url.PathEscape(subscriptionID) + "/change/preview",
		Body:     changeBody{PlanID: planID, BillingCycle: cycle},
		Fallback: msgPreviewFailed,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.toPreview(), nil
}

func (c *Client) mutate(ctx context.Context, call remote.Call) error {
	body, err := c.Remote.Raw(ctx, call)
	if err != nil {
		c.Logger.Info("Subscription call rejected",
			zap.String("Op", call.Op),
			zap.Error(err),
		)
		return err
	}
	var env mutationResponse
	if decodeErr := decode(body, &env); decodeErr == nil && env.Success != nil && !*env.Success {
		return remote.Failure(call.Op, body, call.Fallback)
	}
	return nil
}
