package access

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/zllovesuki/storecheckout/cache"
	"github.com/zllovesuki/storecheckout/remote"
	"github.com/zllovesuki/storecheckout/spec"

	"go.uber.org/zap"
)

// Access is what the identity service says about a user on one store
type Access struct {
	HasAccess bool   `json:"has_access"`
	Role      string `json:"role,omitempty"`
}

// Store is the identity record of a store
type Store struct {
	ID                int64  `json:"id"`
	SellerID          int64  `json:"seller_id"`
	Name              string `json:"name"`
	PaymentCustomerID string `json:"payment_customer_id"`
}

// Options contains the configuration of the access Checker
type Options struct {
	// Remote must point at the identity service. Its ReadRetries bounds the lookups.
	Remote *remote.Client
	Cache  cache.Cache[Access]
	Logger *zap.Logger
}

// Checker answers whether a user may operate a store
type Checker struct {
	Options
}

// NewChecker returns an access Checker
func NewChecker(option Options) (*Checker, error) {
	if option.Remote == nil {
		return nil, fmt.Errorf("nil Remote is invalid")
	}
	if option.Cache == nil {
		return nil, fmt.Errorf("nil Cache is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Checker{
		Options: option,
	}, nil
}

// CacheKey is the cache key of email on storeID
func CacheKey(email string, storeID int64) string {
	return email + "_" + strconv.FormatInt(storeID, 10)
}

type accessResponse struct {
	Data Access `json:"data"`
}

// Access looks up the user's access to storeID. Failures fall back to no access and are not cached.
func (c *Checker) Access(ctx context.Context, email string, storeID int64) Access {
	key := CacheKey(email, storeID)
	if a, ok := c.Cache.Get(key); ok {
		return a
	}

	var resp accessResponse
	if err := c.Remote.Do(ctx, remote.Call{
		Op:    "UserAccess",
		Path:  "user_access/" + strconv.FormatInt(storeID, 10),
		Query: url.Values{"service": {spec.ServiceType}},
	}, &resp); err != nil {
		c.Logger.Info("User access lookup failed, denying",
			zap.String("Email", email),
			zap.Int64("StoreID", storeID),
			zap.Error(err),
		)
		return Access{HasAccess: false}
	}

	c.Cache.Set(key, resp.Data)
	return resp.Data
}

type storeResponse struct {
	Data struct {
		ID        int64  `json:"id"`
		SellerID  int64  `json:"id_seller"`
		StoreName string `json:"store_name"`
		Services  struct {
			Payments struct {
				PaymentID string `json:"payment_id"`
			} `json:"payments"`
		} `json:"services"`
	} `json:"data"`
}

// Store returns the identity record of storeID
func (c *Checker) Store(ctx context.Context, storeID int64) (*Store, error) {
	var resp storeResponse
	if err := c.Remote.Do(ctx, remote.Call{
		Op:       "GetStore",
		Path:     "stores/" + strconv.FormatInt(storeID, 10),
		Fallback: "No se pudo obtener la información de la tienda",
	}, &resp); err != nil {
		return nil, err
	}
	id := resp.Data.ID
	if id == 0 {
		id = storeID
	}
	return &Store{
		ID:                id,
		SellerID:          resp.Data.SellerID,
		Name:              resp.Data.StoreName,
		PaymentCustomerID: resp.Data.Services.Payments.PaymentID,
	}, nil
}
