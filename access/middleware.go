package access

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/zllovesuki/storecheckout/auth"
	"github.com/zllovesuki/storecheckout/remote"
	resp "github.com/zllovesuki/storecheckout/response"

	"go.uber.org/zap"
)

// ContextKey is a defined type to be used in context.Context containing the Store
type ContextKey string

// Context is the key used in context.Context containing the *Store
const Context ContextKey = "storeContext"

// ShopHeader carries the store a request operates on. The shopId query parameter is accepted as well.
const ShopHeader = "X-Shop-Id"

// ShopID reads the store id of r, or 0 when absent or malformed
func ShopID(r *http.Request) int64 {
	raw := strings.TrimSpace(r.Header.Get(ShopHeader))
	if raw == "" {
		raw = r.URL.Query().Get("shopId")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// Middleware resolves the request's store and rejects users without access to it.
// It must run after auth's Middleware.
func (c *Checker) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			claims, ok := auth.FromContext(ctx)
			if !ok {
				c.Logger.Error("Context has no Claims")
				resp.WriteError(w, r, resp.ErrUnexpected())
				return
			}

			storeID := ShopID(r)
			if storeID == 0 {
				resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Missing or invalid shopId"))
				return
			}

			if a := c.Access(ctx, claims.Email, storeID); !a.HasAccess {
				resp.WriteError(w, r, resp.ErrForbidden().AddMessages("No tienes acceso a esta tienda"))
				return
			}

			store, err := c.Store(ctx, storeID)
			if err != nil {
				c.Logger.Error("Unable to load store",
					zap.Int64("StoreID", storeID),
					zap.Error(err),
				)
				resp.WriteError(w, r, resp.ErrBadGateway().AddMessages(remote.UserMessage(err)))
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, Context, store)))
		})
	}
}

// FromContext returns the Store resolved by Middleware
func FromContext(ctx context.Context) (*Store, bool) {
	s, ok := ctx.Value(Context).(*Store)
	return s, ok
}
