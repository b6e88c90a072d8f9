package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/zllovesuki/storecheckout/remote"
	resp "github.com/zllovesuki/storecheckout/response"

	"github.com/dgrijalva/jwt-go"
	"go.uber.org/zap"
)

var bearerPrefix = "Bearer "
var jwtSigningMethod = jwt.SigningMethodRS256

// VerifyToken returns the claims of a valid token, or nil when the token is not acceptable
func (a *Auth) VerifyToken(token string) (*Claims, error) {
	claims := &Claims{}
	parser := &jwt.Parser{SkipClaimsValidation: true}
	jwtToken, err := parser.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return a.publicKey, nil
	})
	if err != nil {
		if _, ok := err.(*jwt.ValidationError); ok {
			return nil, nil
		}
		return nil, err
	}
	if jwtToken.Method != jwtSigningMethod {
		return nil, nil
	}
	if !a.claimsValid(claims) {
		return nil, nil
	}
	claims.Token = token
	return claims, nil
}

func (a *Auth) claimsValid(c *Claims) bool {
	now := a.Now()
	leeway := int64(a.Leeway.Seconds())
	if c.ExpiresAt == 0 || now.Unix() > c.ExpiresAt+leeway {
		return false
	}
	if c.IssuedAt != 0 && now.Unix()+leeway < c.IssuedAt {
		return false
	}
	if a.Issuer != "" && c.Issuer != a.Issuer {
		return false
	}
	if strings.TrimSpace(c.Email) == "" {
		return false
	}
	return true
}

// Middleware returns a http middleware to verify Bearer in the header
func (a *Auth) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			n := len(bearerPrefix)
			if len(auth) < n || auth[:n] != bearerPrefix {
				resp.WriteError(w, r, resp.ErrNoBearer())
				return
			}
			claims, err := a.VerifyToken(auth[n:])
			if err != nil {
				a.Logger.Error("Cannot verify JWT token",
					zap.Error(err),
				)
				resp.WriteError(w, r, resp.ErrUnexpected())
				return
			}
			if claims == nil {
				resp.WriteError(w, r, resp.ErrNoBearer())
				return
			}

			ctx := context.WithValue(r.Context(), Context, claims)
			ctx = remote.WithBearer(ctx, claims.Token)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimCheck returns a http middlware to authenticated route to ensure that Claims exists in the context
func (a *Auth) ClaimCheck() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, ok := r.Context().Value(Context).(*Claims)
			if !ok {
				a.Logger.Error("Context has no Claims")
				resp.WriteError(w, r, resp.ErrUnexpected())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// FromContext returns the Claims stored by Middleware
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(Context).(*Claims)
	return c, ok
}
