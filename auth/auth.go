package auth

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// ContextKey is a defined type to be used in context.Context containing the Claims
type ContextKey string

// Context is key used in context.Context containing the Claims
const Context ContextKey = "authContext"

// Auth verifies the access tokens issued by the identity broker
type Auth struct {
	Options
	publicKey *rsa.PublicKey
}

// Claims is the part of the access token the checkout relies on
type Claims struct {
	jwt.StandardClaims
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
	PhoneNumber       string `json:"phone_number"`

	// Token is the raw bearer, forwarded to collaborators
	Token string `json:"-"`
}

// Options provides initialization parameters for Auth
type Options struct {
	Logger *zap.Logger

	// PublicKeyPEM is the realm's RS256 signing key
	PublicKeyPEM string
	// Issuer, when set, must match the token's iss
	Issuer string
	// Leeway tolerates clock skew on exp/iat
	Leeway time.Duration

	Now func() time.Time
}

func (o *Options) validate() error {
	if o == nil {
		return fmt.Errorf("nil option is invalid")
	}
	if o.Logger == nil {
		return fmt.Errorf("nil Logger is invalid")
	}
	if o.PublicKeyPEM == "" {
		return fmt.Errorf("Empty PublicKeyPEM is invalid")
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return nil
}

// New will return a new instance of Auth for token verification
func New(option Options) (*Auth, error) {
	if err := option.validate(); err != nil {
		return nil, err
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(option.PublicKeyPEM))
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot parse token public key")
	}

	return &Auth{
		Options:   option,
		publicKey: key,
	}, nil
}
