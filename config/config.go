// Package config loads the API configuration from the environment
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	extErrors "github.com/pkg/errors"
)

// Config is every setting of the checkout API
type Config struct {
	Environment string   `env:"API_ENV" envDefault:"development"`
	ListenAddr  string   `env:"LISTEN_ADDR" envDefault:":42069"`
	SentryDSN   string   `env:"SENTRY_DSN"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// collaborators
	PaymentServiceURL string        `env:"PAYMENT_SERVICE_URL"`
	SubscriptionURL   string        `env:"SUBSCRIPTION_URL"`
	WalletURL         string        `env:"WALLET_URL"`
	IdentityURL       string        `env:"IDENTITY_URL"`
	CommonsURL        string        `env:"COMMONS_URL"`
	RemoteTimeout     time.Duration `env:"REMOTE_TIMEOUT" envDefault:"30s"`

	CardEncryptionKey string `env:"CARD_ENCRYPTION_KEY"`

	TokenPublicKey string        `env:"TOKEN_PUBLIC_KEY"`
	TokenIssuer    string        `env:"TOKEN_ISSUER"`
	TokenLeeway    time.Duration `env:"TOKEN_LEEWAY" envDefault:"30s"`

	TaxMode        string `env:"TAX_MODE" envDefault:"exclusive"`
	DefaultCountry string `env:"DEFAULT_COUNTRY" envDefault:"MX"`
	StrictCountry  bool   `env:"STRICT_COUNTRY" envDefault:"false"`

	AccessCacheTTL      time.Duration `env:"ACCESS_CACHE_TTL" envDefault:"1m"`
	AccessCacheCapacity int           `env:"ACCESS_CACHE_CAPACITY" envDefault:"10000"`
	AccessRetries       int           `env:"ACCESS_RETRIES" envDefault:"5"`
	CatalogCacheTTL     time.Duration `env:"CATALOG_CACHE_TTL" envDefault:"24h"`

	CacheBackend string `env:"CACHE_BACKEND" envDefault:"memory"`
	RedisURI     string `env:"REDIS_URI"`
	RedisPW      string `env:"REDIS_PW"`

	// optional: the journal and the events are off when empty
	PostgresURI string `env:"POSTGRES_URI"`
	AMQPURI     string `env:"AMQP_URI"`

	SuccessURL string `env:"SUCCESS_URL"`
}

// Production reports whether the API runs in production
func (c *Config) Production() bool {
	return c.Environment == "production"
}

// DotFile is the .env file read for environment
func DotFile(environment string) string {
	if environment == "production" {
		return ".env.production"
	}
	return ".env.development"
}

// Load reads .env.<API_ENV> into the environment, then parses it into a Config.
// A missing file is fine in production, where the environment is set by the deployment.
func Load() (*Config, error) {
	dotFile := DotFile(os.Getenv("API_ENV"))
	if err := godotenv.Load(dotFile); err != nil && !os.IsNotExist(err) {
		return nil, extErrors.Wrapf(err, "Cannot load configurations from %s", dotFile)
	}
	return Parse()
}

// Parse reads a Config from the process environment
func Parse() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, extErrors.Wrap(err, "Cannot parse configurations")
	}
	c.TaxMode = strings.ToLower(c.TaxMode)
	c.DefaultCountry = strings.ToUpper(c.DefaultCountry)
	c.CacheBackend = strings.ToLower(c.CacheBackend)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the settings the API cannot start without
func (c *Config) Validate() error {
	required := []struct {
		key, value string
	}{
		{"PAYMENT_SERVICE_URL", c.PaymentServiceURL},
		{"SUBSCRIPTION_URL", c.SubscriptionURL},
		{"WALLET_URL", c.WalletURL},
		{"IDENTITY_URL", c.IdentityURL},
		{"COMMONS_URL", c.CommonsURL},
		{"CARD_ENCRYPTION_KEY", c.CardEncryptionKey},
		{"TOKEN_PUBLIC_KEY", c.TokenPublicKey},
		{"SUCCESS_URL", c.SuccessURL},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("empty %s is invalid", r.key)
		}
	}
	switch c.TaxMode {
	case "exclusive", "inclusive":
	default:
		return fmt.Errorf("unknown TAX_MODE %q", c.TaxMode)
	}
	switch c.CacheBackend {
	case "memory":
	case "redis":
		if c.RedisURI == "" {
			return fmt.Errorf("empty REDIS_URI is invalid with CACHE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.AccessRetries < 1 {
		return fmt.Errorf("ACCESS_RETRIES must be at least 1")
	}
	if c.AccessCacheTTL <= 0 {
		return fmt.Errorf("ACCESS_CACHE_TTL must be positive")
	}
	if c.CatalogCacheTTL <= 0 {
		return fmt.Errorf("CATALOG_CACHE_TTL must be positive")
	}
	return nil
}
