// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // course cache TTL
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type StripeConfig struct {
	SecretKey     string        `yaml:"secret_key"`
	WebhookSecret string        `yaml:"webhook_secret"`
	APIBase       string        `yaml:"api_base"` // override for stripe-mock
	Timeout       time.Duration `yaml:"timeout"`
}

type PaymentConfig struct {
	Provider          string        `yaml:"provider"` // stripe | fake
	Currency          string        `yaml:"currency"`
	PriceEpsilon      string        `yaml:"price_epsilon"`
	IdempotencyWindow time.Duration `yaml:"idempotency_window"`
	CreateRateLimit   int           `yaml:"create_rate_limit"` // per user per minute, 0 disables
	SignatureHeader   string        `yaml:"signature_header"`
	Stripe            StripeConfig  `yaml:"stripe"`

	Epsilon decimal.Decimal `yaml:"-"`
}

type ReconcilerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	StaleAfter  time.Duration `yaml:"stale_after"`
	ExpireAfter time.Duration `yaml:"expire_after"`
}

type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Payment    PaymentConfig    `yaml:"payment"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies environment overrides
// (optionally from a .env file next to the process) and defaults, then validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse builds a Config from raw YAML. Split out of LoadConfig for tests.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()
	applyEnv(&cfg)

	cfg.Runtime.Dev = dev
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.URL, "DATABASE_URL")
	override(&cfg.Redis.URL, "REDIS_URL")
	override(&cfg.Payment.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	override(&cfg.Payment.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	override(&cfg.Auth.JWTSecret, "AUTH_JWT_SECRET")
}

func (cfg *Config) applyDefaults() error {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 15 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	p := &cfg.Payment
	if p.Provider == "" {
		p.Provider = "stripe"
	}
	if cfg.Runtime.Dev {
		p.Provider = "fake"
	}
	p.Currency = strings.ToLower(strings.TrimSpace(p.Currency))
	if p.Currency == "" {
		p.Currency = "idr"
	}
	if p.PriceEpsilon == "" {
		p.PriceEpsilon = "0.01"
	}
	eps, err := decimal.NewFromString(p.PriceEpsilon)
	if err != nil || eps.IsNegative() {
		return fmt.Errorf("payment.price_epsilon: invalid value %q", p.PriceEpsilon)
	}
	p.Epsilon = eps
	if p.IdempotencyWindow <= 0 {
		p.IdempotencyWindow = 10 * time.Minute
	}
	if p.SignatureHeader == "" {
		p.SignatureHeader = "Stripe-Signature"
	}
	if p.Stripe.Timeout <= 0 {
		p.Stripe.Timeout = 10 * time.Second
	}

	r := &cfg.Reconciler
	if r.Interval <= 0 {
		r.Interval = time.Minute
	}
	if r.StaleAfter <= 0 {
		r.StaleAfter = 10 * time.Minute
	}
	if r.ExpireAfter <= 0 {
		r.ExpireAfter = 24 * time.Hour
	}
	return nil
}

func (cfg *Config) validate() error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	switch cfg.Payment.Provider {
	case "stripe":
		if cfg.Payment.Stripe.SecretKey == "" {
			return errors.New("payment.stripe.secret_key is required")
		}
		if cfg.Payment.Stripe.WebhookSecret == "" {
			return errors.New("payment.stripe.webhook_secret is required")
		}
	case "fake":
		if cfg.Payment.Stripe.WebhookSecret == "" {
			cfg.Payment.Stripe.WebhookSecret = "whsec_dev"
		}
	default:
		return fmt.Errorf("payment.provider: unknown provider %q", cfg.Payment.Provider)
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
