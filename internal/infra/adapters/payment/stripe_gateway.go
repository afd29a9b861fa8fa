// File: internal/infra/adapters/payment/stripe_gateway.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"course-marketplace/internal/config"
	"course-marketplace/internal/domain"
	"course-marketplace/internal/domain/ports/adapter"
	"course-marketplace/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*StripeGateway)(nil)

// StripeGateway implements adapter.PaymentGateway on the Stripe PaymentIntents API.
type StripeGateway struct {
	intents *paymentintent.Client
	log     *zerolog.Logger
}

// NewStripeGateway builds a client with its own backend, so the package-level
// stripe.Key is never touched. Retries are left to the caller.
func NewStripeGateway(cfg config.StripeConfig, logger *zerolog.Logger) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key empty")
	}
	lg := logger.With().Str("component", "stripe_gateway").Logger()

	bc := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripeLogger{log: &lg},
	}
	if cfg.APIBase != "" {
		bc.URL = stripe.String(cfg.APIBase)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, bc)

	return &StripeGateway{
		intents: &paymentintent.Client{B: backend, Key: cfg.SecretKey},
		log:     &lg,
	}, nil
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) CreateProviderIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string, idempotencyToken string) (*adapter.ProviderIntent, error) {
	minor, err := toMinorUnits(amount, currency)
	if err != nil {
		return nil, err
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minor),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if idempotencyToken != "" {
		params.SetIdempotencyKey(idempotencyToken)
	}

	start := time.Now()
	pi, err := g.intents.New(params)
	g.observe("create", start, err)
	if err != nil {
		return nil, classifyStripeErr("create intent", err)
	}
	return toProviderIntent(pi), nil
}

func (g *StripeGateway) RetrieveStatus(ctx context.Context, providerIntentID string) (*adapter.ProviderIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	start := time.Now()
	pi, err := g.intents.Get(providerIntentID, params)
	g.observe("retrieve", start, err)
	if err != nil {
		return nil, classifyStripeErr("retrieve intent", err)
	}
	return toProviderIntent(pi), nil
}

func (g *StripeGateway) Cancel(ctx context.Context, providerIntentID string) (*adapter.ProviderIntent, error) {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	start := time.Now()
	pi, err := g.intents.Cancel(providerIntentID, params)
	g.observe("cancel", start, err)
	if err != nil {
		return nil, classifyStripeErr("cancel intent", err)
	}
	return toProviderIntent(pi), nil
}

func (g *StripeGateway) VerifySignature(payload []byte, signature, secret string) (*adapter.GatewayEvent, error) {
	return verifyStripeEvent(payload, signature, secret)
}

func (g *StripeGateway) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
		if errors.Is(classifyStripeErr(op, err), domain.ErrGatewayUnavailable) {
			result = "unavailable"
		}
	}
	metrics.ObserveGatewayCall("stripe", op, result, time.Since(start).Seconds())
}

// classifyStripeErr maps throttling, 5xx and transport failures to
// ErrGatewayUnavailable and every other API error to ErrGatewayRejected.
func classifyStripeErr(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= 500 || se.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: stripe %s: %s", domain.ErrGatewayUnavailable, op, se.Msg)
		}
		return fmt.Errorf("%w: stripe %s: %s (%s)", domain.ErrGatewayRejected, op, se.Msg, se.Code)
	}
	return fmt.Errorf("%w: stripe %s: %v", domain.ErrGatewayUnavailable, op, err)
}

// stripeLogger routes stripe-go's internal logging through zerolog.
type stripeLogger struct {
	log *zerolog.Logger
}

func (l *stripeLogger) Debugf(format string, v ...interface{}) { l.log.Debug().Msgf(format, v...) }
func (l *stripeLogger) Infof(format string, v ...interface{})  { l.log.Debug().Msgf(format, v...) }
func (l *stripeLogger) Warnf(format string, v ...interface{})  { l.log.Warn().Msgf(format, v...) }
func (l *stripeLogger) Errorf(format string, v ...interface{}) { l.log.Error().Msgf(format, v...) }
