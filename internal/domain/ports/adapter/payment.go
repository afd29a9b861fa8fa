package adapter

import (
	"context"

	"github.com/shopspring/decimal"
)

// ProviderState is the gateway-side state of an intent, collapsed to what the
// settlement flow distinguishes.
type ProviderState string

const (
	ProviderStateOpen      ProviderState = "open" // awaiting payment, action or capture
	ProviderStateSucceeded ProviderState = "succeeded"
	ProviderStateFailed    ProviderState = "failed"
	ProviderStateCanceled  ProviderState = "canceled"
)

// ProviderIntent is the gateway's view of an intent.
type ProviderIntent struct {
	ID           string
	ClientSecret string
	State        ProviderState
	Amount       decimal.Decimal
	Currency     string
}

type EventKind string

const (
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventPaymentFailed    EventKind = "payment_failed"
	EventPaymentCanceled  EventKind = "payment_canceled"
	EventUnknown          EventKind = "unknown"
)

// GatewayEvent is a verified, provider-agnostic webhook event.
// RawType keeps the provider's own type name for logging.
type GatewayEvent struct {
	ID       string
	Kind     EventKind
	RawType  string
	IntentID string
}

// PaymentGateway is the hex port for payment providers. It carries no business
// rules: validation and state transitions live in the use cases.
//
// Errors: unreachable provider, 5xx and throttling wrap domain.ErrGatewayUnavailable;
// refusals wrap domain.ErrGatewayRejected; a bad signature is domain.ErrInvalidSignature.
type PaymentGateway interface {
	Name() string

	// CreateProviderIntent creates the provider-side intent. Calls repeating the
	// same idempotencyToken return the intent created by the first call.
	CreateProviderIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string, idempotencyToken string) (*ProviderIntent, error)
	RetrieveStatus(ctx context.Context, providerIntentID string) (*ProviderIntent, error)
	Cancel(ctx context.Context, providerIntentID string) (*ProviderIntent, error)

	// VerifySignature authenticates payload against signature using secret and
	// only then decodes it.
	VerifySignature(payload []byte, signature, secret string) (*GatewayEvent, error)
}
