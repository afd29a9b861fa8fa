package payment

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"course-marketplace/internal/domain"
	"course-marketplace/internal/domain/ports/adapter"
)

// Stripe event types the settlement flow reacts to.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventIntentCanceled  = "payment_intent.canceled"
)

// zeroDecimal lists currencies Stripe charges in whole units.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

func currencyExponent(currency string) int32 {
	if zeroDecimal[strings.ToLower(currency)] {
		return 0
	}
	return 2
}

// toMinorUnits converts amount to the provider's integer representation.
// Amounts with more precision than the currency supports are rejected.
func toMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	m := amount.Shift(currencyExponent(currency))
	if !m.Equal(m.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %s has too many decimals for %s", domain.ErrInvalidArgument, amount, currency)
	}
	if !m.IsPositive() {
		return 0, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	}
	return m.IntPart(), nil
}

func fromMinorUnits(v int64, currency string) decimal.Decimal {
	return decimal.New(v, -currencyExponent(currency))
}

func mapIntentStatus(s stripe.PaymentIntentStatus) adapter.ProviderState {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return adapter.ProviderStateSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return adapter.ProviderStateCanceled
	default:
		return adapter.ProviderStateOpen
	}
}

func toProviderIntent(pi *stripe.PaymentIntent) *adapter.ProviderIntent {
	cur := string(pi.Currency)
	return &adapter.ProviderIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		State:        mapIntentStatus(pi.Status),
		Amount:       fromMinorUnits(pi.Amount, cur),
		Currency:     cur,
	}
}

// verifyStripeEvent checks the Stripe-Signature header and decodes the event.
// The API version embedded in the event is not checked.
func verifyStripeEvent(payload []byte, signature, secret string) (*adapter.GatewayEvent, error) {
	if secret == "" || signature == "" {
		return nil, domain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayload(payload, signature, secret); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: decode event: %v", domain.ErrInvalidArgument, err)
	}

	out := &adapter.GatewayEvent{ID: ev.ID, RawType: string(ev.Type), Kind: adapter.EventUnknown}
	switch out.RawType {
	case EventIntentSucceeded:
		out.Kind = adapter.EventPaymentSucceeded
	case EventIntentFailed:
		out.Kind = adapter.EventPaymentFailed
	case EventIntentCanceled:
		out.Kind = adapter.EventPaymentCanceled
	default:
		return out, nil
	}

	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data object", domain.ErrInvalidArgument, ev.ID)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: decode payment intent: %v", domain.ErrInvalidArgument, err)
	}
	out.IntentID = pi.ID
	return out, nil
}

// SignPayload builds a Stripe-Signature header value for payload at t.
func SignPayload(payload []byte, secret string, t time.Time) string {
	sig := webhook.ComputeSignature(t, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", t.Unix(), hex.EncodeToString(sig))
}

// NewIntentEvent renders a Stripe-shaped event body for a payment intent.
func NewIntentEvent(eventID, eventType, intentID string) []byte {
	body := map[string]any{
		"id":     eventID,
		"object": "event",
		"type":   eventType,
		"data": map[string]any{
			"object": map[string]any{
				"id":     intentID,
				"object": "payment_intent",
			},
		},
	}
	b, _ := json.Marshal(body)
	return b
}
