package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"course-marketplace/internal/domain"
	"course-marketplace/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*FakeGateway)(nil)

type fakeIntent struct {
	intent adapter.ProviderIntent
	meta   map[string]string
}

// FakeGateway is an in-memory gateway for dev mode and tests. It collapses
// idempotency tokens, refusing a token replayed with another amount or
// currency, and verifies webhooks with the Stripe signature scheme.
type FakeGateway struct {
	mu      sync.Mutex
	seq     int64
	intents map[string]*fakeIntent
	byToken map[string]string // idempotency token -> intent id

	failNext error
	calls    int
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		intents: make(map[string]*fakeIntent),
		byToken: make(map[string]string),
	}
}

func (g *FakeGateway) Name() string { return "fake" }

func (g *FakeGateway) next() string {
	g.seq++
	return fmt.Sprintf("pi_fake_%d", g.seq)
}

func (g *FakeGateway) takeFailure() error {
	err := g.failNext
	g.failNext = nil
	return err
}

// FailNext makes the next gateway call return err.
func (g *FakeGateway) FailNext(err error) {
	g.mu.Lock()
	g.failNext = err
	g.mu.Unlock()
}

// CreateCalls counts CreateProviderIntent invocations.
func (g *FakeGateway) CreateCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *FakeGateway) CreateProviderIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string, idempotencyToken string) (*adapter.ProviderIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	if _, err := toMinorUnits(amount, currency); err != nil {
		return nil, err
	}
	if id, ok := g.byToken[idempotencyToken]; ok && idempotencyToken != "" {
		cp := g.intents[id].intent
		// Same rule as Stripe: a replayed key must carry the same parameters.
		if !cp.Amount.Equal(amount) || !strings.EqualFold(cp.Currency, currency) {
			return nil, fmt.Errorf("%w: fake: idempotency key reused with different parameters", domain.ErrGatewayRejected)
		}
		return &cp, nil
	}

	id := g.next()
	fi := &fakeIntent{
		intent: adapter.ProviderIntent{
			ID:           id,
			ClientSecret: id + "_secret_" + strings.ToLower(currency),
			State:        adapter.ProviderStateOpen,
			Amount:       amount,
			Currency:     currency,
		},
		meta: metadata,
	}
	g.intents[id] = fi
	if idempotencyToken != "" {
		g.byToken[idempotencyToken] = id
	}
	cp := fi.intent
	return &cp, nil
}

func (g *FakeGateway) RetrieveStatus(ctx context.Context, providerIntentID string) (*adapter.ProviderIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	fi, ok := g.intents[providerIntentID]
	if !ok {
		return nil, fmt.Errorf("%w: fake: no such intent %s", domain.ErrGatewayRejected, providerIntentID)
	}
	cp := fi.intent
	return &cp, nil
}

func (g *FakeGateway) Cancel(ctx context.Context, providerIntentID string) (*adapter.ProviderIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	fi, ok := g.intents[providerIntentID]
	if !ok {
		return nil, fmt.Errorf("%w: fake: no such intent %s", domain.ErrGatewayRejected, providerIntentID)
	}
	if fi.intent.State == adapter.ProviderStateSucceeded {
		return nil, fmt.Errorf("%w: fake: intent %s already succeeded", domain.ErrGatewayRejected, providerIntentID)
	}
	fi.intent.State = adapter.ProviderStateCanceled
	cp := fi.intent
	return &cp, nil
}

func (g *FakeGateway) VerifySignature(payload []byte, signature, secret string) (*adapter.GatewayEvent, error) {
	return verifyStripeEvent(payload, signature, secret)
}

// SetState moves an intent to state, as if the customer had acted on it.
func (g *FakeGateway) SetState(providerIntentID string, state adapter.ProviderState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if fi, ok := g.intents[providerIntentID]; ok {
		fi.intent.State = state
	}
}

// Metadata returns the metadata the intent was created with.
func (g *FakeGateway) Metadata(providerIntentID string) map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if fi, ok := g.intents[providerIntentID]; ok {
		return fi.meta
	}
	return nil
}

// SignedEvent renders and signs a webhook body for providerIntentID.
func (g *FakeGateway) SignedEvent(eventID, eventType, providerIntentID, secret string) (payload []byte, signature string) {
	payload = NewIntentEvent(eventID, eventType, providerIntentID)
	return payload, SignPayload(payload, secret, time.Now())
}
