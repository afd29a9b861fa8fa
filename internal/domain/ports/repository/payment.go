package repository

import (
	"context"
	"time"

	"course-marketplace/internal/domain/model"
)

// -----------------------------
// Payment intents
// -----------------------------

type PaymentIntentRepository interface {
	// Create inserts a new intent. A row with the same gateway id is left
	// untouched (inserted=false). Another open intent for the same user/course
	// yields domain.ErrAlreadyExists.
	Create(ctx context.Context, tx Tx, p *model.PaymentIntent) (inserted bool, err error)
	// FindByGatewayID locks the row (FOR UPDATE) when tx is a transaction.
	FindByGatewayID(ctx context.Context, tx Tx, gatewayIntentID string) (*model.PaymentIntent, error)
	FindOpenByUserAndCourse(ctx context.Context, tx Tx, userID, courseID string) (*model.PaymentIntent, error)
	// TransitionFromCreated moves a created intent to a terminal status and
	// stamps the matching timestamp. Returns false when the intent was not in
	// created state.
	TransitionFromCreated(ctx context.Context, tx Tx, gatewayIntentID string, to model.IntentStatus, at time.Time) (bool, error)
	// ListOpenOlderThan pages through created intents older than olderThan in
	// (created_at, gateway id) order, starting after `after` when it is set.
	ListOpenOlderThan(ctx context.Context, tx Tx, olderThan time.Time, after *IntentCursor, limit int) ([]*model.PaymentIntent, error)
}

// IntentCursor is a keyset position in the open-intent scan.
type IntentCursor struct {
	CreatedAt       time.Time
	GatewayIntentID string
}

// CursorAfter returns the position just past p.
func CursorAfter(p *model.PaymentIntent) *IntentCursor {
	return &IntentCursor{CreatedAt: p.CreatedAt, GatewayIntentID: p.GatewayIntentID}
}

// -----------------------------
// Webhook receipts
// -----------------------------

type WebhookEventRepository interface {
	// Record stores the receipt; false means the event id was already recorded.
	Record(ctx context.Context, tx Tx, e *model.WebhookEvent) (bool, error)
	Exists(ctx context.Context, tx Tx, eventID string) (bool, error)
}
