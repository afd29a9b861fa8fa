package model

import "time"

// WebhookEvent is the receipt of a gateway event that changed (or was checked
// against) a payment intent. EventID is unique per gateway.
type WebhookEvent struct {
	ID              string // ULID
	EventID         string
	EventType       string
	GatewayIntentID string
	ReceivedAt      time.Time
}
