package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type IntentStatus string

const (
	IntentStatusCreated   IntentStatus = "created"   // provider intent exists; awaiting gateway confirmation
	IntentStatusSucceeded IntentStatus = "succeeded" // gateway confirmed the charge
	IntentStatusFailed    IntentStatus = "failed"    // gateway reported a failed charge
	IntentStatusCanceled  IntentStatus = "canceled"  // canceled by user, sweep or provider
)

// IsTerminal reports whether no further transition is allowed.
func (s IntentStatus) IsTerminal() bool {
	return s == IntentStatusSucceeded || s == IntentStatusFailed || s == IntentStatusCanceled
}

// PaymentIntent is the local tracking record of a gateway-side intent.
type PaymentIntent struct {
	GatewayIntentID string
	UserID          string
	CourseID        string
	Amount          decimal.Decimal
	Currency        string
	Provider        string
	IdempotencyKey  string
	Status          IntentStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	FailedAt        *time.Time
	CanceledAt      *time.Time
}

// IntentResult is what the purchase flow hands back to the client.
// PaymentRequired is false for free courses, which are enrolled directly.
type IntentResult struct {
	PaymentRequired bool
	GatewayIntentID string
	ClientSecret    string
	CourseID        string
}
