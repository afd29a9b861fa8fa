package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type EnrollmentSource string

const (
	EnrollmentSourceFree     EnrollmentSource = "free"
	EnrollmentSourcePurchase EnrollmentSource = "purchase"
)

// Enrollment is the durable proof that a user owns a course.
// PaymentIntentID is nil for free enrollments.
type Enrollment struct {
	ID              string
	UserID          string
	CourseID        string
	AmountPaid      decimal.Decimal
	PaymentIntentID *string
	Source          EnrollmentSource
	PurchasedAt     time.Time
}

type AccessReason string

const (
	AccessReasonFree      AccessReason = "free"
	AccessReasonPurchased AccessReason = "purchased"
	AccessReasonNone      AccessReason = "none"
)

type AccessDecision struct {
	Granted bool
	Reason  AccessReason
}
