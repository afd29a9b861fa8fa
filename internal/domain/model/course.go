package model

import (
	"github.com/shopspring/decimal"

	"course-marketplace/internal/domain"
)

// Course is the catalog view the settlement service reads. The catalog owns
// it; only Price is consulted at intent creation.
type Course struct {
	ID        string
	DisplayID string
	Title     string
	Price     decimal.Decimal
	IsFree    bool
	IsActive  bool
}

// RequiresPayment reports whether buying the course goes through the gateway.
func (c *Course) RequiresPayment() bool {
	return !c.IsFree && c.Price.IsPositive()
}

// NewCourse validates and constructs a course record (used by seeding and tests).
func NewCourse(id, displayID, title string, price decimal.Decimal, isFree bool) (*Course, error) {
	if id == "" || title == "" || price.IsNegative() {
		return nil, domain.ErrInvalidArgument
	}
	return &Course{
		ID:        id,
		DisplayID: displayID,
		Title:     title,
		Price:     price,
		IsFree:    isFree,
		IsActive:  true,
	}, nil
}
