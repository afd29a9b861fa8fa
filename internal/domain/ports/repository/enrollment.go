package repository

import (
	"context"

	"course-marketplace/internal/domain/model"
)

// EnrollmentRepository is the port onto the enrollment ledger.
type EnrollmentRepository interface {
	// Create inserts the enrollment; an existing (user, course) row yields
	// domain.ErrAlreadyExists and leaves the surrounding transaction usable.
	Create(ctx context.Context, tx Tx, e *model.Enrollment) error
	FindByUserAndCourse(ctx context.Context, tx Tx, userID, courseID string) (*model.Enrollment, error)
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.Enrollment, error)
}
