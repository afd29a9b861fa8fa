package repository

import (
	"context"

	"course-marketplace/internal/domain/model"
)

// CourseRepository is the read port onto the catalog store.
type CourseRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Course, error)
}
