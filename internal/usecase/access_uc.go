package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"course-marketplace/internal/domain"
	"course-marketplace/internal/domain/model"
	"course-marketplace/internal/domain/ports/repository"
	"course-marketplace/internal/infra/logging"
)

// Compile-time check
var _ AccessUseCase = (*accessUC)(nil)

// AccessUseCase answers whether a user may open a course. Read only.
type AccessUseCase interface {
	HasAccess(ctx context.Context, userID, courseID string) (model.AccessDecision, error)
}

type accessUC struct {
	courses     repository.CourseRepository
	enrollments repository.EnrollmentRepository
	log         *zerolog.Logger
}

// NewAccessUseCase takes the cached catalog; access checks are polled often.
func NewAccessUseCase(courses repository.CourseRepository, enrollments repository.EnrollmentRepository, logger *zerolog.Logger) *accessUC {
	return &accessUC{courses: courses, enrollments: enrollments, log: logger}
}

func (a *accessUC) HasAccess(ctx context.Context, userID, courseID string) (model.AccessDecision, error) {
	defer logging.TraceDuration(a.log, "AccessUC.HasAccess")()

	if userID == "" || courseID == "" {
		return model.AccessDecision{}, domain.ErrInvalidArgument
	}
	course, err := a.courses.FindByID(ctx, repository.NoTX, courseID)
	if err != nil {
		return model.AccessDecision{}, err
	}
	if !course.RequiresPayment() {
		return model.AccessDecision{Granted: true, Reason: model.AccessReasonFree}, nil
	}

	_, err = a.enrollments.FindByUserAndCourse(ctx, repository.NoTX, userID, courseID)
	switch {
	case err == nil:
		return model.AccessDecision{Granted: true, Reason: model.AccessReasonPurchased}, nil
	case errors.Is(err, domain.ErrNotFound):
		return model.AccessDecision{Granted: false, Reason: model.AccessReasonNone}, nil
	default:
		return model.AccessDecision{}, err
	}
}
