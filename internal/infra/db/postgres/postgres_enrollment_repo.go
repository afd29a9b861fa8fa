package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"course-marketplace/internal/domain"
	"course-marketplace/internal/domain/model"
	"course-marketplace/internal/domain/ports/repository"
)

var _ repository.EnrollmentRepository = (*enrollmentRepo)(nil)

type enrollmentRepo struct{ pool *pgxpool.Pool }

func NewEnrollmentRepo(pool *pgxpool.Pool) *enrollmentRepo {
	return &enrollmentRepo{pool: pool}
}

const enrollmentColumns = `id, user_id, course_id, amount_paid::text, payment_intent_id, source, purchased_at`

// Create relies on ux_enrollments_user_course. ON CONFLICT DO NOTHING keeps an
// enclosing transaction alive where a raised 23505 would abort it.
func (r *enrollmentRepo) Create(ctx context.Context, tx repository.Tx, e *model.Enrollment) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.PurchasedAt.IsZero() {
		e.PurchasedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO enrollments (id, user_id, course_id, amount_paid, payment_intent_id, source, purchased_at)
VALUES ($1,$2,$3,$4::numeric,$5,$6,$7)
ON CONFLICT (user_id, course_id) DO NOTHING;`

	cmd, err := execSQL(ctx, r.pool, tx, q, e.ID, e.UserID, e.CourseID, e.AmountPaid.String(), e.PaymentIntentID, string(e.Source), e.PurchasedAt)
	if err != nil {
		return mapExecErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *enrollmentRepo) FindByUserAndCourse(ctx context.Context, tx repository.Tx, userID, courseID string) (*model.Enrollment, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id=$1 AND course_id=$2;`, userID, courseID)
	if err != nil {
		return nil, err
	}
	e, err := scanEnrollment(row)
	if err != nil {
		return nil, mapScanErr(err, domain.ErrNotFound)
	}
	return e, nil
}

func (r *enrollmentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Enrollment, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id=$1 ORDER BY purchased_at DESC;`, userID)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func scanEnrollment(s scanner) (*model.Enrollment, error) {
	var (
		e      model.Enrollment
		amount string
		source string
	)
	if err := s.Scan(&e.ID, &e.UserID, &e.CourseID, &amount, &e.PaymentIntentID, &source, &e.PurchasedAt); err != nil {
		return nil, err
	}
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	e.AmountPaid = a
	e.Source = model.EnrollmentSource(source)
	return &e, nil
}
