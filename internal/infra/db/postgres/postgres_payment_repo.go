package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"course-marketplace/internal/domain"
	"course-marketplace/internal/domain/model"
	"course-marketplace/internal/domain/ports/repository"
)

var _ repository.PaymentIntentRepository = (*paymentIntentRepo)(nil)

type paymentIntentRepo struct{ pool *pgxpool.Pool }

func NewPaymentIntentRepo(pool *pgxpool.Pool) *paymentIntentRepo {
	return &paymentIntentRepo{pool: pool}
}

const intentColumns = `gateway_intent_id, user_id, course_id, amount::text, currency, provider, idempotency_key, status, created_at, updated_at, completed_at, failed_at, canceled_at`

func (r *paymentIntentRepo) Create(ctx context.Context, tx repository.Tx, p *model.PaymentIntent) (bool, error) {
	const q = `
INSERT INTO payment_intents (
  gateway_intent_id, user_id, course_id, amount, currency, provider, idempotency_key, status, created_at, updated_at
) VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8,$9,$10)
ON CONFLICT (gateway_intent_id) DO NOTHING;`

	cmd, err := execSQL(ctx, r.pool, tx, q, p.GatewayIntentID, p.UserID, p.CourseID, p.Amount.String(), p.Currency, p.Provider, p.IdempotencyKey, string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		// the open-pair partial index is the only other unique constraint
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *paymentIntentRepo) FindByGatewayID(ctx context.Context, tx repository.Tx, gatewayIntentID string) (*model.PaymentIntent, error) {
	q := `SELECT ` + intentColumns + ` FROM payment_intents WHERE gateway_intent_id=$1`
	if isTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", gatewayIntentID)
	if err != nil {
		return nil, err
	}
	p, err := scanIntent(row)
	if err != nil {
		return nil, mapScanErr(err, domain.ErrIntentNotFound)
	}
	return p, nil
}

func (r *paymentIntentRepo) FindOpenByUserAndCourse(ctx context.Context, tx repository.Tx, userID, courseID string) (*model.PaymentIntent, error) {
	q := `SELECT ` + intentColumns + ` FROM payment_intents WHERE user_id=$1 AND course_id=$2 AND status='created' LIMIT 1`
	if isTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", userID, courseID)
	if err != nil {
		return nil, err
	}
	p, err := scanIntent(row)
	if err != nil {
		return nil, mapScanErr(err, domain.ErrIntentNotFound)
	}
	return p, nil
}

func (r *paymentIntentRepo) TransitionFromCreated(ctx context.Context, tx repository.Tx, gatewayIntentID string, to model.IntentStatus, at time.Time) (bool, error) {
	if !to.IsTerminal() {
		return false, domain.ErrInvalidArgument
	}
	const q = `
UPDATE payment_intents
   SET status       = $2::text,
       updated_at   = $3,
       completed_at = CASE WHEN $2::text = 'succeeded' THEN $3 ELSE completed_at END,
       failed_at    = CASE WHEN $2::text = 'failed'    THEN $3 ELSE failed_at    END,
       canceled_at  = CASE WHEN $2::text = 'canceled'  THEN $3 ELSE canceled_at  END
 WHERE gateway_intent_id = $1
   AND status = 'created';`

	cmd, err := execSQL(ctx, r.pool, tx, q, gatewayIntentID, string(to), at)
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *paymentIntentRepo) ListOpenOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, after *repository.IntentCursor, limit int) ([]*model.PaymentIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + intentColumns + ` FROM payment_intents WHERE status='created' AND created_at < $1`
	args := []interface{}{olderThan}
	if after != nil {
		q += ` AND (created_at, gateway_intent_id) > ($2::timestamptz, $3::text)`
		args = append(args, after.CreatedAt, after.GatewayIntentID)
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY created_at ASC, gateway_intent_id ASC LIMIT $%d;`, len(args))
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.PaymentIntent
	for rows.Next() {
		p, err := scanIntent(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func scanIntent(s scanner) (*model.PaymentIntent, error) {
	var (
		p      model.PaymentIntent
		amount string
		status string
	)
	if err := s.Scan(&p.GatewayIntentID, &p.UserID, &p.CourseID, &amount, &p.Currency, &p.Provider, &p.IdempotencyKey, &status,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt, &p.FailedAt, &p.CanceledAt); err != nil {
		return nil, err
	}
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	p.Amount = a
	p.Status = model.IntentStatus(status)
	return &p, nil
}
