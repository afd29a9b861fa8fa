package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/oklog/ulid/v2"

	"course-marketplace/internal/domain"
	"course-marketplace/internal/domain/model"
	"course-marketplace/internal/domain/ports/repository"
)

var _ repository.WebhookEventRepository = (*webhookEventRepo)(nil)

type webhookEventRepo struct{ pool *pgxpool.Pool }

func NewWebhookEventRepo(pool *pgxpool.Pool) *webhookEventRepo {
	return &webhookEventRepo{pool: pool}
}

func (r *webhookEventRepo) Record(ctx context.Context, tx repository.Tx, e *model.WebhookEvent) (bool, error) {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO webhook_events (id, event_id, event_type, gateway_intent_id, received_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (event_id) DO NOTHING;`
	cmd, err := execSQL(ctx, r.pool, tx, q, e.ID, e.EventID, e.EventType, e.GatewayIntentID, e.ReceivedAt)
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *webhookEventRepo) Exists(ctx context.Context, tx repository.Tx, eventID string) (bool, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id=$1);`, eventID)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return ok, nil
}
