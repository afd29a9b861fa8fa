package sched

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"course-marketplace/internal/domain/model"
	"course-marketplace/internal/domain/ports/repository"
	"course-marketplace/internal/infra/metrics"
	"course-marketplace/internal/usecase"
)

const (
	reconcileBatch       = 200
	reconcileConcurrency = 4
)

// PaymentReconciler periodically pulls the provider state of intents that
// stayed open longer than staleAfter, covering webhooks that never arrived.
// Intents still open after expireAfter are canceled at the gateway.
type PaymentReconciler struct {
	intents     repository.PaymentIntentRepository
	webhook     usecase.WebhookUseCase
	purchase    usecase.PurchaseUseCase
	interval    time.Duration
	staleAfter  time.Duration
	expireAfter time.Duration
	now         func() time.Time
	log         *zerolog.Logger
}

func NewPaymentReconciler(
	intents repository.PaymentIntentRepository,
	webhook usecase.WebhookUseCase,
	purchase usecase.PurchaseUseCase,
	interval, staleAfter, expireAfter time.Duration,
	logger *zerolog.Logger,
) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if expireAfter < staleAfter {
		expireAfter = 24 * time.Hour
	}
	recLog := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{
		intents:     intents,
		webhook:     webhook,
		purchase:    purchase,
		interval:    interval,
		staleAfter:  staleAfter,
		expireAfter: expireAfter,
		now:         time.Now,
		log:         &recLog,
	}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting payment reconciler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-ticker.C:
			if _, _, err := w.Sweep(ctx); err != nil {
				w.log.Error().Err(err).Msg("payment reconciler pass failed")
			}
		}
	}
}

// Sweep runs one pass over every stale open intent, a page at a time.
// Failures on single intents are logged and skipped; only a failed listing
// or cancellation is returned.
func (w *PaymentReconciler) Sweep(ctx context.Context) (reconciled, expired int, err error) {
	now := w.now()
	cutoff := now.Add(-w.staleAfter)

	var (
		nRec, nExp atomic.Int64
		scanned    int
		after      *repository.IntentCursor
	)
	for {
		page, err := w.intents.ListOpenOlderThan(ctx, repository.NoTX, cutoff, after, reconcileBatch)
		if err != nil {
			metrics.IncJobRun("payment_reconciler", "error")
			return int(nRec.Load()), int(nExp.Load()), err
		}
		w.reconcilePage(ctx, page, now, &nRec, &nExp)
		scanned += len(page)
		if len(page) < reconcileBatch {
			break
		}
		if err := ctx.Err(); err != nil {
			return int(nRec.Load()), int(nExp.Load()), err
		}
		after = repository.CursorAfter(page[len(page)-1])
	}

	reconciled, expired = int(nRec.Load()), int(nExp.Load())
	metrics.IncJobRun("payment_reconciler", "ok")
	metrics.AddIntentsExpired(expired)
	if reconciled > 0 || expired > 0 {
		w.log.Info().Int("scanned", scanned).Int("reconciled", reconciled).Int("expired", expired).Msg("payment reconciler pass")
	}
	return reconciled, expired, nil
}

func (w *PaymentReconciler) reconcilePage(ctx context.Context, page []*model.PaymentIntent, now time.Time, nRec, nExp *atomic.Int64) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)
	for _, p := range page {
		p := p
		g.Go(func() error {
			w.reconcileOne(gctx, p, now, nRec, nExp)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *PaymentReconciler) reconcileOne(ctx context.Context, p *model.PaymentIntent, now time.Time, nRec, nExp *atomic.Int64) {
	l := w.log.With().Str("intent_id", p.GatewayIntentID).Str("user_id", p.UserID).Str("course_id", p.CourseID).Logger()

	status, err := w.webhook.ReconcileIntent(ctx, p.GatewayIntentID)
	if err != nil {
		l.Warn().Err(err).Msg("reconcile intent failed")
		return
	}
	if status.IsTerminal() {
		nRec.Add(1)
		return
	}
	if p.CreatedAt.After(now.Add(-w.expireAfter)) {
		return
	}

	status, err = w.purchase.CancelExpired(ctx, p.GatewayIntentID)
	if err != nil {
		l.Warn().Err(err).Msg("cancel expired intent failed")
		return
	}
	if status == model.IntentStatusCanceled {
		nExp.Add(1)
		l.Info().Msg("abandoned payment intent canceled")
		return
	}
	// The provider settled it between the two calls.
	nRec.Add(1)
}
