// File: internal/usecase/webhook_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"course-marketplace/internal/domain"
	"course-marketplace/internal/domain/model"
	"course-marketplace/internal/domain/ports/adapter"
	"course-marketplace/internal/domain/ports/repository"
	"course-marketplace/internal/infra/logging"
	"course-marketplace/internal/infra/metrics"
)

// Compile-time check
var _ WebhookUseCase = (*webhookUC)(nil)

type WebhookOutcome string

const (
	WebhookApplied  WebhookOutcome = "applied"
	WebhookIgnored  WebhookOutcome = "ignored"
	WebhookRejected WebhookOutcome = "rejected"
)

// WebhookResult tells the transport how to acknowledge a delivery.
// Reason is a short machine-readable tag.
type WebhookResult struct {
	Outcome WebhookOutcome
	Reason  string
}

type WebhookUseCase interface {
	// ApplyEvent verifies and applies one gateway delivery. A non-nil error
	// means storage or the provider failed and the gateway should redeliver.
	ApplyEvent(ctx context.Context, payload []byte, signature string) (WebhookResult, error)
	// ReconcileIntent pulls the provider state of one intent and applies it.
	ReconcileIntent(ctx context.Context, intentID string) (model.IntentStatus, error)
}

type webhookUC struct {
	intents repository.PaymentIntentRepository
	events  repository.WebhookEventRepository
	gateway adapter.PaymentGateway
	tm      repository.TransactionManager
	settle  *settlement
	secret  string
	log     *zerolog.Logger
}

func NewWebhookUseCase(
	intents repository.PaymentIntentRepository,
	events repository.WebhookEventRepository,
	enrollments repository.EnrollmentRepository,
	gateway adapter.PaymentGateway,
	tm repository.TransactionManager,
	webhookSecret string,
	logger *zerolog.Logger,
) *webhookUC {
	return &webhookUC{
		intents: intents,
		events:  events,
		gateway: gateway,
		tm:      tm,
		settle:  &settlement{intents: intents, enrollments: enrollments, tm: tm, log: logger},
		secret:  webhookSecret,
		log:     logger,
	}
}

func (w *webhookUC) ApplyEvent(ctx context.Context, payload []byte, signature string) (res WebhookResult, err error) {
	defer logging.TraceDuration(w.log, "WebhookUC.ApplyEvent")()
	start := time.Now()
	defer func() {
		outcome, reason := string(res.Outcome), res.Reason
		if err != nil {
			outcome, reason = "error", "storage"
			if k := domain.KindOf(err); k == domain.KindGatewayUnavailable || k == domain.KindGatewayRejected {
				reason = "gateway"
			}
		}
		metrics.IncWebhook(outcome, reason)
		metrics.ObserveWebhook(outcome, time.Since(start).Seconds())
	}()

	log := logging.With(ctx, w.log)

	ev, err := w.gateway.VerifySignature(payload, signature, w.secret)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			log.Warn().Err(err).Msg("webhook signature rejected")
			return WebhookResult{Outcome: WebhookRejected, Reason: "invalid_signature"}, nil
		}
		log.Warn().Err(err).Msg("webhook payload malformed")
		return WebhookResult{Outcome: WebhookRejected, Reason: "malformed_event"}, nil
	}

	evLog := log.With().Str("event_id", ev.ID).Str("event_type", ev.RawType).Str("intent_id", ev.IntentID).Logger()

	to, handled := statusForEvent(ev.Kind)
	if !handled {
		evLog.Debug().Msg("webhook event type not handled")
		return WebhookResult{Outcome: WebhookIgnored, Reason: "unhandled_event_type"}, nil
	}
	if ev.IntentID == "" || ev.ID == "" {
		evLog.Warn().Msg("webhook event without ids")
		return WebhookResult{Outcome: WebhookRejected, Reason: "malformed_event"}, nil
	}

	// Fast path for redeliveries; the receipt insert below is authoritative.
	if seen, err := w.events.Exists(ctx, repository.NoTX, ev.ID); err == nil && seen {
		return WebhookResult{Outcome: WebhookApplied, Reason: "duplicate_event"}, nil
	}

	if to == model.IntentStatusFailed {
		to, err = w.confirmFailure(ctx, ev.IntentID)
		if err != nil {
			evLog.Error().Err(err).Msg("provider cancel before recording failure failed")
			return WebhookResult{}, err
		}
		if to != model.IntentStatusFailed {
			evLog.Info().Str("status", string(to)).Msg("provider settled the intent after the failed attempt")
		}
	}

	err = w.tm.WithTx(ctx, settleTxOpts, func(ctx context.Context, tx repository.Tx) error {
		p, err := w.intents.FindByGatewayID(ctx, tx, ev.IntentID)
		if errors.Is(err, domain.ErrIntentNotFound) {
			// No receipt, so a redelivery after the intent appears is re-evaluated.
			evLog.Warn().Msg("webhook for unknown payment intent")
			res = WebhookResult{Outcome: WebhookIgnored, Reason: "unknown_intent"}
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now()
		recorded, err := w.events.Record(ctx, tx, &model.WebhookEvent{
			EventID:         ev.ID,
			EventType:       ev.RawType,
			GatewayIntentID: ev.IntentID,
			ReceivedAt:      now,
		})
		if err != nil {
			return err
		}
		if !recorded {
			res = WebhookResult{Outcome: WebhookApplied, Reason: "duplicate_event"}
			return nil
		}

		sr, err := w.settle.applyLocked(ctx, tx, p, to, now)
		if errors.Is(err, domain.ErrAlreadySettled) {
			res = WebhookResult{Outcome: WebhookApplied, Reason: domain.KindAlreadySettled.String()}
			return nil
		}
		if err != nil {
			return err
		}
		if sr == settleAlreadyTerminal {
			evLog.Info().Str("status", string(p.Status)).Msg("webhook for terminal intent ignored")
			res = WebhookResult{Outcome: WebhookApplied, Reason: "already_terminal"}
			return nil
		}
		evLog.Info().Str("status", string(to)).Msg("payment intent transitioned")
		res = WebhookResult{Outcome: WebhookApplied, Reason: string(to)}
		return nil
	})
	if err != nil {
		evLog.Error().Err(err).Msg("webhook apply failed")
		return WebhookResult{}, err
	}
	return res, nil
}

func (w *webhookUC) ReconcileIntent(ctx context.Context, intentID string) (model.IntentStatus, error) {
	defer logging.TraceDuration(w.log, "WebhookUC.ReconcileIntent")()

	p, err := w.intents.FindByGatewayID(ctx, repository.NoTX, intentID)
	if err != nil {
		return "", err
	}
	if p.Status.IsTerminal() {
		metrics.IncReconcile("unchanged")
		return p.Status, nil
	}

	pi, err := w.gateway.RetrieveStatus(ctx, intentID)
	if err != nil {
		metrics.IncReconcile("error")
		return "", err
	}
	to := statusForProvider(pi.State)
	if to == model.IntentStatusCreated {
		metrics.IncReconcile("unchanged")
		return to, nil
	}
	if to == model.IntentStatusFailed {
		if to, err = cancelAtProvider(ctx, w.gateway, intentID, to); err != nil {
			metrics.IncReconcile("error")
			return "", err
		}
	}

	sr, out, err := w.settle.apply(ctx, intentID, to)
	if err != nil {
		metrics.IncReconcile("error")
		return "", err
	}
	if sr == settleApplied {
		w.log.Info().Str("intent_id", intentID).Str("status", string(to)).Msg("payment intent reconciled from provider")
	}
	metrics.IncReconcile("reconciled")
	return out.Status, nil
}

// confirmFailure cancels a still-open intent at the provider before a failed
// attempt is recorded. A failed attempt leaves the provider intent payable, so
// recording failed alone could drop a later successful charge.
func (w *webhookUC) confirmFailure(ctx context.Context, intentID string) (model.IntentStatus, error) {
	p, err := w.intents.FindByGatewayID(ctx, repository.NoTX, intentID)
	if errors.Is(err, domain.ErrIntentNotFound) {
		return model.IntentStatusFailed, nil
	}
	if err != nil {
		return "", err
	}
	if p.Status.IsTerminal() {
		return model.IntentStatusFailed, nil
	}
	return cancelAtProvider(ctx, w.gateway, intentID, model.IntentStatusFailed)
}
