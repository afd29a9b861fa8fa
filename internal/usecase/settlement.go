package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"course-marketplace/internal/domain"
	"course-marketplace/internal/domain/model"
	"course-marketplace/internal/domain/ports/adapter"
	"course-marketplace/internal/domain/ports/repository"
	"course-marketplace/internal/infra/metrics"
)

type settleResult int

const (
	settleApplied         settleResult = iota // status moved out of created
	settleAlreadyTerminal                     // intent was terminal before this call
	settleAlreadySettled                      // succeeded, but the enrollment already existed
)

// settlement owns the created -> terminal transition shared by the webhook,
// the reconciliation sweep and the purchase reuse path.
type settlement struct {
	intents     repository.PaymentIntentRepository
	enrollments repository.EnrollmentRepository
	tm          repository.TransactionManager
	log         *zerolog.Logger
}

var settleTxOpts = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// apply locks the intent and moves it to `to` in its own transaction.
func (s *settlement) apply(ctx context.Context, gatewayIntentID string, to model.IntentStatus) (settleResult, *model.PaymentIntent, error) {
	var (
		res settleResult
		out *model.PaymentIntent
	)
	err := s.tm.WithTx(ctx, settleTxOpts, func(ctx context.Context, tx repository.Tx) error {
		p, err := s.intents.FindByGatewayID(ctx, tx, gatewayIntentID)
		if err != nil {
			return err
		}
		res, err = s.applyLocked(ctx, tx, p, to, time.Now())
		out = p
		if errors.Is(err, domain.ErrAlreadySettled) {
			res = settleAlreadySettled
			return nil
		}
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	return res, out, nil
}

// applyLocked expects p to be locked by tx. On success p reflects the new status.
// A succeeded intent whose enrollment already exists returns ErrAlreadySettled
// with the transition applied; the caller still commits.
func (s *settlement) applyLocked(ctx context.Context, tx repository.Tx, p *model.PaymentIntent, to model.IntentStatus, now time.Time) (settleResult, error) {
	if p.Status.IsTerminal() {
		return settleAlreadyTerminal, nil
	}
	if !to.IsTerminal() {
		return 0, fmt.Errorf("%w: cannot settle into %q", domain.ErrInvalidArgument, to)
	}

	moved, err := s.intents.TransitionFromCreated(ctx, tx, p.GatewayIntentID, to, now)
	if err != nil {
		return 0, err
	}
	if !moved {
		return settleAlreadyTerminal, nil
	}
	p.Status = to
	p.UpdatedAt = now
	metrics.IncIntent(string(to))

	if to != model.IntentStatusSucceeded {
		return settleApplied, nil
	}

	intentID := p.GatewayIntentID
	e := &model.Enrollment{
		UserID:          p.UserID,
		CourseID:        p.CourseID,
		AmountPaid:      p.Amount,
		PaymentIntentID: &intentID,
		Source:          model.EnrollmentSourcePurchase,
		PurchasedAt:     now,
	}
	if err := s.enrollments.Create(ctx, tx, e); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			s.log.Info().
				Str("intent_id", intentID).
				Str("user_id", p.UserID).
				Str("course_id", p.CourseID).
				Msg("payment succeeded for a course the user already owns")
			return settleApplied, fmt.Errorf("intent %s: %w", intentID, domain.ErrAlreadySettled)
		}
		return 0, err
	}
	metrics.IncEnrollment(string(model.EnrollmentSourcePurchase))
	metrics.AddPaymentRevenue(p.Currency, p.Amount)
	s.log.Info().
		Str("intent_id", intentID).
		Str("user_id", p.UserID).
		Str("course_id", p.CourseID).
		Msg("enrollment granted")
	return settleApplied, nil
}

// cancelAtProvider makes sure the provider can no longer charge the intent
// before `want` is recorded locally. When the provider refuses because the
// intent already settled, the provider's terminal state is returned instead.
func cancelAtProvider(ctx context.Context, gateway adapter.PaymentGateway, gatewayIntentID string, want model.IntentStatus) (model.IntentStatus, error) {
	_, err := gateway.Cancel(ctx, gatewayIntentID)
	if err == nil {
		return want, nil
	}
	if !errors.Is(err, domain.ErrGatewayRejected) {
		return "", err
	}
	pi, rerr := gateway.RetrieveStatus(ctx, gatewayIntentID)
	if rerr != nil {
		return "", rerr
	}
	switch pi.State {
	case adapter.ProviderStateSucceeded:
		return model.IntentStatusSucceeded, nil
	case adapter.ProviderStateCanceled, adapter.ProviderStateFailed:
		return want, nil
	default:
		// Still payable and not cancelable: leave it open.
		return "", err
	}
}

// statusForProvider maps a provider state onto the local lifecycle.
// Open maps to created.
func statusForProvider(st adapter.ProviderState) model.IntentStatus {
	switch st {
	case adapter.ProviderStateSucceeded:
		return model.IntentStatusSucceeded
	case adapter.ProviderStateFailed:
		return model.IntentStatusFailed
	case adapter.ProviderStateCanceled:
		return model.IntentStatusCanceled
	default:
		return model.IntentStatusCreated
	}
}

func statusForEvent(k adapter.EventKind) (model.IntentStatus, bool) {
	switch k {
	case adapter.EventPaymentSucceeded:
		return model.IntentStatusSucceeded, true
	case adapter.EventPaymentFailed:
		return model.IntentStatusFailed, true
	case adapter.EventPaymentCanceled:
		return model.IntentStatusCanceled, true
	default:
		return "", false
	}
}
