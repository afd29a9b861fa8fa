// File: internal/usecase/purchase_uc.go
package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"course-marketplace/internal/domain"
	"course-marketplace/internal/domain/model"
	"course-marketplace/internal/domain/ports/adapter"
	"course-marketplace/internal/domain/ports/repository"
	"course-marketplace/internal/infra/logging"
	"course-marketplace/internal/infra/metrics"
)

// Compile-time check
var _ PurchaseUseCase = (*purchaseUC)(nil)

// PurchaseUseCase turns a purchase request into either a direct free
// enrollment or an open gateway intent.
type PurchaseUseCase interface {
	CreateIntent(ctx context.Context, userID, courseID string, claimedAmount decimal.Decimal, currency string) (*model.IntentResult, error)
	GetIntentStatus(ctx context.Context, userID, intentID string) (*model.PaymentIntent, error)
	CancelIntent(ctx context.Context, userID, intentID string) (*model.PaymentIntent, error)
	// CancelExpired cancels an abandoned intent at the gateway and records it.
	CancelExpired(ctx context.Context, intentID string) (model.IntentStatus, error)
	ListEnrollments(ctx context.Context, userID string) ([]*model.Enrollment, error)
}

type PurchaseOptions struct {
	Currency          string
	Epsilon           decimal.Decimal
	IdempotencyWindow time.Duration
	CreateRateLimit   int // per user per minute, 0 disables
	LockTTL           time.Duration
	// CallTimeout bounds one shared create call; it outlives the caller that started it.
	CallTimeout time.Duration
}

type purchaseUC struct {
	courses     repository.CourseRepository
	intents     repository.PaymentIntentRepository
	enrollments repository.EnrollmentRepository
	gateway     adapter.PaymentGateway
	locker      adapter.Locker
	limiter     adapter.RateLimiter
	settle      *settlement
	opts        PurchaseOptions
	sf          singleflight.Group
	now         func() time.Time
	log         *zerolog.Logger
}

// NewPurchaseUseCase wires the purchase flow. courses must be the uncached
// catalog so prices are read fresh. locker and limiter may be nil.
func NewPurchaseUseCase(
	courses repository.CourseRepository,
	intents repository.PaymentIntentRepository,
	enrollments repository.EnrollmentRepository,
	gateway adapter.PaymentGateway,
	tm repository.TransactionManager,
	locker adapter.Locker,
	limiter adapter.RateLimiter,
	opts PurchaseOptions,
	logger *zerolog.Logger,
) *purchaseUC {
	if opts.IdempotencyWindow <= 0 {
		opts.IdempotencyWindow = 10 * time.Minute
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 15 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	opts.Currency = strings.ToLower(opts.Currency)
	return &purchaseUC{
		courses:     courses,
		intents:     intents,
		enrollments: enrollments,
		gateway:     gateway,
		locker:      locker,
		limiter:     limiter,
		settle:      &settlement{intents: intents, enrollments: enrollments, tm: tm, log: logger},
		opts:        opts,
		now:         time.Now,
		log:         logger,
	}
}

func (u *purchaseUC) CreateIntent(ctx context.Context, userID, courseID string, claimedAmount decimal.Decimal, currency string) (*model.IntentResult, error) {
	defer logging.TraceDuration(u.log, "PurchaseUC.CreateIntent")()

	userID, courseID = strings.TrimSpace(userID), strings.TrimSpace(courseID)
	currency = strings.ToLower(strings.TrimSpace(currency))
	if userID == "" || courseID == "" || currency == "" || claimedAmount.IsNegative() {
		return nil, domain.ErrInvalidArgument
	}

	if err := u.checkRate(ctx, userID); err != nil {
		return nil, err
	}

	// Identical concurrent requests share one execution, detached from the
	// cancellation of whichever caller started it.
	key := strings.Join([]string{userID, courseID, claimedAmount.String(), currency}, "|")
	ch := u.sf.DoChan(key, func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.opts.CallTimeout)
		defer cancel()
		return u.createIntent(sctx, userID, courseID, claimedAmount, currency)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*model.IntentResult)
		return &res, nil
	}
}

func (u *purchaseUC) createIntent(ctx context.Context, userID, courseID string, claimed decimal.Decimal, currency string) (*model.IntentResult, error) {
	log := logging.With(ctx, u.log).With().Str("user_id", userID).Str("course_id", courseID).Logger()

	course, err := u.courses.FindByID(ctx, repository.NoTX, courseID)
	if err != nil {
		return nil, err
	}
	if !course.IsActive {
		return nil, domain.ErrCourseNotFound
	}

	if owned, err := u.owns(ctx, userID, courseID); err != nil {
		return nil, err
	} else if owned {
		return nil, domain.ErrAlreadyOwned
	}

	if claimed.Sub(course.Price).Abs().GreaterThan(u.opts.Epsilon) || currency != u.opts.Currency {
		metrics.IncAmountMismatch()
		log.Warn().
			Str("claimed", claimed.String()).
			Str("expected", course.Price.String()).
			Str("currency", currency).
			Msg("claimed amount does not match course price")
		return nil, domain.ErrAmountMismatch
	}

	if !course.RequiresPayment() {
		return u.enrollFree(ctx, &log, userID, courseID)
	}

	lockKey := fmt.Sprintf("purchase:lock:%s:%s", userID, courseID)
	if u.locker != nil {
		token, err := u.locker.TryLock(ctx, lockKey, u.opts.LockTTL)
		switch {
		case errors.Is(err, domain.ErrPurchaseInProgress):
			return nil, err
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			// The open-pair index still guards the invariant.
			log.Warn().Err(err).Msg("purchase lock unavailable, continuing without it")
		default:
			defer func() {
				if err := u.locker.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
					log.Warn().Err(err).Msg("failed to release purchase lock")
				}
			}()
		}
	}

	if res, err := u.reuseOpen(ctx, &log, course, userID); err != nil || res != nil {
		return res, err
	}
	return u.createProviderIntent(ctx, &log, course, userID)
}

func (u *purchaseUC) owns(ctx context.Context, userID, courseID string) (bool, error) {
	_, err := u.enrollments.FindByUserAndCourse(ctx, repository.NoTX, userID, courseID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (u *purchaseUC) enrollFree(ctx context.Context, log *zerolog.Logger, userID, courseID string) (*model.IntentResult, error) {
	e := &model.Enrollment{
		UserID:      userID,
		CourseID:    courseID,
		AmountPaid:  decimal.Zero,
		Source:      model.EnrollmentSourceFree,
		PurchasedAt: u.now(),
	}
	if err := u.enrollments.Create(ctx, repository.NoTX, e); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, domain.ErrAlreadyOwned
		}
		log.Error().Err(err).Msg("free enrollment failed")
		return nil, err
	}
	metrics.IncEnrollment(string(model.EnrollmentSourceFree))
	log.Info().Msg("free course enrolled")
	return &model.IntentResult{PaymentRequired: false, CourseID: courseID}, nil
}

// reuseOpen returns the pair's open intent when the gateway still considers
// it payable. A nil result means a fresh intent must be created.
func (u *purchaseUC) reuseOpen(ctx context.Context, log *zerolog.Logger, course *model.Course, userID string) (*model.IntentResult, error) {
	open, err := u.intents.FindOpenByUserAndCourse(ctx, repository.NoTX, userID, course.ID)
	if errors.Is(err, domain.ErrIntentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	pi, err := u.gateway.RetrieveStatus(ctx, open.GatewayIntentID)
	if err != nil {
		log.Error().Err(err).Str("intent_id", open.GatewayIntentID).Msg("gateway retrieve failed")
		return nil, err
	}

	st := statusForProvider(pi.State)
	if st == model.IntentStatusCreated {
		if open.Amount.Equal(course.Price) && strings.EqualFold(open.Currency, u.opts.Currency) {
			log.Debug().Str("intent_id", open.GatewayIntentID).Msg("reusing open payment intent")
			return &model.IntentResult{
				PaymentRequired: true,
				GatewayIntentID: open.GatewayIntentID,
				ClientSecret:    pi.ClientSecret,
				CourseID:        course.ID,
			}, nil
		}
		// Price changed since the intent was opened.
		if _, err := u.gateway.Cancel(ctx, open.GatewayIntentID); err != nil {
			log.Error().Err(err).Str("intent_id", open.GatewayIntentID).Msg("gateway cancel of stale-priced intent failed")
			return nil, err
		}
		st = model.IntentStatusCanceled
	}

	if _, _, err := u.settle.apply(ctx, open.GatewayIntentID, st); err != nil {
		log.Error().Err(err).Str("intent_id", open.GatewayIntentID).Msg("applying provider state failed")
		return nil, err
	}
	log.Info().Str("intent_id", open.GatewayIntentID).Str("status", string(st)).Msg("open intent settled from provider state")
	if st == model.IntentStatusSucceeded {
		return nil, domain.ErrAlreadyOwned
	}
	return nil, nil
}

func (u *purchaseUC) createProviderIntent(ctx context.Context, log *zerolog.Logger, course *model.Course, userID string) (*model.IntentResult, error) {
	meta := map[string]string{"user_id": userID, "course_id": course.ID}
	salt := ""
	for attempt := 0; attempt < 2; attempt++ {
		token := idempotencyToken(userID, course.ID, course.Price, u.opts.Currency, u.now(), u.opts.IdempotencyWindow, salt)
		pi, err := u.gateway.CreateProviderIntent(ctx, course.Price, u.opts.Currency, meta, token)
		if err != nil {
			log.Error().Err(err).Msg("gateway create intent failed")
			return nil, err
		}
		result := &model.IntentResult{
			PaymentRequired: true,
			GatewayIntentID: pi.ID,
			ClientSecret:    pi.ClientSecret,
			CourseID:        course.ID,
		}

		now := u.now()
		p := &model.PaymentIntent{
			GatewayIntentID: pi.ID,
			UserID:          userID,
			CourseID:        course.ID,
			Amount:          course.Price,
			Currency:        u.opts.Currency,
			Provider:        u.gateway.Name(),
			IdempotencyKey:  token,
			Status:          model.IntentStatusCreated,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		inserted, err := u.intents.Create(ctx, repository.NoTX, p)
		if errors.Is(err, domain.ErrAlreadyExists) {
			return u.resolveOpenConflict(ctx, log, pi.ID, userID, course.ID)
		}
		if err != nil {
			log.Error().Err(err).Str("intent_id", pi.ID).Msg("persisting payment intent failed")
			return nil, err
		}
		if inserted {
			metrics.IncIntent(string(model.IntentStatusCreated))
			log.Info().Str("intent_id", pi.ID).Str("amount", course.Price.String()).Msg("payment intent created")
			return result, nil
		}

		// The gateway collapsed the call onto an intent we already track.
		existing, err := u.intents.FindByGatewayID(ctx, repository.NoTX, pi.ID)
		if err != nil {
			return nil, err
		}
		if !existing.Status.IsTerminal() {
			return result, nil
		}
		salt = existing.GatewayIntentID
	}
	return nil, domain.ErrPurchaseInProgress
}

// resolveOpenConflict handles losing the open-pair race: the orphan provider
// intent is canceled best-effort and the winner is returned.
func (u *purchaseUC) resolveOpenConflict(ctx context.Context, log *zerolog.Logger, orphanID, userID, courseID string) (*model.IntentResult, error) {
	if _, err := u.gateway.Cancel(ctx, orphanID); err != nil {
		log.Warn().Err(err).Str("intent_id", orphanID).Msg("failed to cancel orphaned provider intent")
	}
	winner, err := u.intents.FindOpenByUserAndCourse(ctx, repository.NoTX, userID, courseID)
	if errors.Is(err, domain.ErrIntentNotFound) {
		return nil, domain.ErrPurchaseInProgress
	}
	if err != nil {
		return nil, err
	}
	pi, err := u.gateway.RetrieveStatus(ctx, winner.GatewayIntentID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("intent_id", winner.GatewayIntentID).Str("orphan_id", orphanID).Msg("concurrent purchase resolved to existing intent")
	return &model.IntentResult{
		PaymentRequired: true,
		GatewayIntentID: winner.GatewayIntentID,
		ClientSecret:    pi.ClientSecret,
		CourseID:        courseID,
	}, nil
}

func (u *purchaseUC) GetIntentStatus(ctx context.Context, userID, intentID string) (*model.PaymentIntent, error) {
	defer logging.TraceDuration(u.log, "PurchaseUC.GetIntentStatus")()
	return u.ownedIntent(ctx, userID, intentID)
}

func (u *purchaseUC) CancelIntent(ctx context.Context, userID, intentID string) (*model.PaymentIntent, error) {
	defer logging.TraceDuration(u.log, "PurchaseUC.CancelIntent")()

	p, err := u.ownedIntent(ctx, userID, intentID)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case model.IntentStatusCanceled:
		return p, nil
	case model.IntentStatusSucceeded, model.IntentStatusFailed:
		return nil, domain.ErrInvalidState
	}

	st, err := cancelAtProvider(ctx, u.gateway, p.GatewayIntentID, model.IntentStatusCanceled)
	if err != nil {
		u.log.Error().Err(err).Str("intent_id", p.GatewayIntentID).Str("user_id", userID).Msg("gateway cancel failed")
		return nil, err
	}
	_, out, err := u.settle.apply(ctx, p.GatewayIntentID, st)
	if err != nil {
		return nil, err
	}
	if out.Status != model.IntentStatusCanceled {
		// The provider or a webhook settled the intent first.
		return nil, domain.ErrInvalidState
	}
	u.log.Info().Str("intent_id", p.GatewayIntentID).Str("user_id", userID).Msg("payment intent canceled by user")
	return out, nil
}

func (u *purchaseUC) CancelExpired(ctx context.Context, intentID string) (model.IntentStatus, error) {
	p, err := u.intents.FindByGatewayID(ctx, repository.NoTX, intentID)
	if err != nil {
		return "", err
	}
	if p.Status.IsTerminal() {
		return p.Status, nil
	}
	st, err := cancelAtProvider(ctx, u.gateway, intentID, model.IntentStatusCanceled)
	if err != nil {
		return "", err
	}
	_, out, err := u.settle.apply(ctx, intentID, st)
	if err != nil {
		return "", err
	}
	if out.Status == model.IntentStatusCanceled {
		u.log.Info().Str("intent_id", intentID).Str("user_id", p.UserID).Msg("expired payment intent canceled")
	}
	return out.Status, nil
}

func (u *purchaseUC) ListEnrollments(ctx context.Context, userID string) ([]*model.Enrollment, error) {
	defer logging.TraceDuration(u.log, "PurchaseUC.ListEnrollments")()
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.enrollments.ListByUser(ctx, repository.NoTX, userID)
}

// ownedIntent hides other users' intents behind NotFound.
func (u *purchaseUC) ownedIntent(ctx context.Context, userID, intentID string) (*model.PaymentIntent, error) {
	if strings.TrimSpace(intentID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	p, err := u.intents.FindByGatewayID(ctx, repository.NoTX, intentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, domain.ErrIntentNotFound
	}
	return p, nil
}

func (u *purchaseUC) checkRate(ctx context.Context, userID string) error {
	if u.limiter == nil || u.opts.CreateRateLimit <= 0 {
		return nil
	}
	ok, err := u.limiter.Allow(ctx, "rate_limit:"+userID+":create_intent", u.opts.CreateRateLimit, time.Minute)
	if err != nil {
		u.log.Warn().Err(err).Str("user_id", userID).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		metrics.IncRateLimited("create_intent")
		return domain.ErrRateLimited
	}
	return nil
}

// idempotencyToken is stable for a user/course pair and price within one
// window bucket. The provider refuses a token replayed with other parameters,
// so amount and currency are part of it. salt distinguishes a retry after the
// bucket's intent was already settled.
func idempotencyToken(userID, courseID string, amount decimal.Decimal, currency string, now time.Time, window time.Duration, salt string) string {
	bucket := now.Unix() / int64(window/time.Second)
	src := fmt.Sprintf("%s|%s|%s|%s|%d", userID, courseID, amount.String(), strings.ToLower(currency), bucket)
	if salt != "" {
		src += "|" + salt
	}
	sum := sha256.Sum256([]byte(src))
	return "ci_" + hex.EncodeToString(sum[:])
}
