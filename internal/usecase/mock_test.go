//go:build !integration

package usecase_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"course-marketplace/internal/domain"
	"course-marketplace/internal/domain/model"
	"course-marketplace/internal/domain/ports/adapter"
	"course-marketplace/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// =============================
// Repositories
// =============================

// ---- Course catalog ----

type MockCourseRepo struct {
	mu    sync.Mutex
	data  map[string]*model.Course
	Calls int

	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.Course, error)
}

var _ repository.CourseRepository = (*MockCourseRepo)(nil)

func NewMockCourseRepo(courses ...*model.Course) *MockCourseRepo {
	m := &MockCourseRepo{data: map[string]*model.Course{}}
	for _, c := range courses {
		m.data[c.ID] = c
	}
	return m
}

func (m *MockCourseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Course, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.data[id]
	if !ok {
		return nil, domain.ErrCourseNotFound
	}
	cp := *c
	return &cp, nil
}

// SetPrice changes a course price in place.
func (m *MockCourseRepo) SetPrice(id string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.data[id]; ok {
		cp := *c
		cp.Price = price
		m.data[id] = &cp
	}
}

// ---- Payment intents ----

// MockIntentRepo mirrors the Postgres constraints: unique gateway id (insert
// is skipped) and one created intent per user/course (ErrAlreadyExists).
type MockIntentRepo struct {
	mu   sync.Mutex
	data map[string]*model.PaymentIntent

	CreateFunc func(ctx context.Context, tx repository.Tx, p *model.PaymentIntent) (bool, error)
}

var _ repository.PaymentIntentRepository = (*MockIntentRepo)(nil)

func NewMockIntentRepo() *MockIntentRepo {
	return &MockIntentRepo{data: map[string]*model.PaymentIntent{}}
}

func (m *MockIntentRepo) Create(ctx context.Context, tx repository.Tx, p *model.PaymentIntent) (bool, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, tx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[p.GatewayIntentID]; ok {
		return false, nil
	}
	for _, x := range m.data {
		if x.UserID == p.UserID && x.CourseID == p.CourseID && x.Status == model.IntentStatusCreated {
			return false, domain.ErrAlreadyExists
		}
	}
	cp := *p
	m.data[p.GatewayIntentID] = &cp
	return true, nil
}

func (m *MockIntentRepo) FindByGatewayID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data[id]
	if !ok {
		return nil, domain.ErrIntentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockIntentRepo) FindOpenByUserAndCourse(ctx context.Context, tx repository.Tx, userID, courseID string) (*model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.data {
		if p.UserID == userID && p.CourseID == courseID && p.Status == model.IntentStatusCreated {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrIntentNotFound
}

func (m *MockIntentRepo) TransitionFromCreated(ctx context.Context, tx repository.Tx, id string, to model.IntentStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data[id]
	if !ok || p.Status != model.IntentStatusCreated {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = at
	t := at
	switch to {
	case model.IntentStatusSucceeded:
		p.CompletedAt = &t
	case model.IntentStatusFailed:
		p.FailedAt = &t
	case model.IntentStatusCanceled:
		p.CanceledAt = &t
	}
	return true, nil
}

func (m *MockIntentRepo) ListOpenOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, after *repository.IntentCursor, limit int) ([]*model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	less := func(at time.Time, id string, than *repository.IntentCursor) bool {
		return at.Before(than.CreatedAt) || (at.Equal(than.CreatedAt) && id < than.GatewayIntentID)
	}
	var out []*model.PaymentIntent
	for _, p := range m.data {
		if p.Status != model.IntentStatusCreated || !p.CreatedAt.Before(olderThan) {
			continue
		}
		if after != nil && !less(after.CreatedAt, after.GatewayIntentID, repository.CursorAfter(p)) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].CreatedAt, out[i].GatewayIntentID, repository.CursorAfter(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Put stores p as is, bypassing the constraints.
func (m *MockIntentRepo) Put(p *model.PaymentIntent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.data[p.GatewayIntentID] = &cp
}

func (m *MockIntentRepo) All() []*model.PaymentIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.PaymentIntent, 0, len(m.data))
	for _, p := range m.data {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// ---- Enrollment ledger ----

type MockEnrollmentRepo struct {
	mu   sync.Mutex
	data map[string]*model.Enrollment // user|course

	CreateFunc func(ctx context.Context, tx repository.Tx, e *model.Enrollment) error
}

var _ repository.EnrollmentRepository = (*MockEnrollmentRepo)(nil)

func NewMockEnrollmentRepo() *MockEnrollmentRepo {
	return &MockEnrollmentRepo{data: map[string]*model.Enrollment{}}
}

func (m *MockEnrollmentRepo) Create(ctx context.Context, tx repository.Tx, e *model.Enrollment) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, tx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := e.UserID + "|" + e.CourseID
	if _, ok := m.data[k]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *e
	if cp.ID == "" {
		cp.ID = "enr-" + k
	}
	m.data[k] = &cp
	return nil
}

func (m *MockEnrollmentRepo) FindByUserAndCourse(ctx context.Context, tx repository.Tx, userID, courseID string) (*model.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[userID+"|"+courseID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MockEnrollmentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Enrollment
	for _, e := range m.data {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseID < out[j].CourseID })
	return out, nil
}

func (m *MockEnrollmentRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// ---- Webhook receipts ----

type MockWebhookEventRepo struct {
	mu   sync.Mutex
	data map[string]*model.WebhookEvent

	RecordFunc func(ctx context.Context, tx repository.Tx, e *model.WebhookEvent) (bool, error)
}

var _ repository.WebhookEventRepository = (*MockWebhookEventRepo)(nil)

func NewMockWebhookEventRepo() *MockWebhookEventRepo {
	return &MockWebhookEventRepo{data: map[string]*model.WebhookEvent{}}
}

func (m *MockWebhookEventRepo) Record(ctx context.Context, tx repository.Tx, e *model.WebhookEvent) (bool, error) {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, tx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[e.EventID]; ok {
		return false, nil
	}
	cp := *e
	m.data[e.EventID] = &cp
	return true, nil
}

func (m *MockWebhookEventRepo) Exists(ctx context.Context, tx repository.Tx, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[eventID]
	return ok, nil
}

func (m *MockWebhookEventRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// =============================
// Infra helpers for tests
// =============================

// ---- Mock TransactionManager ----

// MockTxManager serialises transactions, which stands in for the row lock
// taken by FindByGatewayID inside a real transaction.
type MockTxManager struct {
	mu         sync.Mutex
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, repository.NoTX)
}

// ---- In-memory Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	ErrOn map[string]error

	TryLockFunc func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

var _ adapter.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if l.TryLockFunc != nil {
		return l.TryLockFunc(ctx, key, ttl)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if _, ok := l.held[key]; ok {
		return "", domain.ErrPurchaseInProgress
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func (l *MockLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

// ---- Rate limiter ----

type MockRateLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

var _ adapter.RateLimiter = (*MockRateLimiter)(nil)

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key, limit, window)
	}
	return true, nil
}

// ---- Payment gateway ----

// MockPaymentGateway overrides single calls of an underlying gateway.
type MockPaymentGateway struct {
	adapter.PaymentGateway

	CreateProviderIntentFunc func(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string, token string) (*adapter.ProviderIntent, error)
	RetrieveStatusFunc       func(ctx context.Context, id string) (*adapter.ProviderIntent, error)
	CancelFunc               func(ctx context.Context, id string) (*adapter.ProviderIntent, error)
}

func (m *MockPaymentGateway) CreateProviderIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string, token string) (*adapter.ProviderIntent, error) {
	if m.CreateProviderIntentFunc != nil {
		return m.CreateProviderIntentFunc(ctx, amount, currency, metadata, token)
	}
	return m.PaymentGateway.CreateProviderIntent(ctx, amount, currency, metadata, token)
}

func (m *MockPaymentGateway) RetrieveStatus(ctx context.Context, id string) (*adapter.ProviderIntent, error) {
	if m.RetrieveStatusFunc != nil {
		return m.RetrieveStatusFunc(ctx, id)
	}
	return m.PaymentGateway.RetrieveStatus(ctx, id)
}

func (m *MockPaymentGateway) Cancel(ctx context.Context, id string) (*adapter.ProviderIntent, error) {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, id)
	}
	return m.PaymentGateway.Cancel(ctx, id)
}
