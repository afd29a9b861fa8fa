//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"course-marketplace/internal/domain"
	"course-marketplace/internal/domain/model"
	"course-marketplace/internal/domain/ports/repository"
)

func TestCourseRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()
	course := &model.Course{ID: "course-1", Title: "Go", Price: decimal.NewFromInt(500000), IsActive: true}
	courseJSON, _ := json.Marshal(course)

	t.Run("FindByID should return from cache on hit", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				if key != "course:course-1" {
					t.Fatalf("unexpected key %q", key)
				}
				return string(courseJSON), nil
			},
		}
		innerRepoCalled := false
		mockInnerRepo := &mockInnerCourseRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Course, error) {
				innerRepoCalled = true
				return nil, nil
			},
		}

		decorator := NewCourseRepoCacheDecorator(mockInnerRepo, mockRedis, time.Minute, &logger)
		result, err := decorator.FindByID(ctx, nil, "course-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if innerRepoCalled {
			t.Error("inner repository should not be called on a cache hit")
		}
		if result == nil || !result.Price.Equal(course.Price) {
			t.Errorf("did not return the cached course: %+v", result)
		}
	})

	t.Run("FindByID should fill the cache on miss", func(t *testing.T) {
		var setKey string
		var setTTL time.Duration
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) { return "", redis.Nil },
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				setKey, setTTL = key, expiration
				return nil
			},
		}
		mockInnerRepo := &mockInnerCourseRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Course, error) {
				cp := *course
				return &cp, nil
			},
		}

		decorator := NewCourseRepoCacheDecorator(mockInnerRepo, mockRedis, 5*time.Minute, &logger)
		if _, err := decorator.FindByID(ctx, nil, "course-1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if setKey != "course:course-1" || setTTL != 5*time.Minute {
			t.Errorf("cache not filled: key=%q ttl=%v", setKey, setTTL)
		}
	})

	t.Run("FindByID should fall through when redis is down", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) { return "", errors.New("connection refused") },
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				return errors.New("connection refused")
			},
		}
		mockInnerRepo := &mockInnerCourseRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Course, error) {
				cp := *course
				return &cp, nil
			},
		}

		decorator := NewCourseRepoCacheDecorator(mockInnerRepo, mockRedis, time.Minute, &logger)
		result, err := decorator.FindByID(ctx, nil, "course-1")
		if err != nil || result == nil {
			t.Fatalf("expected course from database, got %v, %v", result, err)
		}
	})

	t.Run("FindByID should not cache a missing course", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) { return "", redis.Nil },
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				t.Error("missing course must not be cached")
				return nil
			},
		}
		mockInnerRepo := &mockInnerCourseRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Course, error) {
				return nil, domain.ErrCourseNotFound
			},
		}

		decorator := NewCourseRepoCacheDecorator(mockInnerRepo, mockRedis, time.Minute, &logger)
		if _, err := decorator.FindByID(ctx, nil, "nope"); !errors.Is(err, domain.ErrCourseNotFound) {
			t.Fatalf("expected ErrCourseNotFound, got %v", err)
		}
	})

	t.Run("Invalidate should delete the key", func(t *testing.T) {
		var deletedKeys []string
		mockRedis := &mockRedisClient{
			DelFunc: func(ctx context.Context, keys ...string) error {
				deletedKeys = append(deletedKeys, keys...)
				return nil
			},
		}
		decorator := NewCourseRepoCacheDecorator(&mockInnerCourseRepo{}, mockRedis, time.Minute, &logger)
		if err := decorator.Invalidate(ctx, "course-1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(deletedKeys) != 1 || deletedKeys[0] != "course:course-1" {
			t.Fatalf("deleted keys = %v", deletedKeys)
		}
	})
}
