package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"course-marketplace/internal/domain/model"
	"course-marketplace/internal/domain/ports/repository"
	"course-marketplace/internal/infra/metrics"
	red "course-marketplace/internal/infra/redis"
)

var _ repository.CourseRepository = (*CourseRepoCache)(nil)

// CourseRepoCache serves read-mostly catalog lookups (access checks)
// from Redis. The purchase flow reads the undecorated repository so that
// prices are always authoritative.
type CourseRepoCache struct {
	inner repository.CourseRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewCourseRepoCacheDecorator(inner repository.CourseRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) *CourseRepoCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CourseRepoCache{inner: inner, cache: cache, ttl: ttl, log: logger}
}

func courseKey(id string) string { return fmt.Sprintf("course:%s", id) }

func (d *CourseRepoCache) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Course, error) {
	key := courseKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var c model.Course
		if json.Unmarshal([]byte(val), &c) == nil {
			metrics.IncCacheRequest("course", "hit")
			return &c, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		d.log.Warn().Err(err).Str("course_id", id).Msg("course cache read failed")
	}

	metrics.IncCacheRequest("course", "miss")
	c, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(c); err == nil {
		if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
			d.log.Warn().Err(err).Str("course_id", id).Msg("course cache write failed")
		}
	}
	return c, nil
}

// Invalidate drops a cached course; the seed tool calls it after upserts.
func (d *CourseRepoCache) Invalidate(ctx context.Context, id string) error {
	return d.cache.Del(ctx, courseKey(id))
}
