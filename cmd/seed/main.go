package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"

	"course-marketplace/internal/config"
	"course-marketplace/internal/domain/model"
	"course-marketplace/internal/domain/ports/repository"
	"course-marketplace/internal/infra/api"
	pg "course-marketplace/internal/infra/db/postgres"
	"course-marketplace/internal/infra/logging"
	red "course-marketplace/internal/infra/redis"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	tokenFor := flag.String("token", "", "also print a bearer token for this user id")
	flag.Parse()

	// ---- Config ----
	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect Postgres
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()

	courseRepo := pg.NewCourseRepo(pool)
	cache := pg.NewCourseRepoCacheDecorator(courseRepo, redisClient, cfg.Redis.TTL, logger)
	tm := pg.NewTxManager(pool)

	// Sample catalog for exercising the purchase flow
	seed := []struct {
		ID, DisplayID, Title string
		Price                int64
		Free                 bool
	}{
		{"course-go-basics", "GO-101", "Go Basics", 0, true},
		{"course-concurrency", "GO-201", "Concurrency in Practice", 500_000, false},
		{"course-distributed", "GO-301", "Distributed Systems with Go", 1_250_000, false},
	}

	err = tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		for _, s := range seed {
			c, err := model.NewCourse(s.ID, s.DisplayID, s.Title, decimal.NewFromInt(s.Price), s.Free)
			if err != nil {
				return fmt.Errorf("course %q: %w", s.ID, err)
			}
			if err := courseRepo.Upsert(ctx, tx, c); err != nil {
				return fmt.Errorf("upsert %q: %w", s.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("seed: %v", err)
	}

	// Cached prices would otherwise outlive the upsert until TTL.
	for _, s := range seed {
		if err := cache.Invalidate(ctx, s.ID); err != nil {
			logger.Warn().Err(err).Str("course_id", s.ID).Msg("cache invalidate failed")
		}
	}

	courses, err := courseRepo.ListActive(ctx, repository.NoTX)
	if err != nil {
		log.Fatalf("list courses: %v", err)
	}
	for _, c := range courses {
		fmt.Printf("  - %s %s (id=%s, price=%s %s, free=%t)\n", c.DisplayID, c.Title, c.ID, c.Price.String(), cfg.Payment.Currency, c.IsFree)
	}

	if *tokenFor != "" {
		tok, err := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Mint(*tokenFor, 24*time.Hour)
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
		fmt.Printf("bearer token for %s:\n%s\n", *tokenFor, tok)
	}

	fmt.Println("Seeding complete.")
}
