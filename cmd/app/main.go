// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"course-marketplace/internal/config"
	"course-marketplace/internal/domain/ports/adapter"
	payAdapters "course-marketplace/internal/infra/adapters/payment"
	"course-marketplace/internal/infra/api"
	pg "course-marketplace/internal/infra/db/postgres"
	"course-marketplace/internal/infra/logging"
	"course-marketplace/internal/infra/metrics"
	red "course-marketplace/internal/infra/redis"
	"course-marketplace/internal/infra/sched"
	"course-marketplace/internal/usecase"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "use the in-process fake gateway")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] fake payment gateway enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	tm := pg.NewTxManager(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	limiter := red.NewRateLimiter(redisClient)

	// ---- Repositories ----
	// Purchases read prices straight from Postgres; access checks go through the cache.
	courseRepo := pg.NewCourseRepo(pool)
	cachedCourses := pg.NewCourseRepoCacheDecorator(courseRepo, redisClient, cfg.Redis.TTL, logger)
	intentRepo := pg.NewPaymentIntentRepo(pool)
	enrollmentRepo := pg.NewEnrollmentRepo(pool)
	eventRepo := pg.NewWebhookEventRepo(pool)

	// ---- Gateway ----
	var gateway adapter.PaymentGateway
	switch cfg.Payment.Provider {
	case "fake":
		gateway = payAdapters.NewFakeGateway()
	default:
		sg, err := payAdapters.NewStripeGateway(cfg.Payment.Stripe, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("stripe gateway")
		}
		gateway = sg
	}
	logger.Info().Str("provider", gateway.Name()).Str("currency", cfg.Payment.Currency).Msg("payment gateway ready")

	// ---- Use cases ----
	purchaseUC := usecase.NewPurchaseUseCase(courseRepo, intentRepo, enrollmentRepo, gateway, tm, locker, limiter, usecase.PurchaseOptions{
		Currency:          cfg.Payment.Currency,
		Epsilon:           cfg.Payment.Epsilon,
		IdempotencyWindow: cfg.Payment.IdempotencyWindow,
		CreateRateLimit:   cfg.Payment.CreateRateLimit,
	}, logger)
	webhookUC := usecase.NewWebhookUseCase(intentRepo, eventRepo, enrollmentRepo, gateway, tm, cfg.Payment.Stripe.WebhookSecret, logger)
	accessUC := usecase.NewAccessUseCase(cachedCourses, enrollmentRepo, logger)

	// ---- HTTP ----
	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	srv := api.NewServer(purchaseUC, webhookUC, accessUC, cfg.Payment.SignatureHeader, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Routes(auth, cfg.HTTP.RequestTimeout),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// ---- Background ----
	reconciler := sched.NewPaymentReconciler(intentRepo, webhookUC, purchaseUC,
		cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, cfg.Reconciler.ExpireAfter, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := reconciler.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		pg.ReportPoolStats(gctx, pool, 15*time.Second)
		return nil
	})

	// ---- Graceful shutdown ----
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("bye")
}
