package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/clavis-id/clavis/internal/api"
	"github.com/clavis-id/clavis/internal/audit"
	"github.com/clavis-id/clavis/internal/auth"
	"github.com/clavis-id/clavis/internal/authz"
	"github.com/clavis-id/clavis/internal/config"
	"github.com/clavis-id/clavis/internal/notify"
	"github.com/clavis-id/clavis/internal/ratelimit"
	"github.com/clavis-id/clavis/internal/storage/postgres"
	"github.com/clavis-id/clavis/pkg/logger"
)

func main() {
	// Local development reads .env files; production relies on real env
	// vars, so load errors are ignored.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_invalid", "error", err)
		os.Exit(1)
	}

	log := logger.Setup(cfg.Env)
	log.Info("application_startup", "env", cfg.Env)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
		}); err != nil {
			log.Error("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			log.Info("sentry_initialized")
		}
	}

	ctx := context.Background()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database_connect_failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	log.Info("database_connected")

	users := postgres.NewUserRepository(pool)
	sessions := postgres.NewSessionRepository(pool)
	resets := postgres.NewResetTokenRepository(pool)
	rbac := postgres.NewRBACRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)

	// Rate limiter: Redis-backed sliding windows, or wide open when the
	// master switch is off.
	var limiter ratelimit.Limiter = ratelimit.Disabled{}
	if cfg.RateLimitEnabled {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("redis_connect_failed", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		limiter = ratelimit.NewRedisLimiter(redisClient, ratelimit.DefaultRules(), log)
		log.Info("rate_limiter_enabled", "addr", cfg.RedisAddr)
	} else {
		log.Warn("rate_limiter_disabled")
	}

	// Audit journal.
	var journal audit.Recorder = audit.Nop{}
	if cfg.AuditLogEnabled {
		dbJournal := audit.NewJournal(auditRepo, log)
		defer dbJournal.Close()
		journal = dbJournal
	} else {
		log.Warn("audit_journal_disabled")
	}

	// Outbound events: a broker when configured, the log otherwise.
	var publisher notify.Publisher = &notify.LogPublisher{Logger: log}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := notify.NewAMQPPublisher(cfg.AMQPURL, log)
		if err != nil {
			log.Error("broker_connect_failed", "error", err)
			os.Exit(1)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	} else if cfg.IsProduction() {
		log.Warn("broker_not_configured", "details", "reset tokens will only reach the log")
	}

	hasher, err := auth.NewArgon2Hasher(auth.HashParams{
		MemoryKiB:   cfg.HashMemoryKiB,
		TimeCost:    cfg.HashTimeCost,
		Parallelism: cfg.HashParallelism,
	})
	if err != nil {
		log.Error("hasher_config_invalid", "error", err)
		os.Exit(1)
	}

	tokens, err := auth.NewHMACProvider(cfg.SigningSecret, "clavis", cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		log.Error("token_provider_invalid", "error", err)
		os.Exit(1)
	}

	resolver := authz.NewResolver(rbac)

	authService, err := auth.NewService(
		auth.Config{
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
			ResetTTL:   cfg.ResetTTL,
		},
		users, sessions, resets,
		hasher, auth.NewHashGate(0), tokens,
		resolver, limiter,
		auth.NewMFAService("clavis"),
		journal, publisher, log,
	)
	if err != nil {
		log.Error("auth_service_init_failed", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(api.Deps{
		Config:   cfg,
		Auth:     authService,
		Tokens:   tokens,
		Resolver: resolver,
		Admin:    rbac,
		AuditRd:  auditRepo,
		Journal:  journal,
		Logger:   log,
	})

	// Janitor: expired sessions and reset tokens are deleted on a ticker.
	// Lookups filter by expiry regardless; this only reclaims storage.
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				if n, err := sessions.PurgeExpired(janitorCtx, now); err == nil && n > 0 {
					log.Info("sessions_purged", "count", n)
				}
				if n, err := resets.PurgeExpired(janitorCtx, now); err == nil && n > 0 {
					log.Info("reset_tokens_purged", "count", n)
				}
			case <-janitorCtx.Done():
				return
			}
		}
	}()

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      http.TimeoutHandler(server.Router, cfg.RequestTimeout, `{"error":"request timeout"}`),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server_listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("server_startup_failed", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		log.Info("shutdown_signal_received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful_shutdown_failed", "error", err)
			_ = srv.Close()
		}
		log.Info("server_shutdown_complete")
	}
}
