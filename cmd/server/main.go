// Command server wires the onboarding engine: configuration, stores, the
// attestation oracle adapter, services, and the HTTP router. Business logic
// lives in the internal services packages; main only assembles and runs them.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deedgate/internal/audit"
	auditkafka "deedgate/internal/audit/kafka"
	jwttoken "deedgate/internal/jwt_token"
	"deedgate/internal/onboarding/handler"
	"deedgate/internal/onboarding/metrics"
	"deedgate/internal/onboarding/ports"
	"deedgate/internal/onboarding/service"
	"deedgate/internal/onboarding/store/property"
	"deedgate/internal/onboarding/store/user"
	"deedgate/internal/oracle"
	"deedgate/internal/platform/config"
	"deedgate/internal/platform/httpserver"
	"deedgate/internal/platform/logger"
	platformredis "deedgate/internal/platform/redis"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	propertyStore, userStore, cleanup, err := buildStores(ctx, cfg, log)
	if err != nil {
		log.Error("store initialization failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	auditPublisher, auditCleanup, err := buildAuditPublisher(ctx, cfg, log)
	if err != nil {
		log.Error("audit publisher initialization failed", "error", err)
		os.Exit(1)
	}
	defer auditCleanup()

	adapter := oracle.NewFromConfig(cfg.Oracle, oracle.WithLogger(log))
	if !cfg.Oracle.Complete() {
		log.Warn("oracle credentials not configured, running with the mock attestor")
	}

	m := metrics.New()
	opts := []service.Option{
		service.WithLogger(log),
		service.WithAuditPublisher(auditPublisher),
		service.WithMetrics(m),
	}

	propertySvc := service.NewPropertyService(propertyStore, adapter, nil, cfg.TokenUnitPrice, opts...)
	userSvc := service.NewUserService(userStore, adapter, nil, opts...)

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, "deedgate", "deedgate")

	h := handler.New(propertySvc, userSvc, log, jwttoken.NewJWTServiceAdapter(jwtService))
	router := chi.NewRouter()
	h.Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := httpserver.New(cfg.Server.Addr, router)

	log.Info("starting deedgate", "addr", cfg.Server.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

// buildStores selects backing stores from configuration. With no DSNs
// configured everything runs in memory, which is the local-development mode.
func buildStores(ctx context.Context, cfg config.Config, log *slog.Logger) (ports.PropertyStore, ports.UserStore, func(), error) {
	cleanups := []func(){}
	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}

	var propertyStore ports.PropertyStore = property.NewInMemory()
	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, cleanup, err
		}
		cleanups = append(cleanups, pool.Close)

		pg := property.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, nil, cleanup, err
		}
		propertyStore = pg
		log.Info("property store backed by postgres")
	}

	var userStore ports.UserStore = user.NewInMemory()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return nil, nil, cleanup, err
	}
	if redisClient != nil {
		cleanups = append(cleanups, func() { _ = redisClient.Close() })
		userStore = user.NewRedis(redisClient.Client)
		log.Info("user store backed by redis")
	}

	return propertyStore, userStore, cleanup, nil
}

// buildAuditPublisher streams audit events to Kafka when brokers are
// configured, falling back to an in-memory trail drained by a background
// worker otherwise.
func buildAuditPublisher(ctx context.Context, cfg config.Config, log *slog.Logger) (ports.AuditPublisher, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		inbox := make(chan audit.Event, 256)
		worker := audit.NewWorker(audit.NewInMemoryStore(), inbox)
		workerCtx, cancel := context.WithCancel(ctx)
		go func() {
			if err := worker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("audit worker stopped", "error", err)
			}
		}()
		return audit.NewInbox(inbox), cancel, nil
	}

	publisher, err := auditkafka.New(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, auditkafka.WithLogger(log))
	if err != nil {
		return nil, func() {}, err
	}
	log.Info("audit events streaming to kafka", "topic", cfg.Kafka.AuditTopic)
	return publisher, func() { _ = publisher.Close() }, nil
}
