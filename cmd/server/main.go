package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"itm.space/backendresources/internal/application"
	"itm.space/backendresources/internal/config"
	"itm.space/backendresources/internal/domain"
	"itm.space/backendresources/internal/infrastructure/keycloak"
	"itm.space/backendresources/internal/infrastructure/postgres"
	"itm.space/backendresources/internal/kafka"
	transporthttp "itm.space/backendresources/internal/transport/http"
	"itm.space/backendresources/internal/transport/mw"
)

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// ── Config ───────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Server.Env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("env", cfg.Server.Env).
		Str("port", cfg.Server.Port).
		Str("realm", cfg.Keycloak.Realm).
		Msg("starting backend-resources")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Metrics ──────────────────────────────────────────────────────────────
	var (
		registry    *prometheus.Registry
		httpMetrics *transporthttp.Metrics
		kcOpts      []keycloak.Option
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		httpMetrics = transporthttp.NewMetrics(registry)
		kcOpts = append(kcOpts, keycloak.WithMetrics(registry))
	}

	// ── Identity Provider (Keycloak Admin API) ───────────────────────────────
	provider := keycloak.New(keycloak.Config{
		BaseURL:           cfg.Keycloak.BaseURL,
		Realm:             cfg.Keycloak.Realm,
		AdminRealm:        cfg.Keycloak.AdminRealm,
		AdminClientID:     cfg.Keycloak.AdminClientID,
		AdminClientSecret: cfg.Keycloak.AdminClientSecret,
		Timeout:           cfg.Keycloak.Timeout,
	}, kcOpts...)

	// ── Token verification ───────────────────────────────────────────────────
	var verifier mw.TokenVerifier
	if cfg.Auth.HMACSecret != "" {
		if cfg.Server.Env == "production" {
			log.Fatal().Msg("auth.hmac_secret must not be used in production")
		}
		log.Warn().Msg("using shared-secret token verification")
		verifier = mw.NewHMACVerifier([]byte(cfg.Auth.HMACSecret), cfg.Keycloak.IssuerURL(), cfg.Auth.ClientID)
	} else {
		oidcVerifier, err := mw.NewOIDCVerifier(ctx, cfg.Keycloak.IssuerURL(), cfg.Auth.Audience, cfg.Auth.ClientID)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialise token verifier")
		}
		verifier = oidcVerifier
	}

	// ── Kafka Producer (optional) ────────────────────────────────────────────
	var events application.EventPublisher = application.NopPublisher{}
	if cfg.Kafka.Enabled {
		producer, err := kafka.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.DeliveryTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		defer producer.Close()
		events = producer
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka producer ready")
	}

	// ── Audit Database (optional) ────────────────────────────────────────────
	var audit domain.AuditRepository = application.NopAuditRepository{}
	if cfg.Database.Enabled {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		repo := postgres.NewAuditRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("audit schema migration failed")
		}
		audit = repo
		log.Info().Msg("postgres connected")
	}

	// ── Application Service ───────────────────────────────────────────────────
	svc := application.NewService(cfg.Keycloak.Realm, provider, events, audit)

	// ── HTTP Server ───────────────────────────────────────────────────────────
	router := transporthttp.NewRouter(transporthttp.NewHandler(svc), transporthttp.RouterConfig{
		Verifier:     verifier,
		RequiredRole: cfg.Auth.RequiredRole,
		AllowOrigins: cfg.Server.AllowOrigins,
		Metrics:      httpMetrics,
	})

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := router.Start(":" + cfg.Server.Port); err != nil {
			log.Info().Err(err).Msg("HTTP server stopped")
		}
	}()

	// ── Graceful Shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("backend-resources stopped")
}
