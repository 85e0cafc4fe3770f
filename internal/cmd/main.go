package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Fingerliing/payquick-sub007/internal/gateway"
	"github.com/Fingerliing/payquick-sub007/internal/httpapi"
	"github.com/Fingerliing/payquick-sub007/internal/outbox"
	"github.com/Fingerliing/payquick-sub007/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// pgx pool serves the request path; a lib/pq handle drives
	// LISTEN/NOTIFY and the outbox drain.
	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	db, err := sql.Open("postgres", cfg.DB.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open listener connection")
	}
	defer db.Close()

	sessionStore := store.New(pool)
	if err := sessionStore.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create session schema")
	}

	outboxRepo := outbox.NewRepository(db)
	if err := outboxRepo.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create outbox schema")
	}

	jsCfg := outbox.DefaultJetStreamConfig()
	jsCfg.URL = cfg.NATS.URL
	publisher, err := outbox.NewJetStreamPublisher(jsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create publisher")
	}
	defer publisher.Close()

	listenerCfg := outbox.DefaultListenerConfig()
	listenerCfg.DatabaseURL = cfg.DB.DSN()
	listener, err := outbox.NewListener(outboxRepo, publisher, listenerCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create outbox listener")
	}
	go func() {
		if err := listener.Start(ctx); err != nil {
			log.Error().Err(err).Msg("outbox listener stopped")
		}
	}()

	tokens := gateway.NewTokenVerifier(cfg.JWTSecret)
	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), sessionStore)
	go manager.Start(ctx)

	consumerCfg := gateway.DefaultJetStreamConsumerConfig()
	consumerCfg.URL = cfg.NATS.URL
	consumer, err := gateway.NewEventConsumer(manager, consumerCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event consumer")
	}
	defer consumer.Close()
	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer stopped")
		}
	}()

	api := httpapi.NewHandler(sessionStore, tokens, time.Duration(cfg.TokenTTL))
	ws := gateway.NewHandler(manager, tokens)
	server := setupServer(cfg.Port, api, ws, manager)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("table live service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
