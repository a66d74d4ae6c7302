package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/cryptofunk/internal/api"
	"github.com/ajitpratap0/cryptofunk/internal/audit"
	"github.com/ajitpratap0/cryptofunk/internal/config"
	"github.com/ajitpratap0/cryptofunk/internal/db"
	"github.com/ajitpratap0/cryptofunk/internal/marketdata"
	"github.com/ajitpratap0/cryptofunk/internal/orchestrator"
	"github.com/ajitpratap0/cryptofunk/internal/store"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load or validate configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	st := store.New(database.Pool())
	if err := st.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store schema")
	}

	provider := marketdata.NewHTTPProviderFromEnv()
	cache := marketdata.NewCache(provider)
	orch := orchestrator.New(cache)

	auditLogger := audit.NewLogger(database.Pool(), true)
	if err := auditLogger.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize audit log schema")
	}

	verifier, err := api.NewFirebaseVerifier(ctx, cfg.API.GoogleCredentialsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Firebase token verifier")
	}

	server := api.NewServer(api.Config{
		Host:         cfg.API.Host,
		Port:         cfg.API.Port,
		Store:        st,
		Orchestrator: orch,
		MarketData:   cache,
		Audit:        auditLogger,
		Verifier:     verifier,
		Auth: api.AuthConfig{
			DisableAuth: cfg.API.DisableAuth,
			Environment: cfg.App.Environment,
		},
		CORSOrigins: cfg.API.CORSOrigins,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Fatal().Err(err).Msg("API server failed")
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during API server shutdown")
	}
}
