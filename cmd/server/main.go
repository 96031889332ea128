// Command server runs the telemetry-ingestion gateway: it wires the SQLite
// repository, signature verifier, blockchain client, ingest service, and
// WebSocket hub behind the HTTP API, then serves until SIGINT/SIGTERM.
//
// Exit code 0 on graceful shutdown, 1 on unrecoverable startup error.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agrichain/telemetry-gateway/internal/blockchain"
	"github.com/agrichain/telemetry-gateway/internal/config"
	httpapi "github.com/agrichain/telemetry-gateway/internal/http"
	"github.com/agrichain/telemetry-gateway/internal/http/ws"
	"github.com/agrichain/telemetry-gateway/internal/observability"
	"github.com/agrichain/telemetry-gateway/internal/repo"
	"github.com/agrichain/telemetry-gateway/internal/security"
	"github.com/agrichain/telemetry-gateway/internal/services"
	"github.com/agrichain/telemetry-gateway/internal/sysutil"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.SQLitePath, cfg.OTEL.Enabled)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("cannot open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}
	repository := repo.NewSQLiteTelemetryRepository(db)

	publicKeys := security.LoadPublicKeys(cfg.PublicKeysDir)
	var verifier services.SignatureVerifier
	switch cfg.SignatureMode {
	case config.SigModeStub:
		verifier = security.NewStubSignatureVerifier(publicKeys)
	default:
		verifier = security.NewBasicSignatureVerifier(publicKeys)
	}

	var chain services.BlockchainClient
	if cfg.ChainMode == config.ChainModeEthereum {
		chain = blockchain.NewEthereumRPCClient(blockchain.EthereumRPCConfig{
			RPCURL:       cfg.Ethereum.RPCURL,
			FromAddress:  cfg.Ethereum.FromAddress,
			ToAddress:    cfg.Ethereum.ToAddress,
			PollInterval: cfg.Ethereum.PollInterval,
			MaxWait:      cfg.Ethereum.MaxWait,
		})
	} else {
		chain = blockchain.NewMockClient()
	}

	svc := services.NewIngestService(repository, verifier, chain)
	hub := ws.NewHub()

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, svc, repository, hub, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	log.Info().
		Str("addr", srv.Addr).
		Str("sqlite", cfg.SQLitePath).
		Str("key_dir", cfg.PublicKeysDir).
		Int("loaded_keys", len(publicKeys)).
		Str("chain_mode", cfg.ChainMode).
		Str("signature_mode", cfg.SignatureMode).
		Msg("telemetry gateway listening")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		os.Exit(1)
	case <-ctx.Done():
	}

	// Graceful shutdown: stop accepting, drain handlers, drop subscribers,
	// close the database, flush spans.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown incomplete")
	}
	hub.Close()
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown incomplete")
	}

	log.Info().Msg("telemetry gateway stopped")
}
