// Command server runs the data-chat API: an HTTP service that turns
// natural-language questions into guarded, tenant-scoped SQL queries and
// streams the answers back over server-sent events.
//
// Startup order:
//  1. Load .env (best effort) and the environment configuration.
//  2. Configure zerolog (level, optional pretty console output).
//  3. Open the application database and run migrations.
//  4. Load the tenant registry and prepare lazily opened data pools.
//  5. Construct the model client and the vector store client.
//  6. Set up OpenTelemetry tracing (when enabled).
//  7. Wire the router and serve until SIGINT/SIGTERM, then drain.
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

	"github.com/datachat-labs/go-datachat-backend/internal/config"
	httpapi "github.com/datachat-labs/go-datachat-backend/internal/http"
	"github.com/datachat-labs/go-datachat-backend/internal/llm"
	"github.com/datachat-labs/go-datachat-backend/internal/observability"
	"github.com/datachat-labs/go-datachat-backend/internal/rag"
	"github.com/datachat-labs/go-datachat-backend/internal/repo"
	"github.com/datachat-labs/go-datachat-backend/internal/sysutil"
	"github.com/datachat-labs/go-datachat-backend/internal/tenant"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Local development convenience; the file is optional.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	setupLogging(cfg)

	gin.SetMode(cfg.GinMode)

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open application database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate application database")
	}

	registry, err := tenant.LoadRegistry(cfg.TenantsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.TenantsPath).Msg("load tenant registry")
	}
	pools := tenant.NewPools()

	llmClient := llm.NewClient(cfg.LLM)
	vectors := rag.NewQdrantStore(cfg.Qdrant)

	shutdownOTel, err := observability.SetupOTel(context.Background(), cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:       db,
		Registry: registry,
		Pools:    pools,
		LLM:      llmClient,
		Vectors:  vectors,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		// WriteTimeout stays 0 by default: an ask turn streams for longer
		// than any sane write deadline.
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
}

// setupLogging configures the global zerolog logger from config.
func setupLogging(cfg config.Config) {
	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
