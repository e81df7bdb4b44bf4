package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/account"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/api"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/apierrors"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/auth"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/batch"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/cascade"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/config"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/errorlog"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/httputil"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/objectstore"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/postgres"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/scheduler"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/site"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/upload"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Msg("Starting data-forge ingest middleware")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL, log.Logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	store, err := objectstore.NewMinioProvider(objectstore.Config{
		Endpoint:  cfg.ObjectStoreEndpoint,
		Bucket:    cfg.ObjectStoreBucket,
		Region:    cfg.ObjectStoreRegion,
		AccessKey: cfg.ObjectStoreAccessKey,
		SecretKey: cfg.ObjectStoreSecretKey,
		UseTLS:    cfg.ObjectStoreUseTLS,
	})
	if err != nil {
		return fmt.Errorf("build object store client: %w", err)
	}
	if err := store.EnsureBucket(ctx, cfg.ObjectStoreRegion); err != nil {
		return fmt.Errorf("ensure object store bucket: %w", err)
	}
	log.Info().Str("bucket", cfg.ObjectStoreBucket).Msg("Object store ready")

	accountRepo := account.NewPGRepository(db, log.Logger)
	siteRepo := site.NewPGRepository(db, log.Logger)
	batchRepo := batch.NewPGRepository(db, log.Logger)
	uploadRepo := upload.NewPGRepository(db, log.Logger)
	errorRepo := errorlog.NewPGRepository(db, log.Logger)

	coordinator := cascade.NewCoordinator(db, accountRepo, siteRepo, log.Logger)
	pipeline := upload.NewPipeline(batchRepo, uploadRepo, store, cfg.MaxFileSize)

	admin := auth.NewJWKSVerifier(cfg.AdminJWKSURL, cfg.AdminIssuer, cfg.AdminRoleClaim, 5*time.Minute)
	dispatcher := auth.NewDispatcher(cfg.SigningKey, siteRepo, admin)

	paginator := api.Paginator{DefaultLimit: cfg.DefaultPageSize, MaxLimit: cfg.MaxPageSize}

	// Start background services with a shared cancellable context.
	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()

	reaper := scheduler.NewReaper(batchRepo, cfg.ReaperInterval, cfg.BatchTimeout, log.Logger)
	go reaper.Run(subCtx)

	partitionMaintainer := scheduler.NewPartitionMaintainer(errorRepo, log.Logger)
	go partitionMaintainer.Run(subCtx)

	app := fiber.New(fiber.Config{
		AppName:   "data-forge-ingest",
		BodyLimit: int(cfg.MaxFileSize),
		// ErrorHandler catches errors returned by handlers that are not already mapped to the structured envelope
		// (e.g. Fiber's built-in 404/405). errors.AsType is a generic helper added in Go 1.26.
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			code := apierrors.CodeInternal
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
				code = fiberStatusToAPICode(e.Code)
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return httputil.Fail(c, status, code, message)
		},
	})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Token"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	handlers := &api.Handlers{
		Health:   &api.HealthHandler{DB: db, Store: store},
		Auth:     api.NewAuthHandler(siteRepo, cfg.SigningKey, cfg.TokenTTL, log.Logger),
		Batch:    api.NewBatchHandler(batchRepo, uploadRepo, siteRepo, store, cfg.MaxConcurrentBatchesPerAccount, paginator, log.Logger),
		Upload:   api.NewUploadHandler(pipeline, log.Logger),
		ErrorLog: api.NewErrorLogHandler(errorRepo, batchRepo, paginator, log.Logger),
		Account:  api.NewAccountHandler(accountRepo, coordinator, paginator, log.Logger),
		Site:     api.NewSiteHandler(siteRepo, accountRepo, auth.DefaultSecretParams, paginator, log.Logger),
		Dispatch: dispatcher,
	}
	api.RegisterRoutes(app, handlers)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		subCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// fiberStatusToAPICode maps an HTTP status code from Fiber's built-in errors (404, 405, etc.) to the closest
// structured error code.
func fiberStatusToAPICode(status int) apierrors.Code {
	switch status {
	case fiber.StatusNotFound:
		return apierrors.CodeNotFound
	case fiber.StatusMethodNotAllowed:
		return apierrors.CodeValidation
	case fiber.StatusRequestEntityTooLarge:
		return apierrors.CodeValidation
	default:
		if status >= 400 && status < 500 {
			return apierrors.CodeValidation
		}
		return apierrors.CodeInternal
	}
}
