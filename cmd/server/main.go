package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/conveyr/pipeline-api/internal/catalog"
	"github.com/conveyr/pipeline-api/internal/config"
	"github.com/conveyr/pipeline-api/internal/delivery"
	"github.com/conveyr/pipeline-api/internal/extract"
	"github.com/conveyr/pipeline-api/internal/handlers"
	"github.com/conveyr/pipeline-api/internal/middleware"
	"github.com/conveyr/pipeline-api/internal/migration"
	"github.com/conveyr/pipeline-api/internal/notify"
	"github.com/conveyr/pipeline-api/internal/pipeline"
	"github.com/conveyr/pipeline-api/internal/registry"
	"github.com/conveyr/pipeline-api/internal/routes"
	"github.com/conveyr/pipeline-api/internal/storage"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config       *config.Config
	store        registry.Store
	orchestrator *pipeline.Orchestrator
	logger       zerolog.Logger
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	gooseAdapter := migration.NewGooseAdapter(logger)
	goose.SetLogger(gooseAdapter)

	// Load configuration.
	cfg := config.Load()

	// Initialize the job registry: PostgreSQL when configured, in-memory
	// otherwise.
	var store registry.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to the registry database")
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to ping registry database")
		}

		migration.RunMigrations(cfg.DatabaseURL, logger)
		store = registry.NewPostgresStore(db)
	} else {
		logger.Info().Msg("No registry database configured, keeping jobs in memory")
		store = registry.NewMemoryStore()
	}

	// Extraction executor with one bounded pool per roster database.
	executor := extract.NewExecutor(extract.Config{
		Driver:                 cfg.Database.Driver,
		Host:                   cfg.Database.Host,
		Port:                   cfg.Database.Port,
		Username:               cfg.Database.Username,
		Password:               cfg.Database.Password,
		TrustServerCertificate: cfg.Database.TrustServerCertificate,
		MaxOpenConns:           cfg.Database.MaxOpenConns,
		QueryTimeout:           cfg.Database.QueryTimeout,
	}, logger)
	defer executor.Close()

	loader := catalog.NewLoader(cfg.Catalog.DatabasesFile, cfg.Catalog.SQLDir, logger)

	deliverer := delivery.NewClient(delivery.Config{
		Host:           cfg.SFTP.Host,
		Port:           cfg.SFTP.Port,
		Username:       cfg.SFTP.Username,
		Password:       cfg.SFTP.Password,
		RemoteRoot:     cfg.SFTP.RemoteRoot,
		ConnectTimeout: cfg.SFTP.ConnectTimeout,
		Retries:        cfg.SFTP.Retries,
		RetryInterval:  cfg.SFTP.RetryInterval,
	}, logger)

	// Optional artifact mirror.
	var mirror storage.ObjectStorage
	if cfg.Storage.Enabled {
		s3, err := storage.NewS3(storage.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to configure artifact mirror")
		}
		if err := s3.EnsureBucket(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("Failed to ensure mirror bucket")
		}
		mirror = s3
	}

	// Optional webhook notifier.
	var notifier pipeline.Notifier
	if cfg.Webhook.URL != "" {
		notifier = notify.NewWebhook(notify.Config{
			URL:      cfg.Webhook.URL,
			Username: cfg.Webhook.Username,
			Password: cfg.Webhook.Password,
			Timeout:  cfg.Webhook.Timeout,
		}, logger)
	}

	orchestrator := pipeline.NewOrchestrator(pipeline.Options{
		Store:     store,
		Loader:    loader,
		Executor:  executor,
		Deliverer: deliverer,
		Mirror:    mirror,
		Notifier:  notifier,
		Workers:   cfg.Pipeline.Workers,
		Logger:    logger,
	})

	// Create the application instance.
	app := &application{
		config:       cfg,
		store:        store,
		orchestrator: orchestrator,
		logger:       logger,
	}

	// Initialize the HTTP router and middleware.
	router := app.initRouter(logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"*"}),
		h.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type"}),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(logger zerolog.Logger) http.Handler {
	pipelineHandler := handlers.NewPipelineHandler(app.store, app.orchestrator, logger)
	return routes.NewRouter(pipelineHandler)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Let in-flight jobs reach a terminal state before exiting.
	logger.Info().Msg("Waiting for in-flight jobs...")
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	if err := app.orchestrator.Wait(waitCtx); err != nil {
		logger.Warn().Err(err).Msg("Shutdown proceeded with jobs still running")
	} else {
		logger.Info().Msg("All jobs finished.")
	}
}
