// @title           imgus API
// @version         1.0.0
// @description     Backend API for prompt-driven image edits on fal. Jobs are submitted to the fal queue and completed by signed webhook or by polling.

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"imgus-backend/docs"
	"imgus-backend/internal/config"
	"imgus-backend/internal/database"
	"imgus-backend/internal/fal"
	"imgus-backend/internal/handlers"
	"imgus-backend/internal/logging"
	"imgus-backend/internal/middleware"
	"imgus-backend/internal/services"
	"imgus-backend/internal/storage"
	"imgus-backend/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("development")
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.Environment)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	objects, err := openObjectStore(ctx, cfg)
	if err != nil {
		return err
	}

	provider := fal.NewClient(cfg.FalKey, cfg.FalModel,
		fal.WithQueueURL(cfg.FalQueueURL),
		fal.WithRunURL(cfg.FalRunURL),
		fal.WithTimeout(cfg.FalTimeout),
	)

	keySet := webhook.NewKeySet(cfg.FalJWKSURL, cfg.KeySetTTL, logger)
	defer keySet.Close()
	verifier := webhook.NewVerifier(keySet, cfg.WebhookMaxSkew)
	if cfg.FalSkipVerify {
		logger.Warn().Msg("FAL_WEBHOOK_SKIP_VERIFY is enabled, webhook signatures will not be checked")
	}
	if cfg.FalWebhookURL == "" {
		logger.Info().Msg("FAL_WEBHOOK_URL not set, jobs complete by polling only")
	}

	audit := services.NewAuditTrail(store, logger)
	materializer := services.NewMaterializer(store, objects, cfg.KeyPrefix(), cfg.DownloadTimeout, logger)
	reconciler := services.NewReconciler(store, provider, materializer, audit, cfg.IngestLease, logger)
	jobs := services.NewJobService(store, provider, objects, reconciler, audit, services.JobServiceOptions{
		WebhookURL:   cfg.FalWebhookURL,
		SignedURLTTL: cfg.SignedURLTTL,
	}, logger)

	configureSwagger(cfg.BaseURL)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	handlers.Register(router, cfg, handlers.Handlers{
		Health:  handlers.NewHealthHandler(store),
		Jobs:    handlers.NewJobsHandler(jobs, logger),
		Uploads: handlers.NewUploadsHandler(jobs, logger),
		Gallery: handlers.NewGalleryHandler(jobs, logger),
		Webhook: handlers.NewWebhookHandler(store, reconciler, verifier, cfg.FalSkipVerify, logger),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.FalTimeout + cfg.DownloadTimeout*4 + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Str("environment", cfg.Environment).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// configureSwagger points the generated docs at the public base URL.
func configureSwagger(baseURL string) {
	if baseURL == "" {
		return
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return
	}
	docs.SwaggerInfo.Host = u.Host
	if u.Scheme == "https" {
		docs.SwaggerInfo.Schemes = []string{"https", "http"}
	} else {
		docs.SwaggerInfo.Schemes = []string{"http", "https"}
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (database.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, using the in-memory store; jobs are lost on restart")
		return database.NewMemoryStore(), nil
	}

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.NewMigrator(db, logger).Run(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return database.NewPostgresStore(db), nil
}

func openObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.StorageBackend == config.StorageBackendSupabase {
		return storage.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	}
	return storage.NewS3Store(ctx, storage.S3Options{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		ForcePathStyle:  cfg.S3ForcePathStyle,
	})
}
