// Package main provides the main entry point for the Sondeo survey delivery engine
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sondeo-app/sondeo/app/handlers"
	"github.com/sondeo-app/sondeo/app/middleware"
	"github.com/sondeo-app/sondeo/app/router"
	"github.com/sondeo-app/sondeo/app/scheduler"
	"github.com/sondeo-app/sondeo/app/services"
	businessflow "github.com/sondeo-app/sondeo/business_flow"
	"github.com/sondeo-app/sondeo/config"
	"github.com/sondeo-app/sondeo/repository"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting Sondeo application...")

	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize application
	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Setup routes
	app.router.SetupRoutes()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg *config.ProductionConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pooling
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)

	// Test the connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)

	return db, nil
}

// initializeRedis initializes the Redis client and verifies connectivity.
// The capture pipeline queues live here, so a reachable Redis is mandatory.
func initializeRedis(cfg config.CacheConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB and password if provided in config
	opt.DB = cfg.RedisDB
	if cfg.RedisPassword != "" {
		opt.Password = cfg.RedisPassword
	}

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", cfg.RedisURL, cfg.RedisDB)
	return rc, nil
}

// startRedisHealthMonitor starts a background goroutine that periodically pings Redis
// to detect connectivity issues. The returned cancel function stops the monitor.
func startRedisHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	// Initialize database
	db, err := initializeDatabase(cfg)
	if err != nil {
		return nil, err
	}

	rc, err := initializeRedis(cfg.Cache)
	if err != nil {
		return nil, err
	}

	cancel := startRedisHealthMonitor(context.Background(), rc, 30*time.Second)
	stopFuncs = append(stopFuncs, cancel)

	// Initialize repositories
	campaignRepo := repository.NewCampaignRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	responseRepo := repository.NewResponseRepository(db)
	captureRepo := repository.NewRawCaptureRepository(db)
	contextRepo := repository.NewConversationContextRepository(db)
	tokenRepo := repository.NewAccessTokenRepository(db)

	// Initialize token service
	tokenService, err := services.NewTokenService(
		cfg.JWT.DeliveryTokenTTL,
		cfg.JWT.AdminTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.UseRSAKeys,
		cfg.JWT.PrivateKey,
		cfg.JWT.PublicKey,
		cfg.JWT.SecretKey,
		tokenRepo,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	log.Printf("Token service initialized with issuer: %s, audience: %s", cfg.JWT.Issuer, cfg.JWT.Audience)

	// Initialize channel services
	emailService := services.NewEmailService(&cfg.Email)
	whatsappService := services.NewWhatsAppService(&cfg.WhatsApp)
	renderer := services.NewDocumentRenderer(&cfg.Renderer)
	mediaStore := services.NewMediaStore(&cfg.Media)
	extractionService := services.NewExtractionService(&cfg.Extraction)

	channelRouter := businessflow.NewChannelRouter(
		emailService,
		whatsappService,
		renderer,
		cfg.Dispatch,
		cfg.Email,
	)

	// Initialize flows
	responseFlow := businessflow.NewResponseFlow(
		deliveryRepo,
		responseRepo,
		campaignRepo,
		templateRepo,
		tokenService,
		channelRouter,
		db,
	)

	deliveryFlow := businessflow.NewDeliveryFlow(
		deliveryRepo,
		campaignRepo,
		recipientRepo,
		templateRepo,
		tokenService,
		channelRouter,
		cfg.Dispatch.BulkConcurrency,
		cfg.JWT.DeliveryTokenTTL,
		db,
	)

	captureFlow := businessflow.NewCaptureFlow(
		captureRepo,
		deliveryRepo,
		campaignRepo,
		templateRepo,
		responseFlow,
		tokenService,
		mediaStore,
		extractionService,
		rc,
		&cfg.Media,
		cfg.Scheduler.CaptureMaxRetries,
		cfg.Scheduler.CaptureRetryBackoff,
		db,
	)

	conversationFlow := businessflow.NewConversationFlow(
		contextRepo,
		deliveryRepo,
		campaignRepo,
		templateRepo,
		responseFlow,
		whatsappService,
		db,
	)

	// Initialize handlers
	deliveryHandler := handlers.NewDeliveryHandler(deliveryFlow, responseFlow)
	publicHandler := handlers.NewPublicHandler(responseFlow, captureFlow)
	whatsappHandler := handlers.NewWhatsAppHandler(conversationFlow, cfg.Security.WebhookVerifyToken)

	// Initialize auth middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	// Initialize router
	appRouter := router.NewFiberRouter(
		cfg,
		deliveryHandler,
		publicHandler,
		whatsappHandler,
		authMiddleware,
	)

	// Start the expiry sweep and conversation cleanup loop
	expirySched := scheduler.NewExpiryScheduler(deliveryFlow, conversationFlow, cfg.Scheduler, cfg.Logging)
	stopFuncs = append(stopFuncs, expirySched.Start(context.Background()))

	// Start the capture extraction worker pool
	captureWorkers := scheduler.NewCaptureWorkerPool(captureFlow, rc, cfg.Scheduler, cfg.Logging)
	stopFuncs = append(stopFuncs, captureWorkers.Start(context.Background()))

	// Create application struct from FiberRouter
	fiberRouter := appRouter.(*router.FiberRouter)
	application := &Application{
		router:    fiberRouter,
		config:    cfg,
		server:    fiberRouter.GetApp(),
		stopFuncs: stopFuncs,
	}

	return application, nil
}
