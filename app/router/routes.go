// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/sondeo-app/sondeo/app/dto"
	"github.com/sondeo-app/sondeo/app/handlers"
	"github.com/sondeo-app/sondeo/app/middleware"
	"github.com/sondeo-app/sondeo/config"
	"github.com/sondeo-app/sondeo/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app             *fiber.App
	cfg             *config.ProductionConfig
	deliveryHandler handlers.DeliveryHandlerInterface
	publicHandler   handlers.PublicHandlerInterface
	whatsappHandler handlers.WhatsAppHandlerInterface
	authMiddleware  *middleware.AuthMiddleware
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(
	cfg *config.ProductionConfig,
	deliveryHandler handlers.DeliveryHandlerInterface,
	publicHandler handlers.PublicHandlerInterface,
	whatsappHandler handlers.WhatsAppHandlerInterface,
	authMiddleware *middleware.AuthMiddleware,
) Router {
	bodyLimit := cfg.Server.BodyLimit
	if bodyLimit <= 0 {
		// Multipart capture uploads carry audio and scanned pages plus form overhead.
		bodyLimit = (cfg.Media.MaxUploadMB + 1) * 1024 * 1024
	}

	app := fiber.New(fiber.Config{
		AppName:      "Sondeo API",
		ServerHeader: "Sondeo",
		ErrorHandler: errorHandler,
		BodyLimit:    bodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	return &FiberRouter{
		app:             app,
		cfg:             cfg,
		deliveryHandler: deliveryHandler,
		publicHandler:   publicHandler,
		whatsappHandler: whatsappHandler,
		authMiddleware:  authMiddleware,
	}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	log.Println("Setting up routes...")

	// Global middleware
	r.setupMiddleware()

	// API routes
	api := r.app.Group("/api/v1")

	// Health check route (no rate limiting)
	api.Get("/health", r.healthCheck)

	// Prometheus scrape endpoint
	if r.cfg.Metrics.Enabled && r.cfg.Metrics.EnablePrometheus {
		r.app.Get(r.cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	// Apply general rate limiting to all API routes
	api.Use(limiter.New(limiter.Config{
		Max:        r.cfg.Security.GlobalRateLimit,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP() // Rate limit by IP
		},
		LimitReached: rateLimitReached,
		Next: func(c fiber.Ctx) bool {
			// Skip rate limiting for health checks
			return c.Path() == "/api/v1/health"
		},
	}))

	// Admin surface behind JWT authentication. Group middleware mounts at the
	// group prefix, so each admin prefix carries the auth guard itself and the
	// public and webhook groups below stay reachable without a bearer token.
	adminAuth := r.authMiddleware.AdminAuthenticate()

	campaigns := api.Group("/campaigns", adminAuth)
	campaigns.Post("/:uuid/deliveries", r.deliveryHandler.CreateDelivery)
	campaigns.Post("/:uuid/deliveries/bulk", r.deliveryHandler.CreateBulkDeliveries)
	campaigns.Post("/:uuid/deliveries/bulk-paper", r.deliveryHandler.CreateBulkPaper)
	campaigns.Post("/:uuid/deliveries/bulk-audio", r.deliveryHandler.CreateBulkAudio)
	campaigns.Get("/:uuid/deliveries", r.deliveryHandler.ListDeliveries)
	campaigns.Get("/:uuid/deliveries/manifest", r.deliveryHandler.ExportTokenManifest)

	deliveries := api.Group("/deliveries", adminAuth)
	deliveries.Get("/:uuid", r.deliveryHandler.GetDelivery)
	deliveries.Get("/:uuid/response", r.deliveryHandler.GetResponse)
	deliveries.Post("/:uuid/responses", r.deliveryHandler.SubmitResponse)
	deliveries.Post("/:uuid/mark-sent", r.deliveryHandler.MarkSent)
	deliveries.Post("/:uuid/mark-responded", r.deliveryHandler.MarkResponded)
	deliveries.Post("/:uuid/cancel", r.deliveryHandler.CancelDelivery)
	deliveries.Post("/:uuid/dispatch", r.deliveryHandler.DispatchDelivery)

	captures := api.Group("/captures", adminAuth)
	captures.Get("/failed", r.publicHandler.ListFailedCaptures)

	conversations := api.Group("/conversations", adminAuth)
	conversations.Post("/reset", r.whatsappHandler.ResetConversation)
	conversations.Get("/:identity", r.whatsappHandler.ConversationStatus)

	// Public survey-taker surface with stricter rate limiting
	public := api.Group("/public")

	public.Use(limiter.New(limiter.Config{
		Max:        r.cfg.Security.PublicRateLimit,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP() // Rate limit by IP
		},
		LimitReached: rateLimitReached,
	}))

	public.Get("/deliveries/:token", r.publicHandler.GetDelivery)
	public.Post("/deliveries/:token/respond", r.publicHandler.SubmitResponse)
	public.Get("/deliveries/:token/template-map", r.publicHandler.GetTemplateMap)
	public.Post("/deliveries/:token/captures", r.publicHandler.UploadCapture)
	public.Get("/captures/:uuid", r.publicHandler.CaptureStatus)
	public.Get("/pending", r.publicHandler.FindPending)

	// Gateway callbacks verified with a shared secret header
	// The gateway's subscription handshake arrives before any secret is
	// configured on its side, so the GET leg skips the secret check.
	api.Get("/webhooks/whatsapp", r.whatsappHandler.VerifyWebhook)

	webhooks := api.Group("/webhooks", r.authMiddleware.WebhookAuthenticate(r.cfg.Security.WebhookSecret))
	webhooks.Post("/whatsapp", r.whatsappHandler.Webhook)

	// Not found handler
	r.app.Use(r.notFoundHandler)

	log.Println("Routes configured successfully")
}

// SetupMiddleware configures global middleware
func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return generateRequestID()
		},
	}))

	// Security headers middleware
	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		HSTSMaxAge:                31536000, // 1 year
		HSTSExcludeSubdomains:     false,
		ContentSecurityPolicy:     "default-src 'self'; img-src 'self' data: https:; connect-src 'self' https:; frame-ancestors 'none';",
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "cross-origin",
		OriginAgentCluster:        "?1",
		XDNSPrefetchControl:       "off",
		XDownloadOptions:          "noopen",
		XPermittedCrossDomain:     "none",
	}))

	// CORS middleware with production settings
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: r.cfg.Security.AllowedOrigins,
		AllowMethods: []string{
			"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Requested-With",
			"X-Request-ID",
			"X-Webhook-Secret",
			"Cache-Control",
		},
		ExposeHeaders: []string{
			"X-Request-ID",
			"Content-Disposition",
		},
		AllowCredentials: r.cfg.Security.AllowCredentials,
		MaxAge:           r.cfg.Security.CORSMaxAge,
	}))

	// Response compression
	if r.cfg.Server.EnableCompression {
		r.app.Use(compress.New(compress.Config{
			Level: compress.Level(r.cfg.Server.CompressionLevel),
			Next: func(c fiber.Ctx) bool {
				// Media uploads and spreadsheet downloads are already compressed formats.
				contentType := c.Get("Content-Type")
				return contains(contentType, "multipart/form-data") ||
					contains(contentType, "audio/") ||
					contains(contentType, "image/")
			},
		}))
	}

	// Request logging
	r.app.Use(logger.New(logger.Config{
		Format:     `{"time":"${time}","request_id":"${locals:requestid}","method":"${method}","path":"${path}","status":${status},"latency":"${latency}","ip":"${ip}"}` + "\n",
		TimeFormat: time.RFC3339,
		TimeZone:   "UTC",
		Next: func(c fiber.Ctx) bool {
			// Skip logging for health checks
			return c.Path() == "/api/v1/health"
		},
	}))

	// Prometheus request metrics
	if r.cfg.Metrics.Enabled {
		r.app.Use(middleware.Metrics())
	}

	// Panic recovery
	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			log.Printf("Panic recovered: %v", e)
		},
	}))
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	log.Printf("Starting server on %s", address)
	return r.app.Listen(address)
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

// Health check endpoint
func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data: fiber.Map{
			"status":    "ok",
			"timestamp": utils.UTCNow().Unix(),
			"version":   r.cfg.Deployment.Version,
			"service":   "sondeo-api",
		},
	})
}

func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	requestID := c.Locals("requestid")

	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": requestID,
			},
		},
	})
}

func rateLimitReached(c fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
		Success: false,
		Message: "Too many requests. Please try again later.",
		Error: dto.ErrorDetail{
			Code: "RATE_LIMIT_EXCEEDED",
		},
	})
}

// Global error handler
func errorHandler(c fiber.Ctx, err error) error {
	// Default error code
	code := fiber.StatusInternalServerError

	// Retrieve the custom status code if it's a fiber.*Error
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	// Log the error
	log.Printf("Error %d: %v", code, err)

	// Get RequestID for tracing
	requestID := c.Locals("requestid")

	// Return JSON error response
	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: "An internal server error occurred",
		Error: dto.ErrorDetail{
			Code: "INTERNAL_ERROR",
			Details: fiber.Map{
				"timestamp":  utils.UTCNow().Unix(),
				"request_id": requestID,
			},
		},
	})
}

// Helper functions

// generateRequestID creates a unique request ID
func generateRequestID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// contains checks if a string contains a substring
func contains(str, substr string) bool {
	return strings.Contains(str, substr)
}
