package router

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sondeo-app/sondeo/app/middleware"
	"github.com/sondeo-app/sondeo/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Stub handlers answer 200 so the tests can tell "reached the handler" apart
// from "stopped by middleware".

type stubDeliveryHandler struct{}

func (stubDeliveryHandler) CreateDelivery(c fiber.Ctx) error       { return c.SendStatus(fiber.StatusOK) }
func (stubDeliveryHandler) CreateBulkDeliveries(c fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }
func (stubDeliveryHandler) CreateBulkPaper(c fiber.Ctx) error      { return c.SendStatus(fiber.StatusOK) }
func (stubDeliveryHandler) CreateBulkAudio(c fiber.Ctx) error      { return c.SendStatus(fiber.StatusOK) }
func (stubDeliveryHandler) ListDeliveries(c fiber.Ctx) error       { return c.SendStatus(fiber.StatusOK) }
func (stubDeliveryHandler) ExportTokenManifest(c fiber.Ctx) error  { return c.SendStatus(fiber.StatusOK) }
func (stubDeliveryHandler) GetDelivery(c fiber.Ctx) error          { return c.SendStatus(fiber.StatusOK) }
func (stubDeliveryHandler) GetResponse(c fiber.Ctx) error          { return c.SendStatus(fiber.StatusOK) }
func (stubDeliveryHandler) MarkSent(c fiber.Ctx) error             { return c.SendStatus(fiber.StatusOK) }
func (stubDeliveryHandler) MarkResponded(c fiber.Ctx) error        { return c.SendStatus(fiber.StatusOK) }
func (stubDeliveryHandler) SubmitResponse(c fiber.Ctx) error       { return c.SendStatus(fiber.StatusOK) }
func (stubDeliveryHandler) CancelDelivery(c fiber.Ctx) error       { return c.SendStatus(fiber.StatusOK) }
func (stubDeliveryHandler) DispatchDelivery(c fiber.Ctx) error     { return c.SendStatus(fiber.StatusOK) }

type stubPublicHandler struct{}

func (stubPublicHandler) GetDelivery(c fiber.Ctx) error        { return c.SendStatus(fiber.StatusOK) }
func (stubPublicHandler) SubmitResponse(c fiber.Ctx) error     { return c.SendStatus(fiber.StatusOK) }
func (stubPublicHandler) GetTemplateMap(c fiber.Ctx) error     { return c.SendStatus(fiber.StatusOK) }
func (stubPublicHandler) UploadCapture(c fiber.Ctx) error      { return c.SendStatus(fiber.StatusOK) }
func (stubPublicHandler) CaptureStatus(c fiber.Ctx) error      { return c.SendStatus(fiber.StatusOK) }
func (stubPublicHandler) ListFailedCaptures(c fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }
func (stubPublicHandler) FindPending(c fiber.Ctx) error        { return c.SendStatus(fiber.StatusOK) }

type stubWhatsAppHandler struct{}

func (stubWhatsAppHandler) VerifyWebhook(c fiber.Ctx) error      { return c.SendStatus(fiber.StatusOK) }
func (stubWhatsAppHandler) Webhook(c fiber.Ctx) error            { return c.SendStatus(fiber.StatusOK) }
func (stubWhatsAppHandler) ResetConversation(c fiber.Ctx) error  { return c.SendStatus(fiber.StatusOK) }
func (stubWhatsAppHandler) ConversationStatus(c fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }

func newTestRouter(t *testing.T) *fiber.App {
	t.Helper()

	cfg := &config.ProductionConfig{
		Server: config.ServerConfig{
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  5 * time.Second,
		},
		Security: config.SecurityConfig{
			GlobalRateLimit: 1000,
			PublicRateLimit: 1000,
		},
		Media: config.MediaConfig{MaxUploadMB: 1},
	}

	r := NewFiberRouter(cfg, stubDeliveryHandler{}, stubPublicHandler{}, stubWhatsAppHandler{}, middleware.NewAuthMiddleware(nil))
	r.SetupRoutes()
	return r.GetApp()
}

func TestPublicRoutesNeedNoAuthorization(t *testing.T) {
	app := newTestRouter(t)

	routes := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/health"},
		{"GET", "/api/v1/public/pending"},
		{"GET", "/api/v1/public/deliveries/sometoken"},
		{"GET", "/api/v1/public/deliveries/sometoken/template-map"},
		{"POST", "/api/v1/public/deliveries/sometoken/respond"},
		{"POST", "/api/v1/public/deliveries/sometoken/captures"},
		{"GET", "/api/v1/public/captures/0e0e57b4-0000-4000-8000-000000000000"},
		{"GET", "/api/v1/webhooks/whatsapp"},
		{"POST", "/api/v1/webhooks/whatsapp"},
	}

	for _, route := range routes {
		req := httptest.NewRequest(route.method, route.path, nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, "%s %s should reach its handler without a bearer token", route.method, route.path)
	}
}

func TestAdminRoutesRejectMissingAuthorization(t *testing.T) {
	app := newTestRouter(t)

	routes := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/campaigns/abc/deliveries"},
		{"GET", "/api/v1/campaigns/abc/deliveries"},
		{"GET", "/api/v1/deliveries/abc"},
		{"POST", "/api/v1/deliveries/abc/mark-sent"},
		{"GET", "/api/v1/captures/failed"},
		{"GET", "/api/v1/conversations/51999888777"},
		{"POST", "/api/v1/conversations/reset"},
	}

	for _, route := range routes {
		req := httptest.NewRequest(route.method, route.path, nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, "%s %s should demand a bearer token", route.method, route.path)
	}
}
