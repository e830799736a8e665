package handlers

import (
	"errors"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/sondeo-app/sondeo/app/dto"
	businessflow "github.com/sondeo-app/sondeo/business_flow"
)

// WhatsAppHandlerInterface defines the contract for webhook and conversation endpoints
type WhatsAppHandlerInterface interface {
	VerifyWebhook(c fiber.Ctx) error
	Webhook(c fiber.Ctx) error
	ResetConversation(c fiber.Ctx) error
	ConversationStatus(c fiber.Ctx) error
}

// WhatsAppHandler handles gateway callbacks and conversation administration
type WhatsAppHandler struct {
	baseHandler
	conversationFlow businessflow.ConversationFlow
	verifyToken      string
}

// NewWhatsAppHandler creates a new WhatsApp handler
func NewWhatsAppHandler(conversationFlow businessflow.ConversationFlow, verifyToken string) *WhatsAppHandler {
	return &WhatsAppHandler{
		baseHandler:      baseHandler{validator: validator.New()},
		conversationFlow: conversationFlow,
		verifyToken:      verifyToken,
	}
}

// VerifyWebhook answers the gateway's subscription handshake. The gateway
// sends its verify token and expects the challenge echoed back as plain text.
func (h *WhatsAppHandler) VerifyWebhook(c fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		return h.ErrorResponse(c, fiber.StatusForbidden, "Webhook verification failed", "VERIFICATION_FAILED", nil)
	}

	return c.Status(fiber.StatusOK).SendString(challenge)
}

// Webhook processes one inbound message event from the gateway. The webhook
// always acknowledges with 200 once the payload parses, so the gateway does
// not retry messages that failed on our side.
func (h *WhatsAppHandler) Webhook(c fiber.Ctx) error {
	var req dto.WhatsAppWebhookRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid webhook payload", "INVALID_REQUEST", err.Error())
	}

	if err := h.validateStruct(c, &req); err != nil {
		return err
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.conversationFlow.HandleInbound(h.createRequestContext(c, "/api/v1/webhooks/whatsapp"), &req, metadata)
	if err != nil {
		log.Println("WhatsApp webhook processing failed", err)
		return h.SuccessResponse(c, fiber.StatusOK, "Message received", dto.WhatsAppWebhookResponse{
			Message: "Message received",
			Handled: false,
		})
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Message processed", result)
}

// ResetConversation wipes a conversation so the next message starts fresh
func (h *WhatsAppHandler) ResetConversation(c fiber.Ctx) error {
	var req dto.ConversationResetRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validateStruct(c, &req); err != nil {
		return err
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.conversationFlow.Reset(h.createRequestContext(c, "/api/v1/conversations/reset"), &req, metadata)
	if err != nil {
		log.Println("Conversation reset failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Conversation reset failed", "CONVERSATION_RESET_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Conversation reset", result)
}

// ConversationStatus reports where a conversation currently stands
func (h *WhatsAppHandler) ConversationStatus(c fiber.Ctx) error {
	identity := c.Params("identity")
	if identity == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Identity is required", "MISSING_IDENTITY", nil)
	}

	req := dto.ConversationStatusRequest{Identity: identity}
	result, err := h.conversationFlow.Status(h.createRequestContext(c, "/api/v1/conversations"), &req)
	if err != nil {
		if errors.Is(err, businessflow.ErrConversationNotFound) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Conversation not found", "CONVERSATION_NOT_FOUND", nil)
		}
		log.Println("Conversation status lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Conversation lookup failed", "CONVERSATION_LOOKUP_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Conversation retrieved successfully", result)
}
