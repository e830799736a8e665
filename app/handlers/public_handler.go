package handlers

import (
	"errors"
	"io"
	"log"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/sondeo-app/sondeo/app/dto"
	"github.com/sondeo-app/sondeo/app/services"
	businessflow "github.com/sondeo-app/sondeo/business_flow"
)

// PublicHandlerInterface defines the contract for the token-gated public API
type PublicHandlerInterface interface {
	GetDelivery(c fiber.Ctx) error
	SubmitResponse(c fiber.Ctx) error
	GetTemplateMap(c fiber.Ctx) error
	UploadCapture(c fiber.Ctx) error
	CaptureStatus(c fiber.Ctx) error
	ListFailedCaptures(c fiber.Ctx) error
	FindPending(c fiber.Ctx) error
}

// PublicHandler handles the public survey-taker HTTP surface
type PublicHandler struct {
	baseHandler
	responseFlow businessflow.ResponseFlow
	captureFlow  businessflow.CaptureFlow
}

// NewPublicHandler creates a new public handler
func NewPublicHandler(responseFlow businessflow.ResponseFlow, captureFlow businessflow.CaptureFlow) *PublicHandler {
	return &PublicHandler{
		baseHandler:  baseHandler{validator: validator.New()},
		responseFlow: responseFlow,
		captureFlow:  captureFlow,
	}
}

// GetDelivery renders the survey behind an access token
func (h *PublicHandler) GetDelivery(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Access token is required", "MISSING_TOKEN", nil)
	}

	result, err := h.responseFlow.PublicDelivery(h.createRequestContext(c, "/api/v1/public/deliveries"), token)
	if err != nil {
		return h.publicError(c, err, "DELIVERY_FETCH_FAILED", "Failed to fetch survey")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Survey retrieved successfully", result)
}

// SubmitResponse ingests a survey submission by token
func (h *PublicHandler) SubmitResponse(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Access token is required", "MISSING_TOKEN", nil)
	}

	var req dto.SubmitResponseRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.Token = token

	if err := h.validateStruct(c, &req); err != nil {
		return err
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.responseFlow.SubmitByToken(h.createRequestContext(c, "/api/v1/public/deliveries/respond"), &req, metadata)
	if err != nil {
		return h.publicError(c, err, "SUBMISSION_FAILED", "Response submission failed")
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Response recorded", result)
}

// GetTemplateMap returns the field map used to key form extraction
func (h *PublicHandler) GetTemplateMap(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Access token is required", "MISSING_TOKEN", nil)
	}

	result, err := h.responseFlow.TemplateMap(h.createRequestContext(c, "/api/v1/public/deliveries/template-map"), token)
	if err != nil {
		return h.publicError(c, err, "TEMPLATE_MAP_FAILED", "Failed to fetch template map")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Template map retrieved successfully", result)
}

// UploadCapture accepts a raw audio or scanned form blob for extraction
func (h *PublicHandler) UploadCapture(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Access token is required", "MISSING_TOKEN", nil)
	}

	fileHeader, err := c.FormFile("media")
	if err != nil || fileHeader == nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "media file is required", "INVALID_FILE", nil)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "invalid media file", "INVALID_FILE", err.Error())
	}
	defer file.Close()

	media, err := io.ReadAll(file)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "could not read media file", "INVALID_FILE", err.Error())
	}

	req := dto.UploadCaptureRequest{
		Token:       token,
		MediaKind:   c.FormValue("media_kind"),
		ContentType: fileHeader.Header.Get("Content-Type"),
		Media:       media,
	}

	if err := h.validateStruct(c, &req); err != nil {
		return err
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.captureFlow.UploadCapture(h.createRequestContext(c, "/api/v1/public/deliveries/captures"), &req, metadata)
	if err != nil {
		if errors.Is(err, businessflow.ErrMediaTooLarge) {
			return h.ErrorResponse(c, fiber.StatusRequestEntityTooLarge, "Media exceeds the upload limit", "MEDIA_TOO_LARGE", nil)
		}
		if errors.Is(err, businessflow.ErrMediaKindMismatch) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Media kind does not match the delivery channel", "MEDIA_KIND_MISMATCH", nil)
		}
		return h.publicError(c, err, "CAPTURE_UPLOAD_FAILED", "Capture upload failed")
	}

	return h.SuccessResponse(c, fiber.StatusAccepted, "Capture stored", result)
}

// CaptureStatus reports where a capture sits in the extraction pipeline
func (h *PublicHandler) CaptureStatus(c fiber.Ctx) error {
	captureUUID := c.Params("uuid")
	if captureUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Capture UUID is required", "MISSING_CAPTURE_UUID", nil)
	}

	req := dto.CaptureStatusRequest{UUID: captureUUID}
	result, err := h.captureFlow.CaptureStatus(h.createRequestContext(c, "/api/v1/public/captures"), &req)
	if err != nil {
		if errors.Is(err, businessflow.ErrCaptureNotFound) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Capture not found", "CAPTURE_NOT_FOUND", nil)
		}
		return h.publicError(c, err, "CAPTURE_LOOKUP_FAILED", "Failed to fetch capture")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Capture retrieved successfully", result)
}

// ListFailedCaptures pages through captures awaiting manual review. Served on
// the admin surface; it lives here with the rest of the capture endpoints.
func (h *PublicHandler) ListFailedCaptures(c fiber.Ctx) error {
	req := dto.ListFailedCapturesRequest{}
	req.Page, _ = strconv.Atoi(c.Query("page", "1"))
	req.PageSize, _ = strconv.Atoi(c.Query("page_size", "20"))

	if err := h.validateStruct(c, &req); err != nil {
		return err
	}

	result, err := h.captureFlow.ListFailed(h.createRequestContext(c, "/api/v1/captures/failed"), &req)
	if err != nil {
		return h.publicError(c, err, "CAPTURE_LOOKUP_FAILED", "Failed to list failed captures")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Failed captures retrieved successfully", result)
}

// FindPending lists open deliveries for a contact so lost invites can be recovered
func (h *PublicHandler) FindPending(c fiber.Ctx) error {
	req := dto.FindPendingRequest{}
	if v := c.Query("email"); v != "" {
		req.Email = &v
	}
	if v := c.Query("phone"); v != "" {
		req.Phone = &v
	}

	if err := h.validateStruct(c, &req); err != nil {
		return err
	}

	result, err := h.responseFlow.FindPendingByContact(h.createRequestContext(c, "/api/v1/public/pending"), &req)
	if err != nil {
		if errors.Is(err, businessflow.ErrContactRequired) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "An email or phone is required", "CONTACT_REQUIRED", nil)
		}
		return h.publicError(c, err, "PENDING_LOOKUP_FAILED", "Pending lookup failed")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Pending deliveries retrieved", result)
}

// publicError maps token and ingestion errors onto HTTP status codes. Token
// failures never distinguish unknown from revoked to the outside.
func (h *PublicHandler) publicError(c fiber.Ctx, err error, fallbackCode, fallbackMessage string) error {
	switch {
	case errors.Is(err, services.ErrTokenExpired):
		return h.ErrorResponse(c, fiber.StatusGone, "This survey link has expired", "TOKEN_EXPIRED", nil)
	case errors.Is(err, services.ErrTokenRevoked),
		errors.Is(err, services.ErrTokenUnknown),
		errors.Is(err, services.ErrTokenInvalid):
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid survey link", "TOKEN_INVALID", nil)
	}

	var ve *businessflow.AnswerValidationError
	if errors.As(err, &ve) {
		return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Some answers are invalid", "ANSWER_VALIDATION_FAILED", ve.Details)
	}

	var be *businessflow.BusinessError
	if errors.As(err, &be) {
		switch {
		case businessflow.IsDeliveryNotFound(be):
			return h.ErrorResponse(c, fiber.StatusNotFound, be.Message, be.Code, nil)
		case businessflow.IsResponseAlreadyExists(be):
			return h.ErrorResponse(c, fiber.StatusConflict, be.Message, be.Code, nil)
		case businessflow.IsDeliveryClosed(be):
			return h.ErrorResponse(c, fiber.StatusGone, be.Message, be.Code, nil)
		}
	}

	log.Println(fallbackMessage, err)
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}
