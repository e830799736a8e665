package handlers

import (
	"context"
	"errors"
	"log"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/sondeo-app/sondeo/app/dto"
	businessflow "github.com/sondeo-app/sondeo/business_flow"
)

// DeliveryHandlerInterface defines the contract for the admin delivery API
type DeliveryHandlerInterface interface {
	CreateDelivery(c fiber.Ctx) error
	CreateBulkDeliveries(c fiber.Ctx) error
	CreateBulkPaper(c fiber.Ctx) error
	CreateBulkAudio(c fiber.Ctx) error
	ListDeliveries(c fiber.Ctx) error
	ExportTokenManifest(c fiber.Ctx) error
	GetDelivery(c fiber.Ctx) error
	GetResponse(c fiber.Ctx) error
	MarkSent(c fiber.Ctx) error
	MarkResponded(c fiber.Ctx) error
	SubmitResponse(c fiber.Ctx) error
	CancelDelivery(c fiber.Ctx) error
	DispatchDelivery(c fiber.Ctx) error
}

// DeliveryHandler handles delivery-related admin HTTP requests
type DeliveryHandler struct {
	baseHandler
	deliveryFlow businessflow.DeliveryFlow
	responseFlow businessflow.ResponseFlow
}

// NewDeliveryHandler creates a new delivery handler
func NewDeliveryHandler(deliveryFlow businessflow.DeliveryFlow, responseFlow businessflow.ResponseFlow) *DeliveryHandler {
	return &DeliveryHandler{
		baseHandler:  baseHandler{validator: validator.New()},
		deliveryFlow: deliveryFlow,
		responseFlow: responseFlow,
	}
}

// CreateDelivery handles single delivery creation for a campaign
func (h *DeliveryHandler) CreateDelivery(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	var req dto.CreateDeliveryRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.CampaignUUID = campaignUUID

	if err := h.validateStruct(c, &req); err != nil {
		return err
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.deliveryFlow.CreateDelivery(h.createRequestContext(c, "/api/v1/campaigns/"+campaignUUID+"/deliveries"), &req, metadata)
	if err != nil {
		return h.deliveryError(c, err, "DELIVERY_CREATION_FAILED", "Delivery creation failed")
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Delivery created successfully", result)
}

// CreateBulkDeliveries handles bulk delivery creation for many recipients
func (h *DeliveryHandler) CreateBulkDeliveries(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	var req dto.CreateBulkDeliveriesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.CampaignUUID = campaignUUID

	if err := h.validateStruct(c, &req); err != nil {
		return err
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.deliveryFlow.CreateBulkDeliveries(h.createRequestContext(c, "/api/v1/campaigns/"+campaignUUID+"/deliveries/bulk"), &req, metadata)
	if err != nil {
		return h.deliveryError(c, err, "BULK_CREATION_FAILED", "Bulk delivery creation failed")
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Bulk deliveries processed", result)
}

// CreateBulkPaper handles anonymous paper packet creation
func (h *DeliveryHandler) CreateBulkPaper(c fiber.Ctx) error {
	return h.createBulkAnonymous(c, "bulk-paper", h.deliveryFlow.CreateBulkPaper)
}

// CreateBulkAudio handles anonymous audio delivery creation
func (h *DeliveryHandler) CreateBulkAudio(c fiber.Ctx) error {
	return h.createBulkAnonymous(c, "bulk-audio", h.deliveryFlow.CreateBulkAudio)
}

func (h *DeliveryHandler) createBulkAnonymous(
	c fiber.Ctx,
	segment string,
	create func(ctx context.Context, req *dto.CreateBulkAnonymousRequest, metadata *businessflow.ClientMetadata) (*dto.CreateBulkAnonymousResponse, error),
) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	var req dto.CreateBulkAnonymousRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.CampaignUUID = campaignUUID

	if err := h.validateStruct(c, &req); err != nil {
		return err
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := create(h.createRequestContext(c, "/api/v1/campaigns/"+campaignUUID+"/deliveries/"+segment), &req, metadata)
	if err != nil {
		return h.deliveryError(c, err, "BULK_CREATION_FAILED", "Anonymous bulk creation failed")
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Deliveries created successfully", result)
}

// ListDeliveries handles listing a campaign's deliveries with filters
func (h *DeliveryHandler) ListDeliveries(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	req := dto.ListDeliveriesRequest{CampaignUUID: campaignUUID}
	if v := c.Query("status"); v != "" {
		req.Status = &v
	}
	if v := c.Query("channel"); v != "" {
		req.Channel = &v
	}
	req.Page, _ = strconv.Atoi(c.Query("page", "1"))
	req.PageSize, _ = strconv.Atoi(c.Query("page_size", "20"))

	if err := h.validateStruct(c, &req); err != nil {
		return err
	}

	result, err := h.deliveryFlow.ListDeliveries(h.createRequestContext(c, "/api/v1/campaigns/"+campaignUUID+"/deliveries"), &req)
	if err != nil {
		return h.deliveryError(c, err, "DELIVERY_LIST_FAILED", "Failed to list deliveries")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Deliveries retrieved successfully", result)
}

// ExportTokenManifest streams the campaign token manifest as a spreadsheet
func (h *DeliveryHandler) ExportTokenManifest(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	req := dto.ExportTokenManifestRequest{CampaignUUID: campaignUUID}

	data, err := h.deliveryFlow.ExportTokenManifest(h.createRequestContext(c, "/api/v1/campaigns/"+campaignUUID+"/deliveries/manifest"), &req)
	if err != nil {
		return h.deliveryError(c, err, "MANIFEST_EXPORT_FAILED", "Manifest export failed")
	}

	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", `attachment; filename="token-manifest.xlsx"`)
	return c.Send(data)
}

// GetDelivery handles fetching one delivery by UUID
func (h *DeliveryHandler) GetDelivery(c fiber.Ctx) error {
	deliveryUUID := c.Params("uuid")
	if deliveryUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Delivery UUID is required", "MISSING_DELIVERY_UUID", nil)
	}

	req := dto.GetDeliveryRequest{UUID: deliveryUUID}
	result, err := h.deliveryFlow.GetDelivery(h.createRequestContext(c, "/api/v1/deliveries/"+deliveryUUID), &req)
	if err != nil {
		return h.deliveryError(c, err, "DELIVERY_LOOKUP_FAILED", "Failed to fetch delivery")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Delivery retrieved successfully", result)
}

// GetResponse handles fetching the stored response of a delivery
func (h *DeliveryHandler) GetResponse(c fiber.Ctx) error {
	deliveryUUID := c.Params("uuid")
	if deliveryUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Delivery UUID is required", "MISSING_DELIVERY_UUID", nil)
	}

	result, err := h.responseFlow.GetResponse(h.createRequestContext(c, "/api/v1/deliveries/"+deliveryUUID+"/response"), deliveryUUID)
	if err != nil {
		if be, ok := err.(*businessflow.BusinessError); ok && be.Code == "RESPONSE_NOT_FOUND" {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Delivery has no response", be.Code, nil)
		}
		return h.deliveryError(c, err, "RESPONSE_LOOKUP_FAILED", "Failed to fetch response")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Response retrieved successfully", result)
}

// MarkSent handles the manual confirmation that a delivery went out
func (h *DeliveryHandler) MarkSent(c fiber.Ctx) error {
	deliveryUUID := c.Params("uuid")
	if deliveryUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Delivery UUID is required", "MISSING_DELIVERY_UUID", nil)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	req := dto.MarkSentRequest{UUID: deliveryUUID}

	result, err := h.deliveryFlow.MarkSent(h.createRequestContext(c, "/api/v1/deliveries/"+deliveryUUID+"/mark-sent"), &req, metadata)
	if err != nil {
		return h.deliveryError(c, err, "MARK_SENT_FAILED", "Failed to mark delivery sent")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Delivery marked sent", result)
}

// MarkResponded handles recording an out-of-band answer with no structured data
func (h *DeliveryHandler) MarkResponded(c fiber.Ctx) error {
	deliveryUUID := c.Params("uuid")
	if deliveryUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Delivery UUID is required", "MISSING_DELIVERY_UUID", nil)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	req := dto.MarkRespondedRequest{UUID: deliveryUUID}

	result, err := h.deliveryFlow.MarkResponded(h.createRequestContext(c, "/api/v1/deliveries/"+deliveryUUID+"/mark-responded"), &req, metadata)
	if err != nil {
		return h.deliveryError(c, err, "MARK_RESPONDED_FAILED", "Failed to mark delivery responded")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Delivery marked responded", result)
}

// SubmitResponse handles an operator keying in answers on behalf of a delivery
func (h *DeliveryHandler) SubmitResponse(c fiber.Ctx) error {
	deliveryUUID := c.Params("uuid")
	if deliveryUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Delivery UUID is required", "MISSING_DELIVERY_UUID", nil)
	}

	var req dto.AdminSubmitRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.DeliveryUUID = deliveryUUID

	if err := h.validateStruct(c, &req); err != nil {
		return err
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.responseFlow.SubmitAdmin(h.createRequestContext(c, "/api/v1/deliveries/"+deliveryUUID+"/responses"), &req, metadata)
	if err != nil {
		var ve *businessflow.AnswerValidationError
		if errors.As(err, &ve) {
			return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Some answers are invalid", "ANSWER_VALIDATION_FAILED", ve.Details)
		}
		return h.deliveryError(c, err, "SUBMISSION_FAILED", "Response submission failed")
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Response recorded", result)
}

// CancelDelivery handles administrative cancellation of a delivery
func (h *DeliveryHandler) CancelDelivery(c fiber.Ctx) error {
	deliveryUUID := c.Params("uuid")
	if deliveryUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Delivery UUID is required", "MISSING_DELIVERY_UUID", nil)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	req := dto.CancelDeliveryRequest{UUID: deliveryUUID}

	result, err := h.deliveryFlow.CancelDelivery(h.createRequestContext(c, "/api/v1/deliveries/"+deliveryUUID+"/cancel"), &req, metadata)
	if err != nil {
		return h.deliveryError(c, err, "CANCEL_FAILED", "Delivery cancellation failed")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Delivery cancelled", result)
}

// DispatchDelivery handles (re)sending the invitation for a delivery
func (h *DeliveryHandler) DispatchDelivery(c fiber.Ctx) error {
	deliveryUUID := c.Params("uuid")
	if deliveryUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Delivery UUID is required", "MISSING_DELIVERY_UUID", nil)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	req := dto.DispatchDeliveryRequest{UUID: deliveryUUID}

	result, err := h.deliveryFlow.DispatchDelivery(h.createRequestContext(c, "/api/v1/deliveries/"+deliveryUUID+"/dispatch"), &req, metadata)
	if err != nil {
		return h.deliveryError(c, err, "DISPATCH_FAILED", "Delivery dispatch failed")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Delivery dispatched", result)
}

// deliveryError maps business errors onto HTTP status codes
func (h *DeliveryHandler) deliveryError(c fiber.Ctx, err error, fallbackCode, fallbackMessage string) error {
	var be *businessflow.BusinessError
	if errors.As(err, &be) {
		switch {
		case errors.Is(be, businessflow.ErrCampaignNotFound),
			businessflow.IsDeliveryNotFound(be),
			errors.Is(be, businessflow.ErrRecipientNotFound):
			return h.ErrorResponse(c, fiber.StatusNotFound, be.Message, be.Code, nil)
		case errors.Is(be, businessflow.ErrInvalidChannel),
			businessflow.IsRecipientRequired(be),
			errors.Is(be, businessflow.ErrBulkSizeExceeded),
			errors.Is(be, businessflow.ErrCampaignUUIDRequired):
			return h.ErrorResponse(c, fiber.StatusBadRequest, be.Message, be.Code, nil)
		case businessflow.IsDeliveryClosed(be),
			errors.Is(be, businessflow.ErrDeliveryNotCancelable),
			businessflow.IsResponseAlreadyExists(be):
			return h.ErrorResponse(c, fiber.StatusConflict, be.Message, be.Code, nil)
		case be.Code == "DISPATCH_FAILED":
			return h.ErrorResponse(c, fiber.StatusBadGateway, be.Message, be.Code, nil)
		}
	}

	log.Println(fallbackMessage, err)
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}
