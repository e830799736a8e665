// Package businessflow contains the core business logic and use cases for survey delivery workflows
package businessflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sondeo-app/sondeo/app/dto"
	"github.com/sondeo-app/sondeo/app/services"
	"github.com/sondeo-app/sondeo/models"
	"github.com/sondeo-app/sondeo/repository"
	"github.com/sondeo-app/sondeo/utils"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// DeliveryFlow handles the delivery lifecycle business logic
type DeliveryFlow interface {
	CreateDelivery(ctx context.Context, req *dto.CreateDeliveryRequest, metadata *ClientMetadata) (*dto.CreateDeliveryResponse, error)
	CreateBulkDeliveries(ctx context.Context, req *dto.CreateBulkDeliveriesRequest, metadata *ClientMetadata) (*dto.CreateBulkDeliveriesResponse, error)
	CreateBulkPaper(ctx context.Context, req *dto.CreateBulkAnonymousRequest, metadata *ClientMetadata) (*dto.CreateBulkAnonymousResponse, error)
	CreateBulkAudio(ctx context.Context, req *dto.CreateBulkAnonymousRequest, metadata *ClientMetadata) (*dto.CreateBulkAnonymousResponse, error)
	GetDelivery(ctx context.Context, req *dto.GetDeliveryRequest) (*dto.DeliveryResponse, error)
	ListDeliveries(ctx context.Context, req *dto.ListDeliveriesRequest) (*dto.ListDeliveriesResponse, error)
	DispatchDelivery(ctx context.Context, req *dto.DispatchDeliveryRequest, metadata *ClientMetadata) (*dto.DispatchDeliveryResponse, error)
	MarkSent(ctx context.Context, req *dto.MarkSentRequest, metadata *ClientMetadata) (*dto.MarkSentResponse, error)
	MarkResponded(ctx context.Context, req *dto.MarkRespondedRequest, metadata *ClientMetadata) (*dto.MarkRespondedResponse, error)
	CancelDelivery(ctx context.Context, req *dto.CancelDeliveryRequest, metadata *ClientMetadata) (*dto.CancelDeliveryResponse, error)
	ExpireOverdue(ctx context.Context, batchSize int) (int, error)
	ExportTokenManifest(ctx context.Context, req *dto.ExportTokenManifestRequest) ([]byte, error)
}

// DeliveryFlowImpl implements the delivery business flow
type DeliveryFlowImpl struct {
	deliveryRepo  repository.DeliveryRepository
	campaignRepo  repository.CampaignRepository
	recipientRepo repository.RecipientRepository
	templateRepo  repository.TemplateRepository
	tokenService  services.TokenService
	router        ChannelRouter
	bulkLimit     int
	bulkWorkers   int
	defaultTTL    time.Duration
	db            *gorm.DB
}

// NewDeliveryFlow creates a new delivery flow instance
func NewDeliveryFlow(
	deliveryRepo repository.DeliveryRepository,
	campaignRepo repository.CampaignRepository,
	recipientRepo repository.RecipientRepository,
	templateRepo repository.TemplateRepository,
	tokenService services.TokenService,
	router ChannelRouter,
	bulkWorkers int,
	defaultTTL time.Duration,
	db *gorm.DB,
) DeliveryFlow {
	return &DeliveryFlowImpl{
		deliveryRepo:  deliveryRepo,
		campaignRepo:  campaignRepo,
		recipientRepo: recipientRepo,
		templateRepo:  templateRepo,
		tokenService:  tokenService,
		router:        router,
		bulkLimit:     utils.MaxBulkDeliveries,
		bulkWorkers:   bulkWorkers,
		defaultTTL:    defaultTTL,
		db:            db,
	}
}

// CreateDelivery creates one delivery, issues its token, and optionally
// dispatches the invitation right away. A failed dispatch leaves the delivery
// in created with the provider error recorded.
func (s *DeliveryFlowImpl) CreateDelivery(ctx context.Context, req *dto.CreateDeliveryRequest, metadata *ClientMetadata) (*dto.CreateDeliveryResponse, error) {
	campaign, err := s.getCampaign(ctx, req.CampaignUUID)
	if err != nil {
		return nil, err
	}

	channel := models.DeliveryChannel(req.Channel)
	if !channel.Valid() {
		return nil, NewBusinessError("INVALID_CHANNEL", "Invalid delivery channel", ErrInvalidChannel)
	}

	var recipient *models.Recipient
	if channel.RequiresRecipient() {
		if req.RecipientUUID == nil {
			return nil, NewBusinessError("RECIPIENT_REQUIRED", "Recipient is required for this channel", ErrRecipientRequired)
		}
		recipient, err = s.recipientRepo.ByUUID(ctx, *req.RecipientUUID)
		if err != nil {
			return nil, NewBusinessError("RECIPIENT_LOOKUP_FAILED", "Failed to lookup recipient", err)
		}
		if recipient == nil {
			return nil, NewBusinessError("RECIPIENT_NOT_FOUND", "Recipient not found", ErrRecipientNotFound)
		}
	}

	var delivery *models.Delivery
	var token string

	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		delivery = s.newDelivery(campaign, recipient, channel, req.ExpiresAt)
		if err := s.deliveryRepo.Save(txCtx, delivery); err != nil {
			return fmt.Errorf("failed to save delivery: %w", err)
		}

		token, err = s.tokenService.IssueDeliveryToken(txCtx, delivery)
		if err != nil {
			return fmt.Errorf("failed to issue delivery token: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, NewBusinessError("DELIVERY_CREATION_FAILED", "Delivery creation failed", err)
	}

	resp := &dto.CreateDeliveryResponse{
		UUID:      delivery.UUID.String(),
		Status:    delivery.Status.String(),
		Channel:   delivery.Channel.String(),
		Token:     token,
		SurveyURL: s.router.SurveyURL(token),
		CreatedAt: delivery.CreatedAt.Format(time.RFC3339),
	}

	if req.Dispatch {
		status, dispatchErr := s.dispatchOne(ctx, delivery, recipient, campaign, token)
		resp.Status = status.String()
		if dispatchErr != nil {
			msg := dispatchErr.Error()
			resp.DispatchError = &msg
		}
	}

	return resp, nil
}

// CreateBulkDeliveries creates deliveries for many recipients. Each recipient
// is independent: one failed creation or send never rolls back the others.
func (s *DeliveryFlowImpl) CreateBulkDeliveries(ctx context.Context, req *dto.CreateBulkDeliveriesRequest, metadata *ClientMetadata) (*dto.CreateBulkDeliveriesResponse, error) {
	if len(req.RecipientUUIDs) > s.bulkLimit {
		return nil, NewBusinessError("BULK_SIZE_EXCEEDED",
			fmt.Sprintf("Bulk delivery size exceeds the limit of %d", s.bulkLimit), ErrBulkSizeExceeded)
	}

	if _, err := s.getCampaign(ctx, req.CampaignUUID); err != nil {
		return nil, err
	}

	results := make([]dto.BulkDeliveryResult, len(req.RecipientUUIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bulkWorkers)

	for i, recipientUUID := range req.RecipientUUIDs {
		g.Go(func() error {
			one := &dto.CreateDeliveryRequest{
				CampaignUUID:  req.CampaignUUID,
				RecipientUUID: &recipientUUID,
				Channel:       req.Channel,
				ExpiresAt:     req.ExpiresAt,
				Dispatch:      req.Dispatch,
			}
			created, err := s.CreateDelivery(gctx, one, metadata)
			if err != nil {
				msg := err.Error()
				results[i] = dto.BulkDeliveryResult{RecipientUUID: recipientUUID, Error: &msg}
				return nil // per-recipient failures are reported, not propagated
			}
			results[i] = dto.BulkDeliveryResult{
				RecipientUUID: recipientUUID,
				UUID:          created.UUID,
				Status:        created.Status,
				Token:         created.Token,
				Error:         created.DispatchError,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, NewBusinessError("BULK_CREATION_FAILED", "Bulk delivery creation failed", err)
	}

	created, failed := 0, 0
	for _, r := range results {
		if r.UUID == "" {
			failed++
		} else {
			created++
		}
	}

	return &dto.CreateBulkDeliveriesResponse{
		Message: fmt.Sprintf("Created %d deliveries, %d failed", created, failed),
		Created: created,
		Failed:  failed,
		Results: results,
	}, nil
}

// CreateBulkPaper creates anonymous paper deliveries. Each packet gets its
// own token; the printable forms are produced from the token manifest.
func (s *DeliveryFlowImpl) CreateBulkPaper(ctx context.Context, req *dto.CreateBulkAnonymousRequest, metadata *ClientMetadata) (*dto.CreateBulkAnonymousResponse, error) {
	return s.createBulkAnonymous(ctx, req, models.ChannelPaper)
}

// CreateBulkAudio creates anonymous audio deliveries for field recordings
func (s *DeliveryFlowImpl) CreateBulkAudio(ctx context.Context, req *dto.CreateBulkAnonymousRequest, metadata *ClientMetadata) (*dto.CreateBulkAnonymousResponse, error) {
	return s.createBulkAnonymous(ctx, req, models.ChannelAudio)
}

func (s *DeliveryFlowImpl) createBulkAnonymous(ctx context.Context, req *dto.CreateBulkAnonymousRequest, channel models.DeliveryChannel) (*dto.CreateBulkAnonymousResponse, error) {
	if req.Count > s.bulkLimit {
		return nil, NewBusinessError("BULK_SIZE_EXCEEDED",
			fmt.Sprintf("Bulk delivery size exceeds the limit of %d", s.bulkLimit), ErrBulkSizeExceeded)
	}

	campaign, err := s.getCampaign(ctx, req.CampaignUUID)
	if err != nil {
		return nil, err
	}

	deliveries := make([]dto.BulkDeliveryResult, 0, req.Count)

	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		for i := 0; i < req.Count; i++ {
			delivery := s.newDelivery(campaign, nil, channel, req.ExpiresAt)
			if err := s.deliveryRepo.Save(txCtx, delivery); err != nil {
				return fmt.Errorf("failed to save delivery %d: %w", i, err)
			}

			token, err := s.tokenService.IssueDeliveryToken(txCtx, delivery)
			if err != nil {
				return fmt.Errorf("failed to issue token for delivery %d: %w", i, err)
			}

			deliveries = append(deliveries, dto.BulkDeliveryResult{
				UUID:   delivery.UUID.String(),
				Status: delivery.Status.String(),
				Token:  token,
			})
		}
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("BULK_CREATION_FAILED", "Anonymous bulk creation failed", err)
	}

	return &dto.CreateBulkAnonymousResponse{
		Message:    fmt.Sprintf("Created %d %s deliveries", len(deliveries), channel),
		Created:    len(deliveries),
		Deliveries: deliveries,
	}, nil
}

// GetDelivery retrieves one delivery by UUID
func (s *DeliveryFlowImpl) GetDelivery(ctx context.Context, req *dto.GetDeliveryRequest) (*dto.DeliveryResponse, error) {
	delivery, err := s.getDelivery(ctx, req.UUID)
	if err != nil {
		return nil, err
	}
	resp := toDeliveryResponse(delivery)
	return &resp, nil
}

// ListDeliveries retrieves a page of a campaign's deliveries
func (s *DeliveryFlowImpl) ListDeliveries(ctx context.Context, req *dto.ListDeliveriesRequest) (*dto.ListDeliveriesResponse, error) {
	campaign, err := s.getCampaign(ctx, req.CampaignUUID)
	if err != nil {
		return nil, err
	}

	filter := models.DeliveryFilter{CampaignID: &campaign.ID}
	if req.Status != nil {
		status := models.DeliveryStatus(*req.Status)
		filter.Status = &status
	}
	if req.Channel != nil {
		channel := models.DeliveryChannel(*req.Channel)
		filter.Channel = &channel
	}

	total, err := s.deliveryRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("DELIVERY_LIST_FAILED", "Failed to count deliveries", err)
	}

	deliveries, err := s.deliveryRepo.ByFilter(ctx, filter, "created_at DESC", req.Limit(), req.Offset())
	if err != nil {
		return nil, NewBusinessError("DELIVERY_LIST_FAILED", "Failed to list deliveries", err)
	}

	out := make([]dto.DeliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, toDeliveryResponse(d))
	}

	return &dto.ListDeliveriesResponse{
		Message:    "Deliveries retrieved successfully",
		Total:      total,
		Deliveries: out,
	}, nil
}

// DispatchDelivery (re)sends the invitation for a delivery still in created
func (s *DeliveryFlowImpl) DispatchDelivery(ctx context.Context, req *dto.DispatchDeliveryRequest, metadata *ClientMetadata) (*dto.DispatchDeliveryResponse, error) {
	lockDelivery(req.UUID)
	defer unlockDelivery(req.UUID)

	delivery, err := s.getDelivery(ctx, req.UUID)
	if err != nil {
		return nil, err
	}

	if delivery.Status != models.DeliveryStatusCreated {
		return nil, NewBusinessError("DELIVERY_NOT_DISPATCHABLE",
			fmt.Sprintf("Delivery in status %s cannot be dispatched", delivery.Status), ErrDeliveryClosed)
	}

	campaign, err := s.campaignRepo.ByID(ctx, delivery.CampaignID)
	if err != nil || campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}

	var recipient *models.Recipient
	if delivery.RecipientID != nil {
		recipient, err = s.recipientRepo.ByID(ctx, *delivery.RecipientID)
		if err != nil {
			return nil, NewBusinessError("RECIPIENT_LOOKUP_FAILED", "Failed to lookup recipient", err)
		}
	}

	token := ""
	if delivery.AccessToken != nil {
		token = delivery.AccessToken.Token
	}

	status, dispatchErr := s.dispatchOne(ctx, delivery, recipient, campaign, token)
	if dispatchErr != nil {
		return nil, NewBusinessError("DISPATCH_FAILED", "Channel dispatch failed", dispatchErr)
	}

	return &dto.DispatchDeliveryResponse{
		Message: "Delivery dispatched successfully",
		UUID:    delivery.UUID.String(),
		Status:  status.String(),
	}, nil
}

// MarkSent confirms out-of-band distribution of a delivery (web links shared
// manually, printed paper packets handed out). Calling it twice is a no-op.
func (s *DeliveryFlowImpl) MarkSent(ctx context.Context, req *dto.MarkSentRequest, metadata *ClientMetadata) (*dto.MarkSentResponse, error) {
	lockDelivery(req.UUID)
	defer unlockDelivery(req.UUID)

	delivery, err := s.getDelivery(ctx, req.UUID)
	if err != nil {
		return nil, err
	}

	if delivery.Status == models.DeliveryStatusSent {
		return &dto.MarkSentResponse{
			Message: "Delivery already marked sent",
			UUID:    delivery.UUID.String(),
			Status:  delivery.Status.String(),
		}, nil
	}

	moved, err := s.deliveryRepo.UpdateStatusIf(ctx, delivery.ID,
		[]models.DeliveryStatus{models.DeliveryStatusCreated}, models.DeliveryStatusSent)
	if err != nil {
		return nil, NewBusinessError("MARK_SENT_FAILED", "Failed to mark delivery sent", err)
	}
	if !moved {
		return nil, NewBusinessError("DELIVERY_CLOSED",
			fmt.Sprintf("Delivery in status %s cannot be marked sent", delivery.Status), ErrDeliveryClosed)
	}

	return &dto.MarkSentResponse{
		Message: "Delivery marked sent",
		UUID:    delivery.UUID.String(),
		Status:  models.DeliveryStatusSent.String(),
	}, nil
}

// MarkResponded records that a delivery was answered through a side channel
// with no structured response to ingest (a phone interview, a lost paper form
// tallied by hand). Repeating the call is a no-op; the token is revoked so the
// public link stops working.
func (s *DeliveryFlowImpl) MarkResponded(ctx context.Context, req *dto.MarkRespondedRequest, metadata *ClientMetadata) (*dto.MarkRespondedResponse, error) {
	lockDelivery(req.UUID)
	defer unlockDelivery(req.UUID)

	delivery, err := s.getDelivery(ctx, req.UUID)
	if err != nil {
		return nil, err
	}

	if delivery.Status == models.DeliveryStatusResponded {
		return &dto.MarkRespondedResponse{
			Message: "Delivery already marked responded",
			UUID:    delivery.UUID.String(),
			Status:  delivery.Status.String(),
		}, nil
	}

	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		moved, err := s.deliveryRepo.UpdateStatusIf(txCtx, delivery.ID,
			[]models.DeliveryStatus{models.DeliveryStatusCreated, models.DeliveryStatusSent},
			models.DeliveryStatusResponded)
		if err != nil {
			return err
		}
		if !moved {
			return ErrDeliveryClosed
		}
		return s.tokenService.RevokeDeliveryToken(txCtx, delivery.ID)
	})
	if err != nil {
		if errors.Is(err, ErrDeliveryClosed) {
			return nil, NewBusinessError("DELIVERY_CLOSED",
				fmt.Sprintf("Delivery in status %s cannot be marked responded", delivery.Status), ErrDeliveryClosed)
		}
		return nil, NewBusinessError("MARK_RESPONDED_FAILED", "Failed to mark delivery responded", err)
	}

	return &dto.MarkRespondedResponse{
		Message: "Delivery marked responded",
		UUID:    delivery.UUID.String(),
		Status:  models.DeliveryStatusResponded.String(),
	}, nil
}

// CancelDelivery administratively closes a delivery and revokes its token
func (s *DeliveryFlowImpl) CancelDelivery(ctx context.Context, req *dto.CancelDeliveryRequest, metadata *ClientMetadata) (*dto.CancelDeliveryResponse, error) {
	lockDelivery(req.UUID)
	defer unlockDelivery(req.UUID)

	delivery, err := s.getDelivery(ctx, req.UUID)
	if err != nil {
		return nil, err
	}

	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		moved, err := s.deliveryRepo.UpdateStatusIf(txCtx, delivery.ID,
			[]models.DeliveryStatus{models.DeliveryStatusCreated, models.DeliveryStatusSent},
			models.DeliveryStatusCancelled)
		if err != nil {
			return err
		}
		if !moved {
			return ErrDeliveryNotCancelable
		}
		return s.tokenService.RevokeDeliveryToken(txCtx, delivery.ID)
	})
	if err != nil {
		return nil, NewBusinessError("CANCEL_FAILED", "Delivery cancellation failed", err)
	}

	return &dto.CancelDeliveryResponse{
		Message: "Delivery cancelled",
		UUID:    delivery.UUID.String(),
		Status:  models.DeliveryStatusCancelled.String(),
	}, nil
}

// ExpireOverdue sweeps open deliveries past their deadline into expired and
// returns how many moved. Deliveries that raced into a terminal state are
// skipped by the conditional update.
func (s *DeliveryFlowImpl) ExpireOverdue(ctx context.Context, batchSize int) (int, error) {
	overdue, err := s.deliveryRepo.ListOverdue(ctx, utils.UTCNow(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue deliveries: %w", err)
	}

	expired := 0
	for _, d := range overdue {
		moved, err := s.deliveryRepo.UpdateStatusIf(ctx, d.ID,
			[]models.DeliveryStatus{models.DeliveryStatusCreated, models.DeliveryStatusSent},
			models.DeliveryStatusExpired)
		if err != nil {
			return expired, fmt.Errorf("failed to expire delivery %s: %w", d.UUID, err)
		}
		if moved {
			expired++
		}
	}

	return expired, nil
}

// ExportTokenManifest renders a campaign's deliveries and tokens as a
// spreadsheet, used to label printed paper packets and audio recorders.
func (s *DeliveryFlowImpl) ExportTokenManifest(ctx context.Context, req *dto.ExportTokenManifestRequest) ([]byte, error) {
	campaign, err := s.getCampaign(ctx, req.CampaignUUID)
	if err != nil {
		return nil, err
	}

	filter := models.DeliveryFilter{CampaignID: &campaign.ID}
	deliveries, err := s.deliveryRepo.ByFilter(ctx, filter, "created_at ASC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("MANIFEST_EXPORT_FAILED", "Failed to list deliveries", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Tokens"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Delivery UUID", "Channel", "Status", "Token", "Survey URL", "Expires At"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for row, d := range deliveries {
		token := ""
		if d.AccessToken != nil {
			token = d.AccessToken.Token
		}
		expires := ""
		if d.ExpiresAt != nil {
			expires = d.ExpiresAt.Format(time.RFC3339)
		}
		values := []any{d.UUID.String(), d.Channel.String(), d.Status.String(), token, s.router.SurveyURL(token), expires}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, NewBusinessError("MANIFEST_EXPORT_FAILED", "Failed to render manifest", err)
	}

	return buf.Bytes(), nil
}

// dispatchOne sends the invitation and flips the delivery to sent on success.
// On provider failure the delivery stays in created with the error recorded.
func (s *DeliveryFlowImpl) dispatchOne(ctx context.Context, delivery *models.Delivery, recipient *models.Recipient, campaign *models.Campaign, token string) (models.DeliveryStatus, error) {
	if err := s.router.Dispatch(ctx, delivery, recipient, campaign, token); err != nil {
		_ = s.deliveryRepo.SetDispatchError(ctx, delivery.ID, err.Error())
		return models.DeliveryStatusCreated, err
	}

	moved, err := s.deliveryRepo.UpdateStatusIf(ctx, delivery.ID,
		[]models.DeliveryStatus{models.DeliveryStatusCreated}, models.DeliveryStatusSent)
	if err != nil {
		return delivery.Status, err
	}
	if !moved {
		// Raced with a concurrent transition; report the stored status.
		current, err := s.deliveryRepo.ByID(ctx, delivery.ID)
		if err != nil || current == nil {
			return delivery.Status, err
		}
		return current.Status, nil
	}

	return models.DeliveryStatusSent, nil
}

func (s *DeliveryFlowImpl) newDelivery(campaign *models.Campaign, recipient *models.Recipient, channel models.DeliveryChannel, expiresAt *time.Time) *models.Delivery {
	delivery := &models.Delivery{
		CampaignID: campaign.ID,
		Channel:    channel,
		Status:     models.DeliveryStatusCreated,
	}
	if recipient != nil {
		delivery.RecipientID = &recipient.ID
	}
	if expiresAt != nil {
		delivery.ExpiresAt = utils.ToPtr(expiresAt.UTC())
	} else if s.defaultTTL > 0 {
		delivery.ExpiresAt = utils.UTCNowAddPtr(s.defaultTTL)
	}
	return delivery
}

func (s *DeliveryFlowImpl) getCampaign(ctx context.Context, campaignUUID string) (*models.Campaign, error) {
	if campaignUUID == "" {
		return nil, NewBusinessError("CAMPAIGN_UUID_REQUIRED", "Campaign UUID is required", ErrCampaignUUIDRequired)
	}
	campaign, err := s.campaignRepo.ByUUID(ctx, campaignUUID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	return campaign, nil
}

func (s *DeliveryFlowImpl) getDelivery(ctx context.Context, deliveryUUID string) (*models.Delivery, error) {
	delivery, err := s.deliveryRepo.ByUUID(ctx, deliveryUUID)
	if err != nil {
		return nil, NewBusinessError("DELIVERY_LOOKUP_FAILED", "Failed to lookup delivery", err)
	}
	if delivery == nil {
		return nil, NewBusinessError("DELIVERY_NOT_FOUND", "Delivery not found", ErrDeliveryNotFound)
	}
	return delivery, nil
}

func toDeliveryResponse(d *models.Delivery) dto.DeliveryResponse {
	resp := dto.DeliveryResponse{
		UUID:          d.UUID.String(),
		Channel:       d.Channel.String(),
		Status:        d.Status.String(),
		DispatchError: d.DispatchError,
		ExpiresAt:     d.ExpiresAt,
		CreatedAt:     d.CreatedAt,
		SentAt:        d.SentAt,
		RespondedAt:   d.RespondedAt,
	}
	if d.Campaign != nil {
		resp.CampaignUUID = d.Campaign.UUID.String()
	}
	if d.Recipient != nil {
		resp.RecipientUUID = utils.ToPtr(d.Recipient.UUID.String())
	}
	return resp
}
