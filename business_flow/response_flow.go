package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sondeo-app/sondeo/app/dto"
	"github.com/sondeo-app/sondeo/app/services"
	"github.com/sondeo-app/sondeo/models"
	"github.com/sondeo-app/sondeo/repository"
	"gorm.io/gorm"
)

// ResponseFlow handles response ingestion and the public token surface
type ResponseFlow interface {
	SubmitByToken(ctx context.Context, req *dto.SubmitResponseRequest, metadata *ClientMetadata) (*dto.SubmitResponseResponse, error)
	SubmitAdmin(ctx context.Context, req *dto.AdminSubmitRequest, metadata *ClientMetadata) (*dto.SubmitResponseResponse, error)
	SubmitForDelivery(ctx context.Context, delivery *models.Delivery, answers []dto.AnswerInput, source models.ResponseSource, rawPayload json.RawMessage) (*models.Response, error)
	PublicDelivery(ctx context.Context, token string) (*dto.PublicDeliveryResponse, error)
	FindPendingByContact(ctx context.Context, req *dto.FindPendingRequest) (*dto.FindPendingResponse, error)
	TemplateMap(ctx context.Context, token string) (*dto.TemplateMapResponse, error)
	GetResponse(ctx context.Context, deliveryUUID string) (*dto.ResponseDetail, error)
}

// ResponseFlowImpl implements the response business flow
type ResponseFlowImpl struct {
	deliveryRepo repository.DeliveryRepository
	responseRepo repository.ResponseRepository
	campaignRepo repository.CampaignRepository
	templateRepo repository.TemplateRepository
	tokenService services.TokenService
	router       ChannelRouter
	db           *gorm.DB
}

// NewResponseFlow creates a new response flow instance
func NewResponseFlow(
	deliveryRepo repository.DeliveryRepository,
	responseRepo repository.ResponseRepository,
	campaignRepo repository.CampaignRepository,
	templateRepo repository.TemplateRepository,
	tokenService services.TokenService,
	router ChannelRouter,
	db *gorm.DB,
) ResponseFlow {
	return &ResponseFlowImpl{
		deliveryRepo: deliveryRepo,
		responseRepo: responseRepo,
		campaignRepo: campaignRepo,
		templateRepo: templateRepo,
		tokenService: tokenService,
		router:       router,
		db:           db,
	}
}

// SubmitByToken ingests a public submission. The token is verified first, the
// delivery re-read under its lock, and the status flip happens inside the
// same transaction as the response insert so a concurrent submit loses cleanly.
func (s *ResponseFlowImpl) SubmitByToken(ctx context.Context, req *dto.SubmitResponseRequest, metadata *ClientMetadata) (*dto.SubmitResponseResponse, error) {
	delivery, err := s.deliveryByToken(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	rawPayload, _ := json.Marshal(req.Answers)

	response, err := s.SubmitForDelivery(ctx, delivery, req.Answers, models.SourcePublicToken, rawPayload)
	if err != nil {
		return nil, err
	}

	return &dto.SubmitResponseResponse{
		Message:      "Response recorded",
		ResponseUUID: response.UUID.String(),
		DeliveryUUID: delivery.UUID.String(),
		SubmittedAt:  response.SubmittedAt.Format(time.RFC3339),
	}, nil
}

// SubmitAdmin records a response on behalf of a delivery without its token,
// for answers collected out of band and keyed in by an operator
func (s *ResponseFlowImpl) SubmitAdmin(ctx context.Context, req *dto.AdminSubmitRequest, metadata *ClientMetadata) (*dto.SubmitResponseResponse, error) {
	delivery, err := s.deliveryRepo.ByUUID(ctx, req.DeliveryUUID)
	if err != nil {
		return nil, NewBusinessError("DELIVERY_LOOKUP_FAILED", "Failed to lookup delivery", err)
	}
	if delivery == nil {
		return nil, NewBusinessError("DELIVERY_NOT_FOUND", "Delivery not found", ErrDeliveryNotFound)
	}

	rawPayload, _ := json.Marshal(req.Answers)

	response, err := s.SubmitForDelivery(ctx, delivery, req.Answers, models.SourceAdmin, rawPayload)
	if err != nil {
		return nil, err
	}

	return &dto.SubmitResponseResponse{
		Message:      "Response recorded",
		ResponseUUID: response.UUID.String(),
		DeliveryUUID: delivery.UUID.String(),
		SubmittedAt:  response.SubmittedAt.Format(time.RFC3339),
	}, nil
}

// SubmitForDelivery is the single ingestion path shared by the public token
// surface, the capture pipeline and the conversational channel. It validates
// answers against the template, persists the response, closes the delivery
// and revokes its token atomically.
func (s *ResponseFlowImpl) SubmitForDelivery(ctx context.Context, delivery *models.Delivery, answers []dto.AnswerInput, source models.ResponseSource, rawPayload json.RawMessage) (*models.Response, error) {
	lockDelivery(delivery.UUID.String())
	defer unlockDelivery(delivery.UUID.String())

	current, err := s.deliveryRepo.ByID(ctx, delivery.ID)
	if err != nil {
		return nil, NewBusinessError("DELIVERY_LOOKUP_FAILED", "Failed to reload delivery", err)
	}
	if current == nil {
		return nil, NewBusinessError("DELIVERY_NOT_FOUND", "Delivery not found", ErrDeliveryNotFound)
	}
	if !current.IsOpen() {
		if current.Status == models.DeliveryStatusResponded {
			return nil, NewBusinessError("RESPONSE_EXISTS", "Delivery already has a response", ErrResponseAlreadyExists)
		}
		return nil, NewBusinessError("DELIVERY_CLOSED", "Delivery is no longer accepting responses", ErrDeliveryClosed)
	}

	template, err := s.templateForDelivery(ctx, current)
	if err != nil {
		return nil, err
	}

	modelAnswers, err := buildAnswers(template, answers)
	if err != nil {
		return nil, err
	}

	response := &models.Response{
		DeliveryID: current.ID,
		Source:     source,
		RawPayload: rawPayload,
		Answers:    modelAnswers,
	}

	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		if err := s.responseRepo.Save(txCtx, response); err != nil {
			return fmt.Errorf("failed to save response: %w", err)
		}

		moved, err := s.deliveryRepo.UpdateStatusIf(txCtx, current.ID,
			[]models.DeliveryStatus{models.DeliveryStatusCreated, models.DeliveryStatusSent},
			models.DeliveryStatusResponded)
		if err != nil {
			return err
		}
		if !moved {
			return ErrResponseAlreadyExists
		}

		return s.tokenService.RevokeDeliveryToken(txCtx, current.ID)
	})
	if err != nil {
		if errors.Is(err, ErrResponseAlreadyExists) {
			return nil, NewBusinessError("RESPONSE_EXISTS", "Delivery already has a response", ErrResponseAlreadyExists)
		}
		return nil, NewBusinessError("SUBMISSION_FAILED", "Response submission failed", err)
	}

	return response, nil
}

// PublicDelivery renders the survey a token grants access to
func (s *ResponseFlowImpl) PublicDelivery(ctx context.Context, token string) (*dto.PublicDeliveryResponse, error) {
	delivery, err := s.deliveryByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	template, err := s.templateForDelivery(ctx, delivery)
	if err != nil {
		return nil, err
	}

	resp := &dto.PublicDeliveryResponse{
		DeliveryUUID: delivery.UUID.String(),
		Status:       delivery.Status.String(),
		TemplateName: template.Name,
		ExpiresAt:    delivery.ExpiresAt,
	}
	if delivery.Recipient != nil {
		name := delivery.Recipient.DisplayName()
		resp.RecipientName = &name
	}

	for _, q := range template.OrderedQuestions() {
		pq := dto.PublicQuestion{
			ID:       q.ID.String(),
			Order:    q.Order,
			Text:     q.Text,
			Type:     q.Type.String(),
			Required: q.IsRequired(),
		}
		for _, opt := range q.Options {
			pq.Options = append(pq.Options, dto.PublicQuestionOption{ID: opt.ID.String(), Text: opt.Text})
		}
		resp.Questions = append(resp.Questions, pq)
	}

	return resp, nil
}

// FindPendingByContact lists open deliveries for a recipient contact, so a
// survey taker who lost the invite can recover their links. Closed and
// overdue deliveries never appear.
func (s *ResponseFlowImpl) FindPendingByContact(ctx context.Context, req *dto.FindPendingRequest) (*dto.FindPendingResponse, error) {
	if req.Email == nil && req.Phone == nil {
		return nil, NewBusinessError("CONTACT_REQUIRED", "An email or phone is required", ErrContactRequired)
	}

	deliveries, err := s.deliveryRepo.OpenByRecipientContact(ctx, req.Email, req.Phone)
	if err != nil {
		return nil, NewBusinessError("PENDING_LOOKUP_FAILED", "Failed to lookup pending deliveries", err)
	}

	pending := make([]dto.PendingDelivery, 0, len(deliveries))
	for _, d := range deliveries {
		item := dto.PendingDelivery{
			DeliveryUUID: d.UUID.String(),
			Channel:      d.Channel.String(),
			ExpiresAt:    d.ExpiresAt,
			CreatedAt:    d.CreatedAt,
		}
		if d.Campaign != nil {
			item.CampaignName = d.Campaign.Name
		}
		if d.AccessToken != nil && !d.AccessToken.IsRevoked() {
			item.SurveyURL = s.router.SurveyURL(d.AccessToken.Token)
		}
		pending = append(pending, item)
	}

	return &dto.FindPendingResponse{
		Message:    fmt.Sprintf("Found %d pending deliveries", len(pending)),
		Deliveries: pending,
	}, nil
}

// TemplateMap returns the question-to-field map used to key extraction of
// printed forms for the delivery behind a token
func (s *ResponseFlowImpl) TemplateMap(ctx context.Context, token string) (*dto.TemplateMapResponse, error) {
	delivery, err := s.deliveryByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	template, err := s.templateForDelivery(ctx, delivery)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(template.Questions))
	for _, q := range template.OrderedQuestions() {
		fields[q.ID.String()] = fmt.Sprintf("q%d_%s", q.Order, q.Type)
	}

	return &dto.TemplateMapResponse{
		TemplateID: template.ID.String(),
		Fields:     fields,
	}, nil
}

// GetResponse retrieves the stored response for a delivery
func (s *ResponseFlowImpl) GetResponse(ctx context.Context, deliveryUUID string) (*dto.ResponseDetail, error) {
	delivery, err := s.deliveryRepo.ByUUID(ctx, deliveryUUID)
	if err != nil {
		return nil, NewBusinessError("DELIVERY_LOOKUP_FAILED", "Failed to lookup delivery", err)
	}
	if delivery == nil {
		return nil, NewBusinessError("DELIVERY_NOT_FOUND", "Delivery not found", ErrDeliveryNotFound)
	}

	response, err := s.responseRepo.ByDeliveryID(ctx, delivery.ID)
	if err != nil {
		return nil, NewBusinessError("RESPONSE_LOOKUP_FAILED", "Failed to lookup response", err)
	}
	if response == nil {
		return nil, NewBusinessError("RESPONSE_NOT_FOUND", "Delivery has no response", gorm.ErrRecordNotFound)
	}

	detail := &dto.ResponseDetail{
		UUID:         response.UUID.String(),
		DeliveryUUID: delivery.UUID.String(),
		Source:       string(response.Source),
		RawPayload:   response.RawPayload,
		SubmittedAt:  response.SubmittedAt,
	}
	for _, a := range response.Answers {
		answer := dto.AnswerDetail{
			QuestionID: a.QuestionID.String(),
			Position:   a.Position,
			Text:       a.Text,
			Number:     a.Number,
			Metadata:   a.Metadata,
		}
		if a.OptionID != nil {
			id := a.OptionID.String()
			answer.OptionID = &id
		}
		detail.Answers = append(detail.Answers, answer)
	}

	return detail, nil
}

// deliveryByToken verifies the token and loads its delivery with relations
func (s *ResponseFlowImpl) deliveryByToken(ctx context.Context, token string) (*models.Delivery, error) {
	claims, err := s.tokenService.ValidateDeliveryToken(ctx, token)
	if err != nil {
		return nil, err
	}

	delivery, err := s.deliveryRepo.ByUUID(ctx, claims.DeliveryUUID.String())
	if err != nil {
		return nil, NewBusinessError("DELIVERY_LOOKUP_FAILED", "Failed to lookup delivery", err)
	}
	if delivery == nil {
		return nil, NewBusinessError("DELIVERY_NOT_FOUND", "Delivery not found", ErrDeliveryNotFound)
	}

	return delivery, nil
}

func (s *ResponseFlowImpl) templateForDelivery(ctx context.Context, delivery *models.Delivery) (*models.SurveyTemplate, error) {
	return loadTemplateForDelivery(ctx, s.campaignRepo, s.templateRepo, delivery)
}

// loadTemplateForDelivery resolves the survey template behind a delivery's
// campaign, shared by the ingestion paths
func loadTemplateForDelivery(ctx context.Context, campaignRepo repository.CampaignRepository, templateRepo repository.TemplateRepository, delivery *models.Delivery) (*models.SurveyTemplate, error) {
	campaign := delivery.Campaign
	if campaign == nil {
		loaded, err := campaignRepo.ByID(ctx, delivery.CampaignID)
		if err != nil || loaded == nil {
			return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
		}
		campaign = loaded
	}

	template, err := templateRepo.ByTemplateID(ctx, campaign.TemplateID)
	if err != nil {
		return nil, NewBusinessError("TEMPLATE_LOOKUP_FAILED", "Failed to lookup template", err)
	}
	if template == nil {
		return nil, NewBusinessError("TEMPLATE_NOT_FOUND", "Survey template not found", ErrTemplateNotFound)
	}

	return template, nil
}

// buildAnswers validates submitted answers against the template and converts
// them into storable rows. All problems are collected into one validation
// error instead of failing at the first.
func buildAnswers(template *models.SurveyTemplate, answers []dto.AnswerInput) ([]models.ResponseAnswer, error) {
	var details []AnswerValidationDetail
	answered := make(map[string]bool, len(answers))
	rows := make([]models.ResponseAnswer, 0, len(answers))

	for _, in := range answers {
		questionID, err := uuid.Parse(in.QuestionID)
		if err != nil {
			details = append(details, AnswerValidationDetail{QuestionID: in.QuestionID, Reason: "question id is not a valid uuid"})
			continue
		}

		question := template.QuestionByID(questionID)
		if question == nil {
			details = append(details, AnswerValidationDetail{QuestionID: in.QuestionID, Reason: "question does not belong to this survey"})
			continue
		}
		if answered[in.QuestionID] {
			details = append(details, AnswerValidationDetail{QuestionID: in.QuestionID, Reason: "question answered more than once"})
			continue
		}
		answered[in.QuestionID] = true

		row, reason := buildAnswer(question, in)
		if reason != "" {
			details = append(details, AnswerValidationDetail{QuestionID: in.QuestionID, Reason: reason})
			continue
		}
		rows = append(rows, row)
	}

	for _, q := range template.OrderedQuestions() {
		if q.IsRequired() && !answered[q.ID.String()] {
			details = append(details, AnswerValidationDetail{QuestionID: q.ID.String(), Reason: "required question is missing an answer"})
		}
	}

	if len(details) > 0 {
		return nil, &AnswerValidationError{Details: details}
	}

	return rows, nil
}

func buildAnswer(question *models.Question, in dto.AnswerInput) (models.ResponseAnswer, string) {
	row := models.ResponseAnswer{
		QuestionID: question.ID,
		Position:   question.Order,
	}

	switch question.Type {
	case models.QuestionTypeText:
		if in.Text == nil || *in.Text == "" {
			return row, "text answer is required"
		}
		row.Text = in.Text

	case models.QuestionTypeNumber:
		if in.Number == nil {
			return row, "numeric answer is required"
		}
		row.Number = in.Number

	case models.QuestionTypeSingleChoice:
		if in.OptionID == nil {
			return row, "an option must be selected"
		}
		optionID, err := uuid.Parse(*in.OptionID)
		if err != nil || question.OptionByID(optionID) == nil {
			return row, "selected option does not belong to this question"
		}
		row.OptionID = &optionID

	case models.QuestionTypeMultiChoice:
		if len(in.OptionIDs) == 0 {
			return row, "at least one option must be selected"
		}
		seen := make(map[string]bool, len(in.OptionIDs))
		ids := make([]string, 0, len(in.OptionIDs))
		for _, raw := range in.OptionIDs {
			optionID, err := uuid.Parse(raw)
			if err != nil || question.OptionByID(optionID) == nil {
				return row, "selected option does not belong to this question"
			}
			if seen[raw] {
				continue
			}
			seen[raw] = true
			ids = append(ids, raw)
		}
		metadata, _ := json.Marshal(map[string][]string{"option_ids": ids})
		row.Metadata = metadata

	default:
		return row, "unsupported question type"
	}

	return row, ""
}
