package businessflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sondeo-app/sondeo/app/dto"
	"github.com/sondeo-app/sondeo/app/services"
	"github.com/sondeo-app/sondeo/config"
	"github.com/sondeo-app/sondeo/models"
	"github.com/sondeo-app/sondeo/repository"
	"github.com/sondeo-app/sondeo/utils"
	"gorm.io/gorm"
)

// CaptureFlow handles raw capture intake and the extraction pipeline
type CaptureFlow interface {
	UploadCapture(ctx context.Context, req *dto.UploadCaptureRequest, metadata *ClientMetadata) (*dto.UploadCaptureResponse, error)
	ProcessCapture(ctx context.Context, captureUUID string) error
	CaptureStatus(ctx context.Context, req *dto.CaptureStatusRequest) (*dto.CaptureStatusResponse, error)
	ListFailed(ctx context.Context, req *dto.ListFailedCapturesRequest) (*dto.ListFailedCapturesResponse, error)
	ReleaseStalled(ctx context.Context, deadline time.Duration) (int64, error)
	PendingCaptureUUIDs(ctx context.Context, limit int) ([]string, error)
}

// CaptureFlowImpl implements the capture business flow
type CaptureFlowImpl struct {
	captureRepo   repository.RawCaptureRepository
	deliveryRepo  repository.DeliveryRepository
	campaignRepo  repository.CampaignRepository
	templateRepo  repository.TemplateRepository
	responseFlow  ResponseFlow
	tokenService  services.TokenService
	mediaStore    services.MediaStore
	extraction    services.ExtractionService
	redisClient   *redis.Client
	mediaConfig   *config.MediaConfig
	maxRetries    int
	retryBackoff  time.Duration
	db            *gorm.DB
}

// NewCaptureFlow creates a new capture flow instance
func NewCaptureFlow(
	captureRepo repository.RawCaptureRepository,
	deliveryRepo repository.DeliveryRepository,
	campaignRepo repository.CampaignRepository,
	templateRepo repository.TemplateRepository,
	responseFlow ResponseFlow,
	tokenService services.TokenService,
	mediaStore services.MediaStore,
	extraction services.ExtractionService,
	redisClient *redis.Client,
	mediaConfig *config.MediaConfig,
	maxRetries int,
	retryBackoff time.Duration,
	db *gorm.DB,
) CaptureFlow {
	if maxRetries <= 0 {
		maxRetries = utils.DefaultCaptureMaxRetries
	}
	return &CaptureFlowImpl{
		captureRepo:   captureRepo,
		deliveryRepo:  deliveryRepo,
		campaignRepo:  campaignRepo,
		templateRepo:  templateRepo,
		responseFlow:  responseFlow,
		tokenService:  tokenService,
		mediaStore:    mediaStore,
		extraction:    extraction,
		redisClient:   redisClient,
		mediaConfig:   mediaConfig,
		maxRetries:    maxRetries,
		retryBackoff:  retryBackoff,
		db:            db,
	}
}

// UploadCapture stores the blob, records the capture as pending and enqueues
// it for extraction. The delivery itself does not change state here.
func (s *CaptureFlowImpl) UploadCapture(ctx context.Context, req *dto.UploadCaptureRequest, metadata *ClientMetadata) (*dto.UploadCaptureResponse, error) {
	claims, err := s.tokenService.ValidateDeliveryToken(ctx, req.Token)
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
	if !delivery.IsOpen() {
		return nil, NewBusinessError("DELIVERY_CLOSED", "Delivery is no longer accepting captures", ErrDeliveryClosed)
	}

	kind := models.MediaKind(req.MediaKind)
	if err := checkMediaKind(delivery.Channel, kind); err != nil {
		return nil, err
	}

	maxBytes := s.mediaConfig.MaxUploadMB * 1024 * 1024
	if maxBytes > 0 && len(req.Media) > maxBytes {
		return nil, NewBusinessError("MEDIA_TOO_LARGE",
			fmt.Sprintf("Media exceeds the %dMB upload limit", s.mediaConfig.MaxUploadMB), ErrMediaTooLarge)
	}

	key := services.MediaStorageKey(delivery.UUID)
	if err := s.mediaStore.Put(ctx, key, req.ContentType, req.Media); err != nil {
		return nil, NewBusinessError("MEDIA_STORE_FAILED", "Failed to store media", err)
	}

	capture := &models.RawCapture{
		DeliveryID: delivery.ID,
		MediaKey:   key,
		MediaKind:  kind,
		State:      models.CaptureStatePending,
	}
	if err := s.captureRepo.Save(ctx, capture); err != nil {
		return nil, NewBusinessError("CAPTURE_SAVE_FAILED", "Failed to record capture", err)
	}

	if s.redisClient != nil {
		// Workers also sweep pending rows at startup, so a lost enqueue
		// delays extraction instead of dropping the capture.
		_ = s.redisClient.LPush(ctx, utils.CaptureQueueKey, capture.UUID.String()).Err()
	}

	return &dto.UploadCaptureResponse{
		Message:      "Capture stored",
		CaptureUUID:  capture.UUID.String(),
		DeliveryUUID: delivery.UUID.String(),
		State:        string(capture.State),
		CapturedAt:   capture.CapturedAt.Format(time.RFC3339),
	}, nil
}

// ProcessCapture runs one capture through extraction. The claim is a
// conditional update, so two workers holding the same UUID race harmlessly.
// Extraction or submission failures requeue the capture up to the retry
// budget; the delivery stays where it was until a submission succeeds.
func (s *CaptureFlowImpl) ProcessCapture(ctx context.Context, captureUUID string) error {
	capture, err := s.captureRepo.ByUUID(ctx, captureUUID)
	if err != nil {
		return fmt.Errorf("failed to lookup capture %s: %w", captureUUID, err)
	}
	if capture == nil {
		return ErrCaptureNotFound
	}

	claimed, err := s.captureRepo.ClaimPending(ctx, capture.ID)
	if err != nil {
		return fmt.Errorf("failed to claim capture %s: %w", captureUUID, err)
	}
	if !claimed {
		return ErrCaptureNotClaimable
	}

	delivery, err := s.deliveryRepo.ByID(ctx, capture.DeliveryID)
	if err != nil || delivery == nil {
		return s.failCapture(ctx, capture, fmt.Errorf("delivery lookup failed: %w", err))
	}
	if !delivery.IsOpen() {
		// The delivery closed while the capture sat in the queue. Park the
		// capture instead of burning retries on it.
		return s.failCapture(ctx, capture, ErrDeliveryClosed)
	}

	mediaURL, err := s.mediaStore.PresignedGetURL(ctx, capture.MediaKey)
	if err != nil {
		return s.retryOrFail(ctx, capture, fmt.Errorf("failed to presign media: %w", err))
	}

	result, err := s.extract(ctx, delivery, capture, mediaURL)
	if err != nil {
		return s.retryOrFail(ctx, capture, err)
	}

	answers, err := s.answersFromExtraction(ctx, delivery, result)
	if err != nil {
		return s.retryOrFail(ctx, capture, err)
	}

	source := models.SourceAudioSTT
	if capture.MediaKind == models.MediaKindImage {
		source = models.SourcePaperOCR
	}

	rawPayload, _ := json.Marshal(result)
	if _, err := s.responseFlow.SubmitForDelivery(ctx, delivery, answers, source, rawPayload); err != nil {
		if IsResponseAlreadyExists(err) {
			// Another path already answered this delivery; the capture is
			// consumed, just not as the winning response.
			return s.failCapture(ctx, capture, err)
		}
		return s.retryOrFail(ctx, capture, err)
	}

	if err := s.captureRepo.MarkExtracted(ctx, capture.ID); err != nil {
		return fmt.Errorf("failed to mark capture extracted: %w", err)
	}

	return nil
}

// CaptureStatus reports where a capture sits in the pipeline
func (s *CaptureFlowImpl) CaptureStatus(ctx context.Context, req *dto.CaptureStatusRequest) (*dto.CaptureStatusResponse, error) {
	capture, err := s.captureRepo.ByUUID(ctx, req.UUID)
	if err != nil {
		return nil, NewBusinessError("CAPTURE_LOOKUP_FAILED", "Failed to lookup capture", err)
	}
	if capture == nil {
		return nil, NewBusinessError("CAPTURE_NOT_FOUND", "Capture not found", ErrCaptureNotFound)
	}

	resp := &dto.CaptureStatusResponse{
		UUID:       capture.UUID.String(),
		MediaKind:  string(capture.MediaKind),
		State:      string(capture.State),
		RetryCount: capture.RetryCount,
		LastError:  capture.LastError,
		CapturedAt: capture.CapturedAt,
		UpdatedAt:  capture.UpdatedAt,
	}
	if capture.Delivery != nil {
		resp.DeliveryUUID = capture.Delivery.UUID.String()
	}

	return resp, nil
}

// ListFailed pages through captures that exhausted their retries so an
// operator can review them and key the answers in manually
func (s *CaptureFlowImpl) ListFailed(ctx context.Context, req *dto.ListFailedCapturesRequest) (*dto.ListFailedCapturesResponse, error) {
	state := models.CaptureStateFailed
	filter := models.RawCaptureFilter{State: &state}

	total, err := s.captureRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("CAPTURE_LOOKUP_FAILED", "Failed to count failed captures", err)
	}

	captures, err := s.captureRepo.ByFilter(ctx, filter, "updated_at DESC", req.Limit(), req.Offset())
	if err != nil {
		return nil, NewBusinessError("CAPTURE_LOOKUP_FAILED", "Failed to list failed captures", err)
	}

	items := make([]dto.CaptureStatusResponse, 0, len(captures))
	for _, capture := range captures {
		item := dto.CaptureStatusResponse{
			UUID:       capture.UUID.String(),
			MediaKind:  string(capture.MediaKind),
			State:      string(capture.State),
			RetryCount: capture.RetryCount,
			LastError:  capture.LastError,
			CapturedAt: capture.CapturedAt,
			UpdatedAt:  capture.UpdatedAt,
		}
		if capture.Delivery != nil {
			item.DeliveryUUID = capture.Delivery.UUID.String()
		}
		items = append(items, item)
	}

	return &dto.ListFailedCapturesResponse{
		Message:  "Failed captures retrieved successfully",
		Total:    total,
		Captures: items,
	}, nil
}

// ReleaseStalled returns captures stuck in processing longer than the deadline
// to pending. A claim that never finished, usually a worker crash, would
// otherwise orphan the capture in processing forever.
func (s *CaptureFlowImpl) ReleaseStalled(ctx context.Context, deadline time.Duration) (int64, error) {
	return s.captureRepo.ReleaseStale(ctx, utils.UTCNow().Add(-deadline))
}

// PendingCaptureUUIDs lists captures still waiting for extraction, used by
// workers to recover work that never made it onto the queue
func (s *CaptureFlowImpl) PendingCaptureUUIDs(ctx context.Context, limit int) ([]string, error) {
	captures, err := s.captureRepo.ListPending(ctx, limit)
	if err != nil {
		return nil, err
	}
	uuids := make([]string, 0, len(captures))
	for _, c := range captures {
		uuids = append(uuids, c.UUID.String())
	}
	return uuids, nil
}

func (s *CaptureFlowImpl) extract(ctx context.Context, delivery *models.Delivery, capture *models.RawCapture, mediaURL string) (*services.ExtractionResult, error) {
	fieldMap, err := s.fieldMap(ctx, delivery)
	if err != nil {
		return nil, err
	}

	switch capture.MediaKind {
	case models.MediaKindAudio:
		return s.extraction.TranscribeAudio(ctx, mediaURL, fieldMap)
	case models.MediaKindImage:
		return s.extraction.ExtractFromImage(ctx, mediaURL, fieldMap)
	default:
		return nil, ErrMediaKindMismatch
	}
}

func (s *CaptureFlowImpl) fieldMap(ctx context.Context, delivery *models.Delivery) (map[string]string, error) {
	template, err := s.templateForDelivery(ctx, delivery)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(template.Questions))
	for _, q := range template.OrderedQuestions() {
		fields[q.ID.String()] = fmt.Sprintf("q%d_%s", q.Order, q.Type)
	}
	return fields, nil
}

// answersFromExtraction converts the extraction field map (question UUID to
// raw string value) into typed answer inputs guided by the template
func (s *CaptureFlowImpl) answersFromExtraction(ctx context.Context, delivery *models.Delivery, result *services.ExtractionResult) ([]dto.AnswerInput, error) {
	template, err := s.templateForDelivery(ctx, delivery)
	if err != nil {
		return nil, err
	}

	answers := make([]dto.AnswerInput, 0, len(result.Fields))
	for _, q := range template.OrderedQuestions() {
		raw, ok := result.Fields[q.ID.String()]
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}

		in, err := answerFromRawValue(&q, strings.TrimSpace(raw))
		if err != nil {
			if q.IsRequired() {
				return nil, fmt.Errorf("question %s: %w", q.ID, err)
			}
			continue
		}
		answers = append(answers, in)
	}

	return answers, nil
}

// answerFromRawValue coerces one extracted string into a typed answer. Choice
// values match option text or stored value, case-insensitively.
func answerFromRawValue(question *models.Question, raw string) (dto.AnswerInput, error) {
	in := dto.AnswerInput{QuestionID: question.ID.String()}

	switch question.Type {
	case models.QuestionTypeText:
		in.Text = &raw

	case models.QuestionTypeNumber:
		n, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
		if err != nil {
			return in, fmt.Errorf("value %q is not numeric", raw)
		}
		in.Number = &n

	case models.QuestionTypeSingleChoice:
		option := matchOption(question, raw)
		if option == nil {
			return in, fmt.Errorf("value %q matches no option", raw)
		}
		id := option.ID.String()
		in.OptionID = &id

	case models.QuestionTypeMultiChoice:
		for _, part := range strings.Split(raw, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			option := matchOption(question, part)
			if option == nil {
				return in, fmt.Errorf("value %q matches no option", part)
			}
			in.OptionIDs = append(in.OptionIDs, option.ID.String())
		}
		if len(in.OptionIDs) == 0 {
			return in, fmt.Errorf("no options recognized in %q", raw)
		}

	default:
		return in, fmt.Errorf("unsupported question type %s", question.Type)
	}

	return in, nil
}

func matchOption(question *models.Question, value string) *models.QuestionOption {
	for i := range question.Options {
		opt := &question.Options[i]
		if strings.EqualFold(opt.Text, value) || (opt.Value != nil && strings.EqualFold(*opt.Value, value)) {
			return opt
		}
	}
	return nil
}

func (s *CaptureFlowImpl) templateForDelivery(ctx context.Context, delivery *models.Delivery) (*models.SurveyTemplate, error) {
	return loadTemplateForDelivery(ctx, s.campaignRepo, s.templateRepo, delivery)
}

// retryOrFail requeues the capture with backoff until the retry budget runs
// out, then parks it as failed
func (s *CaptureFlowImpl) retryOrFail(ctx context.Context, capture *models.RawCapture, cause error) error {
	if capture.RetryCount+1 >= s.maxRetries {
		return s.failCapture(ctx, capture, cause)
	}

	if err := s.captureRepo.RequeueForRetry(ctx, capture.ID, cause.Error()); err != nil {
		return fmt.Errorf("failed to requeue capture %s: %w", capture.UUID, err)
	}

	if s.redisClient != nil {
		backoff := s.retryBackoff * time.Duration(capture.RetryCount+1)
		retryAt := utils.UTCNow().Add(backoff)
		_ = s.redisClient.ZAdd(ctx, utils.CaptureRetryQueueKey, redis.Z{
			Score:  float64(retryAt.Unix()),
			Member: capture.UUID.String(),
		}).Err()
	}

	return cause
}

// checkMediaKind enforces channel-to-media pairing: audio deliveries take
// recordings, paper deliveries take scanned form images
func checkMediaKind(channel models.DeliveryChannel, kind models.MediaKind) error {
	if !kind.Valid() {
		return NewBusinessError("MEDIA_KIND_INVALID", "Unknown media kind", ErrMediaKindMismatch)
	}
	switch channel {
	case models.ChannelAudio:
		if kind != models.MediaKindAudio {
			return NewBusinessError("MEDIA_KIND_MISMATCH", "Audio deliveries only accept audio captures", ErrMediaKindMismatch)
		}
	case models.ChannelPaper:
		if kind != models.MediaKindImage {
			return NewBusinessError("MEDIA_KIND_MISMATCH", "Paper deliveries only accept scanned images", ErrMediaKindMismatch)
		}
	default:
		return NewBusinessError("CHANNEL_NOT_CAPTURABLE", "This delivery channel does not accept captures", ErrMediaKindMismatch)
	}
	return nil
}

func (s *CaptureFlowImpl) failCapture(ctx context.Context, capture *models.RawCapture, cause error) error {
	if err := s.captureRepo.MarkFailed(ctx, capture.ID, cause.Error()); err != nil {
		return fmt.Errorf("failed to mark capture failed: %w", err)
	}
	return cause
}
