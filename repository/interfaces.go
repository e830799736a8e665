// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sondeo-app/sondeo/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// DeliveryRepository defines operations for deliveries
type DeliveryRepository interface {
	Repository[models.Delivery, models.DeliveryFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Delivery, error)
	ByCampaignID(ctx context.Context, campaignID uint, limit, offset int) ([]*models.Delivery, error)
	OpenByRecipientContact(ctx context.Context, email, phone *string) ([]*models.Delivery, error)
	UpdateStatusIf(ctx context.Context, id uint, from []models.DeliveryStatus, to models.DeliveryStatus) (bool, error)
	SetDispatchError(ctx context.Context, id uint, message string) error
	ListOverdue(ctx context.Context, before time.Time, limit int) ([]*models.Delivery, error)
}

// ResponseRepository defines operations for structured responses
type ResponseRepository interface {
	Repository[models.Response, models.ResponseFilter]
	ByDeliveryID(ctx context.Context, deliveryID uint) (*models.Response, error)
	ByUUID(ctx context.Context, uuid string) (*models.Response, error)
}

// RawCaptureRepository defines operations for raw media captures
type RawCaptureRepository interface {
	Repository[models.RawCapture, models.RawCaptureFilter]
	ByUUID(ctx context.Context, uuid string) (*models.RawCapture, error)
	ClaimPending(ctx context.Context, id uint) (bool, error)
	MarkExtracted(ctx context.Context, id uint) error
	MarkFailed(ctx context.Context, id uint, lastError string) error
	RequeueForRetry(ctx context.Context, id uint, lastError string) error
	ReleaseStale(ctx context.Context, before time.Time) (int64, error)
	ListPending(ctx context.Context, limit int) ([]*models.RawCapture, error)
}

// AccessTokenRepository defines operations for delivery access tokens
type AccessTokenRepository interface {
	Repository[models.AccessToken, models.AccessTokenFilter]
	ByToken(ctx context.Context, token string) (*models.AccessToken, error)
	ByDeliveryID(ctx context.Context, deliveryID uint) (*models.AccessToken, error)
	RevokeByDeliveryID(ctx context.Context, deliveryID uint) error
}

// ConversationContextRepository defines operations for conversational session state
type ConversationContextRepository interface {
	Repository[models.ConversationContext, models.ConversationContextFilter]
	ByIdentity(ctx context.Context, identity string) (*models.ConversationContext, error)
	Update(ctx context.Context, cc *models.ConversationContext) error
	DeleteByIdentity(ctx context.Context, identity string) error
	DeleteStale(ctx context.Context, lastInteractionBefore time.Time) (int64, error)
}

// RecipientRepository defines operations for recipients
type RecipientRepository interface {
	Repository[models.Recipient, models.RecipientFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Recipient, error)
	ByPhone(ctx context.Context, phone string) (*models.Recipient, error)
}

// CampaignRepository defines operations for campaigns
type CampaignRepository interface {
	Repository[models.Campaign, models.CampaignFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Campaign, error)
}

// TemplateRepository defines read operations for survey templates. Template
// authoring lives elsewhere; the engine loads templates with their questions
// and options for rendering and answer validation.
type TemplateRepository interface {
	ByTemplateID(ctx context.Context, id uuid.UUID) (*models.SurveyTemplate, error)
	ByFilter(ctx context.Context, filter models.SurveyTemplateFilter, orderBy string, limit, offset int) ([]*models.SurveyTemplate, error)
	Save(ctx context.Context, template *models.SurveyTemplate) error
}
