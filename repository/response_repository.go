package repository

import (
	"context"

	"github.com/sondeo-app/sondeo/models"
	"github.com/sondeo-app/sondeo/utils"
	"gorm.io/gorm"
)

// ResponseRepositoryImpl implements the ResponseRepository interface
type ResponseRepositoryImpl struct {
	*BaseRepository[models.Response, models.ResponseFilter]
}

// NewResponseRepository creates a new response repository
func NewResponseRepository(db *gorm.DB) ResponseRepository {
	return &ResponseRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Response, models.ResponseFilter](db),
	}
}

// ByDeliveryID retrieves the response of a delivery, nil when none exists yet
func (r *ResponseRepositoryImpl) ByDeliveryID(ctx context.Context, deliveryID uint) (*models.Response, error) {
	filter := models.ResponseFilter{DeliveryID: &deliveryID}
	responses, err := r.ByFilter(ctx, filter, "", 0, 0)
	if err != nil {
		return nil, err
	}

	if len(responses) == 0 {
		return nil, nil
	}

	return responses[0], nil
}

// ByUUID retrieves a response by UUID
func (r *ResponseRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Response, error) {
	parsedUUID, err := utils.ParseUUID(uuid)
	if err != nil {
		return nil, err
	}

	filter := models.ResponseFilter{UUID: &parsedUUID}
	responses, err := r.ByFilter(ctx, filter, "", 0, 0)
	if err != nil {
		return nil, err
	}

	if len(responses) == 0 {
		return nil, nil
	}

	return responses[0], nil
}

// ByFilter retrieves responses based on filter criteria
func (r *ResponseRepositoryImpl) ByFilter(ctx context.Context, filter models.ResponseFilter, orderBy string, limit, offset int) ([]*models.Response, error) {
	db := r.getDB(ctx)

	var responses []*models.Response
	query := r.applyFilter(db, filter)

	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	query = query.Preload("Answers")

	err := query.Find(&responses).Error
	if err != nil {
		return nil, err
	}

	return responses, nil
}

// Count returns the number of responses matching the filter
func (r *ResponseRepositoryImpl) Count(ctx context.Context, filter models.ResponseFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	var response models.Response
	query := r.applyFilter(db.Model(&response), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any response matching the filter exists
func (r *ResponseRepositoryImpl) Exists(ctx context.Context, filter models.ResponseFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *ResponseRepositoryImpl) applyFilter(db *gorm.DB, filter models.ResponseFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.DeliveryID != nil {
		db = db.Where("delivery_id = ?", *filter.DeliveryID)
	}
	if filter.Source != nil {
		db = db.Where("source = ?", *filter.Source)
	}

	return db
}
