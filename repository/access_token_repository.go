package repository

import (
	"context"

	"github.com/sondeo-app/sondeo/models"
	"github.com/sondeo-app/sondeo/utils"
	"gorm.io/gorm"
)

// AccessTokenRepositoryImpl implements the AccessTokenRepository interface
type AccessTokenRepositoryImpl struct {
	*BaseRepository[models.AccessToken, models.AccessTokenFilter]
}

// NewAccessTokenRepository creates a new access token repository
func NewAccessTokenRepository(db *gorm.DB) AccessTokenRepository {
	return &AccessTokenRepositoryImpl{
		BaseRepository: NewBaseRepository[models.AccessToken, models.AccessTokenFilter](db),
	}
}

// ByToken retrieves an access token record by its signed token string
func (r *AccessTokenRepositoryImpl) ByToken(ctx context.Context, token string) (*models.AccessToken, error) {
	filter := models.AccessTokenFilter{Token: &token}
	tokens, err := r.ByFilter(ctx, filter, "", 0, 0)
	if err != nil {
		return nil, err
	}

	if len(tokens) == 0 {
		return nil, nil
	}

	return tokens[0], nil
}

// ByDeliveryID retrieves the access token bound to a delivery
func (r *AccessTokenRepositoryImpl) ByDeliveryID(ctx context.Context, deliveryID uint) (*models.AccessToken, error) {
	filter := models.AccessTokenFilter{DeliveryID: &deliveryID}
	tokens, err := r.ByFilter(ctx, filter, "", 0, 0)
	if err != nil {
		return nil, err
	}

	if len(tokens) == 0 {
		return nil, nil
	}

	return tokens[0], nil
}

// RevokeByDeliveryID marks the delivery's token revoked, if one exists
func (r *AccessTokenRepositoryImpl) RevokeByDeliveryID(ctx context.Context, deliveryID uint) error {
	db := r.getDB(ctx)
	return db.Model(&models.AccessToken{}).
		Where("delivery_id = ? AND revoked_at IS NULL", deliveryID).
		Update("revoked_at", utils.UTCNow()).Error
}

// ByFilter retrieves access tokens based on filter criteria
func (r *AccessTokenRepositoryImpl) ByFilter(ctx context.Context, filter models.AccessTokenFilter, orderBy string, limit, offset int) ([]*models.AccessToken, error) {
	db := r.getDB(ctx)

	var tokens []*models.AccessToken
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

	err := query.Find(&tokens).Error
	if err != nil {
		return nil, err
	}

	return tokens, nil
}

// Count returns the number of access tokens matching the filter
func (r *AccessTokenRepositoryImpl) Count(ctx context.Context, filter models.AccessTokenFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	var token models.AccessToken
	query := r.applyFilter(db.Model(&token), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any access token matching the filter exists
func (r *AccessTokenRepositoryImpl) Exists(ctx context.Context, filter models.AccessTokenFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *AccessTokenRepositoryImpl) applyFilter(db *gorm.DB, filter models.AccessTokenFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.Token != nil {
		db = db.Where("token = ?", *filter.Token)
	}
	if filter.DeliveryID != nil {
		db = db.Where("delivery_id = ?", *filter.DeliveryID)
	}

	return db
}
