package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/sondeo-app/sondeo/models"
	"github.com/sondeo-app/sondeo/utils"
	"gorm.io/gorm"
)

// DeliveryRepositoryImpl implements the DeliveryRepository interface
type DeliveryRepositoryImpl struct {
	*BaseRepository[models.Delivery, models.DeliveryFilter]
}

// NewDeliveryRepository creates a new delivery repository
func NewDeliveryRepository(db *gorm.DB) DeliveryRepository {
	return &DeliveryRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Delivery, models.DeliveryFilter](db),
	}
}

// ByUUID retrieves a delivery by UUID
func (r *DeliveryRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Delivery, error) {
	parsedUUID, err := utils.ParseUUID(uuid)
	if err != nil {
		return nil, err
	}

	filter := models.DeliveryFilter{UUID: &parsedUUID}
	deliveries, err := r.ByFilter(ctx, filter, "", 0, 0)
	if err != nil {
		return nil, err
	}

	if len(deliveries) == 0 {
		return nil, nil
	}

	return deliveries[0], nil
}

// ByCampaignID retrieves deliveries of a campaign with pagination
func (r *DeliveryRepositoryImpl) ByCampaignID(ctx context.Context, campaignID uint, limit, offset int) ([]*models.Delivery, error) {
	filter := models.DeliveryFilter{CampaignID: &campaignID}
	return r.ByFilter(ctx, filter, "created_at DESC", limit, offset)
}

// OpenByRecipientContact retrieves open deliveries whose recipient matches the
// given email or phone, most recently created first. Terminal deliveries and
// deliveries past their deadline never match.
func (r *DeliveryRepositoryImpl) OpenByRecipientContact(ctx context.Context, email, phone *string) ([]*models.Delivery, error) {
	if email == nil && phone == nil {
		return nil, fmt.Errorf("at least one of email or phone is required")
	}

	db := r.getDB(ctx)

	query := db.Joins("JOIN recipients ON deliveries.recipient_id = recipients.id").
		Where("deliveries.status IN ?", []models.DeliveryStatus{models.DeliveryStatusCreated, models.DeliveryStatusSent}).
		Where("deliveries.expires_at IS NULL OR deliveries.expires_at > ?", utils.UTCNow())

	if email != nil && phone != nil {
		query = query.Where("recipients.email = ? OR recipients.phone = ?", *email, *phone)
	} else if email != nil {
		query = query.Where("recipients.email = ?", *email)
	} else {
		query = query.Where("recipients.phone = ?", *phone)
	}

	var deliveries []*models.Delivery
	err := query.Order("deliveries.created_at DESC").
		Preload("Recipient").
		Preload("Campaign").
		Find(&deliveries).Error
	if err != nil {
		return nil, err
	}

	return deliveries, nil
}

// UpdateStatusIf moves the delivery to the given status only when its current
// status is one of the listed source states. It returns false when the guard
// did not match, which is how callers detect lost races without a lock on the
// row.
func (r *DeliveryRepositoryImpl) UpdateStatusIf(ctx context.Context, id uint, from []models.DeliveryStatus, to models.DeliveryStatus) (bool, error) {
	db := r.getDB(ctx)

	updates := map[string]any{"status": to}
	now := utils.UTCNow()
	switch to {
	case models.DeliveryStatusSent:
		updates["sent_at"] = now
		updates["dispatch_error"] = nil
	case models.DeliveryStatusResponded:
		updates["responded_at"] = now
	}

	result := db.Model(&models.Delivery{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// SetDispatchError records the last channel send failure on the delivery
func (r *DeliveryRepositoryImpl) SetDispatchError(ctx context.Context, id uint, message string) error {
	db := r.getDB(ctx)
	return db.Model(&models.Delivery{}).
		Where("id = ?", id).
		Update("dispatch_error", message).Error
}

// ListOverdue retrieves open deliveries whose deadline passed before the given time
func (r *DeliveryRepositoryImpl) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*models.Delivery, error) {
	db := r.getDB(ctx)

	var deliveries []*models.Delivery
	query := db.Where("status IN ?", []models.DeliveryStatus{models.DeliveryStatusCreated, models.DeliveryStatusSent}).
		Where("expires_at IS NOT NULL AND expires_at <= ?", before).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&deliveries).Error
	if err != nil {
		return nil, err
	}

	return deliveries, nil
}

// ByFilter retrieves deliveries based on filter criteria
func (r *DeliveryRepositoryImpl) ByFilter(ctx context.Context, filter models.DeliveryFilter, orderBy string, limit, offset int) ([]*models.Delivery, error) {
	db := r.getDB(ctx)

	var deliveries []*models.Delivery
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

	query = query.Preload("Recipient").
		Preload("AccessToken")

	err := query.Find(&deliveries).Error
	if err != nil {
		return nil, err
	}

	return deliveries, nil
}

// Count returns the number of deliveries matching the filter
func (r *DeliveryRepositoryImpl) Count(ctx context.Context, filter models.DeliveryFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	var delivery models.Delivery
	query := r.applyFilter(db.Model(&delivery), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any delivery matching the filter exists
func (r *DeliveryRepositoryImpl) Exists(ctx context.Context, filter models.DeliveryFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *DeliveryRepositoryImpl) applyFilter(db *gorm.DB, filter models.DeliveryFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.CampaignID != nil {
		db = db.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.RecipientID != nil {
		db = db.Where("recipient_id = ?", *filter.RecipientID)
	}
	if filter.Channel != nil {
		db = db.Where("channel = ?", *filter.Channel)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.OpenOnly {
		db = db.Where("status IN ?", []models.DeliveryStatus{models.DeliveryStatusCreated, models.DeliveryStatusSent}).
			Where("expires_at IS NULL OR expires_at > ?", utils.UTCNow())
	}
	if filter.ExpiresBefore != nil {
		db = db.Where("expires_at IS NOT NULL AND expires_at <= ?", *filter.ExpiresBefore)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}

	return db
}
