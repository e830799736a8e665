package repository

import (
	"context"
	"time"

	"github.com/sondeo-app/sondeo/models"
	"github.com/sondeo-app/sondeo/utils"
	"gorm.io/gorm"
)

// RawCaptureRepositoryImpl implements the RawCaptureRepository interface
type RawCaptureRepositoryImpl struct {
	*BaseRepository[models.RawCapture, models.RawCaptureFilter]
}

// NewRawCaptureRepository creates a new raw capture repository
func NewRawCaptureRepository(db *gorm.DB) RawCaptureRepository {
	return &RawCaptureRepositoryImpl{
		BaseRepository: NewBaseRepository[models.RawCapture, models.RawCaptureFilter](db),
	}
}

// ByUUID retrieves a raw capture by UUID
func (r *RawCaptureRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.RawCapture, error) {
	parsedUUID, err := utils.ParseUUID(uuid)
	if err != nil {
		return nil, err
	}

	filter := models.RawCaptureFilter{UUID: &parsedUUID}
	captures, err := r.ByFilter(ctx, filter, "", 0, 0)
	if err != nil {
		return nil, err
	}

	if len(captures) == 0 {
		return nil, nil
	}

	return captures[0], nil
}

// ClaimPending atomically moves a capture from pending to processing. Only one
// worker wins the claim; everyone else sees false and moves on.
func (r *RawCaptureRepositoryImpl) ClaimPending(ctx context.Context, id uint) (bool, error) {
	db := r.getDB(ctx)

	result := db.Model(&models.RawCapture{}).
		Where("id = ? AND state = ?", id, models.CaptureStatePending).
		Updates(map[string]any{
			"state":      models.CaptureStateProcessing,
			"updated_at": utils.UTCNow(),
		})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// MarkExtracted finishes a capture successfully
func (r *RawCaptureRepositoryImpl) MarkExtracted(ctx context.Context, id uint) error {
	db := r.getDB(ctx)
	return db.Model(&models.RawCapture{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":      models.CaptureStateExtracted,
			"last_error": nil,
			"updated_at": utils.UTCNow(),
		}).Error
}

// MarkFailed moves a capture to the failed state after its retry budget ran out
func (r *RawCaptureRepositoryImpl) MarkFailed(ctx context.Context, id uint, lastError string) error {
	db := r.getDB(ctx)
	return db.Model(&models.RawCapture{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":      models.CaptureStateFailed,
			"last_error": lastError,
			"updated_at": utils.UTCNow(),
		}).Error
}

// RequeueForRetry returns a processing capture to pending and bumps its retry count
func (r *RawCaptureRepositoryImpl) RequeueForRetry(ctx context.Context, id uint, lastError string) error {
	db := r.getDB(ctx)
	return db.Model(&models.RawCapture{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":       models.CaptureStatePending,
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  lastError,
			"updated_at":  utils.UTCNow(),
		}).Error
}

// ReleaseStale returns processing captures untouched since the deadline to
// pending. A worker that dies between claiming and finishing leaves its row
// in processing with nobody coming back for it.
func (r *RawCaptureRepositoryImpl) ReleaseStale(ctx context.Context, before time.Time) (int64, error) {
	db := r.getDB(ctx)

	result := db.Model(&models.RawCapture{}).
		Where("state = ? AND updated_at < ?", models.CaptureStateProcessing, before).
		Updates(map[string]any{
			"state":      models.CaptureStatePending,
			"updated_at": utils.UTCNow(),
		})

	return result.RowsAffected, result.Error
}

// ListPending retrieves pending captures oldest first, for startup recovery
func (r *RawCaptureRepositoryImpl) ListPending(ctx context.Context, limit int) ([]*models.RawCapture, error) {
	state := models.CaptureStatePending
	filter := models.RawCaptureFilter{State: &state}
	return r.ByFilter(ctx, filter, "captured_at ASC", limit, 0)
}

// ByFilter retrieves raw captures based on filter criteria
func (r *RawCaptureRepositoryImpl) ByFilter(ctx context.Context, filter models.RawCaptureFilter, orderBy string, limit, offset int) ([]*models.RawCapture, error) {
	db := r.getDB(ctx)

	var captures []*models.RawCapture
	query := r.applyFilter(db.Preload("Delivery"), filter)

	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&captures).Error
	if err != nil {
		return nil, err
	}

	return captures, nil
}

// Count returns the number of raw captures matching the filter
func (r *RawCaptureRepositoryImpl) Count(ctx context.Context, filter models.RawCaptureFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	var capture models.RawCapture
	query := r.applyFilter(db.Model(&capture), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any raw capture matching the filter exists
func (r *RawCaptureRepositoryImpl) Exists(ctx context.Context, filter models.RawCaptureFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *RawCaptureRepositoryImpl) applyFilter(db *gorm.DB, filter models.RawCaptureFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.DeliveryID != nil {
		db = db.Where("delivery_id = ?", *filter.DeliveryID)
	}
	if filter.State != nil {
		db = db.Where("state = ?", *filter.State)
	}
	if filter.MediaKind != nil {
		db = db.Where("media_kind = ?", *filter.MediaKind)
	}

	return db
}
