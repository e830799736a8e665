package repository

import (
	"context"
	"time"

	"github.com/sondeo-app/sondeo/models"
	"github.com/sondeo-app/sondeo/utils"
	"gorm.io/gorm"
)

// ConversationContextRepositoryImpl implements the ConversationContextRepository interface
type ConversationContextRepositoryImpl struct {
	*BaseRepository[models.ConversationContext, models.ConversationContextFilter]
}

// NewConversationContextRepository creates a new conversation context repository
func NewConversationContextRepository(db *gorm.DB) ConversationContextRepository {
	return &ConversationContextRepositoryImpl{
		BaseRepository: NewBaseRepository[models.ConversationContext, models.ConversationContextFilter](db),
	}
}

// ByIdentity retrieves the conversation context of a messaging identity
func (r *ConversationContextRepositoryImpl) ByIdentity(ctx context.Context, identity string) (*models.ConversationContext, error) {
	filter := models.ConversationContextFilter{Identity: &identity}
	contexts, err := r.ByFilter(ctx, filter, "", 0, 0)
	if err != nil {
		return nil, err
	}

	if len(contexts) == 0 {
		return nil, nil
	}

	return contexts[0], nil
}

// Update persists the full context row, refreshing the interaction timestamp
func (r *ConversationContextRepositoryImpl) Update(ctx context.Context, cc *models.ConversationContext) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	cc.LastInteractionAt = utils.UTCNow()

	err = db.Save(cc).Error
	if err != nil {
		return err
	}

	return nil
}

// DeleteByIdentity removes the context of a messaging identity
func (r *ConversationContextRepositoryImpl) DeleteByIdentity(ctx context.Context, identity string) error {
	db := r.getDB(ctx)
	return db.Where("identity = ?", identity).
		Delete(&models.ConversationContext{}).Error
}

// DeleteStale removes contexts idle since before the given time
func (r *ConversationContextRepositoryImpl) DeleteStale(ctx context.Context, lastInteractionBefore time.Time) (int64, error) {
	db := r.getDB(ctx)

	result := db.Where("last_interaction_at < ?", lastInteractionBefore).
		Delete(&models.ConversationContext{})
	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}

// ByFilter retrieves conversation contexts based on filter criteria
func (r *ConversationContextRepositoryImpl) ByFilter(ctx context.Context, filter models.ConversationContextFilter, orderBy string, limit, offset int) ([]*models.ConversationContext, error) {
	db := r.getDB(ctx)

	var contexts []*models.ConversationContext
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

	err := query.Find(&contexts).Error
	if err != nil {
		return nil, err
	}

	return contexts, nil
}

// Count returns the number of conversation contexts matching the filter
func (r *ConversationContextRepositoryImpl) Count(ctx context.Context, filter models.ConversationContextFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	var cc models.ConversationContext
	query := r.applyFilter(db.Model(&cc), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any conversation context matching the filter exists
func (r *ConversationContextRepositoryImpl) Exists(ctx context.Context, filter models.ConversationContextFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *ConversationContextRepositoryImpl) applyFilter(db *gorm.DB, filter models.ConversationContextFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.Identity != nil {
		db = db.Where("identity = ?", *filter.Identity)
	}
	if filter.ActiveDeliveryID != nil {
		db = db.Where("active_delivery_id = ?", *filter.ActiveDeliveryID)
	}
	if filter.Stage != nil {
		db = db.Where("stage = ?", *filter.Stage)
	}

	return db
}
