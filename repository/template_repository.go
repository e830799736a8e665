package repository

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/sondeo-app/sondeo/models"
	"gorm.io/gorm"
)

// TemplateRepositoryImpl implements the TemplateRepository interface
type TemplateRepositoryImpl struct {
	*BaseRepository[models.SurveyTemplate, models.SurveyTemplateFilter]
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &TemplateRepositoryImpl{
		BaseRepository: NewBaseRepository[models.SurveyTemplate, models.SurveyTemplateFilter](db),
	}
}

// ByTemplateID retrieves a template with its questions and options, questions
// ordered by their position in the survey
func (r *TemplateRepositoryImpl) ByTemplateID(ctx context.Context, id uuid.UUID) (*models.SurveyTemplate, error) {
	filter := models.SurveyTemplateFilter{ID: &id}
	templates, err := r.ByFilter(ctx, filter, "", 1, 0)
	if err != nil {
		return nil, err
	}

	if len(templates) == 0 {
		return nil, nil
	}

	return templates[0], nil
}

// ByFilter retrieves templates based on filter criteria
func (r *TemplateRepositoryImpl) ByFilter(ctx context.Context, filter models.SurveyTemplateFilter, orderBy string, limit, offset int) ([]*models.SurveyTemplate, error) {
	db := r.getDB(ctx)

	var templates []*models.SurveyTemplate
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

	query = query.Preload("Questions").
		Preload("Questions.Options")

	err := query.Find(&templates).Error
	if err != nil {
		return nil, err
	}

	for _, t := range templates {
		sort.Slice(t.Questions, func(i, j int) bool {
			return t.Questions[i].Order < t.Questions[j].Order
		})
	}

	return templates, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *TemplateRepositoryImpl) applyFilter(db *gorm.DB, filter models.SurveyTemplateFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.SubscriberID != nil {
		db = db.Where("subscriber_id = ?", *filter.SubscriberID)
	}
	if filter.Active != nil {
		db = db.Where("active = ?", *filter.Active)
	}

	return db
}
