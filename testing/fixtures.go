// Package testing provides test utilities and database setup for testing the delivery engine
package testing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/sondeo-app/sondeo/models"
	"github.com/sondeo-app/sondeo/utils"
	"github.com/google/uuid"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestTemplate creates a survey template exercising all four question types.
// Question order: 1 text (required), 2 number (required), 3 single_choice (required,
// three options), 4 multi_choice (optional, three options).
func (tf *TestFixtures) CreateTestTemplate() (*models.SurveyTemplate, error) {
	template := &models.SurveyTemplate{
		ID:           uuid.New(),
		SubscriberID: 1,
		Name:         fmt.Sprintf("Encuesta de satisfaccion %d", rand.Intn(10000)),
		Active:       utils.ToPtr(true),
	}
	if err := tf.DB.DB.Create(template).Error; err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	questions := []*models.Question{
		{
			TemplateID: template.ID,
			Order:      1,
			Text:       "¿Como describirias tu experiencia?",
			Type:       models.QuestionTypeText,
			Required:   utils.ToPtr(true),
		},
		{
			TemplateID: template.ID,
			Order:      2,
			Text:       "Del 1 al 10, ¿que tan probable es que nos recomiendes?",
			Type:       models.QuestionTypeNumber,
			Required:   utils.ToPtr(true),
		},
		{
			TemplateID: template.ID,
			Order:      3,
			Text:       "¿Con que frecuencia usas el servicio?",
			Type:       models.QuestionTypeSingleChoice,
			Required:   utils.ToPtr(true),
		},
		{
			TemplateID: template.ID,
			Order:      4,
			Text:       "¿Que aspectos valoras mas?",
			Type:       models.QuestionTypeMultiChoice,
			Required:   utils.ToPtr(false),
		},
	}
	for _, q := range questions {
		if err := tf.DB.DB.Create(q).Error; err != nil {
			return nil, fmt.Errorf("failed to create question: %w", err)
		}
	}

	singleOptions := []string{"Diario", "Semanal", "Mensual"}
	for _, text := range singleOptions {
		opt := &models.QuestionOption{QuestionID: questions[2].ID, Text: text}
		if err := tf.DB.DB.Create(opt).Error; err != nil {
			return nil, fmt.Errorf("failed to create option: %w", err)
		}
	}
	multiOptions := []string{"Precio", "Calidad", "Atencion"}
	for _, text := range multiOptions {
		opt := &models.QuestionOption{QuestionID: questions[3].ID, Text: text}
		if err := tf.DB.DB.Create(opt).Error; err != nil {
			return nil, fmt.Errorf("failed to create option: %w", err)
		}
	}

	return tf.LoadTemplate(template.ID)
}

// LoadTemplate reloads a template with its questions and options
func (tf *TestFixtures) LoadTemplate(id uuid.UUID) (*models.SurveyTemplate, error) {
	var template models.SurveyTemplate
	err := tf.DB.DB.
		Preload("Questions.Options").
		Where("id = ?", id).
		First(&template).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", id, err)
	}
	return &template, nil
}

// CreateTestCampaign creates a campaign bound to the given template
func (tf *TestFixtures) CreateTestCampaign(templateID uuid.UUID, channel models.DeliveryChannel) (*models.Campaign, error) {
	campaign := &models.Campaign{
		UUID:         uuid.New(),
		SubscriberID: 1,
		TemplateID:   templateID,
		Name:         fmt.Sprintf("Campaña de prueba %d", rand.Intn(10000)),
		Channel:      channel,
	}
	if err := tf.DB.DB.Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	return campaign, nil
}

// CreateTestRecipient creates a recipient with both email and phone contacts
func (tf *TestFixtures) CreateTestRecipient() (*models.Recipient, error) {
	n := rand.Intn(900000000) + 100000000
	recipient := &models.Recipient{
		UUID:         uuid.New(),
		SubscriberID: 1,
		Name:         utils.ToPtr("Maria Gomez"),
		Email:        utils.ToPtr(fmt.Sprintf("maria.%d@example.com", n)),
		Phone:        utils.ToPtr(fmt.Sprintf("346%09d", n)),
	}
	if err := tf.DB.DB.Create(recipient).Error; err != nil {
		return nil, fmt.Errorf("failed to create recipient: %w", err)
	}
	return recipient, nil
}

// CreateTestDelivery creates a delivery in the given status
func (tf *TestFixtures) CreateTestDelivery(campaign *models.Campaign, recipientID *uint, channel models.DeliveryChannel, status models.DeliveryStatus) (*models.Delivery, error) {
	delivery := &models.Delivery{
		UUID:        uuid.New(),
		CampaignID:  campaign.ID,
		RecipientID: recipientID,
		Channel:     channel,
		Status:      status,
		ExpiresAt:   utils.UTCNowAddPtr(12 * time.Hour),
	}
	if status == models.DeliveryStatusSent {
		delivery.SentAt = utils.UTCNowPtr()
	}
	if err := tf.DB.DB.Create(delivery).Error; err != nil {
		return nil, fmt.Errorf("failed to create delivery: %w", err)
	}
	return delivery, nil
}
