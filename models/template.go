package models

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sondeo-app/sondeo/utils"
	"gorm.io/gorm"
)

// QuestionType declares how a question's answer is validated
type QuestionType string

const (
	QuestionTypeText         QuestionType = "text"
	QuestionTypeNumber       QuestionType = "number"
	QuestionTypeSingleChoice QuestionType = "single_choice"
	QuestionTypeMultiChoice  QuestionType = "multi_choice"
)

// String returns the string representation of the question type
func (t QuestionType) String() string {
	return string(t)
}

// Valid checks if the question type is valid
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeText, QuestionTypeNumber, QuestionTypeSingleChoice, QuestionTypeMultiChoice:
		return true
	default:
		return false
	}
}

// HasOptions reports whether answers must reference declared options
func (t QuestionType) HasOptions() bool {
	return t == QuestionTypeSingleChoice || t == QuestionTypeMultiChoice
}

// Scan implements the sql.Scanner interface for QuestionType
func (t *QuestionType) Scan(value any) error {
	if value == nil {
		*t = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*t = QuestionType(v)
	case []byte:
		*t = QuestionType(string(v))
	default:
		return fmt.Errorf("cannot scan %T into QuestionType", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for QuestionType
func (t QuestionType) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid QuestionType: %s", t)
	}
	return string(t), nil
}

// SurveyTemplate is the question set a campaign's deliveries render. Template
// CRUD is external; the engine reads templates for rendering and answer
// validation only.
type SurveyTemplate struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SubscriberID uint      `gorm:"not null" json:"subscriber_id"`
	Name         string    `gorm:"type:text;not null" json:"name"`
	Description  *string   `gorm:"type:text" json:"description,omitempty"`
	Active       *bool     `gorm:"default:true" json:"active,omitempty"`
	CreatedAt    time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`

	// Relations
	Questions []Question `gorm:"foreignKey:TemplateID" json:"questions,omitempty"`
}

// TableName returns the table name for the model
func (SurveyTemplate) TableName() string {
	return "survey_templates"
}

// BeforeCreate is called before creating a new record
func (t *SurveyTemplate) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = utils.UTCNow()
	}
	return nil
}

// OrderedQuestions returns the template questions sorted by their order field
func (t *SurveyTemplate) OrderedQuestions() []Question {
	qs := make([]Question, len(t.Questions))
	copy(qs, t.Questions)
	sort.Slice(qs, func(i, j int) bool { return qs[i].Order < qs[j].Order })
	return qs
}

// QuestionByID returns the question with the given id, or nil
func (t *SurveyTemplate) QuestionByID(id uuid.UUID) *Question {
	for i := range t.Questions {
		if t.Questions[i].ID == id {
			return &t.Questions[i]
		}
	}
	return nil
}

// Question is one item of a survey template
type Question struct {
	ID         uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	TemplateID uuid.UUID    `gorm:"type:uuid;not null;index:idx_questions_template_id;uniqueIndex:uk_questions_template_order,priority:1" json:"template_id"`
	Order      int          `gorm:"not null;uniqueIndex:uk_questions_template_order,priority:2" json:"order"`
	Text       string       `gorm:"type:text;not null" json:"text"`
	Type       QuestionType `gorm:"type:question_type;not null" json:"type"`
	Required   *bool        `gorm:"default:true" json:"required,omitempty"`

	// Relations
	Options []QuestionOption `gorm:"foreignKey:QuestionID" json:"options,omitempty"`
}

// TableName returns the table name for the model
func (Question) TableName() string {
	return "questions"
}

// BeforeCreate is called before creating a new record
func (q *Question) BeforeCreate(tx *gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return nil
}

// IsRequired reports whether the question must be answered; unset defaults to true
func (q *Question) IsRequired() bool {
	return q.Required == nil || *q.Required
}

// OptionByID returns the option with the given id, or nil
func (q *Question) OptionByID(id uuid.UUID) *QuestionOption {
	for i := range q.Options {
		if q.Options[i].ID == id {
			return &q.Options[i]
		}
	}
	return nil
}

// QuestionOption is one declared choice of a single/multi-choice question
type QuestionOption struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	QuestionID uuid.UUID `gorm:"type:uuid;not null;index:idx_question_options_question_id" json:"question_id"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	Value      *string   `gorm:"type:text" json:"value,omitempty"`
}

// TableName returns the table name for the model
func (QuestionOption) TableName() string {
	return "question_options"
}

// BeforeCreate is called before creating a new record
func (o *QuestionOption) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// SurveyTemplateFilter represents filter criteria for templates
type SurveyTemplateFilter struct {
	ID           *uuid.UUID `json:"id,omitempty"`
	SubscriberID *uint      `json:"subscriber_id,omitempty"`
	Active       *bool      `json:"active,omitempty"`
}
