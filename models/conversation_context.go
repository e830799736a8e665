package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sondeo-app/sondeo/utils"
	"gorm.io/gorm"
)

// ConversationStage is where a messaging conversation currently stands
type ConversationStage string

const (
	StageAwaitingConfirmation ConversationStage = "awaiting_confirmation"
	StageInProgress           ConversationStage = "in_progress"
)

// Valid checks if the stage is valid
func (s ConversationStage) Valid() bool {
	return s == StageAwaitingConfirmation || s == StageInProgress
}

// Scan implements the sql.Scanner interface for ConversationStage
func (s *ConversationStage) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = ConversationStage(v)
	case []byte:
		*s = ConversationStage(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ConversationStage", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for ConversationStage
func (s ConversationStage) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ConversationStage: %s", s)
	}
	return string(s), nil
}

// PendingAnswer is one answer fragment accumulated during a conversational
// run, keyed by the question it answered. The fragment set is submitted as a
// whole once the last question is answered.
type PendingAnswer struct {
	QuestionID string   `json:"question_id"`
	Text       *string  `json:"text,omitempty"`
	Number     *float64 `json:"number,omitempty"`
	OptionID   *string  `json:"option_id,omitempty"`
	OptionIDs  []string `json:"option_ids,omitempty"`
}

// PendingAnswers is the JSONB-stored accumulation of answer fragments
type PendingAnswers []PendingAnswer

// Value implements the driver.Valuer interface for PendingAnswers
func (p PendingAnswers) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements the sql.Scanner interface for PendingAnswers
func (p *PendingAnswers) Scan(value any) error {
	if value == nil {
		*p = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into PendingAnswers", value)
	}
	return json.Unmarshal(bytes, p)
}

// ConversationContext tracks, per external messaging identity (a phone
// number), which delivery is currently being answered and how far along the
// one-question-at-a-time exchange is. It is advisory routing state: the
// Delivery and Response rows remain the source of truth, and a lost context
// only costs the recipient a restart of the conversation.
type ConversationContext struct {
	ID                  uint              `gorm:"primaryKey" json:"id"`
	Identity            string            `gorm:"type:text;not null;uniqueIndex:uk_conversation_contexts_identity" json:"identity"`
	ActiveDeliveryID    *uint             `gorm:"index:idx_conversation_contexts_delivery_id" json:"active_delivery_id,omitempty"`
	Stage               ConversationStage `gorm:"type:conversation_stage;not null;default:'awaiting_confirmation'" json:"stage"`
	Cursor              int               `gorm:"not null;default:0" json:"cursor"`
	AnsweredQuestionIDs pq.StringArray    `gorm:"type:text[]" json:"answered_question_ids,omitempty"`
	PendingAnswers      PendingAnswers    `gorm:"type:jsonb" json:"pending_answers,omitempty"`
	LastInteractionAt   time.Time         `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"last_interaction_at"`
	CreatedAt           time.Time         `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`

	// Relations
	ActiveDelivery *Delivery `gorm:"foreignKey:ActiveDeliveryID;references:ID" json:"active_delivery,omitempty"`
}

// TableName returns the table name for the model
func (ConversationContext) TableName() string {
	return "conversation_contexts"
}

// BeforeCreate is called before creating a new record
func (c *ConversationContext) BeforeCreate(tx *gorm.DB) error {
	if c.Stage == "" {
		c.Stage = StageAwaitingConfirmation
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	if c.LastInteractionAt.IsZero() {
		c.LastInteractionAt = c.CreatedAt
	}
	return nil
}

// Clear resets the context to its initial, unbound state
func (c *ConversationContext) Clear() {
	c.ActiveDeliveryID = nil
	c.Stage = StageAwaitingConfirmation
	c.Cursor = 0
	c.AnsweredQuestionIDs = nil
	c.PendingAnswers = nil
}

// ConversationContextFilter represents filter criteria for contexts
type ConversationContextFilter struct {
	ID               *uint              `json:"id,omitempty"`
	Identity         *string            `json:"identity,omitempty"`
	ActiveDeliveryID *uint              `json:"active_delivery_id,omitempty"`
	Stage            *ConversationStage `json:"stage,omitempty"`
}
