package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sondeo-app/sondeo/utils"
	"gorm.io/gorm"
)

// ResponseSource identifies the channel path a response arrived through
type ResponseSource string

const (
	SourcePublicToken ResponseSource = "public_token"
	SourceWhatsApp    ResponseSource = "whatsapp"
	SourcePaperOCR    ResponseSource = "paper_ocr"
	SourceAudioSTT    ResponseSource = "audio_stt"
	SourceAdmin       ResponseSource = "admin"
)

// Valid checks if the source is valid
func (s ResponseSource) Valid() bool {
	switch s {
	case SourcePublicToken, SourceWhatsApp, SourcePaperOCR, SourceAudioSTT, SourceAdmin:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ResponseSource
func (s *ResponseSource) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = ResponseSource(v)
	case []byte:
		*s = ResponseSource(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ResponseSource", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for ResponseSource
func (s ResponseSource) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ResponseSource: %s", s)
	}
	return string(s), nil
}

// Response is the accepted answer set for a delivery. A delivery has at most
// one response; the unique index enforces the 1:1 at the storage layer.
type Response struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UUID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uk_responses_uuid" json:"uuid"`
	DeliveryID  uint            `gorm:"not null;uniqueIndex:uk_responses_delivery_id" json:"delivery_id"`
	Source      ResponseSource  `gorm:"type:response_source;not null" json:"source"`
	RawPayload  json.RawMessage `gorm:"type:jsonb" json:"raw_payload,omitempty"`
	SubmittedAt time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"submitted_at"`

	// Relations
	Delivery *Delivery        `gorm:"foreignKey:DeliveryID;references:ID" json:"delivery,omitempty"`
	Answers  []ResponseAnswer `gorm:"foreignKey:ResponseID" json:"answers,omitempty"`
}

// TableName returns the table name for the model
func (Response) TableName() string {
	return "responses"
}

// BeforeCreate is called before creating a new record
func (r *Response) BeforeCreate(tx *gorm.DB) error {
	if r.UUID == uuid.Nil {
		r.UUID = uuid.New()
	}
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = utils.UTCNow()
	}
	return nil
}

// ResponseAnswer is one answered question within a response. Exactly one of
// Text, Number or OptionID is set for single-valued question types;
// multi-choice selections land in Metadata as a list of option ids.
type ResponseAnswer struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	ResponseID uint            `gorm:"not null;index:idx_response_answers_response_id" json:"response_id"`
	QuestionID uuid.UUID       `gorm:"type:uuid;not null" json:"question_id"`
	Position   int             `gorm:"not null" json:"position"`
	Text       *string         `gorm:"type:text" json:"text,omitempty"`
	Number     *float64        `json:"number,omitempty"`
	OptionID   *uuid.UUID      `gorm:"type:uuid" json:"option_id,omitempty"`
	Metadata   json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`
}

// TableName returns the table name for the model
func (ResponseAnswer) TableName() string {
	return "response_answers"
}

// ResponseFilter represents filter criteria for responses
type ResponseFilter struct {
	ID         *uint           `json:"id,omitempty"`
	UUID       *uuid.UUID      `json:"uuid,omitempty"`
	DeliveryID *uint           `json:"delivery_id,omitempty"`
	Source     *ResponseSource `json:"source,omitempty"`
}
