package dto

import (
	"encoding/json"
	"time"
)

// AnswerInput represents one submitted answer. Exactly one of Text, Number,
// OptionID or OptionIDs must be set according to the question type.
type AnswerInput struct {
	QuestionID string   `json:"question_id" validate:"required,uuid"`
	Text       *string  `json:"text,omitempty"`
	Number     *float64 `json:"number,omitempty"`
	OptionID   *string  `json:"option_id,omitempty" validate:"omitempty,uuid"`
	OptionIDs  []string `json:"option_ids,omitempty" validate:"omitempty,dive,uuid"`
}

// SubmitResponseRequest represents a public response submission by token
type SubmitResponseRequest struct {
	Token   string        `json:"-"`
	Answers []AnswerInput `json:"answers" validate:"required,min=1"`
}

// SubmitResponseResponse represents the outcome of a submission
type SubmitResponseResponse struct {
	Message      string `json:"message"`
	ResponseUUID string `json:"response_uuid"`
	DeliveryUUID string `json:"delivery_uuid"`
	SubmittedAt  string `json:"submitted_at"`
}

// AdminSubmitRequest represents an administrative submission recorded on
// behalf of a delivery, bypassing its public token
type AdminSubmitRequest struct {
	DeliveryUUID string        `json:"-"`
	Answers      []AnswerInput `json:"answers" validate:"required,min=1"`
}

// PublicQuestionOption represents one option of a rendered question
type PublicQuestionOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PublicQuestion represents one question of the rendered survey
type PublicQuestion struct {
	ID       string                 `json:"id"`
	Order    int                    `json:"order"`
	Text     string                 `json:"text"`
	Type     string                 `json:"type"`
	Required bool                   `json:"required"`
	Options  []PublicQuestionOption `json:"options,omitempty"`
}

// PublicDeliveryResponse represents what a survey taker sees behind a token
type PublicDeliveryResponse struct {
	DeliveryUUID  string           `json:"delivery_uuid"`
	Status        string           `json:"status"`
	TemplateName  string           `json:"template_name"`
	RecipientName *string          `json:"recipient_name,omitempty"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
	Questions     []PublicQuestion `json:"questions"`
}

// TemplateMapResponse represents the machine-readable field map of a template,
// used to key OCR extraction of printed forms
type TemplateMapResponse struct {
	TemplateID string            `json:"template_id"`
	Fields     map[string]string `json:"fields"` // question UUID -> form field label
}

// FindPendingRequest represents the public lookup of open deliveries by contact
type FindPendingRequest struct {
	Email *string `json:"-" validate:"omitempty,email"`
	Phone *string `json:"-"`
}

// PendingDelivery represents one open delivery in lookup results
type PendingDelivery struct {
	DeliveryUUID string     `json:"delivery_uuid"`
	CampaignName string     `json:"campaign_name"`
	Channel      string     `json:"channel"`
	SurveyURL    string     `json:"survey_url"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// FindPendingResponse represents the lookup result
type FindPendingResponse struct {
	Message    string            `json:"message"`
	Deliveries []PendingDelivery `json:"deliveries"`
}

// ResponseDetail represents a stored response in admin views
type ResponseDetail struct {
	UUID         string          `json:"uuid"`
	DeliveryUUID string          `json:"delivery_uuid"`
	Source       string          `json:"source"`
	RawPayload   json.RawMessage `json:"raw_payload,omitempty"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	Answers      []AnswerDetail  `json:"answers"`
}

// AnswerDetail represents one stored answer in admin views
type AnswerDetail struct {
	QuestionID string          `json:"question_id"`
	Position   int             `json:"position"`
	Text       *string         `json:"text,omitempty"`
	Number     *float64        `json:"number,omitempty"`
	OptionID   *string         `json:"option_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}
