package dto

// WhatsAppWebhookRequest represents an inbound message event from the gateway
type WhatsAppWebhookRequest struct {
	From      string `json:"from" validate:"required"`
	Body      string `json:"body"`
	ButtonID  string `json:"button_id,omitempty"` // set when the user tapped a reply button
	MessageID string `json:"message_id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// WhatsAppWebhookResponse acknowledges a processed webhook event
type WhatsAppWebhookResponse struct {
	Message string `json:"message"`
	Handled bool   `json:"handled"`
}

// ConversationResetRequest represents the admin request to reset a conversation
type ConversationResetRequest struct {
	Identity string `json:"identity" validate:"required"`
}

// ConversationResetResponse represents the outcome of a reset
type ConversationResetResponse struct {
	Message string `json:"message"`
}

// ConversationStatusRequest represents the request to inspect a conversation
type ConversationStatusRequest struct {
	Identity string `json:"-"`
}

// ConversationStatusResponse represents a conversation's current state
type ConversationStatusResponse struct {
	Identity          string  `json:"identity"`
	Stage             string  `json:"stage"`
	DeliveryUUID      *string `json:"delivery_uuid,omitempty"`
	Cursor            int     `json:"cursor"`
	QuestionsTotal    int     `json:"questions_total"`
	QuestionsAnswered int     `json:"questions_answered"`
	LastInteractionAt string  `json:"last_interaction_at"`
}
