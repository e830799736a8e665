package dto

import (
	"time"
)

// CreateDeliveryRequest represents the request to create a single delivery
type CreateDeliveryRequest struct {
	CampaignUUID  string     `json:"-"`
	RecipientUUID *string    `json:"recipient_uuid,omitempty"`
	Channel       string     `json:"channel" validate:"required,oneof=email whatsapp web paper audio"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Dispatch      bool       `json:"dispatch"` // send immediately after creation
}

// CreateDeliveryResponse represents the created delivery
type CreateDeliveryResponse struct {
	UUID          string  `json:"uuid"`
	Status        string  `json:"status"`
	Channel       string  `json:"channel"`
	Token         string  `json:"token"`
	SurveyURL     string  `json:"survey_url"`
	DispatchError *string `json:"dispatch_error,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// CreateBulkDeliveriesRequest represents the request to create deliveries for
// many recipients at once
type CreateBulkDeliveriesRequest struct {
	CampaignUUID   string     `json:"-"`
	RecipientUUIDs []string   `json:"recipient_uuids" validate:"required,min=1"`
	Channel        string     `json:"channel" validate:"required,oneof=email whatsapp web"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Dispatch       bool       `json:"dispatch"`
}

// BulkDeliveryResult represents the per-recipient outcome of a bulk creation
type BulkDeliveryResult struct {
	RecipientUUID string  `json:"recipient_uuid,omitempty"`
	UUID          string  `json:"uuid,omitempty"`
	Status        string  `json:"status,omitempty"`
	Token         string  `json:"token,omitempty"`
	Error         *string `json:"error,omitempty"`
}

// CreateBulkDeliveriesResponse represents the outcome of a bulk creation
type CreateBulkDeliveriesResponse struct {
	Message string               `json:"message"`
	Created int                  `json:"created"`
	Failed  int                  `json:"failed"`
	Results []BulkDeliveryResult `json:"results"`
}

// CreateBulkAnonymousRequest represents the request to create anonymous paper
// or audio deliveries (a count of packets, no recipients yet)
type CreateBulkAnonymousRequest struct {
	CampaignUUID string     `json:"-"`
	Count        int        `json:"count" validate:"required,min=1"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// CreateBulkAnonymousResponse represents the outcome of anonymous bulk creation
type CreateBulkAnonymousResponse struct {
	Message    string               `json:"message"`
	Created    int                  `json:"created"`
	Deliveries []BulkDeliveryResult `json:"deliveries"`
}

// GetDeliveryRequest represents the request to fetch one delivery
type GetDeliveryRequest struct {
	UUID string `json:"-"`
}

// DeliveryResponse represents a delivery in admin responses
type DeliveryResponse struct {
	UUID          string     `json:"uuid"`
	CampaignUUID  string     `json:"campaign_uuid,omitempty"`
	RecipientUUID *string    `json:"recipient_uuid,omitempty"`
	Channel       string     `json:"channel"`
	Status        string     `json:"status"`
	DispatchError *string    `json:"dispatch_error,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	RespondedAt   *time.Time `json:"responded_at,omitempty"`
}

// ListDeliveriesRequest represents the request to list a campaign's deliveries
type ListDeliveriesRequest struct {
	CampaignUUID string  `json:"-"`
	Status       *string `json:"status,omitempty" validate:"omitempty,oneof=created sent responded expired cancelled"`
	Channel      *string `json:"channel,omitempty" validate:"omitempty,oneof=email whatsapp web paper audio"`
	Pagination
}

// ListDeliveriesResponse represents a page of deliveries
type ListDeliveriesResponse struct {
	Message    string             `json:"message"`
	Total      int64              `json:"total"`
	Deliveries []DeliveryResponse `json:"deliveries"`
}

// MarkSentRequest represents the manual confirmation that a delivery went out
type MarkSentRequest struct {
	UUID string `json:"-"`
}

// MarkSentResponse represents the outcome of a mark-sent call
type MarkSentResponse struct {
	Message string `json:"message"`
	UUID    string `json:"uuid"`
	Status  string `json:"status"`
}

// MarkRespondedRequest represents the manual confirmation that a delivery was
// answered out of band
type MarkRespondedRequest struct {
	UUID string `json:"-"`
}

// MarkRespondedResponse represents the outcome of a mark-responded call
type MarkRespondedResponse struct {
	Message string `json:"message"`
	UUID    string `json:"uuid"`
	Status  string `json:"status"`
}

// CancelDeliveryRequest represents the request to cancel a delivery
type CancelDeliveryRequest struct {
	UUID string `json:"-"`
}

// CancelDeliveryResponse represents the outcome of a cancellation
type CancelDeliveryResponse struct {
	Message string `json:"message"`
	UUID    string `json:"uuid"`
	Status  string `json:"status"`
}

// DispatchDeliveryRequest represents the request to (re)send a delivery
type DispatchDeliveryRequest struct {
	UUID string `json:"-"`
}

// DispatchDeliveryResponse represents the dispatch outcome
type DispatchDeliveryResponse struct {
	Message string `json:"message"`
	UUID    string `json:"uuid"`
	Status  string `json:"status"`
}

// ExportTokenManifestRequest represents the request to export a campaign's
// delivery tokens as a spreadsheet
type ExportTokenManifestRequest struct {
	CampaignUUID string `json:"-"`
}
