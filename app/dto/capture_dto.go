package dto

import "time"

// UploadCaptureRequest represents the upload of a raw capture blob for a
// paper or audio delivery. Media bytes arrive as multipart form data.
type UploadCaptureRequest struct {
	Token       string `json:"-"`
	MediaKind   string `json:"media_kind" validate:"required,oneof=audio image"`
	ContentType string `json:"-"`
	Media       []byte `json:"-"`
}

// UploadCaptureResponse acknowledges a stored capture
type UploadCaptureResponse struct {
	Message      string `json:"message"`
	CaptureUUID  string `json:"capture_uuid"`
	DeliveryUUID string `json:"delivery_uuid"`
	State        string `json:"state"`
	CapturedAt   string `json:"captured_at"`
}

// CaptureStatusRequest represents the request to check a capture's state
type CaptureStatusRequest struct {
	UUID string `json:"-"`
}

// CaptureStatusResponse represents a capture's pipeline state
type CaptureStatusResponse struct {
	UUID         string     `json:"uuid"`
	DeliveryUUID string     `json:"delivery_uuid"`
	MediaKind    string     `json:"media_kind"`
	State        string     `json:"state"`
	RetryCount   int        `json:"retry_count"`
	LastError    *string    `json:"last_error,omitempty"`
	CapturedAt   time.Time  `json:"captured_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// ListFailedCapturesRequest represents the admin request for captures that
// exhausted their retries and need manual review
type ListFailedCapturesRequest struct {
	Pagination
}

// ListFailedCapturesResponse represents the failed-capture review list
type ListFailedCapturesResponse struct {
	Message  string                  `json:"message"`
	Total    int64                   `json:"total"`
	Captures []CaptureStatusResponse `json:"captures"`
}
