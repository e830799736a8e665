package utils

import (
	"time"
)

// Context keys for request-scoped values
type contextKey string

const (
	RequestIDKey  contextKey = "request_id"
	UserAgentKey  contextKey = "user_agent"
	IPAddressKey  contextKey = "ip_address"
	EndpointKey   contextKey = "endpoint"
	TimeoutKey    contextKey = "timeout"
	CancelFuncKey contextKey = "cancel_func"
)

// Token time constants
const (
	// SurveyTokenTTL is the default lifetime of a public survey access token (30 days)
	SurveyTokenTTL = 30 * 24 * time.Hour

	// AdminAccessTokenTTL is the time-to-live for admin access tokens (24 hours)
	AdminAccessTokenTTL = 24 * time.Hour
)

// Dispatch and pipeline constants
const (
	// MaxBulkDeliveries caps a single bulk creation request
	MaxBulkDeliveries = 500

	// DefaultCaptureMaxRetries is the extraction retry budget before a capture
	// is parked as failed
	DefaultCaptureMaxRetries = 3

	// DefaultDispatchTimeout bounds a single channel send attempt
	DefaultDispatchTimeout = 15 * time.Second

	// CaptureProcessingDeadline bounds how long a claimed capture may sit in
	// processing before recovery hands it back to the queue
	CaptureProcessingDeadline = 10 * time.Minute

	// CaptureQueueKey is the Redis list the extraction workers consume
	CaptureQueueKey = "sondeo:captures:pending"

	// CaptureRetryQueueKey is the Redis sorted set holding captures waiting
	// out their retry backoff, scored by the earliest retry time
	CaptureRetryQueueKey = "sondeo:captures:retry"
)

// CORS constants
const (
	CORSMaxAge = 86400
)
