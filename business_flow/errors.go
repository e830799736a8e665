// Package businessflow contains the core business logic and use cases for survey delivery workflows
package businessflow

import (
	"errors"
	"fmt"
	"strings"
)

// Business flow error constants
var (
	// Campaign and template errors
	ErrCampaignNotFound     = errors.New("campaign not found")
	ErrTemplateNotFound     = errors.New("survey template not found")
	ErrTemplateInactive     = errors.New("survey template is inactive")
	ErrCampaignUUIDRequired = errors.New("campaign UUID is required")

	// Delivery errors
	ErrDeliveryNotFound      = errors.New("delivery not found")
	ErrDeliveryClosed        = errors.New("delivery no longer accepts a response")
	ErrDeliveryNotCancelable = errors.New("delivery reached a terminal state and cannot be cancelled")
	ErrRecipientRequired     = errors.New("recipient is required for this channel")
	ErrRecipientNotFound     = errors.New("recipient not found")
	ErrInvalidChannel        = errors.New("invalid delivery channel")
	ErrBulkSizeExceeded      = errors.New("bulk delivery size exceeds the limit")

	// Response errors
	ErrResponseAlreadyExists = errors.New("delivery already has a response")
	ErrContactRequired       = errors.New("at least one of email or phone is required")

	// Capture errors
	ErrCaptureNotFound     = errors.New("capture not found")
	ErrCaptureNotClaimable = errors.New("capture is not pending")
	ErrMediaTooLarge       = errors.New("media exceeds the upload size limit")
	ErrMediaKindMismatch   = errors.New("media kind does not match the delivery channel")

	// Conversation errors
	ErrNoPendingDelivery    = errors.New("no open delivery for this identity")
	ErrConversationNotFound = errors.New("no active conversation for this identity")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// AnswerValidationError reports every invalid answer of a submission at once
// so the caller can fix the whole batch in one round trip.
type AnswerValidationError struct {
	Details []AnswerValidationDetail
}

// AnswerValidationDetail names one rejected answer and why
type AnswerValidationDetail struct {
	QuestionID string `json:"question_id"`
	Reason     string `json:"reason"`
}

func (e *AnswerValidationError) Error() string {
	reasons := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		reasons = append(reasons, fmt.Sprintf("%s: %s", d.QuestionID, d.Reason))
	}
	return "answer validation failed: " + strings.Join(reasons, "; ")
}

func IsDeliveryNotFound(err error) bool {
	return errors.Is(err, ErrDeliveryNotFound)
}

func IsDeliveryClosed(err error) bool {
	return errors.Is(err, ErrDeliveryClosed)
}

func IsRecipientRequired(err error) bool {
	return errors.Is(err, ErrRecipientRequired)
}

func IsResponseAlreadyExists(err error) bool {
	return errors.Is(err, ErrResponseAlreadyExists)
}

func IsNoPendingDelivery(err error) bool {
	return errors.Is(err, ErrNoPendingDelivery)
}

func IsAnswerValidationError(err error) bool {
	var ve *AnswerValidationError
	return errors.As(err, &ve)
}
