package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sondeo-app/sondeo/config"
	"github.com/sondeo-app/sondeo/utils"
)

// EmailService handles transactional email sending operations
type EmailService interface {
	SendSurveyInvite(ctx context.Context, recipient, subject, htmlBody string) error
}

// EmailServiceImpl implements EmailService against an HTTP mail API
type EmailServiceImpl struct {
	config *config.EmailConfig
	client *http.Client
}

// EmailRequest represents the request payload for the mail API
type EmailRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
}

// EmailResponse represents the mail API result
type EmailResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// NewEmailService creates a new email service instance
func NewEmailService(cfg *config.EmailConfig) EmailService {
	return &EmailServiceImpl{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SendSurveyInvite sends a survey invitation email
func (s *EmailServiceImpl) SendSurveyInvite(ctx context.Context, recipient, subject, htmlBody string) error {
	if !strings.Contains(recipient, "@") {
		return fmt.Errorf("invalid email address: %s", recipient)
	}

	payload := EmailRequest{
		From:     s.config.FromAddress,
		To:       recipient,
		Subject:  subject,
		HTMLBody: htmlBody,
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal email request: %w", err)
	}

	url := fmt.Sprintf("https://%s/v1/send", s.config.ProviderDomain)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email request: %w", err)
	}
	defer resp.Body.Close()

	var result EmailResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode email response: %w", err)
	}
	if result.Status != "queued" && result.Status != "sent" {
		return fmt.Errorf("email delivery failed for %s: %s", recipient, result.Status)
	}
	return nil
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SentEmails []MockEmail
	FailFor    map[string]error
}

// MockEmail represents a mock sent email
type MockEmail struct {
	Recipient string
	Subject   string
	HTMLBody  string
	SentAt    time.Time
}

// NewMockEmailService creates a new mock email service
func NewMockEmailService() *MockEmailService {
	return &MockEmailService{
		SentEmails: make([]MockEmail, 0),
		FailFor:    make(map[string]error),
	}
}

// SendSurveyInvite records a mock survey invitation
func (m *MockEmailService) SendSurveyInvite(ctx context.Context, recipient, subject, htmlBody string) error {
	if err, ok := m.FailFor[recipient]; ok {
		return err
	}
	m.SentEmails = append(m.SentEmails, MockEmail{
		Recipient: recipient,
		Subject:   subject,
		HTMLBody:  htmlBody,
		SentAt:    utils.UTCNow(),
	})
	return nil
}

// ClearSentEmails clears the sent emails list
func (m *MockEmailService) ClearSentEmails() {
	m.SentEmails = make([]MockEmail, 0)
}
