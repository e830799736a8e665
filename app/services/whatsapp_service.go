package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sondeo-app/sondeo/config"
	"github.com/sondeo-app/sondeo/utils"
)

// WhatsAppService handles outbound WhatsApp messaging operations
type WhatsAppService interface {
	SendText(ctx context.Context, recipient, body string) error
	SendChoices(ctx context.Context, recipient, body string, choices []string) error
}

// WhatsAppServiceImpl implements WhatsAppService against a Whapi-style gateway
type WhatsAppServiceImpl struct {
	config *config.WhatsAppConfig
	client *http.Client
}

// WhatsAppTextRequest represents the request payload for the text endpoint
type WhatsAppTextRequest struct {
	To   string `json:"to"` // Format: 52**********
	Body string `json:"body"`
}

// WhatsAppInteractiveRequest represents the request payload for the interactive endpoint
type WhatsAppInteractiveRequest struct {
	To     string              `json:"to"`
	Body   WhatsAppMessageBody `json:"body"`
	Action WhatsAppAction      `json:"action"`
	Type   string              `json:"type"` // Always "button"
}

// WhatsAppMessageBody is the text portion of an interactive message
type WhatsAppMessageBody struct {
	Text string `json:"text"`
}

// WhatsAppAction carries the tappable buttons of an interactive message
type WhatsAppAction struct {
	Buttons []WhatsAppButton `json:"buttons"`
}

// WhatsAppButton is one tappable reply button
type WhatsAppButton struct {
	Type  string `json:"type"` // Always "quick_reply"
	Title string `json:"title"`
	ID    string `json:"id"`
}

// WhatsAppSendResponse represents the gateway's send result
type WhatsAppSendResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message,omitempty"`
}

// NewWhatsAppService creates a new WhatsApp service instance
func NewWhatsAppService(cfg *config.WhatsAppConfig) WhatsAppService {
	return &WhatsAppServiceImpl{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SendText sends a plain text message
func (s *WhatsAppServiceImpl) SendText(ctx context.Context, recipient, body string) error {
	payload := WhatsAppTextRequest{
		To:   recipient,
		Body: body,
	}
	return s.post(ctx, "/messages/text", payload)
}

// SendChoices sends an interactive message with reply buttons. Gateways cap
// buttons at three; longer option lists fall back to a numbered text message.
func (s *WhatsAppServiceImpl) SendChoices(ctx context.Context, recipient, body string, choices []string) error {
	if len(choices) == 0 || len(choices) > 3 {
		text := body
		for i, c := range choices {
			text += fmt.Sprintf("\n%d. %s", i+1, c)
		}
		return s.SendText(ctx, recipient, text)
	}

	buttons := make([]WhatsAppButton, 0, len(choices))
	for i, c := range choices {
		buttons = append(buttons, WhatsAppButton{
			Type:  "quick_reply",
			Title: c,
			ID:    fmt.Sprintf("%d", i+1),
		})
	}

	payload := WhatsAppInteractiveRequest{
		To:     recipient,
		Body:   WhatsAppMessageBody{Text: body},
		Action: WhatsAppAction{Buttons: buttons},
		Type:   "button",
	}
	return s.post(ctx, "/messages/interactive", payload)
}

func (s *WhatsAppServiceImpl) post(ctx context.Context, path string, payload any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal WhatsApp request: %w", err)
	}

	url := fmt.Sprintf("https://%s%s", s.config.ProviderDomain, path)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send WhatsApp request: %w", err)
	}
	defer resp.Body.Close()

	var result WhatsAppSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode WhatsApp response: %w", err)
	}
	if !result.Sent {
		return fmt.Errorf("WhatsApp delivery failed: %s", result.Message)
	}
	return nil
}

// MockWhatsAppService implements WhatsAppService for testing
type MockWhatsAppService struct {
	SentMessages []MockWhatsAppMessage
	FailFor      map[string]error
}

// MockWhatsAppMessage represents a mock WhatsApp message
type MockWhatsAppMessage struct {
	Recipient string
	Body      string
	Choices   []string
	SentAt    time.Time
}

// NewMockWhatsAppService creates a new mock WhatsApp service
func NewMockWhatsAppService() *MockWhatsAppService {
	return &MockWhatsAppService{
		SentMessages: make([]MockWhatsAppMessage, 0),
		FailFor:      make(map[string]error),
	}
}

// SendText records a mock text message
func (m *MockWhatsAppService) SendText(ctx context.Context, recipient, body string) error {
	return m.SendChoices(ctx, recipient, body, nil)
}

// SendChoices records a mock interactive message
func (m *MockWhatsAppService) SendChoices(ctx context.Context, recipient, body string, choices []string) error {
	if err, ok := m.FailFor[recipient]; ok {
		return err
	}
	m.SentMessages = append(m.SentMessages, MockWhatsAppMessage{
		Recipient: recipient,
		Body:      body,
		Choices:   choices,
		SentAt:    utils.UTCNow(),
	})
	return nil
}

// LastMessage returns the most recently sent mock message, nil when none
func (m *MockWhatsAppService) LastMessage() *MockWhatsAppMessage {
	if len(m.SentMessages) == 0 {
		return nil
	}
	return &m.SentMessages[len(m.SentMessages)-1]
}

// ClearSentMessages clears the sent messages list
func (m *MockWhatsAppService) ClearSentMessages() {
	m.SentMessages = make([]MockWhatsAppMessage, 0)
}
