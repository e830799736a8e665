package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sondeo-app/sondeo/config"
	"github.com/sondeo-app/sondeo/models"
)

// DocumentRenderer produces printable survey packets for paper deliveries.
// Each packet carries the delivery token as a scannable code so the filled
// form can be matched back to its delivery.
type DocumentRenderer interface {
	RenderSurveyForm(ctx context.Context, template *models.SurveyTemplate, deliveryToken string) ([]byte, error)
}

// DocumentRendererImpl implements DocumentRenderer against an HTTP render service
type DocumentRendererImpl struct {
	config *config.RendererConfig
	client *http.Client
}

type renderFormRequest struct {
	Title     string           `json:"title"`
	Token     string           `json:"token"`
	Questions []renderQuestion `json:"questions"`
}

type renderQuestion struct {
	Order   int      `json:"order"`
	Text    string   `json:"text"`
	Type    string   `json:"type"`
	Options []string `json:"options,omitempty"`
}

// NewDocumentRenderer creates a new document renderer instance
func NewDocumentRenderer(cfg *config.RendererConfig) DocumentRenderer {
	return &DocumentRendererImpl{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// RenderSurveyForm renders the template as a printable PDF form
func (s *DocumentRendererImpl) RenderSurveyForm(ctx context.Context, template *models.SurveyTemplate, deliveryToken string) ([]byte, error) {
	payload := renderFormRequest{
		Title: template.Name,
		Token: deliveryToken,
	}
	for _, q := range template.OrderedQuestions() {
		rq := renderQuestion{
			Order: q.Order,
			Text:  q.Text,
			Type:  string(q.Type),
		}
		for _, o := range q.Options {
			rq.Options = append(rq.Options, o.Text)
		}
		payload.Questions = append(payload.Questions, rq)
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal render request: %w", err)
	}

	url := fmt.Sprintf("https://%s/v1/render/form", s.config.ProviderDomain)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send render request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render failed with status %d", resp.StatusCode)
	}

	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered form: %w", err)
	}

	return pdf, nil
}

// MockDocumentRenderer implements DocumentRenderer for testing
type MockDocumentRenderer struct {
	Rendered []string
	Err      error
}

// NewMockDocumentRenderer creates a new mock document renderer
func NewMockDocumentRenderer() *MockDocumentRenderer {
	return &MockDocumentRenderer{}
}

// RenderSurveyForm records the render call and returns placeholder bytes
func (m *MockDocumentRenderer) RenderSurveyForm(ctx context.Context, template *models.SurveyTemplate, deliveryToken string) ([]byte, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.Rendered = append(m.Rendered, deliveryToken)
	return []byte("%PDF-1.4 mock form"), nil
}
