package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sondeo-app/sondeo/config"
)

// ExtractionService turns raw media into structured answer candidates. Audio
// goes through speech-to-text, scanned paper forms through OCR. Both requests
// carry the template's field map so the extractor can align what it recognized
// to question keys and hand back per-question values.
type ExtractionService interface {
	TranscribeAudio(ctx context.Context, mediaURL string, fieldMap map[string]string) (*ExtractionResult, error)
	ExtractFromImage(ctx context.Context, mediaURL string, fieldMap map[string]string) (*ExtractionResult, error)
}

// ExtractionResult is the extractor's structured output
type ExtractionResult struct {
	// Transcript is the full recognized text for audio media, kept with the
	// response's raw payload for auditing
	Transcript string `json:"transcript,omitempty"`
	// Fields maps question keys to recognized raw values
	Fields map[string]string `json:"fields,omitempty"`
	// Confidence is the extractor's overall confidence in [0, 1]
	Confidence float64 `json:"confidence"`
}

// ExtractionServiceImpl implements ExtractionService against an HTTP extractor
type ExtractionServiceImpl struct {
	config *config.ExtractionConfig
	client *http.Client
}

type transcribeRequest struct {
	MediaURL string            `json:"media_url"`
	Language string            `json:"language"`
	FieldMap map[string]string `json:"field_map"`
}

type extractImageRequest struct {
	MediaURL string            `json:"media_url"`
	FieldMap map[string]string `json:"field_map"`
}

// NewExtractionService creates a new extraction service instance
func NewExtractionService(cfg *config.ExtractionConfig) ExtractionService {
	return &ExtractionServiceImpl{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// TranscribeAudio runs speech-to-text on the media at the given URL. The field
// map tells the extractor which questions to slot the recognized speech into.
func (s *ExtractionServiceImpl) TranscribeAudio(ctx context.Context, mediaURL string, fieldMap map[string]string) (*ExtractionResult, error) {
	payload := transcribeRequest{
		MediaURL: mediaURL,
		Language: s.config.Language,
		FieldMap: fieldMap,
	}
	return s.post(ctx, "/v1/transcribe", payload)
}

// ExtractFromImage runs OCR on the media at the given URL. The field map tells
// the extractor where each question's answer lives on the printed form.
func (s *ExtractionServiceImpl) ExtractFromImage(ctx context.Context, mediaURL string, fieldMap map[string]string) (*ExtractionResult, error) {
	payload := extractImageRequest{
		MediaURL: mediaURL,
		FieldMap: fieldMap,
	}
	return s.post(ctx, "/v1/extract", payload)
}

func (s *ExtractionServiceImpl) post(ctx context.Context, path string, payload any) (*ExtractionResult, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extraction request: %w", err)
	}

	url := fmt.Sprintf("https://%s%s", s.config.ProviderDomain, path)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send extraction request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extraction failed with status %d", resp.StatusCode)
	}

	var result ExtractionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode extraction response: %w", err)
	}

	return &result, nil
}

// MockExtractionService implements ExtractionService for testing
type MockExtractionService struct {
	TranscribeResult *ExtractionResult
	ExtractResult    *ExtractionResult
	Err              error
	Calls            int
}

// NewMockExtractionService creates a new mock extraction service
func NewMockExtractionService() *MockExtractionService {
	return &MockExtractionService{}
}

// TranscribeAudio returns the configured mock transcript
func (m *MockExtractionService) TranscribeAudio(ctx context.Context, mediaURL string, fieldMap map[string]string) (*ExtractionResult, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.TranscribeResult, nil
}

// ExtractFromImage returns the configured mock field extraction
func (m *MockExtractionService) ExtractFromImage(ctx context.Context, mediaURL string, fieldMap map[string]string) (*ExtractionResult, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.ExtractResult, nil
}
