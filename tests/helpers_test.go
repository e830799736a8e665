package tests

import (
	"testing"
	"time"

	"github.com/sondeo-app/sondeo/app/services"
	businessflow "github.com/sondeo-app/sondeo/business_flow"
	"github.com/sondeo-app/sondeo/config"
	"github.com/sondeo-app/sondeo/repository"
	testingutil "github.com/sondeo-app/sondeo/testing"
	"github.com/stretchr/testify/require"
)

// testEnv wires every flow against one test database and mocked channel
// services so tests can drive the full delivery lifecycle in-process.
type testEnv struct {
	DeliveryRepo repository.DeliveryRepository
	CampaignRepo repository.CampaignRepository
	ResponseRepo repository.ResponseRepository
	CaptureRepo  repository.RawCaptureRepository
	ContextRepo  repository.ConversationContextRepository
	TokenRepo    repository.AccessTokenRepository

	TokenService services.TokenService
	Email        *services.MockEmailService
	WhatsApp     *services.MockWhatsAppService
	Renderer     *services.MockDocumentRenderer
	MediaStore   *services.MockMediaStore
	Extraction   *services.MockExtractionService

	DeliveryFlow     businessflow.DeliveryFlow
	ResponseFlow     businessflow.ResponseFlow
	CaptureFlow      businessflow.CaptureFlow
	ConversationFlow businessflow.ConversationFlow
}

func newTestEnv(t *testing.T, testDB *testingutil.TestDB) *testEnv {
	t.Helper()

	campaignRepo := repository.NewCampaignRepository(testDB.DB)
	templateRepo := repository.NewTemplateRepository(testDB.DB)
	recipientRepo := repository.NewRecipientRepository(testDB.DB)
	deliveryRepo := repository.NewDeliveryRepository(testDB.DB)
	responseRepo := repository.NewResponseRepository(testDB.DB)
	captureRepo := repository.NewRawCaptureRepository(testDB.DB)
	contextRepo := repository.NewConversationContextRepository(testDB.DB)
	tokenRepo := repository.NewAccessTokenRepository(testDB.DB)

	tokenService, err := services.NewTokenService(
		time.Hour, 24*time.Hour,
		"test-issuer", "test-audience",
		false, "", "", "test-secret-key-for-delivery-tokens",
		tokenRepo,
	)
	require.NoError(t, err)

	email := services.NewMockEmailService()
	whatsapp := services.NewMockWhatsAppService()
	renderer := services.NewMockDocumentRenderer()
	mediaStore := services.NewMockMediaStore()
	extraction := services.NewMockExtractionService()

	channelRouter := businessflow.NewChannelRouter(
		email,
		whatsapp,
		renderer,
		config.DispatchConfig{
			Timeout:         5 * time.Second,
			BulkConcurrency: 4,
			SurveyBaseURL:   "https://sondeo.app/s",
		},
		config.EmailConfig{
			FromAddress: "encuestas@sondeo.app",
			FromName:    "Sondeo",
		},
	)

	responseFlow := businessflow.NewResponseFlow(
		deliveryRepo, responseRepo, campaignRepo, templateRepo,
		tokenService, channelRouter, testDB.DB,
	)

	deliveryFlow := businessflow.NewDeliveryFlow(
		deliveryRepo, campaignRepo, recipientRepo, templateRepo,
		tokenService, channelRouter, 4, 720*time.Hour, testDB.DB,
	)

	captureFlow := businessflow.NewCaptureFlow(
		captureRepo, deliveryRepo, campaignRepo, templateRepo,
		responseFlow, tokenService, mediaStore, extraction,
		nil, &config.MediaConfig{MaxUploadMB: 1},
		3, time.Second, testDB.DB,
	)

	conversationFlow := businessflow.NewConversationFlow(
		contextRepo, deliveryRepo, campaignRepo, templateRepo,
		responseFlow, whatsapp, testDB.DB,
	)

	return &testEnv{
		DeliveryRepo: deliveryRepo,
		CampaignRepo: campaignRepo,
		ResponseRepo: responseRepo,
		CaptureRepo:  captureRepo,
		ContextRepo:  contextRepo,
		TokenRepo:    tokenRepo,

		TokenService: tokenService,
		Email:        email,
		WhatsApp:     whatsapp,
		Renderer:     renderer,
		MediaStore:   mediaStore,
		Extraction:   extraction,

		DeliveryFlow:     deliveryFlow,
		ResponseFlow:     responseFlow,
		CaptureFlow:      captureFlow,
		ConversationFlow: conversationFlow,
	}
}

func testMetadata() *businessflow.ClientMetadata {
	return businessflow.NewClientMetadata("192.0.2.10", "sondeo-tests")
}
