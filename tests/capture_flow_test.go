package tests

import (
	"errors"
	"testing"
	"time"

	"github.com/sondeo-app/sondeo/app/dto"
	"github.com/sondeo-app/sondeo/app/services"
	businessflow "github.com/sondeo-app/sondeo/business_flow"
	"github.com/sondeo-app/sondeo/models"
	testingutil "github.com/sondeo-app/sondeo/testing"
	"github.com/sondeo-app/sondeo/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadCapture(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newTestEnv(t, testDB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		template, err := fixtures.CreateTestTemplate()
		require.NoError(t, err)
		campaign, err := fixtures.CreateTestCampaign(template.ID, models.ChannelPaper)
		require.NoError(t, err)

		created, err := env.DeliveryFlow.CreateDelivery(ctx, &dto.CreateDeliveryRequest{
			CampaignUUID: campaign.UUID.String(),
			Channel:      "paper",
		}, testMetadata())
		require.NoError(t, err)

		t.Run("StoresMediaAndQueuesCapture", func(t *testing.T) {
			resp, err := env.CaptureFlow.UploadCapture(ctx, &dto.UploadCaptureRequest{
				Token:       created.Token,
				MediaKind:   "image",
				ContentType: "image/jpeg",
				Media:       []byte("fake scanned form"),
			}, testMetadata())
			require.NoError(t, err)

			assert.Equal(t, created.UUID, resp.DeliveryUUID)
			assert.Equal(t, string(models.CaptureStatePending), resp.State)
			assert.NotEmpty(t, env.MediaStore.Objects)

			pending, err := env.CaptureFlow.PendingCaptureUUIDs(ctx, 10)
			require.NoError(t, err)
			assert.Contains(t, pending, resp.CaptureUUID)
		})

		t.Run("AudioKindOnPaperDeliveryRejected", func(t *testing.T) {
			_, err := env.CaptureFlow.UploadCapture(ctx, &dto.UploadCaptureRequest{
				Token:       created.Token,
				MediaKind:   "audio",
				ContentType: "audio/ogg",
				Media:       []byte("voice note"),
			}, testMetadata())
			require.Error(t, err)
			assert.True(t, errors.Is(err, businessflow.ErrMediaKindMismatch))
		})

		t.Run("OversizedMediaRejected", func(t *testing.T) {
			_, err := env.CaptureFlow.UploadCapture(ctx, &dto.UploadCaptureRequest{
				Token:       created.Token,
				MediaKind:   "image",
				ContentType: "image/jpeg",
				Media:       make([]byte, 2*1024*1024),
			}, testMetadata())
			require.Error(t, err)
			assert.True(t, errors.Is(err, businessflow.ErrMediaTooLarge))
		})

		return nil
	})
	require.NoError(t, err)
}

func TestProcessCapture(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newTestEnv(t, testDB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		template, err := fixtures.CreateTestTemplate()
		require.NoError(t, err)
		campaign, err := fixtures.CreateTestCampaign(template.ID, models.ChannelPaper)
		require.NoError(t, err)

		questions := template.OrderedQuestions()

		uploadCapture := func(t *testing.T) (*dto.CreateDeliveryResponse, *dto.UploadCaptureResponse) {
			t.Helper()
			created, err := env.DeliveryFlow.CreateDelivery(ctx, &dto.CreateDeliveryRequest{
				CampaignUUID: campaign.UUID.String(),
				Channel:      "paper",
			}, testMetadata())
			require.NoError(t, err)

			uploaded, err := env.CaptureFlow.UploadCapture(ctx, &dto.UploadCaptureRequest{
				Token:       created.Token,
				MediaKind:   "image",
				ContentType: "image/jpeg",
				Media:       []byte("fake scanned form"),
			}, testMetadata())
			require.NoError(t, err)
			return created, uploaded
		}

		t.Run("ExtractsAndSubmitsResponse", func(t *testing.T) {
			created, uploaded := uploadCapture(t)

			env.Extraction.Err = nil
			env.Extraction.ExtractResult = &services.ExtractionResult{
				Fields: map[string]string{
					questions[0].ID.String(): "Todo excelente",
					questions[1].ID.String(): "8,5",
					questions[2].ID.String(): "diario",
					questions[3].ID.String(): "Precio; Calidad",
				},
				Confidence: 0.93,
			}

			require.NoError(t, env.CaptureFlow.ProcessCapture(ctx, uploaded.CaptureUUID))

			status, err := env.CaptureFlow.CaptureStatus(ctx, &dto.CaptureStatusRequest{UUID: uploaded.CaptureUUID})
			require.NoError(t, err)
			assert.Equal(t, string(models.CaptureStateExtracted), status.State)

			delivery, err := env.DeliveryRepo.ByUUID(ctx, created.UUID)
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStatusResponded, delivery.Status)

			stored, err := env.ResponseRepo.ByDeliveryID(ctx, delivery.ID)
			require.NoError(t, err)
			require.NotNil(t, stored)
			assert.Equal(t, models.SourcePaperOCR, stored.Source)
		})

		t.Run("RetriesThenFails", func(t *testing.T) {
			created, uploaded := uploadCapture(t)

			env.Extraction.ExtractResult = nil
			env.Extraction.Err = errors.New("extractor unavailable")
			defer func() { env.Extraction.Err = nil }()

			// The flow was built with a retry budget of three attempts
			for i := 0; i < 2; i++ {
				err := env.CaptureFlow.ProcessCapture(ctx, uploaded.CaptureUUID)
				require.Error(t, err)

				status, err := env.CaptureFlow.CaptureStatus(ctx, &dto.CaptureStatusRequest{UUID: uploaded.CaptureUUID})
				require.NoError(t, err)
				assert.Equal(t, string(models.CaptureStatePending), status.State)
				assert.Equal(t, i+1, status.RetryCount)
			}

			err = env.CaptureFlow.ProcessCapture(ctx, uploaded.CaptureUUID)
			require.Error(t, err)

			status, err := env.CaptureFlow.CaptureStatus(ctx, &dto.CaptureStatusRequest{UUID: uploaded.CaptureUUID})
			require.NoError(t, err)
			assert.Equal(t, string(models.CaptureStateFailed), status.State)
			assert.NotNil(t, status.LastError)

			// The delivery is untouched and can still be answered another way
			delivery, err := env.DeliveryRepo.ByUUID(ctx, created.UUID)
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStatusCreated, delivery.Status)

			// The capture shows up on the manual review list
			failed, err := env.CaptureFlow.ListFailed(ctx, &dto.ListFailedCapturesRequest{})
			require.NoError(t, err)
			require.NotEmpty(t, failed.Captures)
			found := false
			for _, item := range failed.Captures {
				if item.UUID == uploaded.CaptureUUID {
					found = true
					assert.Equal(t, created.UUID, item.DeliveryUUID)
				}
			}
			assert.True(t, found)
		})

		t.Run("AlreadyAnsweredDeliveryParksCapture", func(t *testing.T) {
			created, uploaded := uploadCapture(t)

			delivery, err := env.DeliveryRepo.ByUUID(ctx, created.UUID)
			require.NoError(t, err)
			_, err = env.ResponseFlow.SubmitForDelivery(ctx, delivery, validAnswers(t, template), models.SourceAdmin, nil)
			require.NoError(t, err)

			env.Extraction.Err = nil
			env.Extraction.ExtractResult = &services.ExtractionResult{
				Fields: map[string]string{
					questions[0].ID.String(): "llego tarde",
					questions[1].ID.String(): "2",
					questions[2].ID.String(): "Mensual",
				},
				Confidence: 0.8,
			}

			err = env.CaptureFlow.ProcessCapture(ctx, uploaded.CaptureUUID)
			require.Error(t, err)

			status, err := env.CaptureFlow.CaptureStatus(ctx, &dto.CaptureStatusRequest{UUID: uploaded.CaptureUUID})
			require.NoError(t, err)
			assert.Equal(t, string(models.CaptureStateFailed), status.State)
		})

		t.Run("UnknownCaptureReported", func(t *testing.T) {
			err := env.CaptureFlow.ProcessCapture(ctx, "0e0e57b4-0000-4000-8000-000000000000")
			require.Error(t, err)
			assert.True(t, errors.Is(err, businessflow.ErrCaptureNotFound))
		})

		t.Run("StalledProcessingReleasedForRetry", func(t *testing.T) {
			_, uploaded := uploadCapture(t)

			capture, err := env.CaptureRepo.ByUUID(ctx, uploaded.CaptureUUID)
			require.NoError(t, err)
			claimed, err := env.CaptureRepo.ClaimPending(ctx, capture.ID)
			require.NoError(t, err)
			require.True(t, claimed)

			// Backdate the claim as if the worker died mid-extraction
			err = testDB.DB.Model(&models.RawCapture{}).
				Where("id = ?", capture.ID).
				Update("updated_at", utils.UTCNow().Add(-time.Hour)).Error
			require.NoError(t, err)

			released, err := env.CaptureFlow.ReleaseStalled(ctx, utils.CaptureProcessingDeadline)
			require.NoError(t, err)
			assert.EqualValues(t, 1, released)

			status, err := env.CaptureFlow.CaptureStatus(ctx, &dto.CaptureStatusRequest{UUID: uploaded.CaptureUUID})
			require.NoError(t, err)
			assert.Equal(t, string(models.CaptureStatePending), status.State)

			pending, err := env.CaptureFlow.PendingCaptureUUIDs(ctx, 100)
			require.NoError(t, err)
			assert.Contains(t, pending, uploaded.CaptureUUID)

			// A claim still inside the deadline is left alone
			claimed, err = env.CaptureRepo.ClaimPending(ctx, capture.ID)
			require.NoError(t, err)
			require.True(t, claimed)

			released, err = env.CaptureFlow.ReleaseStalled(ctx, utils.CaptureProcessingDeadline)
			require.NoError(t, err)
			assert.Zero(t, released)
		})

		return nil
	})
	require.NoError(t, err)
}

func TestProcessAudioCapture(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newTestEnv(t, testDB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		template, err := fixtures.CreateTestTemplate()
		require.NoError(t, err)
		campaign, err := fixtures.CreateTestCampaign(template.ID, models.ChannelAudio)
		require.NoError(t, err)

		questions := template.OrderedQuestions()

		created, err := env.DeliveryFlow.CreateDelivery(ctx, &dto.CreateDeliveryRequest{
			CampaignUUID: campaign.UUID.String(),
			Channel:      "audio",
		}, testMetadata())
		require.NoError(t, err)

		uploaded, err := env.CaptureFlow.UploadCapture(ctx, &dto.UploadCaptureRequest{
			Token:       created.Token,
			MediaKind:   "audio",
			ContentType: "audio/ogg",
			Media:       []byte("voice recording"),
		}, testMetadata())
		require.NoError(t, err)

		env.Extraction.Err = nil
		env.Extraction.TranscribeResult = &services.ExtractionResult{
			Transcript: "Todo excelente, les pongo un nueve, lo uso a diario por el precio y la calidad",
			Fields: map[string]string{
				questions[0].ID.String(): "Todo excelente",
				questions[1].ID.String(): "9",
				questions[2].ID.String(): "Diario",
				questions[3].ID.String(): "Precio; Calidad",
			},
			Confidence: 0.91,
		}

		require.NoError(t, env.CaptureFlow.ProcessCapture(ctx, uploaded.CaptureUUID))

		status, err := env.CaptureFlow.CaptureStatus(ctx, &dto.CaptureStatusRequest{UUID: uploaded.CaptureUUID})
		require.NoError(t, err)
		assert.Equal(t, string(models.CaptureStateExtracted), status.State)

		delivery, err := env.DeliveryRepo.ByUUID(ctx, created.UUID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryStatusResponded, delivery.Status)

		stored, err := env.ResponseRepo.ByDeliveryID(ctx, delivery.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, models.SourceAudioSTT, stored.Source)

		return nil
	})
	require.NoError(t, err)
}
