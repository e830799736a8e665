package tests

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sondeo-app/sondeo/app/dto"
	businessflow "github.com/sondeo-app/sondeo/business_flow"
	"github.com/sondeo-app/sondeo/models"
	testingutil "github.com/sondeo-app/sondeo/testing"
	"github.com/sondeo-app/sondeo/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDelivery(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newTestEnv(t, testDB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		template, err := fixtures.CreateTestTemplate()
		require.NoError(t, err)
		campaign, err := fixtures.CreateTestCampaign(template.ID, models.ChannelEmail)
		require.NoError(t, err)
		recipient, err := fixtures.CreateTestRecipient()
		require.NoError(t, err)

		t.Run("IssuesTokenWithoutDispatch", func(t *testing.T) {
			recipientUUID := recipient.UUID.String()
			resp, err := env.DeliveryFlow.CreateDelivery(ctx, &dto.CreateDeliveryRequest{
				CampaignUUID:  campaign.UUID.String(),
				RecipientUUID: &recipientUUID,
				Channel:       "email",
			}, testMetadata())
			require.NoError(t, err)

			assert.Equal(t, "created", resp.Status)
			assert.NotEmpty(t, resp.Token)
			assert.True(t, strings.HasPrefix(resp.SurveyURL, "https://sondeo.app/s/"))
			assert.Empty(t, env.Email.SentEmails)

			claims, err := env.TokenService.ValidateDeliveryToken(ctx, resp.Token)
			require.NoError(t, err)
			assert.Equal(t, resp.UUID, claims.DeliveryUUID.String())
		})

		t.Run("DispatchOnCreateSendsEmail", func(t *testing.T) {
			recipientUUID := recipient.UUID.String()
			resp, err := env.DeliveryFlow.CreateDelivery(ctx, &dto.CreateDeliveryRequest{
				CampaignUUID:  campaign.UUID.String(),
				RecipientUUID: &recipientUUID,
				Channel:       "email",
				Dispatch:      true,
			}, testMetadata())
			require.NoError(t, err)

			assert.Equal(t, "sent", resp.Status)
			require.NotEmpty(t, env.Email.SentEmails)
			last := env.Email.SentEmails[len(env.Email.SentEmails)-1]
			assert.Equal(t, *recipient.Email, last.Recipient)
			assert.Contains(t, last.HTMLBody, resp.Token)
		})

		t.Run("RecipientRequiredForEmail", func(t *testing.T) {
			_, err := env.DeliveryFlow.CreateDelivery(ctx, &dto.CreateDeliveryRequest{
				CampaignUUID: campaign.UUID.String(),
				Channel:      "email",
			}, testMetadata())
			require.Error(t, err)
			assert.True(t, businessflow.IsRecipientRequired(err))
		})

		t.Run("PaperAllowsAnonymous", func(t *testing.T) {
			resp, err := env.DeliveryFlow.CreateDelivery(ctx, &dto.CreateDeliveryRequest{
				CampaignUUID: campaign.UUID.String(),
				Channel:      "paper",
			}, testMetadata())
			require.NoError(t, err)
			assert.Equal(t, "created", resp.Status)
			assert.NotEmpty(t, resp.Token)
		})

		t.Run("InvalidChannelRejected", func(t *testing.T) {
			_, err := env.DeliveryFlow.CreateDelivery(ctx, &dto.CreateDeliveryRequest{
				CampaignUUID: campaign.UUID.String(),
				Channel:      "carrier-pigeon",
			}, testMetadata())
			require.Error(t, err)
		})

		t.Run("UnknownCampaignRejected", func(t *testing.T) {
			_, err := env.DeliveryFlow.CreateDelivery(ctx, &dto.CreateDeliveryRequest{
				CampaignUUID: uuid.NewString(),
				Channel:      "paper",
			}, testMetadata())
			require.Error(t, err)
		})

		return nil
	})
	require.NoError(t, err)
}

func TestDeliveryLifecycleTransitions(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newTestEnv(t, testDB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		template, err := fixtures.CreateTestTemplate()
		require.NoError(t, err)
		campaign, err := fixtures.CreateTestCampaign(template.ID, models.ChannelWeb)
		require.NoError(t, err)
		recipient, err := fixtures.CreateTestRecipient()
		require.NoError(t, err)

		createDelivery := func(t *testing.T) *dto.CreateDeliveryResponse {
			t.Helper()
			recipientUUID := recipient.UUID.String()
			resp, err := env.DeliveryFlow.CreateDelivery(ctx, &dto.CreateDeliveryRequest{
				CampaignUUID:  campaign.UUID.String(),
				RecipientUUID: &recipientUUID,
				Channel:       "web",
			}, testMetadata())
			require.NoError(t, err)
			return resp
		}

		t.Run("MarkSentIsIdempotent", func(t *testing.T) {
			created := createDelivery(t)

			first, err := env.DeliveryFlow.MarkSent(ctx, &dto.MarkSentRequest{UUID: created.UUID}, testMetadata())
			require.NoError(t, err)
			assert.Equal(t, "sent", first.Status)

			second, err := env.DeliveryFlow.MarkSent(ctx, &dto.MarkSentRequest{UUID: created.UUID}, testMetadata())
			require.NoError(t, err)
			assert.Equal(t, "sent", second.Status)
		})

		t.Run("MarkRespondedClosesDeliveryAndBurnsToken", func(t *testing.T) {
			created := createDelivery(t)

			first, err := env.DeliveryFlow.MarkResponded(ctx, &dto.MarkRespondedRequest{UUID: created.UUID}, testMetadata())
			require.NoError(t, err)
			assert.Equal(t, "responded", first.Status)

			_, err = env.TokenService.ValidateDeliveryToken(ctx, created.Token)
			require.Error(t, err)

			second, err := env.DeliveryFlow.MarkResponded(ctx, &dto.MarkRespondedRequest{UUID: created.UUID}, testMetadata())
			require.NoError(t, err)
			assert.Equal(t, "responded", second.Status)

			_, err = env.DeliveryFlow.MarkSent(ctx, &dto.MarkSentRequest{UUID: created.UUID}, testMetadata())
			require.Error(t, err)
			assert.True(t, businessflow.IsDeliveryClosed(err))
		})

		t.Run("CancelRevokesToken", func(t *testing.T) {
			created := createDelivery(t)

			resp, err := env.DeliveryFlow.CancelDelivery(ctx, &dto.CancelDeliveryRequest{UUID: created.UUID}, testMetadata())
			require.NoError(t, err)
			assert.Equal(t, "cancelled", resp.Status)

			_, err = env.TokenService.ValidateDeliveryToken(ctx, created.Token)
			require.Error(t, err)
		})

		t.Run("CancelTerminalDeliveryFails", func(t *testing.T) {
			created := createDelivery(t)

			_, err := env.DeliveryFlow.CancelDelivery(ctx, &dto.CancelDeliveryRequest{UUID: created.UUID}, testMetadata())
			require.NoError(t, err)

			_, err = env.DeliveryFlow.CancelDelivery(ctx, &dto.CancelDeliveryRequest{UUID: created.UUID}, testMetadata())
			require.Error(t, err)
		})

		t.Run("ExpireOverdueSweep", func(t *testing.T) {
			delivery, err := fixtures.CreateTestDelivery(campaign, &recipient.ID, models.ChannelWeb, models.DeliveryStatusSent)
			require.NoError(t, err)
			require.NoError(t, testDB.DB.Model(delivery).
				Update("expires_at", utils.UTCNow().Add(-time.Hour)).Error)

			expired, err := env.DeliveryFlow.ExpireOverdue(ctx, 100)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, expired, 1)

			reloaded, err := env.DeliveryRepo.ByUUID(ctx, delivery.UUID.String())
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStatusExpired, reloaded.Status)
		})

		return nil
	})
	require.NoError(t, err)
}

func TestCreateBulkDeliveries(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newTestEnv(t, testDB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		template, err := fixtures.CreateTestTemplate()
		require.NoError(t, err)
		campaign, err := fixtures.CreateTestCampaign(template.ID, models.ChannelEmail)
		require.NoError(t, err)

		t.Run("PartialFailureKeepsGoodRows", func(t *testing.T) {
			first, err := fixtures.CreateTestRecipient()
			require.NoError(t, err)
			second, err := fixtures.CreateTestRecipient()
			require.NoError(t, err)

			resp, err := env.DeliveryFlow.CreateBulkDeliveries(ctx, &dto.CreateBulkDeliveriesRequest{
				CampaignUUID:   campaign.UUID.String(),
				RecipientUUIDs: []string{first.UUID.String(), uuid.NewString(), second.UUID.String()},
				Channel:        "email",
			}, testMetadata())
			require.NoError(t, err)

			assert.Equal(t, 2, resp.Created)
			assert.Equal(t, 1, resp.Failed)
			require.Len(t, resp.Results, 3)
			assert.NotEmpty(t, resp.Results[0].Token)
			assert.NotNil(t, resp.Results[1].Error)
			assert.NotEmpty(t, resp.Results[2].Token)
		})

		t.Run("BulkSizeLimitEnforced", func(t *testing.T) {
			uuids := make([]string, utils.MaxBulkDeliveries+1)
			for i := range uuids {
				uuids[i] = uuid.NewString()
			}
			_, err := env.DeliveryFlow.CreateBulkDeliveries(ctx, &dto.CreateBulkDeliveriesRequest{
				CampaignUUID:   campaign.UUID.String(),
				RecipientUUIDs: uuids,
				Channel:        "email",
			}, testMetadata())
			require.Error(t, err)
		})

		t.Run("BulkPaperCreatesAnonymousPackets", func(t *testing.T) {
			resp, err := env.DeliveryFlow.CreateBulkPaper(ctx, &dto.CreateBulkAnonymousRequest{
				CampaignUUID: campaign.UUID.String(),
				Count:        5,
			}, testMetadata())
			require.NoError(t, err)

			assert.Equal(t, 5, resp.Created)
			require.Len(t, resp.Deliveries, 5)
			for _, d := range resp.Deliveries {
				assert.NotEmpty(t, d.Token)
				delivery, err := env.DeliveryRepo.ByUUID(ctx, d.UUID)
				require.NoError(t, err)
				assert.Equal(t, models.ChannelPaper, delivery.Channel)
				assert.Nil(t, delivery.RecipientID)
			}
		})

		return nil
	})
	require.NoError(t, err)
}

func TestExportTokenManifest(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newTestEnv(t, testDB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		template, err := fixtures.CreateTestTemplate()
		require.NoError(t, err)
		campaign, err := fixtures.CreateTestCampaign(template.ID, models.ChannelPaper)
		require.NoError(t, err)

		_, err = env.DeliveryFlow.CreateBulkPaper(ctx, &dto.CreateBulkAnonymousRequest{
			CampaignUUID: campaign.UUID.String(),
			Count:        3,
		}, testMetadata())
		require.NoError(t, err)

		data, err := env.DeliveryFlow.ExportTokenManifest(ctx, &dto.ExportTokenManifestRequest{
			CampaignUUID: campaign.UUID.String(),
		})
		require.NoError(t, err)
		// xlsx files are zip archives
		require.Greater(t, len(data), 4)
		assert.Equal(t, []byte{'P', 'K'}, data[:2])

		return nil
	})
	require.NoError(t, err)
}
