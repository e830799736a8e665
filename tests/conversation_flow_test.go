package tests

import (
	"strings"
	"testing"
	"time"

	"github.com/sondeo-app/sondeo/app/dto"
	"github.com/sondeo-app/sondeo/models"
	testingutil "github.com/sondeo-app/sondeo/testing"
	"github.com/sondeo-app/sondeo/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationFlow(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newTestEnv(t, testDB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		template, err := fixtures.CreateTestTemplate()
		require.NoError(t, err)
		campaign, err := fixtures.CreateTestCampaign(template.ID, models.ChannelWhatsApp)
		require.NoError(t, err)
		recipient, err := fixtures.CreateTestRecipient()
		require.NoError(t, err)

		from := "+" + *recipient.Phone

		recipientUUID := recipient.UUID.String()
		created, err := env.DeliveryFlow.CreateDelivery(ctx, &dto.CreateDeliveryRequest{
			CampaignUUID:  campaign.UUID.String(),
			RecipientUUID: &recipientUUID,
			Channel:       "whatsapp",
		}, testMetadata())
		require.NoError(t, err)

		inbound := func(t *testing.T, body, buttonID string) {
			t.Helper()
			resp, err := env.ConversationFlow.HandleInbound(ctx, &dto.WhatsAppWebhookRequest{
				From:     from,
				Body:     body,
				ButtonID: buttonID,
			}, testMetadata())
			require.NoError(t, err)
			assert.True(t, resp.Handled)
		}

		lastMessage := func(t *testing.T) string {
			t.Helper()
			require.NotEmpty(t, env.WhatsApp.SentMessages)
			return env.WhatsApp.SentMessages[len(env.WhatsApp.SentMessages)-1].Body
		}

		t.Run("GreetingAsksForConfirmation", func(t *testing.T) {
			inbound(t, "hola", "")
			last := env.WhatsApp.SentMessages[len(env.WhatsApp.SentMessages)-1]
			assert.Contains(t, last.Body, "¿Quieres responderla ahora?")
			assert.Equal(t, []string{"Sí", "No"}, last.Choices)
		})

		t.Run("AffirmativeStartsSurvey", func(t *testing.T) {
			inbound(t, "", "1")
			assert.Contains(t, lastMessage(t), "Pregunta 1 de 4")
		})

		t.Run("InvalidNumberReasks", func(t *testing.T) {
			// answer question 1 (text)
			inbound(t, "Todo estuvo muy bien", "")
			assert.Contains(t, lastMessage(t), "Pregunta 2 de 4")

			// question 2 expects a number
			inbound(t, "muchisimo", "")
			reask := lastMessage(t)
			assert.Contains(t, reask, "Pregunta 2 de 4")

			status, err := env.ConversationFlow.Status(ctx, &dto.ConversationStatusRequest{Identity: from})
			require.NoError(t, err)
			assert.Equal(t, 1, status.Cursor)
		})

		t.Run("AnswersAccumulateAndSubmit", func(t *testing.T) {
			inbound(t, "9", "")
			assert.Contains(t, lastMessage(t), "Pregunta 3 de 4")

			// single choice via button tap
			inbound(t, "", "2")
			assert.Contains(t, lastMessage(t), "Pregunta 4 de 4")

			// optional multi choice by numbers
			inbound(t, "1,3", "")
			assert.Contains(t, lastMessage(t), "Registramos tus respuestas")

			delivery, err := env.DeliveryRepo.ByUUID(ctx, created.UUID)
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStatusResponded, delivery.Status)

			stored, err := env.ResponseRepo.ByDeliveryID(ctx, delivery.ID)
			require.NoError(t, err)
			require.NotNil(t, stored)
			assert.Equal(t, models.SourceWhatsApp, stored.Source)

			// conversation returned to the confirmation stage
			status, err := env.ConversationFlow.Status(ctx, &dto.ConversationStatusRequest{Identity: from})
			require.NoError(t, err)
			assert.Equal(t, string(models.StageAwaitingConfirmation), status.Stage)
			assert.Nil(t, status.DeliveryUUID)
		})

		t.Run("NoPendingSurveyAfterResponse", func(t *testing.T) {
			inbound(t, "iniciar", "")
			assert.Contains(t, lastMessage(t), "No encontramos encuestas pendientes")
		})

		return nil
	})
	require.NoError(t, err)
}

func TestConversationDeclineAndReset(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newTestEnv(t, testDB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		template, err := fixtures.CreateTestTemplate()
		require.NoError(t, err)
		campaign, err := fixtures.CreateTestCampaign(template.ID, models.ChannelWhatsApp)
		require.NoError(t, err)
		recipient, err := fixtures.CreateTestRecipient()
		require.NoError(t, err)

		from := "+" + *recipient.Phone

		recipientUUID := recipient.UUID.String()
		_, err = env.DeliveryFlow.CreateDelivery(ctx, &dto.CreateDeliveryRequest{
			CampaignUUID:  campaign.UUID.String(),
			RecipientUUID: &recipientUUID,
			Channel:       "whatsapp",
		}, testMetadata())
		require.NoError(t, err)

		t.Run("DeclineEndsPolitely", func(t *testing.T) {
			_, err := env.ConversationFlow.HandleInbound(ctx, &dto.WhatsAppWebhookRequest{
				From: from,
				Body: "no gracias",
			}, testMetadata())
			require.NoError(t, err)

			last := env.WhatsApp.SentMessages[len(env.WhatsApp.SentMessages)-1]
			assert.Contains(t, last.Body, "no te molestamos")
		})

		t.Run("ResetDropsContext", func(t *testing.T) {
			// start the survey so there is state to drop
			_, err := env.ConversationFlow.HandleInbound(ctx, &dto.WhatsAppWebhookRequest{
				From: from,
				Body: "iniciar",
			}, testMetadata())
			require.NoError(t, err)

			_, err = env.ConversationFlow.Reset(ctx, &dto.ConversationResetRequest{Identity: from}, testMetadata())
			require.NoError(t, err)

			_, err = env.ConversationFlow.Status(ctx, &dto.ConversationStatusRequest{Identity: from})
			require.Error(t, err)
		})

		t.Run("CleanupStaleDropsIdleConversations", func(t *testing.T) {
			_, err := env.ConversationFlow.HandleInbound(ctx, &dto.WhatsAppWebhookRequest{
				From: from,
				Body: "hola",
			}, testMetadata())
			require.NoError(t, err)

			identity := strings.TrimPrefix(from, "+")
			require.NoError(t, testDB.DB.Model(&models.ConversationContext{}).
				Where("identity = ?", identity).
				Update("last_interaction_at", utils.UTCNow().Add(-48*time.Hour)).Error)

			deleted, err := env.ConversationFlow.CleanupStale(ctx, 24*time.Hour)
			require.NoError(t, err)
			assert.EqualValues(t, 1, deleted)

			_, err = env.ConversationFlow.Status(ctx, &dto.ConversationStatusRequest{Identity: from})
			require.Error(t, err)
		})

		return nil
	})
	require.NoError(t, err)
}
