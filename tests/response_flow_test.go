package tests

import (
	"errors"
	"fmt"
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

// validAnswers builds a complete submission for the fixture template:
// text, number, single choice (first option), multi choice (two options).
func validAnswers(t *testing.T, template *models.SurveyTemplate) []dto.AnswerInput {
	t.Helper()
	questions := template.OrderedQuestions()
	require.Len(t, questions, 4)

	text := "Muy buena experiencia"
	number := 9.0
	singleOption := questions[2].Options[0].ID.String()

	return []dto.AnswerInput{
		{QuestionID: questions[0].ID.String(), Text: &text},
		{QuestionID: questions[1].ID.String(), Number: &number},
		{QuestionID: questions[2].ID.String(), OptionID: &singleOption},
		{QuestionID: questions[3].ID.String(), OptionIDs: []string{
			questions[3].Options[0].ID.String(),
			questions[3].Options[2].ID.String(),
		}},
	}
}

func TestSubmitByToken(t *testing.T) {
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

		t.Run("HappyPath", func(t *testing.T) {
			created := createDelivery(t)

			resp, err := env.ResponseFlow.SubmitByToken(ctx, &dto.SubmitResponseRequest{
				Token:   created.Token,
				Answers: validAnswers(t, template),
			}, testMetadata())
			require.NoError(t, err)
			assert.Equal(t, created.UUID, resp.DeliveryUUID)
			assert.NotEmpty(t, resp.ResponseUUID)

			delivery, err := env.DeliveryRepo.ByUUID(ctx, created.UUID)
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStatusResponded, delivery.Status)
			assert.NotNil(t, delivery.RespondedAt)

			stored, err := env.ResponseRepo.ByDeliveryID(ctx, delivery.ID)
			require.NoError(t, err)
			require.NotNil(t, stored)
			assert.Equal(t, models.SourcePublicToken, stored.Source)

			// The token dies with the submission
			_, err = env.TokenService.ValidateDeliveryToken(ctx, created.Token)
			require.Error(t, err)
		})

		t.Run("AdminSubmitBypassesToken", func(t *testing.T) {
			created := createDelivery(t)

			resp, err := env.ResponseFlow.SubmitAdmin(ctx, &dto.AdminSubmitRequest{
				DeliveryUUID: created.UUID,
				Answers:      validAnswers(t, template),
			}, testMetadata())
			require.NoError(t, err)
			assert.Equal(t, created.UUID, resp.DeliveryUUID)

			delivery, err := env.DeliveryRepo.ByUUID(ctx, created.UUID)
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStatusResponded, delivery.Status)

			stored, err := env.ResponseRepo.ByDeliveryID(ctx, delivery.ID)
			require.NoError(t, err)
			require.NotNil(t, stored)
			assert.Equal(t, models.SourceAdmin, stored.Source)
		})

		t.Run("DuplicateSubmissionRejected", func(t *testing.T) {
			created := createDelivery(t)

			_, err := env.ResponseFlow.SubmitByToken(ctx, &dto.SubmitResponseRequest{
				Token:   created.Token,
				Answers: validAnswers(t, template),
			}, testMetadata())
			require.NoError(t, err)

			// Resubmit through the delivery record; the token itself is revoked
			delivery, err := env.DeliveryRepo.ByUUID(ctx, created.UUID)
			require.NoError(t, err)
			_, err = env.ResponseFlow.SubmitForDelivery(ctx, delivery, validAnswers(t, template), models.SourceAdmin, nil)
			require.Error(t, err)
			assert.True(t, businessflow.IsResponseAlreadyExists(err))
		})

		t.Run("ExpiredDeliveryRejected", func(t *testing.T) {
			created := createDelivery(t)
			require.NoError(t, testDB.DB.Model(&models.Delivery{}).
				Where("uuid = ?", created.UUID).
				Update("expires_at", utils.UTCNow().Add(-time.Minute)).Error)

			_, err := env.ResponseFlow.SubmitByToken(ctx, &dto.SubmitResponseRequest{
				Token:   created.Token,
				Answers: validAnswers(t, template),
			}, testMetadata())
			require.Error(t, err)
			assert.True(t, businessflow.IsDeliveryClosed(err))
		})

		t.Run("ValidationCollectsEveryProblem", func(t *testing.T) {
			created := createDelivery(t)
			questions := template.OrderedQuestions()

			badNumber := "not-a-number"
			answers := []dto.AnswerInput{
				// wrong payload shape for a number question
				{QuestionID: questions[1].ID.String(), Text: &badNumber},
				// question from another template
				{QuestionID: uuid.NewString(), Text: &badNumber},
				// required text and single choice questions left unanswered
			}

			_, err := env.ResponseFlow.SubmitByToken(ctx, &dto.SubmitResponseRequest{
				Token:   created.Token,
				Answers: answers,
			}, testMetadata())
			require.Error(t, err)

			var ve *businessflow.AnswerValidationError
			require.True(t, errors.As(err, &ve))
			assert.GreaterOrEqual(t, len(ve.Details), 3)

			// Nothing was persisted and the delivery stays open
			delivery, err := env.DeliveryRepo.ByUUID(ctx, created.UUID)
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStatusCreated, delivery.Status)
		})

		return nil
	})
	require.NoError(t, err)
}

func TestPublicDeliveryView(t *testing.T) {
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

		recipientUUID := recipient.UUID.String()
		created, err := env.DeliveryFlow.CreateDelivery(ctx, &dto.CreateDeliveryRequest{
			CampaignUUID:  campaign.UUID.String(),
			RecipientUUID: &recipientUUID,
			Channel:       "web",
		}, testMetadata())
		require.NoError(t, err)

		t.Run("RendersQuestionsInOrder", func(t *testing.T) {
			view, err := env.ResponseFlow.PublicDelivery(ctx, created.Token)
			require.NoError(t, err)

			assert.Equal(t, created.UUID, view.DeliveryUUID)
			assert.Equal(t, template.Name, view.TemplateName)
			require.Len(t, view.Questions, 4)
			for i, q := range view.Questions {
				assert.Equal(t, i+1, q.Order)
			}
			assert.Len(t, view.Questions[2].Options, 3)
			assert.False(t, view.Questions[3].Required)
		})

		t.Run("TemplateMapLabelsFields", func(t *testing.T) {
			m, err := env.ResponseFlow.TemplateMap(ctx, created.Token)
			require.NoError(t, err)

			assert.Equal(t, template.ID.String(), m.TemplateID)
			require.Len(t, m.Fields, 4)
			questions := template.OrderedQuestions()
			for _, q := range questions {
				assert.Equal(t, fmt.Sprintf("q%d_%s", q.Order, q.Type), m.Fields[q.ID.String()])
			}
		})

		t.Run("GarbageTokenRejected", func(t *testing.T) {
			_, err := env.ResponseFlow.PublicDelivery(ctx, "not-a-jwt")
			require.Error(t, err)
		})

		return nil
	})
	require.NoError(t, err)
}

func TestFindPendingByContact(t *testing.T) {
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

		recipientUUID := recipient.UUID.String()
		created, err := env.DeliveryFlow.CreateDelivery(ctx, &dto.CreateDeliveryRequest{
			CampaignUUID:  campaign.UUID.String(),
			RecipientUUID: &recipientUUID,
			Channel:       "email",
		}, testMetadata())
		require.NoError(t, err)

		t.Run("ContactRequired", func(t *testing.T) {
			_, err := env.ResponseFlow.FindPendingByContact(ctx, &dto.FindPendingRequest{})
			require.Error(t, err)
		})

		t.Run("ListsOpenDeliveries", func(t *testing.T) {
			resp, err := env.ResponseFlow.FindPendingByContact(ctx, &dto.FindPendingRequest{Email: recipient.Email})
			require.NoError(t, err)

			require.Len(t, resp.Deliveries, 1)
			item := resp.Deliveries[0]
			assert.Equal(t, created.UUID, item.DeliveryUUID)
			assert.Equal(t, campaign.Name, item.CampaignName)
			assert.NotEmpty(t, item.SurveyURL)
		})

		t.Run("RespondedDeliveryDisappears", func(t *testing.T) {
			_, err := env.ResponseFlow.SubmitByToken(ctx, &dto.SubmitResponseRequest{
				Token:   created.Token,
				Answers: validAnswers(t, template),
			}, testMetadata())
			require.NoError(t, err)

			resp, err := env.ResponseFlow.FindPendingByContact(ctx, &dto.FindPendingRequest{Email: recipient.Email})
			require.NoError(t, err)
			assert.Empty(t, resp.Deliveries)
		})

		return nil
	})
	require.NoError(t, err)
}
