package businessflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sondeo-app/sondeo/app/dto"
	"github.com/sondeo-app/sondeo/app/services"
	"github.com/sondeo-app/sondeo/models"
	"github.com/sondeo-app/sondeo/repository"
	"gorm.io/gorm"
)

// ConversationFlow drives the one-question-at-a-time WhatsApp exchange
type ConversationFlow interface {
	HandleInbound(ctx context.Context, req *dto.WhatsAppWebhookRequest, metadata *ClientMetadata) (*dto.WhatsAppWebhookResponse, error)
	Reset(ctx context.Context, req *dto.ConversationResetRequest, metadata *ClientMetadata) (*dto.ConversationResetResponse, error)
	Status(ctx context.Context, req *dto.ConversationStatusRequest) (*dto.ConversationStatusResponse, error)
	CleanupStale(ctx context.Context, idleLimit time.Duration) (int64, error)
}

// ConversationFlowImpl implements the conversational business flow
type ConversationFlowImpl struct {
	contextRepo  repository.ConversationContextRepository
	deliveryRepo repository.DeliveryRepository
	campaignRepo repository.CampaignRepository
	templateRepo repository.TemplateRepository
	responseFlow ResponseFlow
	whatsapp     services.WhatsAppService
	db           *gorm.DB
}

// NewConversationFlow creates a new conversation flow instance
func NewConversationFlow(
	contextRepo repository.ConversationContextRepository,
	deliveryRepo repository.DeliveryRepository,
	campaignRepo repository.CampaignRepository,
	templateRepo repository.TemplateRepository,
	responseFlow ResponseFlow,
	whatsapp services.WhatsAppService,
	db *gorm.DB,
) ConversationFlow {
	return &ConversationFlowImpl{
		contextRepo:  contextRepo,
		deliveryRepo: deliveryRepo,
		campaignRepo: campaignRepo,
		templateRepo: templateRepo,
		responseFlow: responseFlow,
		whatsapp:     whatsapp,
		db:           db,
	}
}

// HandleInbound processes one inbound message for its sender's conversation.
// Messages for the same identity are serialized by an in-process lock, so a
// double-tapped button cannot advance the cursor twice.
func (s *ConversationFlowImpl) HandleInbound(ctx context.Context, req *dto.WhatsAppWebhookRequest, metadata *ClientMetadata) (*dto.WhatsAppWebhookResponse, error) {
	identity := normalizeIdentity(req.From)
	if identity == "" {
		return nil, NewBusinessError("IDENTITY_REQUIRED", "Sender identity is required", ErrContactRequired)
	}

	lockIdentity(identity)
	defer unlockIdentity(identity)

	cc, err := s.contextRepo.ByIdentity(ctx, identity)
	if err != nil {
		return nil, NewBusinessError("CONVERSATION_LOOKUP_FAILED", "Failed to lookup conversation", err)
	}
	if cc == nil {
		cc = &models.ConversationContext{Identity: identity}
		if err := s.contextRepo.Save(ctx, cc); err != nil {
			return nil, NewBusinessError("CONVERSATION_SAVE_FAILED", "Failed to create conversation", err)
		}
	}

	switch cc.Stage {
	case models.StageInProgress:
		err = s.handleAnswer(ctx, cc, req)
	default:
		err = s.handleConfirmation(ctx, cc, req)
	}
	if err != nil {
		return nil, err
	}

	return &dto.WhatsAppWebhookResponse{Message: "Message processed", Handled: true}, nil
}

// handleConfirmation waits for the recipient to accept or decline the survey
func (s *ConversationFlowImpl) handleConfirmation(ctx context.Context, cc *models.ConversationContext, req *dto.WhatsAppWebhookRequest) error {
	if isDecline(req) {
		if err := s.whatsapp.SendText(ctx, cc.Identity, "Entendido, no te molestamos más. Escribe \"iniciar\" si cambias de opinión."); err != nil {
			return err
		}
		cc.Clear()
		return s.contextRepo.Update(ctx, cc)
	}

	if !isAffirmative(req) {
		return s.whatsapp.SendChoices(ctx, cc.Identity,
			"Hola, tienes una encuesta pendiente. ¿Quieres responderla ahora?", []string{"Sí", "No"})
	}

	delivery, err := s.openWhatsAppDelivery(ctx, cc.Identity)
	if err != nil {
		return err
	}
	if delivery == nil {
		return s.whatsapp.SendText(ctx, cc.Identity, "No encontramos encuestas pendientes para este número. Gracias.")
	}

	template, err := loadTemplateForDelivery(ctx, s.campaignRepo, s.templateRepo, delivery)
	if err != nil {
		return err
	}
	questions := template.OrderedQuestions()
	if len(questions) == 0 {
		return s.whatsapp.SendText(ctx, cc.Identity, "La encuesta no tiene preguntas. Gracias.")
	}

	cc.ActiveDeliveryID = &delivery.ID
	cc.Stage = models.StageInProgress
	cc.Cursor = 0
	cc.AnsweredQuestionIDs = nil
	cc.PendingAnswers = nil
	if err := s.contextRepo.Update(ctx, cc); err != nil {
		return NewBusinessError("CONVERSATION_SAVE_FAILED", "Failed to update conversation", err)
	}

	return s.askQuestion(ctx, cc.Identity, &questions[0], 1, len(questions))
}

// handleAnswer validates the message against the question at the cursor,
// accumulates the fragment and either asks the next question or submits the
// finished set through the shared ingestion path.
func (s *ConversationFlowImpl) handleAnswer(ctx context.Context, cc *models.ConversationContext, req *dto.WhatsAppWebhookRequest) error {
	if cc.ActiveDeliveryID == nil {
		cc.Clear()
		_ = s.contextRepo.Update(ctx, cc)
		return s.whatsapp.SendText(ctx, cc.Identity, "La conversación se reinició. Escribe \"iniciar\" para comenzar de nuevo.")
	}

	delivery, err := s.deliveryRepo.ByID(ctx, *cc.ActiveDeliveryID)
	if err != nil {
		return NewBusinessError("DELIVERY_LOOKUP_FAILED", "Failed to lookup delivery", err)
	}
	if delivery == nil || !delivery.IsOpen() {
		cc.Clear()
		_ = s.contextRepo.Update(ctx, cc)
		return s.whatsapp.SendText(ctx, cc.Identity, "Esta encuesta ya no está disponible. Gracias por tu tiempo.")
	}

	template, err := loadTemplateForDelivery(ctx, s.campaignRepo, s.templateRepo, delivery)
	if err != nil {
		return err
	}
	questions := template.OrderedQuestions()
	if cc.Cursor >= len(questions) {
		return s.finalize(ctx, cc, delivery, template)
	}

	question := &questions[cc.Cursor]

	if isSkip(req) && !question.IsRequired() {
		cc.Cursor++
	} else {
		fragment, reason := parseConversationalAnswer(question, req)
		if reason != "" {
			hint := fmt.Sprintf("%s\n\n%s", reason, renderQuestion(question, cc.Cursor+1, len(questions)))
			return s.whatsapp.SendText(ctx, cc.Identity, hint)
		}
		cc.PendingAnswers = append(cc.PendingAnswers, *fragment)
		cc.AnsweredQuestionIDs = append(cc.AnsweredQuestionIDs, question.ID.String())
		cc.Cursor++
	}

	if cc.Cursor >= len(questions) {
		return s.finalize(ctx, cc, delivery, template)
	}

	if err := s.contextRepo.Update(ctx, cc); err != nil {
		return NewBusinessError("CONVERSATION_SAVE_FAILED", "Failed to update conversation", err)
	}

	return s.askQuestion(ctx, cc.Identity, &questions[cc.Cursor], cc.Cursor+1, len(questions))
}

// finalize submits the accumulated fragments as the delivery's response and
// resets the conversation either way
func (s *ConversationFlowImpl) finalize(ctx context.Context, cc *models.ConversationContext, delivery *models.Delivery, template *models.SurveyTemplate) error {
	answers := make([]dto.AnswerInput, 0, len(cc.PendingAnswers))
	for _, p := range cc.PendingAnswers {
		answers = append(answers, dto.AnswerInput{
			QuestionID: p.QuestionID,
			Text:       p.Text,
			Number:     p.Number,
			OptionID:   p.OptionID,
			OptionIDs:  p.OptionIDs,
		})
	}

	rawPayload, _ := json.Marshal(cc.PendingAnswers)
	_, err := s.responseFlow.SubmitForDelivery(ctx, delivery, answers, models.SourceWhatsApp, rawPayload)

	cc.Clear()
	if updateErr := s.contextRepo.Update(ctx, cc); updateErr != nil {
		return NewBusinessError("CONVERSATION_SAVE_FAILED", "Failed to reset conversation", updateErr)
	}

	if err != nil {
		if IsResponseAlreadyExists(err) || IsDeliveryClosed(err) {
			return s.whatsapp.SendText(ctx, cc.Identity, "Esta encuesta ya fue respondida. Gracias.")
		}
		return err
	}

	return s.whatsapp.SendText(ctx, cc.Identity, "¡Listo! Registramos tus respuestas. Muchas gracias por tu tiempo.")
}

// Reset wipes a conversation so the next inbound message starts fresh
func (s *ConversationFlowImpl) Reset(ctx context.Context, req *dto.ConversationResetRequest, metadata *ClientMetadata) (*dto.ConversationResetResponse, error) {
	identity := normalizeIdentity(req.Identity)

	lockIdentity(identity)
	defer unlockIdentity(identity)

	if err := s.contextRepo.DeleteByIdentity(ctx, identity); err != nil {
		return nil, NewBusinessError("CONVERSATION_RESET_FAILED", "Failed to reset conversation", err)
	}

	return &dto.ConversationResetResponse{Message: "Conversation reset"}, nil
}

// Status reports where a conversation currently stands
func (s *ConversationFlowImpl) Status(ctx context.Context, req *dto.ConversationStatusRequest) (*dto.ConversationStatusResponse, error) {
	identity := normalizeIdentity(req.Identity)

	cc, err := s.contextRepo.ByIdentity(ctx, identity)
	if err != nil {
		return nil, NewBusinessError("CONVERSATION_LOOKUP_FAILED", "Failed to lookup conversation", err)
	}
	if cc == nil {
		return nil, NewBusinessError("CONVERSATION_NOT_FOUND", "Conversation not found", ErrConversationNotFound)
	}

	resp := &dto.ConversationStatusResponse{
		Identity:          cc.Identity,
		Stage:             string(cc.Stage),
		Cursor:            cc.Cursor,
		QuestionsAnswered: len(cc.AnsweredQuestionIDs),
		LastInteractionAt: cc.LastInteractionAt.Format(time.RFC3339),
	}

	if cc.ActiveDeliveryID != nil {
		delivery, err := s.deliveryRepo.ByID(ctx, *cc.ActiveDeliveryID)
		if err == nil && delivery != nil {
			uuid := delivery.UUID.String()
			resp.DeliveryUUID = &uuid
			if template, err := loadTemplateForDelivery(ctx, s.campaignRepo, s.templateRepo, delivery); err == nil {
				resp.QuestionsTotal = len(template.Questions)
			}
		}
	}

	return resp, nil
}

// CleanupStale drops conversations idle past the limit
func (s *ConversationFlowImpl) CleanupStale(ctx context.Context, idleLimit time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-idleLimit)
	return s.contextRepo.DeleteStale(ctx, cutoff)
}

// openWhatsAppDelivery finds the most recent open whatsapp delivery addressed
// to the identity's phone number
func (s *ConversationFlowImpl) openWhatsAppDelivery(ctx context.Context, identity string) (*models.Delivery, error) {
	phone := identity
	deliveries, err := s.deliveryRepo.OpenByRecipientContact(ctx, nil, &phone)
	if err != nil {
		return nil, NewBusinessError("PENDING_LOOKUP_FAILED", "Failed to lookup pending deliveries", err)
	}
	for _, d := range deliveries {
		if d.Channel == models.ChannelWhatsApp {
			return d, nil
		}
	}
	return nil, nil
}

func (s *ConversationFlowImpl) askQuestion(ctx context.Context, identity string, question *models.Question, position, total int) error {
	body := renderQuestion(question, position, total)

	if question.Type == models.QuestionTypeSingleChoice && len(question.Options) <= 3 {
		choices := make([]string, 0, len(question.Options))
		for _, opt := range question.Options {
			choices = append(choices, opt.Text)
		}
		return s.whatsapp.SendChoices(ctx, identity, body, choices)
	}

	return s.whatsapp.SendText(ctx, identity, body)
}

// renderQuestion formats one question for a chat message, numbering options
// so they can be answered by index
func renderQuestion(question *models.Question, position, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pregunta %d de %d:\n%s", position, total, question.Text)

	if question.Type.HasOptions() {
		for i, opt := range question.Options {
			fmt.Fprintf(&b, "\n%d. %s", i+1, opt.Text)
		}
		if question.Type == models.QuestionTypeMultiChoice {
			b.WriteString("\n\nResponde con los números separados por comas, por ejemplo: 1,3")
		}
	}
	if !question.IsRequired() {
		b.WriteString("\n(Opcional, escribe \"omitir\" para saltar)")
	}

	return b.String()
}

// parseConversationalAnswer turns a chat message into an answer fragment for
// the question being asked. Choice answers accept a tapped button index, a
// typed number or the option text itself.
func parseConversationalAnswer(question *models.Question, req *dto.WhatsAppWebhookRequest) (*models.PendingAnswer, string) {
	fragment := &models.PendingAnswer{QuestionID: question.ID.String()}
	body := strings.TrimSpace(req.Body)

	switch question.Type {
	case models.QuestionTypeText:
		if body == "" {
			return nil, "Necesitamos una respuesta de texto."
		}
		fragment.Text = &body

	case models.QuestionTypeNumber:
		n, err := strconv.ParseFloat(strings.ReplaceAll(body, ",", "."), 64)
		if err != nil {
			return nil, "Necesitamos un número."
		}
		fragment.Number = &n

	case models.QuestionTypeSingleChoice:
		option := resolveOption(question, req.ButtonID, body)
		if option == nil {
			return nil, "No reconocimos esa opción. Responde con el número de una opción."
		}
		id := option.ID.String()
		fragment.OptionID = &id

	case models.QuestionTypeMultiChoice:
		parts := strings.FieldsFunc(body, func(r rune) bool { return r == ',' || r == ';' })
		seen := make(map[string]bool, len(parts))
		for _, part := range parts {
			option := resolveOption(question, "", strings.TrimSpace(part))
			if option == nil {
				return nil, "No reconocimos alguna de las opciones. Responde con los números separados por comas."
			}
			id := option.ID.String()
			if seen[id] {
				continue
			}
			seen[id] = true
			fragment.OptionIDs = append(fragment.OptionIDs, id)
		}
		if len(fragment.OptionIDs) == 0 {
			return nil, "Selecciona al menos una opción."
		}

	default:
		return nil, "No podemos procesar esta pregunta."
	}

	return fragment, ""
}

// resolveOption maps a button index or typed value onto a question option.
// Button ids are the 1-based index of the choices as sent.
func resolveOption(question *models.Question, buttonID, body string) *models.QuestionOption {
	value := buttonID
	if value == "" {
		value = body
	}
	if value == "" {
		return nil
	}

	if idx, err := strconv.Atoi(value); err == nil {
		if idx >= 1 && idx <= len(question.Options) {
			return &question.Options[idx-1]
		}
		return nil
	}

	return matchOption(question, value)
}

func normalizeIdentity(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "+")
	return strings.ReplaceAll(cleaned, " ", "")
}

func isAffirmative(req *dto.WhatsAppWebhookRequest) bool {
	if req.ButtonID == "1" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(req.Body)) {
	case "si", "sí", "yes", "ok", "iniciar", "empezar", "comenzar":
		return true
	}
	return false
}

func isDecline(req *dto.WhatsAppWebhookRequest) bool {
	if req.ButtonID == "2" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(req.Body)) {
	case "no", "no gracias", "cancelar":
		return true
	}
	return false
}

func isSkip(req *dto.WhatsAppWebhookRequest) bool {
	body := strings.ToLower(strings.TrimSpace(req.Body))
	return body == "omitir" || body == "skip" || body == "saltar"
}
