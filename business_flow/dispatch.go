package businessflow

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sondeo-app/sondeo/app/services"
	"github.com/sondeo-app/sondeo/config"
	"github.com/sondeo-app/sondeo/models"
)

// ChannelRouter fans a delivery out to its channel's provider. Email and
// WhatsApp push an invitation to the recipient; web deliveries have no
// outbound leg (the link is shared externally); paper deliveries render a
// printable packet instead of sending anything.
type ChannelRouter interface {
	Dispatch(ctx context.Context, delivery *models.Delivery, recipient *models.Recipient, campaign *models.Campaign, token string) error
	RenderArtifact(ctx context.Context, template *models.SurveyTemplate, token string) ([]byte, error)
	SurveyURL(token string) string
}

// ChannelRouterImpl implements ChannelRouter
type ChannelRouterImpl struct {
	emailService    services.EmailService
	whatsappService services.WhatsAppService
	renderer        services.DocumentRenderer
	dispatchConfig  config.DispatchConfig
	emailConfig     config.EmailConfig
}

// NewChannelRouter creates a new channel router
func NewChannelRouter(
	emailService services.EmailService,
	whatsappService services.WhatsAppService,
	renderer services.DocumentRenderer,
	dispatchConfig config.DispatchConfig,
	emailConfig config.EmailConfig,
) ChannelRouter {
	return &ChannelRouterImpl{
		emailService:    emailService,
		whatsappService: whatsappService,
		renderer:        renderer,
		dispatchConfig:  dispatchConfig,
		emailConfig:     emailConfig,
	}
}

// SurveyURL builds the public link for a delivery token
func (r *ChannelRouterImpl) SurveyURL(token string) string {
	return fmt.Sprintf("%s/%s", r.dispatchConfig.SurveyBaseURL, url.PathEscape(token))
}

// Dispatch sends the delivery's invitation over its channel. A nil error
// means the provider accepted the send; deliveries on channels without an
// outbound leg always succeed.
func (r *ChannelRouterImpl) Dispatch(ctx context.Context, delivery *models.Delivery, recipient *models.Recipient, campaign *models.Campaign, token string) error {
	ctx, cancel := context.WithTimeout(ctx, r.dispatchConfig.Timeout)
	defer cancel()

	switch delivery.Channel {
	case models.ChannelEmail:
		if recipient == nil || recipient.Email == nil {
			return ErrRecipientRequired
		}
		subject := fmt.Sprintf("%s - tu opinion nos importa", campaign.Name)
		body := r.renderInviteEmail(recipient, campaign, token)
		return r.emailService.SendSurveyInvite(ctx, *recipient.Email, subject, body)

	case models.ChannelWhatsApp:
		if recipient == nil || recipient.Phone == nil {
			return ErrRecipientRequired
		}
		greeting := fmt.Sprintf(
			"Hola %s, te invitamos a responder la encuesta \"%s\". Responde *si* para comenzar por este chat, o abre %s.",
			recipient.DisplayName(), campaign.Name, r.SurveyURL(token),
		)
		return r.whatsappService.SendChoices(ctx, *recipient.Phone, greeting, []string{"Si", "No"})

	case models.ChannelWeb, models.ChannelPaper, models.ChannelAudio:
		// No outbound leg. Web links are shared out of band; paper and audio
		// packets are produced through RenderArtifact and distribution is
		// physical.
		return nil

	default:
		return ErrInvalidChannel
	}
}

// RenderArtifact produces the printable packet for paper deliveries
func (r *ChannelRouterImpl) RenderArtifact(ctx context.Context, template *models.SurveyTemplate, token string) ([]byte, error) {
	return r.renderer.RenderSurveyForm(ctx, template, token)
}

func (r *ChannelRouterImpl) renderInviteEmail(recipient *models.Recipient, campaign *models.Campaign, token string) string {
	link := r.SurveyURL(token)
	return fmt.Sprintf(`<html><body>
<p>Hola %s,</p>
<p>Te invitamos a responder la encuesta <strong>%s</strong>. Solo toma unos minutos.</p>
<p><a href="%s">Responder encuesta</a></p>
<p>Si el enlace no funciona, copia esta direccion en tu navegador: %s</p>
<p>%s</p>
</body></html>`, recipient.DisplayName(), campaign.Name, link, link, r.emailConfig.FromName)
}
