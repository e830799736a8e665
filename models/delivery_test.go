package models

import (
	"testing"
	"time"

	"github.com/sondeo-app/sondeo/utils"
	"github.com/stretchr/testify/assert"
)

func TestDeliveryStatusTransitions(t *testing.T) {
	cases := []struct {
		name    string
		from    DeliveryStatus
		to      DeliveryStatus
		allowed bool
	}{
		{"created to sent", DeliveryStatusCreated, DeliveryStatusSent, true},
		{"created to responded", DeliveryStatusCreated, DeliveryStatusResponded, true},
		{"created to expired", DeliveryStatusCreated, DeliveryStatusExpired, true},
		{"created to cancelled", DeliveryStatusCreated, DeliveryStatusCancelled, true},
		{"sent to responded", DeliveryStatusSent, DeliveryStatusResponded, true},
		{"sent to expired", DeliveryStatusSent, DeliveryStatusExpired, true},
		{"sent to cancelled", DeliveryStatusSent, DeliveryStatusCancelled, true},
		{"sent to created", DeliveryStatusSent, DeliveryStatusCreated, false},
		{"responded is terminal", DeliveryStatusResponded, DeliveryStatusSent, false},
		{"responded cannot cancel", DeliveryStatusResponded, DeliveryStatusCancelled, false},
		{"expired is terminal", DeliveryStatusExpired, DeliveryStatusResponded, false},
		{"cancelled is terminal", DeliveryStatusCancelled, DeliveryStatusSent, false},
		{"no self loop", DeliveryStatusSent, DeliveryStatusSent, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &Delivery{Status: tc.from}
			assert.Equal(t, tc.allowed, d.CanTransitionTo(tc.to))
		})
	}
}

func TestDeliveryStatusIsTerminal(t *testing.T) {
	assert.False(t, DeliveryStatusCreated.IsTerminal())
	assert.False(t, DeliveryStatusSent.IsTerminal())
	assert.True(t, DeliveryStatusResponded.IsTerminal())
	assert.True(t, DeliveryStatusExpired.IsTerminal())
	assert.True(t, DeliveryStatusCancelled.IsTerminal())
}

func TestDeliveryIsOpen(t *testing.T) {
	future := utils.UTCNowAdd(time.Hour)
	past := utils.UTCNowAdd(-time.Hour)

	open := &Delivery{Status: DeliveryStatusSent, ExpiresAt: &future}
	assert.True(t, open.IsOpen())

	overdue := &Delivery{Status: DeliveryStatusSent, ExpiresAt: &past}
	assert.False(t, overdue.IsOpen())

	noDeadline := &Delivery{Status: DeliveryStatusCreated}
	assert.True(t, noDeadline.IsOpen())

	terminal := &Delivery{Status: DeliveryStatusResponded, ExpiresAt: &future}
	assert.False(t, terminal.IsOpen())
}

func TestDeliveryChannelRequiresRecipient(t *testing.T) {
	assert.True(t, ChannelEmail.RequiresRecipient())
	assert.True(t, ChannelWhatsApp.RequiresRecipient())
	assert.True(t, ChannelWeb.RequiresRecipient())
	assert.False(t, ChannelPaper.RequiresRecipient())
	assert.False(t, ChannelAudio.RequiresRecipient())
}

func TestDeliveryChannelValid(t *testing.T) {
	for _, c := range []DeliveryChannel{
		ChannelEmail,
		ChannelWhatsApp,
		ChannelWeb,
		ChannelPaper,
		ChannelAudio,
	} {
		assert.True(t, c.Valid(), "channel %s", c)
	}
	assert.False(t, DeliveryChannel("fax").Valid())
}

func TestQuestionTypeHasOptions(t *testing.T) {
	assert.False(t, QuestionTypeText.HasOptions())
	assert.False(t, QuestionTypeNumber.HasOptions())
	assert.True(t, QuestionTypeSingleChoice.HasOptions())
	assert.True(t, QuestionTypeMultiChoice.HasOptions())
}
