package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sondeo-app/sondeo/utils"
	"gorm.io/gorm"
)

// DeliveryChannel is the medium used to reach a recipient
type DeliveryChannel string

const (
	ChannelEmail    DeliveryChannel = "email"
	ChannelWhatsApp DeliveryChannel = "whatsapp"
	ChannelWeb      DeliveryChannel = "web"
	ChannelPaper    DeliveryChannel = "paper"
	ChannelAudio    DeliveryChannel = "audio"
)

// String returns the string representation of the channel
func (c DeliveryChannel) String() string {
	return string(c)
}

// Valid checks if the channel is valid
func (c DeliveryChannel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelWhatsApp, ChannelWeb, ChannelPaper, ChannelAudio:
		return true
	default:
		return false
	}
}

// RequiresRecipient reports whether deliveries on this channel must reference
// a recipient. Paper and audio packets are printed/recorded anonymously and
// get bound to a person only when the filled form or recording comes back.
func (c DeliveryChannel) RequiresRecipient() bool {
	return c != ChannelPaper && c != ChannelAudio
}

// Scan implements the sql.Scanner interface for DeliveryChannel
func (c *DeliveryChannel) Scan(value any) error {
	if value == nil {
		*c = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*c = DeliveryChannel(v)
	case []byte:
		*c = DeliveryChannel(string(v))
	default:
		return fmt.Errorf("cannot scan %T into DeliveryChannel", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for DeliveryChannel
func (c DeliveryChannel) Value() (driver.Value, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid DeliveryChannel: %s", c)
	}
	return string(c), nil
}

// DeliveryStatus represents the lifecycle state of a delivery
type DeliveryStatus string

const (
	DeliveryStatusCreated   DeliveryStatus = "created"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusResponded DeliveryStatus = "responded"
	DeliveryStatusExpired   DeliveryStatus = "expired"
	DeliveryStatusCancelled DeliveryStatus = "cancelled"
)

// String returns the string representation of the status
func (s DeliveryStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusCreated, DeliveryStatusSent, DeliveryStatusResponded,
		DeliveryStatusExpired, DeliveryStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are permitted
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case DeliveryStatusResponded, DeliveryStatusExpired, DeliveryStatusCancelled:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for DeliveryStatus
func (s *DeliveryStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = DeliveryStatus(v)
	case []byte:
		*s = DeliveryStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into DeliveryStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for DeliveryStatus
func (s DeliveryStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid DeliveryStatus: %s", s)
	}
	return string(s), nil
}

// Delivery is one instance of a survey template sent to one recipient through
// one channel. The channel is immutable after creation; status only moves
// forward (cancellation being the administrative exit from any open state).
type Delivery struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UUID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uk_deliveries_uuid" json:"uuid"`
	CampaignID  uint            `gorm:"not null;index:idx_deliveries_campaign_id" json:"campaign_id"`
	RecipientID *uint           `gorm:"index:idx_deliveries_recipient_id" json:"recipient_id,omitempty"`
	Channel     DeliveryChannel `gorm:"type:delivery_channel;not null" json:"channel"`
	Status      DeliveryStatus  `gorm:"type:delivery_status;not null;default:'created';index:idx_deliveries_status" json:"status"`

	// DispatchError holds the last channel send failure; the delivery stays
	// in created until a dispatch attempt succeeds.
	DispatchError *string `gorm:"type:text" json:"dispatch_error,omitempty"`

	ExpiresAt   *time.Time `gorm:"index:idx_deliveries_expires_at" json:"expires_at,omitempty"`
	CreatedAt   time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`

	// Relations
	Campaign    *Campaign    `gorm:"foreignKey:CampaignID;references:ID" json:"campaign,omitempty"`
	Recipient   *Recipient   `gorm:"foreignKey:RecipientID;references:ID" json:"recipient,omitempty"`
	Response    *Response    `gorm:"foreignKey:DeliveryID;references:ID" json:"response,omitempty"`
	AccessToken *AccessToken `gorm:"foreignKey:DeliveryID;references:ID" json:"access_token,omitempty"`
}

// TableName returns the table name for the model
func (Delivery) TableName() string {
	return "deliveries"
}

// BeforeCreate is called before creating a new record
func (d *Delivery) BeforeCreate(tx *gorm.DB) error {
	if d.UUID == uuid.Nil {
		d.UUID = uuid.New()
	}
	if d.Status == "" {
		d.Status = DeliveryStatusCreated
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = utils.UTCNow()
	}
	return nil
}

// IsTerminal reports whether the delivery reached a terminal state
func (d *Delivery) IsTerminal() bool {
	return d.Status.IsTerminal()
}

// IsOpen reports whether the delivery can still accept a response. A delivery
// past its deadline is closed even before the expiry sweep flips its status.
func (d *Delivery) IsOpen() bool {
	if d.Status != DeliveryStatusCreated && d.Status != DeliveryStatusSent {
		return false
	}
	return !utils.IsExpiredPtr(d.ExpiresAt)
}

// CanTransitionTo checks if the delivery can move to the given status.
// Cancellation is allowed from any non-terminal state; everything else moves
// strictly forward.
func (d *Delivery) CanTransitionTo(next DeliveryStatus) bool {
	if d.Status.IsTerminal() {
		return false
	}
	switch next {
	case DeliveryStatusSent:
		return d.Status == DeliveryStatusCreated
	case DeliveryStatusResponded:
		return d.Status == DeliveryStatusCreated || d.Status == DeliveryStatusSent
	case DeliveryStatusExpired:
		return d.Status == DeliveryStatusCreated || d.Status == DeliveryStatusSent
	case DeliveryStatusCancelled:
		return true
	default:
		return false
	}
}

// DeliveryFilter represents filter criteria for deliveries
type DeliveryFilter struct {
	ID            *uint            `json:"id,omitempty"`
	UUID          *uuid.UUID       `json:"uuid,omitempty"`
	CampaignID    *uint            `json:"campaign_id,omitempty"`
	RecipientID   *uint            `json:"recipient_id,omitempty"`
	Channel       *DeliveryChannel `json:"channel,omitempty"`
	Status        *DeliveryStatus  `json:"status,omitempty"`
	OpenOnly      bool             `json:"open_only,omitempty"`
	ExpiresBefore *time.Time       `json:"expires_before,omitempty"`
	CreatedAfter  *time.Time       `json:"created_after,omitempty"`
	CreatedBefore *time.Time       `json:"created_before,omitempty"`
}
