package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/sondeo-app/sondeo/utils"
	"gorm.io/gorm"
)

// Campaign groups the deliveries of one survey template over one channel.
// Campaign CRUD lives outside the engine; deliveries reference campaigns for
// the template and channel they inherit.
type Campaign struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	UUID         uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uk_campaigns_uuid" json:"uuid"`
	SubscriberID uint            `gorm:"not null;index:idx_campaigns_subscriber_id" json:"subscriber_id"`
	TemplateID   uuid.UUID       `gorm:"type:uuid;not null" json:"template_id"`
	Name         string          `gorm:"type:text;not null" json:"name"`
	Channel      DeliveryChannel `gorm:"type:delivery_channel;not null" json:"channel"`
	ScheduledAt  *time.Time      `json:"scheduled_at,omitempty"`
	CreatedAt    time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`

	// Relations
	Deliveries []Delivery `gorm:"foreignKey:CampaignID" json:"deliveries,omitempty"`
}

// TableName returns the table name for the model
func (Campaign) TableName() string {
	return "campaigns"
}

// BeforeCreate is called before creating a new record
func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

// CampaignFilter represents filter criteria for campaigns
type CampaignFilter struct {
	ID           *uint            `json:"id,omitempty"`
	UUID         *uuid.UUID       `json:"uuid,omitempty"`
	SubscriberID *uint            `json:"subscriber_id,omitempty"`
	Channel      *DeliveryChannel `json:"channel,omitempty"`
}
