package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/sondeo-app/sondeo/utils"
	"gorm.io/gorm"
)

// Recipient is a person deliveries are addressed to. Contact import and
// directory management are external; the engine only reads these rows for
// dispatch addressing and lookup-by-contact.
type Recipient struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UUID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_recipients_uuid" json:"uuid"`
	SubscriberID uint      `gorm:"not null;index:idx_recipients_subscriber_id" json:"subscriber_id"`
	Name         *string   `gorm:"type:text" json:"name,omitempty"`
	Email        *string   `gorm:"type:text;index:idx_recipients_email" json:"email,omitempty"`
	Phone        *string   `gorm:"type:text;index:idx_recipients_phone" json:"phone,omitempty"`
	CreatedAt    time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for the model
func (Recipient) TableName() string {
	return "recipients"
}

// BeforeCreate is called before creating a new record
func (r *Recipient) BeforeCreate(tx *gorm.DB) error {
	if r.UUID == uuid.Nil {
		r.UUID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = utils.UTCNow()
	}
	return nil
}

// DisplayName returns the recipient name or a generic fallback greeting name
func (r *Recipient) DisplayName() string {
	if r.Name != nil && *r.Name != "" {
		return *r.Name
	}
	return "estimado/a"
}

// RecipientFilter represents filter criteria for recipients
type RecipientFilter struct {
	ID           *uint      `json:"id,omitempty"`
	UUID         *uuid.UUID `json:"uuid,omitempty"`
	SubscriberID *uint      `json:"subscriber_id,omitempty"`
	Email        *string    `json:"email,omitempty"`
	Phone        *string    `json:"phone,omitempty"`
}
