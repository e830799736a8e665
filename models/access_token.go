package models

import (
	"time"

	"github.com/sondeo-app/sondeo/utils"
	"gorm.io/gorm"
)

// AccessToken is the stored side of a public survey token. The token string
// itself is a signed JWT; this row exists so validation can cross-check
// revocation and so token→delivery stays a bijection. Unknown tokens fail
// closed regardless of signature.
type AccessToken struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Token      string     `gorm:"type:text;not null;uniqueIndex:uk_access_tokens_token" json:"token"`
	DeliveryID uint       `gorm:"not null;uniqueIndex:uk_access_tokens_delivery_id" json:"delivery_id"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`

	// Relations
	Delivery *Delivery `gorm:"foreignKey:DeliveryID;references:ID" json:"delivery,omitempty"`
}

// TableName returns the table name for the model
func (AccessToken) TableName() string {
	return "access_tokens"
}

// BeforeCreate is called before creating a new record
func (t *AccessToken) BeforeCreate(tx *gorm.DB) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = utils.UTCNow()
	}
	return nil
}

// IsRevoked reports whether the token has been revoked
func (t *AccessToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsExpired reports whether the token is past its expiry
func (t *AccessToken) IsExpired() bool {
	return utils.IsExpiredPtr(t.ExpiresAt)
}

// AccessTokenFilter represents filter criteria for access tokens
type AccessTokenFilter struct {
	ID         *uint   `json:"id,omitempty"`
	Token      *string `json:"token,omitempty"`
	DeliveryID *uint   `json:"delivery_id,omitempty"`
}
