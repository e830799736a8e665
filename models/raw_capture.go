package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sondeo-app/sondeo/utils"
	"gorm.io/gorm"
)

// CaptureState is the extraction pipeline state of a raw capture
type CaptureState string

const (
	CaptureStatePending    CaptureState = "pending"
	CaptureStateProcessing CaptureState = "processing"
	CaptureStateExtracted  CaptureState = "extracted"
	CaptureStateFailed     CaptureState = "failed"
)

// Valid checks if the state is valid
func (s CaptureState) Valid() bool {
	switch s {
	case CaptureStatePending, CaptureStateProcessing, CaptureStateExtracted, CaptureStateFailed:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CaptureState
func (s *CaptureState) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = CaptureState(v)
	case []byte:
		*s = CaptureState(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CaptureState", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for CaptureState
func (s CaptureState) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CaptureState: %s", s)
	}
	return string(s), nil
}

// MediaKind distinguishes what kind of blob a capture points at
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindImage MediaKind = "image"
)

// Valid checks if the media kind is valid
func (k MediaKind) Valid() bool {
	return k == MediaKindAudio || k == MediaKindImage
}

// Scan implements the sql.Scanner interface for MediaKind
func (k *MediaKind) Scan(value any) error {
	if value == nil {
		*k = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*k = MediaKind(v)
	case []byte:
		*k = MediaKind(string(v))
	default:
		return fmt.Errorf("cannot scan %T into MediaKind", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for MediaKind
func (k MediaKind) Value() (driver.Value, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid MediaKind: %s", k)
	}
	return string(k), nil
}

// RawCapture is an unprocessed audio recording or scanned form awaiting
// structured extraction. The blob itself lives in object storage; MediaKey is
// the object key. A capture is consumed exactly once: extracted is terminal
// on the success path, failed on the exhausted-retries path.
type RawCapture struct {
	ID         uint         `gorm:"primaryKey" json:"id"`
	UUID       uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:uk_raw_captures_uuid" json:"uuid"`
	DeliveryID uint         `gorm:"not null;index:idx_raw_captures_delivery_id" json:"delivery_id"`
	MediaKey   string       `gorm:"type:text;not null" json:"media_key"`
	MediaKind  MediaKind    `gorm:"type:media_kind;not null" json:"media_kind"`
	State      CaptureState `gorm:"type:capture_state;not null;default:'pending';index:idx_raw_captures_state" json:"state"`
	RetryCount int          `gorm:"not null;default:0" json:"retry_count"`
	LastError  *string      `gorm:"type:text" json:"last_error,omitempty"`
	CapturedAt time.Time    `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"captured_at"`
	UpdatedAt  *time.Time   `json:"updated_at,omitempty"`

	// Relations
	Delivery *Delivery `gorm:"foreignKey:DeliveryID;references:ID" json:"delivery,omitempty"`
}

// TableName returns the table name for the model
func (RawCapture) TableName() string {
	return "raw_captures"
}

// BeforeCreate is called before creating a new record
func (c *RawCapture) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.State == "" {
		c.State = CaptureStatePending
	}
	if c.CapturedAt.IsZero() {
		c.CapturedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (c *RawCapture) BeforeUpdate(tx *gorm.DB) error {
	c.UpdatedAt = utils.UTCNowPtr()
	return nil
}

// RawCaptureFilter represents filter criteria for raw captures
type RawCaptureFilter struct {
	ID         *uint         `json:"id,omitempty"`
	UUID       *uuid.UUID    `json:"uuid,omitempty"`
	DeliveryID *uint         `json:"delivery_id,omitempty"`
	State      *CaptureState `json:"state,omitempty"`
	MediaKind  *MediaKind    `json:"media_kind,omitempty"`
}
