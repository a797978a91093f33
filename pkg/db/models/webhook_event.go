package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
)

// WebhookEvent is the audit trail of verified payment processor deliveries.
type WebhookEvent struct {
	ID              uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Provider        string                   `gorm:"column:provider;not null;uniqueIndex:idx_webhook_events_provider_event"`
	ProviderEventID string                   `gorm:"column:provider_event_id;not null;uniqueIndex:idx_webhook_events_provider_event"`
	EventType       string                   `gorm:"column:event_type;not null"`
	Payload         json.RawMessage          `gorm:"column:payload;type:jsonb;not null"`
	Status          enums.WebhookEventStatus `gorm:"column:status;not null"`
	ProcessingError *string                  `gorm:"column:processing_error"`
	ProcessedAt     time.Time                `gorm:"column:processed_at;not null"`
	CreatedAt       time.Time                `gorm:"column:created_at;autoCreateTime"`
}

func (e *WebhookEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
