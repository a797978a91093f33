package creemwebhook

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
)

const maxProcessingErrorLen = 2048

// AuditRepository appends verified deliveries to webhook_events.
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(conn *gorm.DB) *AuditRepository {
	return &AuditRepository{db: conn}
}

// WithTx returns a repository bound to tx.
func (r *AuditRepository) WithTx(tx *gorm.DB) *AuditRepository {
	return &AuditRepository{db: tx}
}

// Record writes the audit row. A row already present for the event id is kept.
func (r *AuditRepository) Record(ctx context.Context, event Event, payload []byte, status enums.WebhookEventStatus, processingError string, at time.Time) error {
	row := models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: event.EventID(),
		EventType:       event.EventType(),
		Payload:         auditPayload(payload),
		Status:          status,
		ProcessedAt:     at.UTC(),
	}
	if processingError != "" {
		if len(processingError) > maxProcessingErrorLen {
			processingError = processingError[:maxProcessingErrorLen]
		}
		row.ProcessingError = &processingError
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(&row).Error
}

func (r *AuditRepository) FindByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var row models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func auditPayload(payload []byte) json.RawMessage {
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	return json.RawMessage(`{}`)
}
