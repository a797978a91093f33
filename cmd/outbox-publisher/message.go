package main

import (
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox/payloads"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox/registry"
)

// Message attributes. Subscribers filter on these without decoding the body,
// e.g. attributes.event_type = "purchase_completed".
const (
	attrEventID            = "event_id"
	attrEventType          = "event_type"
	attrAggregateType      = "aggregate_type"
	attrAggregateID        = "aggregate_id"
	attrOccurredAt         = "occurred_at"
	attrSchemaVersion      = "schema_version"
	attrProjectID          = "project_id"
	attrProjectSlug        = "project_slug"
	attrCategory           = "category"
	attrCurrency           = "currency"
	attrPurchaseSource     = "purchase_source"
	attrDownloadAccess     = "download_access"
	attrSubscriptionStatus = "subscription_status"
	attrPlanName           = "plan_name"
	attrTrigger            = "trigger"
)

// buildMessage wraps the stored envelope unchanged and derives routing
// attributes from the decoded payload.
func buildMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	eventID := resolved.Envelope.EventID
	if eventID == "" {
		eventID = event.ID.String()
	}
	occurredAt := resolved.Envelope.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = event.CreatedAt
	}

	attrs := map[string]string{
		attrEventID:       eventID,
		attrEventType:     string(event.EventType),
		attrAggregateType: string(event.AggregateType),
		attrAggregateID:   event.AggregateID.String(),
		attrOccurredAt:    occurredAt.UTC().Format(time.RFC3339Nano),
		attrSchemaVersion: strconv.Itoa(max(resolved.Envelope.Version, 1)),
	}
	msg := &gcppubsub.Message{Data: event.Payload, Attributes: attrs}

	set := func(key, value string) {
		if value != "" {
			attrs[key] = value
		}
	}
	switch payload := resolved.Payload.(type) {
	case *payloads.PurchaseCompletedEvent:
		set(attrProjectID, idString(payload.ProjectID))
		set(attrProjectSlug, payload.ProjectSlug)
		set(attrCurrency, payload.Currency)
		set(attrPurchaseSource, payload.Source)
	case *payloads.DownloadRecordedEvent:
		set(attrProjectID, idString(payload.ProjectID))
		set(attrDownloadAccess, payload.Access)
	case *payloads.SubscriptionChangedEvent:
		set(attrSubscriptionStatus, string(payload.Status))
		set(attrPlanName, payload.PlanName)
		set(attrTrigger, payload.Trigger)
		// consumers must see activate, renew and cancel in commit order
		msg.OrderingKey = "subscription:" + event.AggregateID.String()
	case *payloads.ProjectSubmittedEvent:
		set(attrProjectID, idString(payload.ProjectID))
		set(attrProjectSlug, payload.Slug)
		set(attrCategory, payload.Category)
	}
	return msg
}

func idString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
