package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quickbuyer/quickbuyer-backend/pkg/config"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	projectID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.ProjectSubmittedEvent{
		ProjectID: projectID,
		Slug:      "chat-bot",
		Price:     decimal.RequireFromString("49.00"),
	})

	event := models.OutboxEvent{
		EventType:     enums.EventProjectSubmitted,
		AggregateType: enums.AggregateProject,
		AggregateID:   projectID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "marketplace-events" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.ProjectSubmittedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.Slug != "chat-bot" || payload.ProjectID != projectID {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
}

func TestEventRegistryRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)

	tests := []struct {
		name  string
		event models.OutboxEvent
	}{
		{"unknown event", models.OutboxEvent{
			EventType:     enums.OutboxEventType("order_created"),
			AggregateType: enums.AggregateProject,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		}},
		{"aggregate mismatch", models.OutboxEvent{
			EventType:     enums.EventPurchaseCompleted,
			AggregateType: enums.AggregateProject,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		}},
		{"missing aggregate id", models.OutboxEvent{
			EventType:     enums.EventPurchaseCompleted,
			AggregateType: enums.AggregatePurchase,
			Payload:       mustEnvelope(t, []byte(`{}`)),
		}},
		{"null payload", models.OutboxEvent{
			EventType:     enums.EventSubscriptionChanged,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte("null")),
		}},
		{"broken envelope", models.OutboxEvent{
			EventType:     enums.EventDownloadRecorded,
			AggregateType: enums.AggregateProject,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{`),
		}},
	}

	for _, tt := range tests {
		_, err := reg.Resolve(tt.event)
		if err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		var nonRetry NonRetryableError
		if !errors.As(err, &nonRetry) {
			t.Fatalf("%s: expected non-retryable error, got %T", tt.name, err)
		}
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{EventsTopic: " "}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEventRegistryRoutesRevenueAndDownloadsToDedicatedTopics(t *testing.T) {
	reg, err := NewEventRegistry(config.PubSubConfig{
		EventsTopic:    "marketplace-events",
		PurchasesTopic: " marketplace-purchases ",
		DownloadsTopic: "marketplace-downloads",
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	want := map[enums.OutboxEventType]string{
		enums.EventProjectSubmitted:    "marketplace-events",
		enums.EventSubscriptionChanged: "marketplace-events",
		enums.EventPurchaseCompleted:   "marketplace-purchases",
		enums.EventDownloadRecorded:    "marketplace-downloads",
	}
	topics := reg.Topics()
	for eventType, topic := range want {
		if topics[eventType] != topic {
			t.Fatalf("%s routed to %q, want %q", eventType, topics[eventType], topic)
		}
	}

	purchaseID := uuid.New()
	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventPurchaseCompleted,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   purchaseID,
		Payload:       mustEnvelope(t, mustMarshal(t, payloads.PurchaseCompletedEvent{PurchaseID: purchaseID, ProjectSlug: "agent-kit"})),
	})
	if err != nil {
		t.Fatalf("resolve purchase: %v", err)
	}
	if resolved.Descriptor.Topic != "marketplace-purchases" {
		t.Fatalf("purchase resolved to %q", resolved.Descriptor.Topic)
	}

	shared, err := NewEventRegistry(config.PubSubConfig{EventsTopic: "marketplace-events"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if got := shared.Topics()[enums.EventDownloadRecorded]; got != "marketplace-events" {
		t.Fatalf("downloads without a dedicated topic routed to %q", got)
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{EventsTopic: "marketplace-events"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
