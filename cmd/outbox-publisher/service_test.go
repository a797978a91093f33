package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/quickbuyer/quickbuyer-backend/pkg/config"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
	"github.com/quickbuyer/quickbuyer-backend/pkg/metrics"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox/payloads"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox/registry"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			{
				ID:            uuid.New(),
				EventType:     enums.EventPurchaseCompleted,
				AggregateType: enums.AggregatePurchase,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelopePayload(t, "event-one"),
			},
			{
				ID:            uuid.New(),
				EventType:     enums.EventPurchaseCompleted,
				AggregateType: enums.AggregatePurchase,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelopePayload(t, "event-two"),
			},
		},
	}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
			fakePublishResult{},
		},
	}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "marketplace-events",
			AggregateType: enums.AggregatePurchase,
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    uuid.NewString(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.PurchaseCompletedEvent{},
	}
	eventRegistry := &fakeRegistry{resolved: resolved}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, eventRegistry, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
}

func TestProcessBatchRoutesMarketplaceEvents(t *testing.T) {
	purchaseID, downloadProject, subscriptionID := uuid.New(), uuid.New(), uuid.New()
	projectID := uuid.New()
	purchase := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPurchaseCompleted,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   purchaseID,
		Payload: envelopeFor(t, payloads.PurchaseCompletedEvent{
			PurchaseID:  purchaseID,
			ProjectID:   projectID,
			ProjectSlug: "agent-kit",
			CheckoutID:  "ch_1",
			Amount:      decimal.RequireFromString("19.99"),
			Currency:    "USD",
			Source:      "cart",
		}),
	}
	download := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventDownloadRecorded,
		AggregateType: enums.AggregateProject,
		AggregateID:   downloadProject,
		Payload: envelopeFor(t, payloads.DownloadRecordedEvent{
			ProjectID: downloadProject,
			UserID:    uuid.New(),
			Access:    "subscription",
		}),
	}
	renewal := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventSubscriptionChanged,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   subscriptionID,
		Payload: envelopeFor(t, payloads.SubscriptionChangedEvent{
			SubscriptionID: subscriptionID,
			UserID:         uuid.New(),
			PlanName:       "pro",
			Status:         enums.SubscriptionStatusActive,
			Trigger:        "subscription.paid",
		}),
	}
	secondPurchase := purchase
	secondPurchase.ID = uuid.New()

	eventRegistry, err := registry.NewEventRegistry(config.PubSubConfig{
		EventsTopic:    "marketplace-events",
		PurchasesTopic: "marketplace-purchases",
		DownloadsTopic: "marketplace-downloads",
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	repo := &fakeRepo{events: []models.OutboxEvent{purchase, download, renewal, secondPurchase}}
	service := newTestService(t, repo, nil, eventRegistry, &fakeDLQRepo{}, &config.OutboxConfig{BatchSize: 4, MaxAttempts: 5})
	byTopic := map[string]*fakePublisher{}
	var created []string
	service.publishers = newPublisherPool(func(topic string) publisher {
		created = append(created, topic)
		pub := &fakePublisher{}
		byTopic[topic] = pub
		return pub
	})

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(repo.published) != 4 {
		t.Fatalf("expected 4 published rows, got %d", len(repo.published))
	}
	if len(created) != 3 {
		t.Fatalf("expected one publisher per topic, created %v", created)
	}

	purchases := byTopic["marketplace-purchases"]
	if purchases == nil || len(purchases.sent) != 2 {
		t.Fatalf("expected both purchases on the purchases topic")
	}
	attrs := purchases.sent[0].Attributes
	if attrs["event_type"] != "purchase_completed" || attrs["project_slug"] != "agent-kit" ||
		attrs["project_id"] != projectID.String() || attrs["currency"] != "USD" || attrs["purchase_source"] != "cart" {
		t.Fatalf("unexpected purchase attributes %v", attrs)
	}
	if purchases.sent[0].OrderingKey != "" {
		t.Fatalf("purchases should not be ordered")
	}
	if !bytes.Equal(purchases.sent[0].Data, purchase.Payload) {
		t.Fatalf("message data should be the stored envelope")
	}

	downloads := byTopic["marketplace-downloads"]
	if downloads == nil || len(downloads.sent) != 1 || downloads.sent[0].Attributes["download_access"] != "subscription" {
		t.Fatalf("download not routed with its access attribute")
	}

	events := byTopic["marketplace-events"]
	if events == nil || len(events.sent) != 1 {
		t.Fatalf("expected subscription change on the shared topic")
	}
	sub := events.sent[0]
	if sub.OrderingKey != "subscription:"+subscriptionID.String() {
		t.Fatalf("unexpected ordering key %q", sub.OrderingKey)
	}
	if sub.Attributes["subscription_status"] != "active" || sub.Attributes["trigger"] != "subscription.paid" {
		t.Fatalf("unexpected subscription attributes %v", sub.Attributes)
	}
}

func TestProcessBatchCountsOutcomes(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		{ID: uuid.New(), EventType: enums.EventDownloadRecorded, AggregateType: enums.AggregateProject, AggregateID: uuid.New(), Payload: mustEnvelopePayload(t, "ok")},
		{ID: uuid.New(), EventType: enums.EventDownloadRecorded, AggregateType: enums.AggregateProject, AggregateID: uuid.New(), Payload: mustEnvelopePayload(t, "flaky")},
	}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}, fakePublishResult{err: errors.New("deadline exceeded")}}}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "marketplace-events"},
		Payload:    &payloads.DownloadRecordedEvent{Access: "purchase"},
	}
	reg := prometheus.NewRegistry()
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: resolved}, &fakeDLQRepo{}, nil)
	service.metrics = metrics.NewWorkerMetrics(reg)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if got := counterValue(t, reg, "quickbuyer_worker_items_processed_total"); got != 1 {
		t.Fatalf("expected success counter 1, got %v", got)
	}
	if got := counterValue(t, reg, "quickbuyer_worker_items_failed_total"); got != 1 {
		t.Fatalf("expected failure counter 1, got %v", got)
	}
	if attrs := pub.sent[0].Attributes; attrs["event_id"] != repo.events[0].ID.String() {
		t.Fatalf("unexpected event_id attribute %q", attrs["event_id"])
	}
}

func TestProcessBatchIdleWhenOutboxEmpty(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	processed, err := service.processBatch(context.Background())
	if err != nil || processed {
		t.Fatalf("expected idle batch, got processed=%v err=%v", processed, err)
	}
}

func TestServiceProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPurchaseCompleted,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "nonretryable"),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	registry := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, &fakePublisher{}, registry, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.Payload == nil || !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPurchaseCompleted,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "max-attempts"),
		AttemptCount:  1,
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
		},
	}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "marketplace-events",
			AggregateType: enums.AggregatePurchase,
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    event.ID.String(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.PurchaseCompletedEvent{},
	}
	registry := &fakeRegistry{resolved: resolved}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, registry, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, registry registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Service {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logg,
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         registry,
		PublisherFactory: func(_ string) publisher { return pub },
		DLQRepository:    dlq,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		total := 0.0
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func envelopeFor(tb testing.TB, payload any) json.RawMessage {
	tb.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		tb.Fatalf("marshal payload: %v", err)
	}
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC),
		Data:       data,
	})
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error {
	return nil
}

func (f *fakePubSubClient) Publisher(name string) *gcppubsub.Publisher {
	return nil
}

type fakePublisher struct {
	results []publishResult
	sent    []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.sent = append(f.sent, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
