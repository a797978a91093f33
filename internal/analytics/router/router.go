package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/quickbuyer/quickbuyer-backend/internal/analytics/types"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox/payloads"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox/registry"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by the router.
type Writer interface {
	Insert(ctx context.Context, row types.MarketplaceEventRow) error
}

// Router decodes marketplace envelopes and writes one analytics row per event.
type Router struct {
	writer   Writer
	decoders *registry.DecoderRegistry
	logg     *logger.Logger
}

func NewRouter(w Writer, logg *logger.Logger) (*Router, error) {
	if w == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Router{
		writer:   w,
		decoders: registry.NewMarketplaceDecoders(),
		logg:     logg,
	}, nil
}

// Handle builds the row for envelope and hands it to the writer.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	version := envelope.Version
	if version == 0 {
		version = 1
	}
	payload, err := r.decoders.Decode(envelope.EventType, version, envelope.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedEventType, err)
	}

	row := baseRow(envelope)
	switch p := payload.(type) {
	case *payloads.ProjectSubmittedEvent:
		row.ProjectID = uuidPtr(p.ProjectID)
		row.ProjectSlug = stringPtr(p.Slug)
		row.UserID = uuidPtr(p.SellerID)
		row.AmountCents = cents(p.Price.Mul(hundred).Round(0).IntPart())
	case *payloads.PurchaseCompletedEvent:
		row.ProjectID = uuidPtr(p.ProjectID)
		row.ProjectSlug = stringPtr(p.ProjectSlug)
		row.PurchaseID = uuidPtr(p.PurchaseID)
		if p.UserID != nil {
			row.UserID = uuidPtr(*p.UserID)
		}
		row.AmountCents = cents(p.Amount.Mul(hundred).Round(0).IntPart())
		row.Currency = stringPtr(p.Currency)
		row.Source = stringPtr(p.Source)
	case *payloads.SubscriptionChangedEvent:
		row.SubscriptionID = uuidPtr(p.SubscriptionID)
		row.UserID = uuidPtr(p.UserID)
		row.PlanName = stringPtr(p.PlanName)
		row.Status = stringPtr(string(p.Status))
		row.Source = stringPtr(p.Trigger)
	case *payloads.DownloadRecordedEvent:
		row.ProjectID = uuidPtr(p.ProjectID)
		row.UserID = uuidPtr(p.UserID)
		if p.PurchaseID != nil {
			row.PurchaseID = uuidPtr(*p.PurchaseID)
		}
		row.Source = stringPtr(p.Access)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}

	if err := r.writer.Insert(ctx, row); err != nil {
		return fmt.Errorf("insert %s row: %w", envelope.EventType, err)
	}
	return nil
}

func baseRow(envelope types.Envelope) types.MarketplaceEventRow {
	return types.MarketplaceEventRow{
		EventID:       envelope.EventID,
		EventType:     string(envelope.EventType),
		AggregateType: string(envelope.AggregateType),
		AggregateID:   envelope.AggregateID,
		OccurredAt:    envelope.OccurredAt.UTC(),
		Payload:       payloadJSON(envelope.Payload),
	}
}
