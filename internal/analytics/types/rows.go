package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// MarketplaceEventRow mirrors the marketplace_events BigQuery schema. Columns that
// do not apply to an event type stay NULL.
type MarketplaceEventRow struct {
	EventID        string             `bigquery:"event_id"`
	EventType      string             `bigquery:"event_type"`
	AggregateType  string             `bigquery:"aggregate_type"`
	AggregateID    string             `bigquery:"aggregate_id"`
	OccurredAt     time.Time          `bigquery:"occurred_at"`
	ProjectID      *string            `bigquery:"project_id"`
	ProjectSlug    *string            `bigquery:"project_slug"`
	UserID         *string            `bigquery:"user_id"`
	PurchaseID     *string            `bigquery:"purchase_id"`
	SubscriptionID *string            `bigquery:"subscription_id"`
	AmountCents    *int64             `bigquery:"amount_cents"`
	Currency       *string            `bigquery:"currency"`
	PlanName       *string            `bigquery:"plan_name"`
	Status         *string            `bigquery:"status"`
	Source         *string            `bigquery:"source"`
	Payload        cbigquery.NullJSON `bigquery:"payload"`
}
