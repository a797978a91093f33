package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateProject      OutboxAggregateType = "project"
	AggregatePurchase     OutboxAggregateType = "purchase"
	AggregateSubscription OutboxAggregateType = "subscription"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateProject,
	AggregatePurchase,
	AggregateSubscription,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a marketplace domain event.
type OutboxEventType string

const (
	EventProjectSubmitted    OutboxEventType = "project_submitted"
	EventPurchaseCompleted   OutboxEventType = "purchase_completed"
	EventSubscriptionChanged OutboxEventType = "subscription_changed"
	EventDownloadRecorded    OutboxEventType = "download_recorded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventProjectSubmitted,
	EventPurchaseCompleted,
	EventSubscriptionChanged,
	EventDownloadRecorded,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}
