package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
)

// ProjectSubmittedEvent is emitted when a seller lists a project for review.
type ProjectSubmittedEvent struct {
	ProjectID uuid.UUID       `json:"projectId"`
	Slug      string          `json:"slug"`
	Title     string          `json:"title"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	SellerID  uuid.UUID       `json:"sellerId"`
}

// PurchaseCompletedEvent is emitted once per purchase row written by fulfillment.
type PurchaseCompletedEvent struct {
	PurchaseID    uuid.UUID       `json:"purchaseId"`
	ProjectID     uuid.UUID       `json:"projectId"`
	ProjectSlug   string          `json:"projectSlug"`
	UserID        *uuid.UUID      `json:"userId,omitempty"`
	CustomerEmail string          `json:"customerEmail,omitempty"`
	CheckoutID    string          `json:"checkoutId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Source        string          `json:"source"`
}

// SubscriptionChangedEvent reports any status or period change of a subscription.
type SubscriptionChangedEvent struct {
	SubscriptionID   uuid.UUID                `json:"subscriptionId"`
	UserID           uuid.UUID                `json:"userId"`
	PlanName         string                   `json:"planName"`
	BillingCycle     enums.BillingCycle       `json:"billingCycle"`
	Status           enums.SubscriptionStatus `json:"status"`
	CurrentPeriodEnd *time.Time               `json:"currentPeriodEnd,omitempty"`
	Trigger          string                   `json:"trigger"`
}

// DownloadRecordedEvent is emitted for every granted download.
type DownloadRecordedEvent struct {
	ProjectID  uuid.UUID  `json:"projectId"`
	UserID     uuid.UUID  `json:"userId"`
	PurchaseID *uuid.UUID `json:"purchaseId,omitempty"`
	Access     string     `json:"access"`
}
