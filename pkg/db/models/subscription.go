package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
)

// Subscription is the single plan row a user holds.
type Subscription struct {
	ID                     uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                 uuid.UUID                `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	PlanName               string                   `gorm:"column:plan_name;not null"`
	BillingCycle           enums.BillingCycle       `gorm:"column:billing_cycle;not null"`
	Status                 enums.SubscriptionStatus `gorm:"column:status;not null;default:'active'"`
	CurrentPeriodStart     time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd       time.Time                `gorm:"column:current_period_end;not null"`
	ExternalSubscriptionID *string                  `gorm:"column:external_subscription_id;index"`
	ExternalCustomerID     *string                  `gorm:"column:external_customer_id"`
	CreatedAt              time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// Entitles reports whether the subscription grants access at now.
func (s *Subscription) Entitles(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.Status == enums.SubscriptionStatusActive && s.CurrentPeriodEnd.After(now)
}
