package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
)

// Repository persists the one-per-user subscription row.
type Repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) FindByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// Upsert writes sub keyed by user_id and returns the stored row. External ids are
// only overwritten when the new value is present.
func (r *Repository) Upsert(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	updates := map[string]any{
		"plan_name":            sub.PlanName,
		"billing_cycle":        sub.BillingCycle,
		"status":               sub.Status,
		"current_period_start": sub.CurrentPeriodStart.UTC(),
		"current_period_end":   sub.CurrentPeriodEnd.UTC(),
		"updated_at":           time.Now().UTC(),
	}
	if sub.ExternalSubscriptionID != nil {
		updates["external_subscription_id"] = *sub.ExternalSubscriptionID
	}
	if sub.ExternalCustomerID != nil {
		updates["external_customer_id"] = *sub.ExternalCustomerID
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(updates),
		}).
		Create(sub).Error
	if err != nil {
		return nil, err
	}
	return r.FindByUser(ctx, sub.UserID)
}

// SetStatusByExternalID moves every row carrying externalID to status and returns
// the updated rows.
func (r *Repository) SetStatusByExternalID(ctx context.Context, externalID string, status enums.SubscriptionStatus) ([]models.Subscription, error) {
	return r.updateByExternalID(ctx, externalID, map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	})
}

// FindByExternalID returns every row linked to the processor subscription id.
func (r *Repository) FindByExternalID(ctx context.Context, externalID string) ([]models.Subscription, error) {
	var rows []models.Subscription
	err := r.db.WithContext(ctx).Where("external_subscription_id = ?", externalID).Find(&rows).Error
	return rows, err
}

// RenewByID reactivates a row with a fresh billing period.
func (r *Repository) RenewByID(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"status":               enums.SubscriptionStatusActive,
			"current_period_start": start.UTC(),
			"current_period_end":   end.UTC(),
			"updated_at":           time.Now().UTC(),
		}).Error
}

func (r *Repository) updateByExternalID(ctx context.Context, externalID string, columns map[string]any) ([]models.Subscription, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("external_subscription_id = ?", externalID).
		UpdateColumns(columns)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return r.FindByExternalID(ctx, externalID)
}

// ListLapsed returns active rows whose period ended before cutoff, oldest first.
func (r *Repository) ListLapsed(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error) {
	var rows []models.Subscription
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.SubscriptionStatusActive).
		Where("current_period_end < ?", cutoff.UTC()).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkLapsed moves one row to past_due unless a renewal landed after it was listed.
func (r *Repository) MarkLapsed(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Where("status = ?", enums.SubscriptionStatusActive).
		Where("current_period_end < ?", cutoff.UTC()).
		UpdateColumns(map[string]any{
			"status":     enums.SubscriptionStatusPastDue,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected > 0, result.Error
}
