package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
)

// Purchase proves a one-time entitlement to a project. Rows are written by the
// payment webhook only; the download gate updates the counters.
type Purchase struct {
	ID               uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProjectID        uuid.UUID            `gorm:"column:project_id;type:uuid;not null;index"`
	UserID           *uuid.UUID           `gorm:"column:user_id;type:uuid;index"`
	CustomerEmail    *string              `gorm:"column:customer_email"`
	CheckoutID       string               `gorm:"column:checkout_id;not null"`
	Amount           decimal.Decimal      `gorm:"column:amount;type:numeric(10,2);not null"`
	Currency         string               `gorm:"column:currency;not null;default:'USD'"`
	Status           enums.PurchaseStatus `gorm:"column:status;not null;default:'completed'"`
	DownloadCount    int64                `gorm:"column:download_count;not null;default:0"`
	LastDownloadedAt *time.Time           `gorm:"column:last_downloaded_at"`
	CreatedAt        time.Time            `gorm:"column:created_at;autoCreateTime"`

	Project *Project `gorm:"foreignKey:ProjectID"`
}

func (p *Purchase) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
