package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
)

// Project is a listed AI software project.
type Project struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Slug            string              `gorm:"column:slug;not null;uniqueIndex"`
	Title           string              `gorm:"column:title;not null"`
	Description     string              `gorm:"column:description;not null"`
	LongDescription *string             `gorm:"column:long_description"`
	Price           decimal.Decimal     `gorm:"column:price;type:numeric(10,2);not null"`
	Category        string              `gorm:"column:category;not null"`
	ThumbnailURL    *string             `gorm:"column:thumbnail_url"`
	DownloadURL     string              `gorm:"column:download_url;not null"`
	DocsURL         *string             `gorm:"column:docs_url"`
	DemoURL         *string             `gorm:"column:demo_url"`
	UserID          uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	AuthorName      *string             `gorm:"column:author_name"`
	AuthorAvatar    *string             `gorm:"column:author_avatar"`
	Status          enums.ProjectStatus `gorm:"column:status;not null;default:'pending'"`
	DownloadCount   int64               `gorm:"column:download_count;not null;default:0"`
	Rating          decimal.Decimal     `gorm:"column:rating;type:numeric(3,2);not null;default:0"`
	ReviewCount     int                 `gorm:"column:review_count;not null;default:0"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Project) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	if p.Status == "" {
		p.Status = enums.ProjectStatusPending
	}
	return nil
}

// OwnedBy reports whether userID created the project.
func (p *Project) OwnedBy(userID uuid.UUID) bool {
	return p != nil && userID != uuid.Nil && p.UserID == userID
}
