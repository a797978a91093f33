package purchases

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
)

// PurchaseDTO is one row of the caller's library.
type PurchaseDTO struct {
	ID               uuid.UUID            `json:"id"`
	ProjectID        uuid.UUID            `json:"projectId"`
	ProjectSlug      string               `json:"projectSlug,omitempty"`
	ProjectTitle     string               `json:"projectTitle,omitempty"`
	ThumbnailURL     *string              `json:"thumbnailUrl,omitempty"`
	Amount           decimal.Decimal      `json:"amount"`
	Currency         string               `json:"currency"`
	Status           enums.PurchaseStatus `json:"status"`
	DownloadCount    int64                `json:"downloadCount"`
	LastDownloadedAt *time.Time           `json:"lastDownloadedAt,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
}

func FromModel(m models.Purchase) PurchaseDTO {
	dto := PurchaseDTO{
		ID:               m.ID,
		ProjectID:        m.ProjectID,
		Amount:           m.Amount,
		Currency:         m.Currency,
		Status:           m.Status,
		DownloadCount:    m.DownloadCount,
		LastDownloadedAt: m.LastDownloadedAt,
		CreatedAt:        m.CreatedAt.UTC(),
	}
	if m.Project != nil {
		dto.ProjectSlug = m.Project.Slug
		dto.ProjectTitle = m.Project.Title
		dto.ThumbnailURL = m.Project.ThumbnailURL
	}
	return dto
}
