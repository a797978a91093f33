package projects

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
	"github.com/quickbuyer/quickbuyer-backend/pkg/pagination"
)

// ProjectDTO is the API shape of a catalog entry.
type ProjectDTO struct {
	ID              uuid.UUID           `json:"id"`
	Slug            string              `json:"slug"`
	Title           string              `json:"title"`
	Description     string              `json:"description"`
	LongDescription *string             `json:"longDescription,omitempty"`
	Price           decimal.Decimal     `json:"price"`
	Category        string              `json:"category"`
	ThumbnailURL    *string             `json:"thumbnailUrl,omitempty"`
	DownloadURL     *string             `json:"downloadUrl,omitempty"`
	DocsURL         *string             `json:"docsUrl,omitempty"`
	DemoURL         *string             `json:"demoUrl,omitempty"`
	UserID          uuid.UUID           `json:"userId"`
	AuthorName      *string             `json:"authorName,omitempty"`
	AuthorAvatar    *string             `json:"authorAvatar,omitempty"`
	Status          enums.ProjectStatus `json:"status"`
	DownloadCount   int64               `json:"downloadCount"`
	Rating          decimal.Decimal     `json:"rating"`
	ReviewCount     int                 `json:"reviewCount"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// ProjectList is one page of the catalog.
type ProjectList struct {
	Projects []ProjectDTO `json:"projects"`
	pagination.Meta
}

// MutationResult pairs the saved project with a human readable outcome.
type MutationResult struct {
	Project *ProjectDTO `json:"project"`
	Message string      `json:"message"`
}

// FromModel maps a row to its DTO. The download url is only included for the owner
// or an admin; everyone else gets it from the download gate.
func FromModel(m *models.Project, canManage bool) *ProjectDTO {
	if m == nil {
		return nil
	}
	dto := &ProjectDTO{
		ID:              m.ID,
		Slug:            m.Slug,
		Title:           m.Title,
		Description:     m.Description,
		LongDescription: m.LongDescription,
		Price:           m.Price,
		Category:        m.Category,
		ThumbnailURL:    m.ThumbnailURL,
		DocsURL:         m.DocsURL,
		DemoURL:         m.DemoURL,
		UserID:          m.UserID,
		AuthorName:      m.AuthorName,
		AuthorAvatar:    m.AuthorAvatar,
		Status:          m.Status,
		DownloadCount:   m.DownloadCount,
		Rating:          m.Rating,
		ReviewCount:     m.ReviewCount,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
	if canManage {
		url := m.DownloadURL
		dto.DownloadURL = &url
	}
	return dto
}
