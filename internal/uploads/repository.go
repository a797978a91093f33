package uploads

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
)

// Repository appends rows to ipfs_uploads.
type Repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

func (r *Repository) Create(ctx context.Context, rows []models.IPFSUpload) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.IPFSUpload, error) {
	var rows []models.IPFSUpload
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}
