package users

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quickbuyer/quickbuyer-backend/pkg/auth"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
)

// Repository exposes user-related persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// FindByEmail matches case-insensitively; emails from the processor are not normalized.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	normalized := strings.ToLower(strings.TrimSpace(email))
	if err := r.db.WithContext(ctx).Where("LOWER(email) = ?", normalized).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// RoleByID reads only the role column.
func (r *Repository) RoleByID(ctx context.Context, id uuid.UUID) (enums.UserRole, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Select("role").
		Where("id = ?", id).
		First(&user).Error
	if err != nil {
		return "", err
	}
	return user.Role, nil
}

// UpsertProfile mirrors the token identity into users. The role column is never
// overwritten here.
func (r *Repository) UpsertProfile(ctx context.Context, identity auth.Identity) (*models.User, error) {
	user := &models.User{
		ID:    identity.UserID,
		Email: strings.ToLower(strings.TrimSpace(identity.Email)),
		Role:  enums.UserRoleUser,
	}
	if name := strings.TrimSpace(identity.Name); name != "" {
		user.Name = &name
	}
	if avatar := strings.TrimSpace(identity.AvatarURL); avatar != "" {
		user.AvatarURL = &avatar
	}

	updates := map[string]any{
		"email":      user.Email,
		"updated_at": time.Now().UTC(),
	}
	if user.Name != nil {
		updates["name"] = *user.Name
	}
	if user.AvatarURL != nil {
		updates["avatar_url"] = *user.AvatarURL
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(user).Error
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, identity.UserID)
}
