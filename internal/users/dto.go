package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
)

// UserDTO is the profile shape returned by /api/me.
type UserDTO struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      *string   `json:"name,omitempty"`
	AvatarURL *string   `json:"avatarUrl,omitempty"`
	Role      string    `json:"role"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
}

// FromModel maps a user row. isAdmin comes from the admin policy, which also
// consults the configured allow-list.
func FromModel(m *models.User, isAdmin bool) UserDTO {
	return UserDTO{
		ID:        m.ID,
		Email:     m.Email,
		Name:      m.Name,
		AvatarURL: m.AvatarURL,
		Role:      string(m.Role),
		IsAdmin:   isAdmin,
		CreatedAt: m.CreatedAt,
	}
}
