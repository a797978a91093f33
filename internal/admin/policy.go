// Package admin decides who may moderate the catalog.
package admin

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
)

type roleReader interface {
	RoleByID(ctx context.Context, id uuid.UUID) (enums.UserRole, error)
}

// Checker is what request handlers depend on.
type Checker interface {
	IsAdmin(ctx context.Context, userID uuid.UUID, email string) bool
}

// Policy grants admin to allow-listed emails and to users whose role column says so.
// The allow-list is copied at construction and never mutated.
type Policy struct {
	emails map[string]struct{}
	roles  roleReader
	logg   *logger.Logger
}

func NewPolicy(emails []string, roles roleReader, logg *logger.Logger) *Policy {
	set := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		if normalized := normalizeEmail(email); normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return &Policy{emails: set, roles: roles, logg: logg}
}

// IsAdmin never returns an error: lookup failures are logged and treated as non-admin.
func (p *Policy) IsAdmin(ctx context.Context, userID uuid.UUID, email string) bool {
	if p == nil {
		return false
	}
	if normalized := normalizeEmail(email); normalized != "" {
		if _, ok := p.emails[normalized]; ok {
			return true
		}
	}
	if userID == uuid.Nil || p.roles == nil {
		return false
	}

	role, err := p.roles.RoleByID(ctx, userID)
	if err != nil {
		if p.logg != nil {
			logCtx := p.logg.WithFields(ctx, map[string]any{
				"user_id": userID.String(),
				"error":   err.Error(),
			})
			p.logg.Warn(logCtx, "admin.role_lookup_failed")
		}
		return false
	}
	return role.IsAdmin()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
