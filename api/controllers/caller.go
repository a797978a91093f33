package controllers

import (
	"net/http"

	"github.com/quickbuyer/quickbuyer-backend/api/middleware"
	"github.com/quickbuyer/quickbuyer-backend/pkg/auth"
)

// callerFromRequest returns the authenticated identity or nil for anonymous requests.
func callerFromRequest(r *http.Request) *auth.Identity {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	return &identity
}
