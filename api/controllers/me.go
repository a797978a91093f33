package controllers

import (
	"net/http"

	"github.com/quickbuyer/quickbuyer-backend/api/responses"
	"github.com/quickbuyer/quickbuyer-backend/internal/admin"
	"github.com/quickbuyer/quickbuyer-backend/internal/users"
	pkgerrors "github.com/quickbuyer/quickbuyer-backend/pkg/errors"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
)

// Me mirrors the token profile into users and returns it with the admin flag.
func Me(repo *users.Repository, admins admin.Checker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if repo == nil || admins == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "user service unavailable"))
			return
		}

		caller := callerFromRequest(r)
		if caller == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		user, err := repo.UpsertProfile(ctx, *caller)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sync user profile"))
			return
		}

		responses.WriteSuccess(w, users.FromModel(user, admins.IsAdmin(ctx, caller.UserID, caller.Email)))
	}
}
