package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quickbuyer/quickbuyer-backend/api/responses"
	"github.com/quickbuyer/quickbuyer-backend/internal/downloads"
	pkgerrors "github.com/quickbuyer/quickbuyer-backend/pkg/errors"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
)

func ProjectDownload(svc downloads.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "download service unavailable"))
			return
		}

		grant, err := svc.Download(ctx, callerFromRequest(r), chi.URLParam(r, "slugOrId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, grant)
	}
}
