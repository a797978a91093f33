package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quickbuyer/quickbuyer-backend/api/responses"
	"github.com/quickbuyer/quickbuyer-backend/api/validators"
	projectsvc "github.com/quickbuyer/quickbuyer-backend/internal/projects"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
	pkgerrors "github.com/quickbuyer/quickbuyer-backend/pkg/errors"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
	"github.com/quickbuyer/quickbuyer-backend/pkg/pagination"
)

const maxSearchLength = 200

// ProjectList serves the catalog. ?all=true is the admin moderation view and ?my=true
// lists the caller's own projects; everything else is the public approved listing.
func ProjectList(svc projectsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "project service unavailable"))
			return
		}

		query, err := parseProjectListQuery(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		list, err := svc.List(ctx, callerFromRequest(r), query)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func parseProjectListQuery(r *http.Request) (projectsvc.ListQuery, error) {
	page, err := validators.ParseQueryInt(r, "page", 1, 1, 1_000_000)
	if err != nil {
		return projectsvc.ListQuery{}, err
	}
	// oversized limits are clamped rather than rejected
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, 1_000_000)
	if err != nil {
		return projectsvc.ListQuery{}, err
	}

	query := projectsvc.ListQuery{
		Mode:       projectsvc.ListPublic,
		Category:   validators.SanitizeString(r.URL.Query().Get("category"), 100),
		Search:     validators.SanitizeString(validators.FirstQuery(r, "search", "q"), maxSearchLength),
		Sort:       projectsvc.ParseSortOrder(r.URL.Query().Get("sort")),
		Pagination: pagination.Params{Page: page, Limit: limit},
	}
	switch {
	case validators.ParseQueryBool(r, "all"):
		query.Mode = projectsvc.ListAll
	case validators.ParseQueryBool(r, "my"), validators.ParseQueryBool(r, "mine"):
		query.Mode = projectsvc.ListMine
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParseProjectStatus(raw)
		if err != nil {
			return projectsvc.ListQuery{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		query.Status = &status
	}
	return query, nil
}

func ProjectCreate(svc projectsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "project service unavailable"))
			return
		}

		var payload projectsvc.ProjectInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		project, err := svc.Create(ctx, callerFromRequest(r), payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, project)
	}
}

func ProjectGet(svc projectsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "project service unavailable"))
			return
		}

		project, err := svc.Get(ctx, callerFromRequest(r), chi.URLParam(r, "slugOrId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, project)
	}
}

func ProjectUpdate(svc projectsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "project service unavailable"))
			return
		}

		var payload projectsvc.ProjectInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Update(ctx, callerFromRequest(r), chi.URLParam(r, "slugOrId"), payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func ProjectDelete(svc projectsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "project service unavailable"))
			return
		}

		if err := svc.Delete(ctx, callerFromRequest(r), chi.URLParam(r, "slugOrId")); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"message": "Project deleted"})
	}
}
