package projects

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/quickbuyer/quickbuyer-backend/internal/admin"
	"github.com/quickbuyer/quickbuyer-backend/pkg/auth"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
	pkgerrors "github.com/quickbuyer/quickbuyer-backend/pkg/errors"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox/payloads"
	"github.com/quickbuyer/quickbuyer-backend/pkg/pagination"
)

const (
	maxTitleLength = 200

	messageUpdated     = "Project updated"
	messageResubmitted = "Project updated and resubmitted for review"
)

// Service exposes catalog management and browsing.
type Service interface {
	Create(ctx context.Context, caller *auth.Identity, input ProjectInput) (*ProjectDTO, error)
	Get(ctx context.Context, caller *auth.Identity, slugOrID string) (*ProjectDTO, error)
	Update(ctx context.Context, caller *auth.Identity, slugOrID string, input ProjectInput) (*MutationResult, error)
	Delete(ctx context.Context, caller *auth.Identity, slugOrID string) error
	List(ctx context.Context, caller *auth.Identity, query ListQuery) (*ProjectList, error)
}

// ProjectInput is the full editable payload used by both create and update.
type ProjectInput struct {
	Title           string           `json:"title" validate:"required,max=200"`
	Description     string           `json:"description" validate:"required"`
	LongDescription *string          `json:"longDescription"`
	Price           *decimal.Decimal `json:"price" validate:"required"`
	Category        string           `json:"category" validate:"required"`
	ThumbnailURL    *string          `json:"thumbnailUrl"`
	DownloadURL     string           `json:"downloadUrl" validate:"required"`
	DocsURL         *string          `json:"docsUrl"`
	DemoURL         *string          `json:"demoUrl"`
	Status          *string          `json:"status"`
}

type service struct {
	repo   *Repository
	db     *db.Client
	admins admin.Checker
	events outbox.Emitter
	logg   *logger.Logger
}

// NewService wires the catalog service.
func NewService(repo *Repository, dbClient *db.Client, admins admin.Checker, events outbox.Emitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("project repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if admins == nil {
		return nil, fmt.Errorf("admin checker required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:   repo,
		db:     dbClient,
		admins: admins,
		events: events,
		logg:   logg,
	}, nil
}

func (s *service) Create(ctx context.Context, caller *auth.Identity, input ProjectInput) (*ProjectDTO, error) {
	if caller == nil || caller.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	fields, err := normalizeInput(input)
	if err != nil {
		return nil, err
	}

	project := &models.Project{
		Status:       enums.ProjectStatusPending,
		UserID:       caller.UserID,
		AuthorName:   optionalString(caller.Name),
		AuthorAvatar: optionalString(caller.AvatarURL),
	}
	fields.applyTo(project)

	base := NormalizeSlug(project.Title)
	for attempt := 0; attempt <= maxInsertRetries; attempt++ {
		var slug string
		if attempt < maxInsertRetries {
			slug, err = s.reserveSlug(ctx, base)
			if err != nil {
				return nil, err
			}
		} else {
			slug = randomSlug(base)
		}
		project.Slug = slug

		err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).Create(ctx, project); err != nil {
				return err
			}
			return s.emitSubmitted(ctx, tx, caller, project)
		})
		if err == nil {
			ctx = s.logg.WithFields(ctx, map[string]any{"project_id": project.ID.String(), "slug": project.Slug})
			s.logg.Info(ctx, "projects.created")
			return FromModel(project, true), nil
		}
		if !isSlugConflict(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create project")
		}
		s.logg.Warn(s.logg.WithField(ctx, "slug", slug), "projects.slug_conflict")
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "could not reserve a unique slug")
}

// reserveSlug returns the first free candidate, or a random suffix once all are taken.
func (s *service) reserveSlug(ctx context.Context, base string) (string, error) {
	for _, candidate := range slugCandidates(base) {
		taken, err := s.repo.SlugExists(ctx, candidate)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check slug")
		}
		if !taken {
			return candidate, nil
		}
	}
	return randomSlug(base), nil
}

func (s *service) Get(ctx context.Context, caller *auth.Identity, slugOrID string) (*ProjectDTO, error) {
	project, err := s.load(ctx, slugOrID)
	if err != nil {
		return nil, err
	}
	isAdmin := s.isAdmin(ctx, caller)
	owner := caller != nil && project.OwnedBy(caller.UserID)
	if !isAdmin && !owner && project.Status != enums.ProjectStatusApproved {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "project is not available")
	}
	return FromModel(project, isAdmin || owner), nil
}

func (s *service) Update(ctx context.Context, caller *auth.Identity, slugOrID string, input ProjectInput) (*MutationResult, error) {
	if caller == nil || caller.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	fields, err := normalizeInput(input)
	if err != nil {
		return nil, err
	}
	project, err := s.load(ctx, slugOrID)
	if err != nil {
		return nil, err
	}
	isAdmin := s.isAdmin(ctx, caller)
	if !isAdmin && !project.OwnedBy(caller.UserID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the owner or an admin can edit this project")
	}

	fields.applyTo(project)
	message := messageUpdated
	resubmitted := false
	switch {
	case isAdmin && input.Status != nil:
		status, err := enums.ParseProjectStatus(*input.Status)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status").
				WithDetails(map[string]string{"status": "must be pending, approved or rejected"})
		}
		project.Status = status
	case !isAdmin && project.Status != enums.ProjectStatusPending:
		project.Status = enums.ProjectStatusPending
		message = messageResubmitted
		resubmitted = true
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Update(ctx, project); err != nil {
			return err
		}
		if resubmitted {
			return s.emitSubmitted(ctx, tx, caller, project)
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update project")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"project_id": project.ID.String(),
		"status":     project.Status.String(),
		"by_admin":   isAdmin,
	})
	s.logg.Info(ctx, "projects.updated")
	return &MutationResult{Project: FromModel(project, true), Message: message}, nil
}

func (s *service) Delete(ctx context.Context, caller *auth.Identity, slugOrID string) error {
	if caller == nil || caller.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	project, err := s.load(ctx, slugOrID)
	if err != nil {
		return err
	}
	if !project.OwnedBy(caller.UserID) && !s.isAdmin(ctx, caller) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the owner or an admin can delete this project")
	}
	if err := s.repo.Delete(ctx, project.ID); err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "project not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete project")
	}
	s.logg.Info(s.logg.WithField(ctx, "project_id", project.ID.String()), "projects.deleted")
	return nil
}

func (s *service) List(ctx context.Context, caller *auth.Identity, query ListQuery) (*ProjectList, error) {
	params := query.Pagination.Normalize()
	filter := listFilter{
		Status:   query.Status,
		Category: strings.TrimSpace(query.Category),
		Search:   query.Search,
		Sort:     query.Sort,
		Limit:    params.Limit,
		Offset:   params.Offset(),
	}

	switch query.Mode {
	case ListAll:
		if !s.isAdmin(ctx, caller) {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin access required")
		}
	case ListMine:
		if caller == nil || caller.UserID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
		}
		owner := caller.UserID
		filter.UserID = &owner
	default:
		if filter.Status != nil && *filter.Status != enums.ProjectStatusApproved {
			return &ProjectList{Projects: []ProjectDTO{}, Meta: pagination.NewMeta(params, 0)}, nil
		}
		approved := enums.ProjectStatusApproved
		filter.Status = &approved
	}

	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list projects")
	}

	manageAll := query.Mode == ListAll || query.Mode == ListMine
	out := make([]ProjectDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i], manageAll))
	}
	return &ProjectList{Projects: out, Meta: pagination.NewMeta(params, total)}, nil
}

func (s *service) load(ctx context.Context, slugOrID string) (*models.Project, error) {
	key := strings.TrimSpace(slugOrID)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "project not found")
	}

	var (
		project *models.Project
		err     error
	)
	if id, parseErr := uuid.Parse(key); parseErr == nil {
		project, err = s.repo.FindByID(ctx, id)
	} else {
		project, err = s.repo.FindBySlug(ctx, key)
	}
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "project not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load project")
	}
	return project, nil
}

func (s *service) isAdmin(ctx context.Context, caller *auth.Identity) bool {
	if caller == nil || caller.UserID == uuid.Nil {
		return false
	}
	return s.admins.IsAdmin(ctx, caller.UserID, caller.Email)
}

func (s *service) emitSubmitted(ctx context.Context, tx *gorm.DB, caller *auth.Identity, project *models.Project) error {
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventProjectSubmitted,
		AggregateType: enums.AggregateProject,
		AggregateID:   project.ID,
		Actor:         &outbox.ActorRef{UserID: caller.UserID},
		Data: payloads.ProjectSubmittedEvent{
			ProjectID: project.ID,
			Slug:      project.Slug,
			Title:     project.Title,
			Category:  project.Category,
			Price:     project.Price,
			SellerID:  project.UserID,
		},
	})
}

type projectFields struct {
	title           string
	description     string
	longDescription *string
	price           decimal.Decimal
	category        string
	thumbnailURL    *string
	downloadURL     string
	docsURL         *string
	demoURL         *string
}

func (f projectFields) applyTo(p *models.Project) {
	p.Title = f.title
	p.Description = f.description
	p.LongDescription = f.longDescription
	p.Price = f.price
	p.Category = f.category
	p.ThumbnailURL = f.thumbnailURL
	p.DownloadURL = f.downloadURL
	p.DocsURL = f.docsURL
	p.DemoURL = f.demoURL
}

// normalizeInput trims the payload and enforces the required fields shared by create
// and update.
func normalizeInput(input ProjectInput) (projectFields, error) {
	fields := projectFields{
		title:           strings.TrimSpace(input.Title),
		description:     strings.TrimSpace(input.Description),
		longDescription: trimmedPtr(input.LongDescription),
		category:        strings.TrimSpace(input.Category),
		thumbnailURL:    trimmedPtr(input.ThumbnailURL),
		downloadURL:     strings.TrimSpace(input.DownloadURL),
		docsURL:         trimmedPtr(input.DocsURL),
		demoURL:         trimmedPtr(input.DemoURL),
	}

	details := map[string]string{}
	if fields.title == "" {
		details["title"] = "is required"
	} else if len([]rune(fields.title)) > maxTitleLength {
		details["title"] = fmt.Sprintf("must be at most %d characters", maxTitleLength)
	}
	if fields.description == "" {
		details["description"] = "is required"
	}
	if fields.category == "" {
		details["category"] = "is required"
	}
	if fields.downloadURL == "" {
		details["downloadUrl"] = "is required"
	}
	switch {
	case input.Price == nil:
		details["price"] = "is required"
	case input.Price.IsNegative():
		details["price"] = "must be greater than or equal to 0"
	default:
		fields.price = input.Price.Round(2)
	}

	if len(details) > 0 {
		return projectFields{}, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return fields, nil
}

func isSlugConflict(err error) bool {
	return db.IsUniqueViolation(err, "idx_projects_slug") || db.IsUniqueViolation(err, "projects.slug")
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	return optionalString(*value)
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
