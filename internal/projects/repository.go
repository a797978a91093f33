package projects

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
)

// Repository persists catalog rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a repository to conn.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, project *models.Project) error {
	return r.db.WithContext(ctx).Create(project).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var project models.Project
	if err := r.db.WithContext(ctx).First(&project, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *Repository) FindBySlug(ctx context.Context, slug string) (*models.Project, error) {
	var project models.Project
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&project).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

// FindApprovedBySlugs returns the approved projects among slugs keyed by slug.
func (r *Repository) FindApprovedBySlugs(ctx context.Context, slugs []string) (map[string]models.Project, error) {
	out := make(map[string]models.Project, len(slugs))
	if len(slugs) == 0 {
		return out, nil
	}
	var rows []models.Project
	err := r.db.WithContext(ctx).
		Where("slug IN ?", slugs).
		Where("status = ?", enums.ProjectStatusApproved).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.Slug] = row
	}
	return out, nil
}

// SlugExists reports whether slug is already reserved by any project.
func (r *Repository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Project{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Update writes the editable columns. The slug, owner and counters are left alone.
func (r *Repository) Update(ctx context.Context, project *models.Project) error {
	return r.db.WithContext(ctx).
		Model(project).
		Select(
			"title", "description", "long_description", "price", "category",
			"thumbnail_url", "download_url", "docs_url", "demo_url", "status", "updated_at",
		).
		Updates(project).Error
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Project{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IncrementDownloadCount bumps the counter in place so concurrent downloads never
// lose an increment.
func (r *Repository) IncrementDownloadCount(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Project{}).
		Where("id = ?", id).
		UpdateColumn("download_count", gorm.Expr("download_count + ?", 1)).Error
}

type listFilter struct {
	UserID   *uuid.UUID
	Status   *enums.ProjectStatus
	Category string
	Search   string
	Sort     SortOrder
	Limit    int
	Offset   int
}

// List returns one page of projects matching f plus the total match count.
func (r *Repository) List(ctx context.Context, f listFilter) ([]models.Project, int64, error) {
	base := r.db.WithContext(ctx).Model(&models.Project{})
	if f.UserID != nil {
		base = base.Where("user_id = ?", *f.UserID)
	}
	if f.Status != nil {
		base = base.Where("status = ?", *f.Status)
	}
	if f.Category != "" {
		base = base.Where("category = ?", f.Category)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
		base = base.Where(
			`(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\' OR LOWER(COALESCE(author_name, '')) LIKE ? ESCAPE '\' OR LOWER(category) LIKE ? ESCAPE '\')`,
			pattern, pattern, pattern, pattern,
		)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Project
	query := base.Session(&gorm.Session{})
	for _, order := range f.Sort.clauses() {
		query = query.Order(order)
	}
	if err := query.Limit(f.Limit).Offset(f.Offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func escapeLike(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(term)
}
