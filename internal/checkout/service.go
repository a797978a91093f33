package checkout

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quickbuyer/quickbuyer-backend/pkg/auth"
	"github.com/quickbuyer/quickbuyer-backend/pkg/config"
	"github.com/quickbuyer/quickbuyer-backend/pkg/creem"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
	pkgerrors "github.com/quickbuyer/quickbuyer-backend/pkg/errors"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
	"github.com/quickbuyer/quickbuyer-backend/pkg/metrics"
)

const (
	// MaxCartItems caps distinct lines in one cart checkout.
	MaxCartItems = 50

	requestIDPrefix = "qb"
	successPath     = "/checkout/success"
)

// Service opens hosted checkout sessions. Prices always come from the catalog.
type Service interface {
	CreateSingle(ctx context.Context, caller *auth.Identity, input SingleInput) (*Session, error)
	CreateCart(ctx context.Context, caller *auth.Identity, input CartInput) (*Session, error)
}

// SingleInput is either a subscription (planName) or a one-time project purchase
// (projectSlug). Client supplied titles and prices are informational only.
type SingleInput struct {
	ProductID    *string          `json:"productId"`
	PlanName     *string          `json:"planName"`
	BillingCycle *string          `json:"billingCycle"`
	ProjectSlug  *string          `json:"projectSlug"`
	ProjectTitle *string          `json:"projectTitle"`
	Price        *decimal.Decimal `json:"price"`
}

type CartItem struct {
	ID    string           `json:"id"`
	Slug  string           `json:"slug" validate:"required"`
	Title string           `json:"title"`
	Price *decimal.Decimal `json:"price"`
}

type CartInput struct {
	Items []CartItem `json:"items" validate:"required,min=1,max=50,dive"`
}

// Session is returned to the browser, which redirects to CheckoutURL.
type Session struct {
	CheckoutURL string `json:"checkoutUrl"`
	CheckoutID  string `json:"checkoutId"`
	RequestID   string `json:"requestId"`
}

type checkoutCreator interface {
	CreateCheckout(ctx context.Context, in creem.CheckoutRequest) (*creem.CheckoutSession, error)
}

type projectFinder interface {
	FindBySlug(ctx context.Context, slug string) (*models.Project, error)
	FindApprovedBySlugs(ctx context.Context, slugs []string) (map[string]models.Project, error)
}

type service struct {
	processor     checkoutCreator
	projects      projectFinder
	appBaseURL    string
	cartProductID string
	planProducts  map[string]string
	metrics       *metrics.Marketplace
	logg          *logger.Logger
	now           func() time.Time
}

// NewService wires checkout against the processor client and the catalog.
func NewService(processor checkoutCreator, projects projectFinder, appCfg config.AppConfig, creemCfg config.CreemConfig, m *metrics.Marketplace, logg *logger.Logger) (Service, error) {
	if processor == nil {
		return nil, fmt.Errorf("checkout processor required")
	}
	if projects == nil {
		return nil, fmt.Errorf("project repository required")
	}
	base := strings.TrimRight(strings.TrimSpace(appCfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("app base url required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		processor:     processor,
		projects:      projects,
		appBaseURL:    base,
		cartProductID: strings.TrimSpace(creemCfg.CartProductID),
		planProducts:  creemCfg.PlanProductMap(),
		metrics:       m,
		logg:          logg,
		now:           time.Now,
	}, nil
}

func (s *service) CreateSingle(ctx context.Context, caller *auth.Identity, input SingleInput) (*Session, error) {
	plan := trimmed(input.PlanName)
	slug := trimmed(input.ProjectSlug)

	switch {
	case plan != "":
		return s.subscription(ctx, caller, plan, input)
	case slug != "":
		return s.project(ctx, caller, slug, input)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "planName or projectSlug is required")
	}
}

func (s *service) subscription(ctx context.Context, caller *auth.Identity, plan string, input SingleInput) (*Session, error) {
	cycle, err := enums.ParseBillingCycle(trimmed(input.BillingCycle))
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "billingCycle must be monthly or yearly")
	}

	productID := trimmed(input.ProductID)
	if productID == "" {
		productID = s.planProducts[strings.ToLower(plan)+":"+cycle.String()]
	}
	if productID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no product configured for this plan").
			WithDetails(map[string]string{"planName": plan, "billingCycle": cycle.String()})
	}

	metadata := s.baseMetadata(creem.KindSubscription, caller)
	metadata[creem.MetaPlanName] = plan
	metadata[creem.MetaBillingCycle] = cycle.String()
	return s.open(ctx, creem.KindSubscription, productID, caller, metadata)
}

func (s *service) project(ctx context.Context, caller *auth.Identity, slug string, input SingleInput) (*Session, error) {
	project, err := s.projects.FindBySlug(ctx, slug)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "project not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load project")
	}
	if project.Status != enums.ProjectStatusApproved {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "project not found")
	}

	productID := trimmed(input.ProductID)
	if productID == "" {
		productID = s.cartProductID
	}
	if productID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout product is not configured")
	}

	if input.Price != nil && !input.Price.Equal(project.Price) {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"project_slug": project.Slug,
			"client_price": input.Price.StringFixed(2),
			"price":        project.Price.StringFixed(2),
		})
		s.logg.Warn(logCtx, "checkout.client_price_ignored")
	}

	price := project.Price.StringFixed(2)
	metadata := s.baseMetadata(creem.KindSingle, caller)
	metadata[creem.MetaProjectSlug] = project.Slug
	metadata[creem.MetaProjectTitle] = project.Title
	metadata[creem.MetaPrice] = price
	metadata[creem.MetaTotal] = price
	return s.open(ctx, creem.KindSingle, productID, caller, metadata)
}

func (s *service) CreateCart(ctx context.Context, caller *auth.Identity, input CartInput) (*Session, error) {
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	if len(input.Items) > MaxCartItems {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("cart cannot contain more than %d items", MaxCartItems))
	}
	if s.cartProductID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cart checkout product is not configured")
	}

	slugs := make([]string, 0, len(input.Items))
	lineIDs := make(map[string]string, len(input.Items))
	for _, item := range input.Items {
		slug := strings.TrimSpace(item.Slug)
		if slug == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "every cart item needs a slug")
		}
		if _, seen := lineIDs[slug]; seen {
			continue
		}
		lineIDs[slug] = strings.TrimSpace(item.ID)
		slugs = append(slugs, slug)
	}

	found, err := s.projects.FindApprovedBySlugs(ctx, slugs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart projects")
	}

	var missing []string
	total := decimal.Zero
	items := make([]creem.MetadataItem, 0, len(slugs))
	for _, slug := range slugs {
		project, ok := found[slug]
		if !ok {
			missing = append(missing, slug)
			continue
		}
		total = total.Add(project.Price)
		id := lineIDs[slug]
		if id == "" {
			id = project.ID.String()
		}
		items = append(items, creem.MetadataItem{
			ID:    id,
			Slug:  project.Slug,
			Title: project.Title,
			Price: project.Price.StringFixed(2),
		})
	}
	if len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart contains unavailable projects").
			WithDetails(map[string]any{"unknownSlugs": missing})
	}

	encoded, err := creem.EncodeItems(items)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode cart items")
	}
	metadata := s.baseMetadata(creem.KindCart, caller)
	metadata[creem.MetaItems] = encoded
	metadata[creem.MetaTotal] = total.StringFixed(2)
	return s.open(ctx, creem.KindCart, s.cartProductID, caller, metadata)
}

func (s *service) open(ctx context.Context, kind creem.CheckoutKind, productID string, caller *auth.Identity, metadata map[string]any) (*Session, error) {
	req := creem.CheckoutRequest{
		ProductID:  productID,
		RequestID:  newRequestID(s.now()),
		SuccessURL: s.successURL(kind),
		Metadata:   metadata,
	}
	if caller != nil && strings.TrimSpace(caller.Email) != "" {
		req.Customer = &creem.Customer{Email: strings.TrimSpace(caller.Email)}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"checkout_kind": string(kind),
		"product_id":    productID,
		"request_id":    req.RequestID,
	})

	session, err := s.processor.CreateCheckout(ctx, req)
	if err != nil {
		outcome := metrics.OutcomeFailed
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) || pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			outcome = metrics.OutcomeRejected
		}
		s.metrics.Checkout(string(kind), outcome)
		s.logg.Error(logCtx, "checkout.create_failed", err)
		return nil, err
	}

	s.metrics.Checkout(string(kind), metrics.OutcomeSuccess)
	s.logg.Info(s.logg.WithField(logCtx, "checkout_id", session.ID), "checkout.created")
	return &Session{
		CheckoutURL: session.CheckoutURL,
		CheckoutID:  session.ID,
		RequestID:   session.RequestID,
	}, nil
}

func (s *service) baseMetadata(kind creem.CheckoutKind, caller *auth.Identity) map[string]any {
	metadata := map[string]any{creem.MetaType: string(kind)}
	if caller != nil && caller.UserID != uuid.Nil {
		metadata[creem.MetaUserID] = caller.UserID.String()
		if email := strings.TrimSpace(caller.Email); email != "" {
			metadata[creem.MetaEmail] = email
		}
	}
	return metadata
}

func (s *service) successURL(kind creem.CheckoutKind) string {
	q := url.Values{}
	q.Set("type", string(kind))
	return s.appBaseURL + successPath + "?" + q.Encode()
}

// newRequestID builds qb_<unix millis>_<8 hex>.
func newRequestID(now time.Time) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s_%d_%s", requestIDPrefix, now.UnixMilli(), hex.EncodeToString(buf))
}

func trimmed(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}
