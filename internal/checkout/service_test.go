package checkout

import (
	"context"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/quickbuyer/quickbuyer-backend/internal/projects"
	"github.com/quickbuyer/quickbuyer-backend/pkg/auth"
	"github.com/quickbuyer/quickbuyer-backend/pkg/config"
	"github.com/quickbuyer/quickbuyer-backend/pkg/creem"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/dbtest"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
	pkgerrors "github.com/quickbuyer/quickbuyer-backend/pkg/errors"
)

type recordingProcessor struct {
	requests []creem.CheckoutRequest
	err      error
}

func (p *recordingProcessor) CreateCheckout(_ context.Context, in creem.CheckoutRequest) (*creem.CheckoutSession, error) {
	p.requests = append(p.requests, in)
	if p.err != nil {
		return nil, p.err
	}
	return &creem.CheckoutSession{ID: "ch_123", CheckoutURL: "https://checkout.creem.io/ch_123", RequestID: in.RequestID}, nil
}

func (p *recordingProcessor) last(t *testing.T) creem.CheckoutRequest {
	t.Helper()
	require.NotEmpty(t, p.requests)
	return p.requests[len(p.requests)-1]
}

func newTestService(t *testing.T) (Service, *recordingProcessor, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	processor := &recordingProcessor{}
	svc, err := NewService(
		processor,
		projects.NewRepository(conn),
		config.AppConfig{BaseURL: "https://quickbuyer.example/"},
		config.CreemConfig{CartProductID: "prod_cart", PlanProducts: "pro:monthly=prod_pro_m, pro:yearly=prod_pro_y"},
		nil,
		nil,
	)
	require.NoError(t, err)
	return svc, processor, conn
}

func seedProject(t *testing.T, conn *gorm.DB, slug, price string, status enums.ProjectStatus) models.Project {
	t.Helper()
	project := models.Project{
		Slug:        slug,
		Title:       "Title " + slug,
		Description: "d",
		Price:       decimal.RequireFromString(price),
		Category:    "agents",
		DownloadURL: "https://files.example.com/" + slug,
		UserID:      uuid.New(),
		Status:      status,
	}
	require.NoError(t, conn.Create(&project).Error)
	return project
}

func strPtr(v string) *string { return &v }

func TestCreateSingleProjectUsesDatabasePrice(t *testing.T) {
	svc, processor, conn := newTestService(t)
	seedProject(t, conn, "agent-kit", "29.00", enums.ProjectStatusApproved)
	caller := &auth.Identity{UserID: uuid.New(), Email: "buyer@example.com"}
	tampered := decimal.RequireFromString("0.01")

	session, err := svc.CreateSingle(context.Background(), caller, SingleInput{ProjectSlug: strPtr("agent-kit"), Price: &tampered})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.creem.io/ch_123", session.CheckoutURL)
	assert.Equal(t, "ch_123", session.CheckoutID)
	assert.Regexp(t, `^qb_\d+_[0-9a-f]{8}$`, session.RequestID)

	req := processor.last(t)
	assert.Equal(t, "prod_cart", req.ProductID)
	assert.Equal(t, "29.00", req.Metadata[creem.MetaPrice])
	assert.Equal(t, "agent-kit", req.Metadata[creem.MetaProjectSlug])
	assert.Equal(t, string(creem.KindSingle), req.Metadata[creem.MetaType])
	assert.Equal(t, caller.UserID.String(), req.Metadata[creem.MetaUserID])
	require.NotNil(t, req.Customer)
	assert.Equal(t, "buyer@example.com", req.Customer.Email)

	success, err := url.Parse(req.SuccessURL)
	require.NoError(t, err)
	assert.Equal(t, "/checkout/success", success.Path)
	assert.Equal(t, "single", success.Query().Get("type"))
}

func TestCreateSingleRejectsUnapprovedProject(t *testing.T) {
	svc, processor, conn := newTestService(t)
	seedProject(t, conn, "draft", "5.00", enums.ProjectStatusPending)

	_, err := svc.CreateSingle(context.Background(), nil, SingleInput{ProjectSlug: strPtr("draft")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.CreateSingle(context.Background(), nil, SingleInput{ProjectSlug: strPtr("missing")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Empty(t, processor.requests)
}

func TestCreateSingleSubscriptionUsesPlanMap(t *testing.T) {
	svc, processor, _ := newTestService(t)

	_, err := svc.CreateSingle(context.Background(), nil, SingleInput{PlanName: strPtr("Pro"), BillingCycle: strPtr("yearly")})
	require.NoError(t, err)
	req := processor.last(t)
	assert.Equal(t, "prod_pro_y", req.ProductID)
	assert.Equal(t, "yearly", req.Metadata[creem.MetaBillingCycle])
	assert.Nil(t, req.Customer)
	assert.NotContains(t, req.Metadata, creem.MetaUserID)
	assert.Contains(t, req.SuccessURL, "type=subscription")

	_, err = svc.CreateSingle(context.Background(), nil, SingleInput{PlanName: strPtr("pro"), ProductID: strPtr("prod_override")})
	require.NoError(t, err)
	assert.Equal(t, "prod_override", processor.last(t).ProductID)

	_, err = svc.CreateSingle(context.Background(), nil, SingleInput{PlanName: strPtr("enterprise")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.CreateSingle(context.Background(), nil, SingleInput{PlanName: strPtr("pro"), BillingCycle: strPtr("weekly")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCreateSingleRequiresPlanOrProject(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.CreateSingle(context.Background(), nil, SingleInput{ProjectTitle: strPtr("whatever")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCreateCartRepricesAndCollapsesDuplicates(t *testing.T) {
	svc, processor, conn := newTestService(t)
	seedProject(t, conn, "a", "10.00", enums.ProjectStatusApproved)
	seedProject(t, conn, "b", "5.50", enums.ProjectStatusApproved)
	cheap := decimal.RequireFromString("0.01")

	_, err := svc.CreateCart(context.Background(), nil, CartInput{Items: []CartItem{
		{ID: "1", Slug: "a", Price: &cheap},
		{ID: "2", Slug: "b"},
		{ID: "3", Slug: "a"},
	}})
	require.NoError(t, err)

	req := processor.last(t)
	assert.Equal(t, "prod_cart", req.ProductID)
	assert.Equal(t, "15.50", req.Metadata[creem.MetaTotal])
	assert.Equal(t, string(creem.KindCart), req.Metadata[creem.MetaType])

	raw, ok := req.Metadata[creem.MetaItems].(string)
	require.True(t, ok)
	items, err := creem.DecodeItems([]byte(raw))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Slug)
	assert.Equal(t, "10.00", items[0].Price)
	assert.Equal(t, "1", items[0].ID)
}

func TestCreateCartValidation(t *testing.T) {
	svc, processor, conn := newTestService(t)
	seedProject(t, conn, "a", "10.00", enums.ProjectStatusApproved)
	seedProject(t, conn, "hidden", "10.00", enums.ProjectStatusRejected)

	_, err := svc.CreateCart(context.Background(), nil, CartInput{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.CreateCart(context.Background(), nil, CartInput{Items: []CartItem{{Slug: "a"}, {Slug: "hidden"}, {Slug: "ghost"}}})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"hidden", "ghost"}, details["unknownSlugs"])

	tooMany := make([]CartItem, MaxCartItems+1)
	for i := range tooMany {
		tooMany[i] = CartItem{Slug: "a"}
	}
	_, err = svc.CreateCart(context.Background(), nil, CartInput{Items: tooMany})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, processor.requests)
}

func TestProcessorErrorsPassThrough(t *testing.T) {
	svc, processor, conn := newTestService(t)
	seedProject(t, conn, "a", "10.00", enums.ProjectStatusApproved)
	processor.err = pkgerrors.New(pkgerrors.CodeDependency, "payment processor rejected credentials or product")

	_, err := svc.CreateSingle(context.Background(), nil, SingleInput{ProjectSlug: strPtr("a")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}
