package creemwebhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/quickbuyer/quickbuyer-backend/internal/projects"
	"github.com/quickbuyer/quickbuyer-backend/internal/purchases"
	"github.com/quickbuyer/quickbuyer-backend/internal/subscriptions"
	"github.com/quickbuyer/quickbuyer-backend/internal/users"
	"github.com/quickbuyer/quickbuyer-backend/pkg/creem"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/dbtest"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
	pkgerrors "github.com/quickbuyer/quickbuyer-backend/pkg/errors"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox"
)

const testSecret = "whsec_test"

type failingEmitter struct{}

func (failingEmitter) Emit(context.Context, *gorm.DB, outbox.DomainEvent) error {
	return errors.New("outbox unavailable")
}

type webhookEnv struct {
	conn   *gorm.DB
	svc    *Service
	claims *memoryClaims
	now    time.Time
}

func newWebhookEnv(t *testing.T, emitter outbox.Emitter) *webhookEnv {
	t.Helper()
	conn := dbtest.Open(t)
	if emitter == nil {
		emitter = outbox.NewService(outbox.NewRepository(conn), nil)
	}
	claims := newMemoryClaims()
	guard, err := NewIdempotencyGuard(claims, time.Hour)
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		TransactionRunner: db.FromGorm(conn),
		Users:             users.NewRepository(conn),
		Projects:          projects.NewRepository(conn),
		Purchases:         purchases.NewRepository(conn),
		Subscriptions:     subscriptions.NewRepository(conn),
		Audit:             NewAuditRepository(conn),
		Events:            emitter,
		Guard:             guard,
		WebhookSecret:     testSecret,
	})
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return &webhookEnv{conn: conn, svc: svc, claims: claims, now: now}
}

func (e *webhookEnv) deliver(t *testing.T, payload map[string]any) (*Result, error) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return e.svc.Handle(context.Background(), body, creem.Sign(testSecret, body))
}

func (e *webhookEnv) seedProject(t *testing.T, slug, price string) models.Project {
	t.Helper()
	project := models.Project{
		Slug:        slug,
		Title:       "Title " + slug,
		Description: "d",
		Price:       decimal.RequireFromString(price),
		Category:    "agents",
		DownloadURL: "https://files.example.com/" + slug,
		UserID:      uuid.New(),
		Status:      enums.ProjectStatusApproved,
	}
	require.NoError(t, e.conn.Create(&project).Error)
	return project
}

func (e *webhookEnv) seedUser(t *testing.T, email string) models.User {
	t.Helper()
	user := models.User{Email: email}
	require.NoError(t, e.conn.Create(&user).Error)
	return user
}

func (e *webhookEnv) purchases(t *testing.T) []models.Purchase {
	t.Helper()
	var rows []models.Purchase
	require.NoError(t, e.conn.Order("amount DESC").Find(&rows).Error)
	return rows
}

func (e *webhookEnv) outboxCount(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func (e *webhookEnv) audit(t *testing.T, eventID string) *models.WebhookEvent {
	t.Helper()
	row, err := e.svc.audit.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	return row
}

func checkoutCompleted(id string, metadata map[string]any) map[string]any {
	return map[string]any{
		"id":        id,
		"eventType": "checkout.completed",
		"object": map[string]any{
			"id":       "ch_" + id,
			"customer": map[string]any{"id": "cust_1", "email": "buyer@example.com"},
			"order":    map[string]any{"id": "ord_1", "currency": "usd"},
			"metadata": metadata,
		},
	}
}

func TestHandleRejectsBadSignature(t *testing.T) {
	env := newWebhookEnv(t, nil)
	body := []byte(`{"id":"evt","eventType":"checkout.completed"}`)

	_, err := env.svc.Handle(context.Background(), body, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	_, err = env.svc.Handle(context.Background(), body, creem.Sign("other", body))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	assert.False(t, env.claims.held("evt"))
}

func TestHandleRequiresConfiguredSecret(t *testing.T) {
	env := newWebhookEnv(t, nil)
	env.svc.secret = ""
	body := []byte(`{"id":"evt","eventType":"checkout.completed"}`)

	_, err := env.svc.Handle(context.Background(), body, creem.Sign("", body))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestHandleRejectsMalformedBody(t *testing.T) {
	env := newWebhookEnv(t, nil)
	body := []byte(`{"id":"evt"}`)
	_, err := env.svc.Handle(context.Background(), body, creem.Sign(testSecret, body))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSingleCheckoutCreatesPurchaseOnce(t *testing.T) {
	env := newWebhookEnv(t, nil)
	project := env.seedProject(t, "agent-kit", "29.00")
	buyer := uuid.New()
	payload := checkoutCompleted("evt_single", map[string]any{
		"type":        "single",
		"userId":      buyer.String(),
		"projectSlug": "agent-kit",
		"price":       "29.00",
	})

	result, err := env.deliver(t, payload)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, enums.WebhookEventProcessed, result.Status)

	rows := env.purchases(t)
	require.Len(t, rows, 1)
	assert.Equal(t, project.ID, rows[0].ProjectID)
	require.NotNil(t, rows[0].UserID)
	assert.Equal(t, buyer, *rows[0].UserID)
	assert.Equal(t, "ch_evt_single", rows[0].CheckoutID)
	assert.Equal(t, "USD", rows[0].Currency)
	assert.True(t, decimal.RequireFromString("29").Equal(rows[0].Amount))
	assert.EqualValues(t, 1, env.outboxCount(t, enums.EventPurchaseCompleted))
	assert.Equal(t, enums.WebhookEventProcessed, env.audit(t, "evt_single").Status)

	result, err = env.deliver(t, payload)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Len(t, env.purchases(t), 1)
}

func TestRedeliveryAfterClaimExpiryStaysIdempotent(t *testing.T) {
	env := newWebhookEnv(t, nil)
	env.seedProject(t, "agent-kit", "29.00")
	payload := checkoutCompleted("evt_expired", map[string]any{"type": "single", "projectSlug": "agent-kit"})

	_, err := env.deliver(t, payload)
	require.NoError(t, err)
	require.NoError(t, env.svc.guard.Release(context.Background(), "evt_expired"))

	result, err := env.deliver(t, payload)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Len(t, env.purchases(t), 1)
	assert.EqualValues(t, 1, env.outboxCount(t, enums.EventPurchaseCompleted))
}

func TestAnonymousPurchaseResolvesByEmail(t *testing.T) {
	env := newWebhookEnv(t, nil)
	env.seedProject(t, "agent-kit", "29.00")
	user := env.seedUser(t, "buyer@example.com")

	_, err := env.deliver(t, checkoutCompleted("evt_email", map[string]any{"type": "single", "projectSlug": "agent-kit"}))
	require.NoError(t, err)
	rows := env.purchases(t)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].UserID)
	assert.Equal(t, user.ID, *rows[0].UserID)
}

func TestUnknownBuyerKeepsEmailForLaterClaim(t *testing.T) {
	env := newWebhookEnv(t, nil)
	env.seedProject(t, "agent-kit", "29.00")

	_, err := env.deliver(t, checkoutCompleted("evt_guest", map[string]any{"type": "single", "projectSlug": "agent-kit"}))
	require.NoError(t, err)
	rows := env.purchases(t)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].UserID)
	require.NotNil(t, rows[0].CustomerEmail)
	assert.Equal(t, "buyer@example.com", *rows[0].CustomerEmail)
}

func TestCartCheckoutCreatesPurchasePerItem(t *testing.T) {
	env := newWebhookEnv(t, nil)
	env.seedProject(t, "a", "10.00")
	env.seedProject(t, "b", "5.50")
	items, err := creem.EncodeItems([]creem.MetadataItem{
		{ID: "1", Slug: "a", Price: "10.00"},
		{ID: "2", Slug: "b", Price: ""},
		{ID: "3", Slug: "ghost", Price: "1.00"},
	})
	require.NoError(t, err)

	result, err := env.deliver(t, checkoutCompleted("evt_cart", map[string]any{"type": "cart", "items": items}))
	require.NoError(t, err)
	assert.Equal(t, enums.WebhookEventProcessed, result.Status)

	rows := env.purchases(t)
	require.Len(t, rows, 2)
	assert.True(t, decimal.RequireFromString("10").Equal(rows[0].Amount))
	assert.True(t, decimal.RequireFromString("5.5").Equal(rows[1].Amount))
	assert.EqualValues(t, 2, env.outboxCount(t, enums.EventPurchaseCompleted))

	audit := env.audit(t, "evt_cart")
	require.NotNil(t, audit.ProcessingError)
	assert.Contains(t, *audit.ProcessingError, "ghost")
}

func TestCartWithNumericPricesRecordsEachLine(t *testing.T) {
	env := newWebhookEnv(t, nil)
	env.seedProject(t, "a", "99.00")
	env.seedProject(t, "b", "99.00")
	buyer := uuid.New()

	result, err := env.deliver(t, checkoutCompleted("evt_cart_numeric", map[string]any{
		"type": "cart",
		"items": []map[string]any{
			{"slug": "a", "price": 10},
			{"slug": "b", "price": 20},
		},
		"userId": buyer.String(),
	}))
	require.NoError(t, err)
	assert.Equal(t, enums.WebhookEventProcessed, result.Status)

	rows := env.purchases(t)
	require.Len(t, rows, 2)
	assert.True(t, decimal.NewFromInt(20).Equal(rows[0].Amount))
	assert.True(t, decimal.NewFromInt(10).Equal(rows[1].Amount))
	for _, row := range rows {
		assert.Equal(t, enums.PurchaseStatusCompleted, row.Status)
		require.NotNil(t, row.UserID)
		assert.Equal(t, buyer, *row.UserID)
	}
}

func TestMissingProjectIsAcknowledgedAsFailed(t *testing.T) {
	env := newWebhookEnv(t, nil)

	result, err := env.deliver(t, checkoutCompleted("evt_missing", map[string]any{"type": "single", "projectSlug": "gone"}))
	require.NoError(t, err)
	assert.Equal(t, enums.WebhookEventFailed, result.Status)
	assert.Empty(t, env.purchases(t))
	assert.True(t, env.claims.held("evt_missing"))
	assert.Equal(t, enums.WebhookEventFailed, env.audit(t, "evt_missing").Status)
}

func TestTransientFailureRollsBackAndReleasesClaim(t *testing.T) {
	env := newWebhookEnv(t, failingEmitter{})
	env.seedProject(t, "agent-kit", "29.00")

	_, err := env.deliver(t, checkoutCompleted("evt_retry", map[string]any{"type": "single", "projectSlug": "agent-kit"}))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.True(t, pkgerrors.Retryable(err))
	assert.Empty(t, env.purchases(t))
	assert.False(t, env.claims.held("evt_retry"))

	_, err = env.svc.audit.FindByEventID(context.Background(), "evt_retry")
	assert.True(t, db.IsNotFound(err))
}

func TestClaimStoreOutageIsRetryable(t *testing.T) {
	env := newWebhookEnv(t, nil)
	env.claims.err = errors.New("redis down")

	_, err := env.deliver(t, checkoutCompleted("evt_redis", map[string]any{"type": "single", "projectSlug": "x"}))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestSubscriptionLifecycle(t *testing.T) {
	env := newWebhookEnv(t, nil)
	user := env.seedUser(t, "sub@example.com")

	_, err := env.deliver(t, checkoutCompleted("evt_sub_checkout", map[string]any{
		"type":         "subscription",
		"userId":       user.ID.String(),
		"planName":     "Pro",
		"billingCycle": "yearly",
	}))
	require.NoError(t, err)

	var sub models.Subscription
	require.NoError(t, env.conn.Where("user_id = ?", user.ID).First(&sub).Error)
	assert.Equal(t, "Pro", sub.PlanName)
	assert.Equal(t, enums.BillingCycleYearly, sub.BillingCycle)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.CurrentPeriodEnd.Equal(env.now.AddDate(1, 0, 0)))

	_, err = env.deliver(t, map[string]any{
		"id":        "evt_sub_created",
		"eventType": "subscription.active",
		"object": map[string]any{
			"id":       "sub_ext",
			"object":   "subscription",
			"customer": map[string]any{"id": "cust_9", "email": "sub@example.com"},
			"product":  map[string]any{"id": "prod_pro_y", "name": "Pro Yearly"},
			"metadata": map[string]any{"planName": "Pro", "billingCycle": "yearly"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, env.conn.Where("user_id = ?", user.ID).First(&sub).Error)
	require.NotNil(t, sub.ExternalSubscriptionID)
	assert.Equal(t, "sub_ext", *sub.ExternalSubscriptionID)

	result, err := env.deliver(t, map[string]any{
		"id": "evt_fail", "eventType": "payment.failed",
		"object": map[string]any{"id": "pay_1", "subscription": "sub_ext"},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.WebhookEventProcessed, result.Status)
	require.NoError(t, env.conn.Where("user_id = ?", user.ID).First(&sub).Error)
	assert.Equal(t, enums.SubscriptionStatusPastDue, sub.Status)

	env.now = env.now.AddDate(1, 0, 0)
	renewedAt := env.now
	env.svc.now = func() time.Time { return renewedAt }
	_, err = env.deliver(t, map[string]any{
		"id": "evt_renew", "eventType": "subscription.paid",
		"object": map[string]any{"id": "sub_ext", "object": "subscription"},
	})
	require.NoError(t, err)
	require.NoError(t, env.conn.Where("user_id = ?", user.ID).First(&sub).Error)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.CurrentPeriodEnd.Equal(renewedAt.AddDate(1, 0, 0)))

	_, err = env.deliver(t, map[string]any{
		"id": "evt_cancel", "eventType": "subscription.canceled",
		"object": map[string]any{"id": "sub_ext", "object": "subscription"},
	})
	require.NoError(t, err)
	require.NoError(t, env.conn.Where("user_id = ?", user.ID).First(&sub).Error)
	assert.Equal(t, enums.SubscriptionStatusCancelled, sub.Status)

	var count int64
	require.NoError(t, env.conn.Model(&models.Subscription{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assert.EqualValues(t, 5, env.outboxCount(t, enums.EventSubscriptionChanged))
}

func TestSubscriptionWithoutResolvableUserFails(t *testing.T) {
	env := newWebhookEnv(t, nil)

	result, err := env.deliver(t, checkoutCompleted("evt_orphan", map[string]any{"type": "subscription", "planName": "Pro"}))
	require.NoError(t, err)
	assert.Equal(t, enums.WebhookEventFailed, result.Status)
}

func TestCancellationForUnknownSubscriptionIsIgnored(t *testing.T) {
	env := newWebhookEnv(t, nil)

	result, err := env.deliver(t, map[string]any{
		"id": "evt_unknown_sub", "eventType": "subscription.cancelled",
		"object": map[string]any{"id": "sub_nobody", "object": "subscription"},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.WebhookEventIgnored, result.Status)
}

func TestUnhandledEventIsAudited(t *testing.T) {
	env := newWebhookEnv(t, nil)

	result, err := env.deliver(t, map[string]any{"id": "evt_refund", "eventType": "refund.created", "object": map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, enums.WebhookEventIgnored, result.Status)
	row := env.audit(t, "evt_refund")
	assert.Equal(t, "refund.created", row.EventType)
	assert.JSONEq(t, `{"id":"evt_refund","eventType":"refund.created","object":{}}`, string(row.Payload))
}
