package creemwebhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/quickbuyer/quickbuyer-backend/internal/projects"
	"github.com/quickbuyer/quickbuyer-backend/internal/purchases"
	"github.com/quickbuyer/quickbuyer-backend/internal/subscriptions"
	"github.com/quickbuyer/quickbuyer-backend/internal/users"
	"github.com/quickbuyer/quickbuyer-backend/pkg/creem"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
	pkgerrors "github.com/quickbuyer/quickbuyer-backend/pkg/errors"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
	"github.com/quickbuyer/quickbuyer-backend/pkg/metrics"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox/payloads"
)

const defaultCurrency = "USD"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	TransactionRunner txRunner
	Users             *users.Repository
	Projects          *projects.Repository
	Purchases         *purchases.Repository
	Subscriptions     *subscriptions.Repository
	Audit             *AuditRepository
	Events            outbox.Emitter
	Guard             *IdempotencyGuard
	WebhookSecret     string
	Metrics           *metrics.Marketplace
	Logger            *logger.Logger
}

// Service verifies, deduplicates and fulfills processor webhooks.
type Service struct {
	tx            txRunner
	users         *users.Repository
	projects      *projects.Repository
	purchases     *purchases.Repository
	subscriptions *subscriptions.Repository
	audit         *AuditRepository
	events        outbox.Emitter
	guard         *IdempotencyGuard
	secret        string
	metrics       *metrics.Marketplace
	logg          *logger.Logger
	now           func() time.Time
}

// Result describes how a delivery was handled.
type Result struct {
	EventID   string
	EventType string
	Duplicate bool
	Status    enums.WebhookEventStatus
}

type outcome struct {
	status enums.WebhookEventStatus
	note   string
}

func processed() outcome { return outcome{status: enums.WebhookEventProcessed} }

func ignored(note string) outcome {
	return outcome{status: enums.WebhookEventIgnored, note: note}
}

func failed(note string) outcome {
	return outcome{status: enums.WebhookEventFailed, note: note}
}

func NewService(params ServiceParams) (*Service, error) {
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Users == nil || params.Projects == nil || params.Purchases == nil || params.Subscriptions == nil {
		return nil, fmt.Errorf("repositories required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		tx:            params.TransactionRunner,
		users:         params.Users,
		projects:      params.Projects,
		purchases:     params.Purchases,
		subscriptions: params.Subscriptions,
		audit:         params.Audit,
		events:        params.Events,
		guard:         params.Guard,
		secret:        params.WebhookSecret,
		metrics:       params.Metrics,
		logg:          logg,
		now:           time.Now,
	}, nil
}

// Handle processes one delivery. A nil error means the processor may stop retrying.
func (s *Service) Handle(ctx context.Context, body []byte, signature string) (*Result, error) {
	if err := creem.VerifySignature(s.secret, body, signature); err != nil {
		s.metrics.WebhookEvent("unverified", metrics.OutcomeRejected)
		s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "webhook.creem.signature_rejected")
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid webhook signature")
	}

	event, err := ParseEvent(body)
	if err != nil {
		s.metrics.WebhookEvent("malformed", metrics.OutcomeRejected)
		s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "webhook.creem.malformed")
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}

	ctx = s.logg.WithEvent(ctx, event.EventID(), event.EventType())
	label := metricLabel(event)
	result := &Result{EventID: event.EventID(), EventType: event.EventType()}

	claimed, err := s.guard.Claim(ctx, event.EventID())
	if err != nil {
		s.metrics.WebhookEvent(label, metrics.OutcomeFailed)
		s.logg.Error(ctx, "webhook.creem.claim_failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook deduplication unavailable")
	}
	if !claimed {
		s.metrics.WebhookEvent(label, metrics.OutcomeDeduped)
		s.logg.Info(ctx, "webhook.creem.duplicate")
		result.Duplicate = true
		return result, nil
	}

	var out outcome
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var dispatchErr error
		out, dispatchErr = s.dispatch(ctx, tx, event)
		if dispatchErr != nil {
			return dispatchErr
		}
		return s.audit.WithTx(tx).Record(ctx, event, body, out.status, out.note, s.now())
	})
	if err != nil {
		if releaseErr := s.guard.Release(ctx, event.EventID()); releaseErr != nil {
			s.logg.Error(ctx, "webhook.creem.release_failed", releaseErr)
		}
		s.metrics.WebhookEvent(label, metrics.OutcomeFailed)
		s.logg.Error(ctx, "webhook.creem.processing_failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook processing failed")
	}

	result.Status = out.status
	logCtx := s.logg.WithField(ctx, "status", string(out.status))
	switch out.status {
	case enums.WebhookEventProcessed:
		s.metrics.WebhookEvent(label, metrics.OutcomeSuccess)
		s.logg.Info(logCtx, "webhook.creem.processed")
	case enums.WebhookEventIgnored:
		s.metrics.WebhookEvent(label, metrics.OutcomeIgnored)
		s.logg.Info(s.logg.WithField(logCtx, "note", out.note), "webhook.creem.ignored")
	default:
		s.metrics.WebhookEvent(label, metrics.OutcomeRejected)
		s.logg.Warn(s.logg.WithField(logCtx, "note", out.note), "webhook.creem.permanent_failure")
	}
	return result, nil
}

func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event Event) (outcome, error) {
	switch ev := event.(type) {
	case CheckoutCompleted:
		return s.onCheckoutCompleted(ctx, tx, ev)
	case SubscriptionCreated:
		return s.activateSubscription(ctx, tx, activation{
			userID:         ev.Metadata.UserID,
			email:          firstNonEmpty(ev.Metadata.Email, ev.CustomerEmail),
			subscriptionID: ev.SubscriptionID,
			customerID:     ev.CustomerID,
			planName:       firstNonEmpty(ev.Metadata.PlanName, ev.ProductName),
			billingCycle:   ev.Metadata.BillingCycle,
			trigger:        ev.EventType(),
		})
	case SubscriptionCancelled:
		return s.setSubscriptionStatus(ctx, tx, ev.SubscriptionID, enums.SubscriptionStatusCancelled, ev.EventType())
	case SubscriptionRenewed:
		return s.onSubscriptionRenewed(ctx, tx, ev)
	case PaymentFailed:
		return s.setSubscriptionStatus(ctx, tx, ev.SubscriptionID, enums.SubscriptionStatusPastDue, ev.EventType())
	case Unknown:
		return ignored("unhandled event type"), nil
	default:
		return outcome{}, fmt.Errorf("unsupported webhook event %T", event)
	}
}

func metricLabel(event Event) string {
	switch event.(type) {
	case CheckoutCompleted:
		return "checkout_completed"
	case SubscriptionCreated:
		return "subscription_created"
	case SubscriptionCancelled:
		return "subscription_cancelled"
	case SubscriptionRenewed:
		return "subscription_renewed"
	case PaymentFailed:
		return "payment_failed"
	default:
		return "unknown"
	}
}

func (s *Service) onCheckoutCompleted(ctx context.Context, tx *gorm.DB, ev CheckoutCompleted) (outcome, error) {
	meta := ev.Metadata
	switch {
	case meta.Type == creem.KindCart:
		if len(meta.Items) == 0 {
			return failed("cart checkout carried no items"), nil
		}
		lines := make([]purchaseLine, 0, len(meta.Items))
		for _, item := range meta.Items {
			lines = append(lines, purchaseLine{slug: item.Slug, price: item.Price})
		}
		return s.fulfillPurchases(ctx, tx, ev, creem.KindCart, lines)
	case meta.PlanName != "":
		return s.activateSubscription(ctx, tx, activation{
			userID:         meta.UserID,
			email:          firstNonEmpty(meta.Email, ev.CustomerEmail),
			subscriptionID: ev.SubscriptionID,
			customerID:     ev.CustomerID,
			planName:       meta.PlanName,
			billingCycle:   meta.BillingCycle,
			trigger:        ev.EventType(),
		})
	case meta.ProjectSlug != "":
		return s.fulfillPurchases(ctx, tx, ev, creem.KindSingle, []purchaseLine{{slug: meta.ProjectSlug, price: meta.Price}})
	default:
		return ignored("checkout metadata names no project, cart or plan"), nil
	}
}

type purchaseLine struct {
	slug  string
	price string
}

// fulfillPurchases writes one purchase per line. Missing projects are permanent
// failures for that line only; database errors abort the whole event.
func (s *Service) fulfillPurchases(ctx context.Context, tx *gorm.DB, ev CheckoutCompleted, kind creem.CheckoutKind, lines []purchaseLine) (outcome, error) {
	email := strings.ToLower(firstNonEmpty(ev.Metadata.Email, ev.CustomerEmail))
	purchaser, err := s.resolveUser(ctx, tx, ev.Metadata.UserID, email)
	if err != nil {
		return outcome{}, err
	}
	currency := firstNonEmpty(ev.Currency, defaultCurrency)

	projectRepo := s.projects.WithTx(tx)
	purchaseRepo := s.purchases.WithTx(tx)
	var problems []string
	for _, line := range lines {
		slug := strings.TrimSpace(line.slug)
		project, err := projectRepo.FindBySlug(ctx, slug)
		if err != nil {
			if db.IsNotFound(err) {
				problems = append(problems, "project not found: "+slug)
				s.logg.Warn(s.logg.WithField(ctx, "project_slug", slug), "webhook.creem.project_missing")
				continue
			}
			return outcome{}, fmt.Errorf("load project %s: %w", slug, err)
		}

		purchase := &models.Purchase{
			ProjectID:     project.ID,
			UserID:        purchaser,
			CustomerEmail: optionalString(email),
			CheckoutID:    ev.CheckoutID,
			Amount:        linePrice(line.price, project.Price),
			Currency:      currency,
			Status:        enums.PurchaseStatusCompleted,
		}
		created, err := purchaseRepo.CreateIfAbsent(ctx, purchase)
		if err != nil {
			return outcome{}, fmt.Errorf("insert purchase for %s: %w", slug, err)
		}
		if !created {
			continue
		}

		err = s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPurchaseCompleted,
			AggregateType: enums.AggregatePurchase,
			AggregateID:   purchase.ID,
			Data: payloads.PurchaseCompletedEvent{
				PurchaseID:    purchase.ID,
				ProjectID:     project.ID,
				ProjectSlug:   project.Slug,
				UserID:        purchaser,
				CustomerEmail: email,
				CheckoutID:    ev.CheckoutID,
				Amount:        purchase.Amount,
				Currency:      currency,
				Source:        string(kind),
			},
		})
		if err != nil {
			return outcome{}, fmt.Errorf("emit purchase_completed: %w", err)
		}
	}

	if len(problems) == len(lines) {
		return failed(strings.Join(problems, "; ")), nil
	}
	out := processed()
	out.note = strings.Join(problems, "; ")
	return out, nil
}

type activation struct {
	userID         string
	email          string
	subscriptionID string
	customerID     string
	planName       string
	billingCycle   string
	trigger        string
}

func (s *Service) activateSubscription(ctx context.Context, tx *gorm.DB, act activation) (outcome, error) {
	userID, err := s.resolveUser(ctx, tx, act.userID, act.email)
	if err != nil {
		return outcome{}, err
	}
	if userID == nil {
		return failed("subscription owner could not be resolved"), nil
	}

	cycle, err := enums.ParseBillingCycle(act.billingCycle)
	if err != nil {
		cycle = enums.BillingCycleMonthly
	}
	start := s.now().UTC()
	sub := &models.Subscription{
		UserID:                 *userID,
		PlanName:               firstNonEmpty(act.planName, "subscription"),
		BillingCycle:           cycle,
		Status:                 enums.SubscriptionStatusActive,
		CurrentPeriodStart:     start,
		CurrentPeriodEnd:       cycle.PeriodEnd(start),
		ExternalSubscriptionID: optionalString(act.subscriptionID),
		ExternalCustomerID:     optionalString(act.customerID),
	}
	stored, err := s.subscriptions.WithTx(tx).Upsert(ctx, sub)
	if err != nil {
		return outcome{}, fmt.Errorf("upsert subscription: %w", err)
	}
	if err := s.emitSubscriptionChanged(ctx, tx, *stored, act.trigger); err != nil {
		return outcome{}, err
	}
	return processed(), nil
}

func (s *Service) onSubscriptionRenewed(ctx context.Context, tx *gorm.DB, ev SubscriptionRenewed) (outcome, error) {
	repo := s.subscriptions.WithTx(tx)
	var rows []models.Subscription
	if ev.SubscriptionID != "" {
		found, err := repo.FindByExternalID(ctx, ev.SubscriptionID)
		if err != nil {
			return outcome{}, fmt.Errorf("load subscription: %w", err)
		}
		rows = found
	}
	if len(rows) == 0 {
		return s.activateSubscription(ctx, tx, activation{
			userID:         ev.Metadata.UserID,
			email:          firstNonEmpty(ev.Metadata.Email, ev.CustomerEmail),
			subscriptionID: ev.SubscriptionID,
			customerID:     ev.CustomerID,
			planName:       firstNonEmpty(ev.Metadata.PlanName, ev.ProductName),
			billingCycle:   ev.Metadata.BillingCycle,
			trigger:        ev.EventType(),
		})
	}

	start := s.now().UTC()
	for _, row := range rows {
		end := row.BillingCycle.PeriodEnd(start)
		if err := repo.RenewByID(ctx, row.ID, start, end); err != nil {
			return outcome{}, fmt.Errorf("renew subscription: %w", err)
		}
		row.Status = enums.SubscriptionStatusActive
		row.CurrentPeriodStart = start
		row.CurrentPeriodEnd = end
		if err := s.emitSubscriptionChanged(ctx, tx, row, ev.EventType()); err != nil {
			return outcome{}, err
		}
	}
	return processed(), nil
}

func (s *Service) setSubscriptionStatus(ctx context.Context, tx *gorm.DB, subscriptionID string, status enums.SubscriptionStatus, trigger string) (outcome, error) {
	if subscriptionID == "" {
		return ignored("event carried no subscription id"), nil
	}
	rows, err := s.subscriptions.WithTx(tx).SetStatusByExternalID(ctx, subscriptionID, status)
	if err != nil {
		return outcome{}, fmt.Errorf("update subscription status: %w", err)
	}
	if len(rows) == 0 {
		return ignored("no subscription matches " + subscriptionID), nil
	}
	for _, row := range rows {
		if err := s.emitSubscriptionChanged(ctx, tx, row, trigger); err != nil {
			return outcome{}, err
		}
	}
	return processed(), nil
}

func (s *Service) emitSubscriptionChanged(ctx context.Context, tx *gorm.DB, sub models.Subscription, trigger string) error {
	end := sub.CurrentPeriodEnd.UTC()
	err := s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSubscriptionChanged,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   sub.ID,
		Actor:         &outbox.ActorRef{UserID: sub.UserID},
		Data: payloads.SubscriptionChangedEvent{
			SubscriptionID:   sub.ID,
			UserID:           sub.UserID,
			PlanName:         sub.PlanName,
			BillingCycle:     sub.BillingCycle,
			Status:           sub.Status,
			CurrentPeriodEnd: &end,
			Trigger:          trigger,
		},
	})
	if err != nil {
		return fmt.Errorf("emit subscription_changed: %w", err)
	}
	return nil
}

// resolveUser prefers the user id stamped at checkout and falls back to an email
// match. A nil id with a nil error means nobody matched.
func (s *Service) resolveUser(ctx context.Context, tx *gorm.DB, rawID, email string) (*uuid.UUID, error) {
	if id, err := uuid.Parse(strings.TrimSpace(rawID)); err == nil && id != uuid.Nil {
		return &id, nil
	}
	if strings.TrimSpace(email) == "" {
		return nil, nil
	}
	user, err := s.users.WithTx(tx).FindByEmail(ctx, email)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup user by email: %w", err)
	}
	return &user.ID, nil
}

func linePrice(raw string, fallback decimal.Decimal) decimal.Decimal {
	if price, err := decimal.NewFromString(strings.TrimSpace(raw)); err == nil && !price.IsNegative() {
		return price
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
