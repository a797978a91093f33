package downloads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quickbuyer/quickbuyer-backend/internal/projects"
	"github.com/quickbuyer/quickbuyer-backend/internal/purchases"
	"github.com/quickbuyer/quickbuyer-backend/pkg/auth"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
	pkgerrors "github.com/quickbuyer/quickbuyer-backend/pkg/errors"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
	"github.com/quickbuyer/quickbuyer-backend/pkg/metrics"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox/payloads"
)

type Access string

const (
	AccessPurchase     Access = "purchase"
	AccessSubscription Access = "subscription"
)

var errNoPurchase = errors.New("no purchase for project")

// Grant carries the links released to an entitled caller.
type Grant struct {
	DownloadURL string  `json:"downloadUrl"`
	DocsURL     *string `json:"docsUrl"`
	DemoURL     *string `json:"demoUrl"`
	Access      Access  `json:"access"`
}

// Service gates project downloads behind a purchase or an active subscription.
type Service interface {
	Download(ctx context.Context, caller *auth.Identity, slug string) (*Grant, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type entitlements interface {
	ActiveFor(ctx context.Context, userID uuid.UUID, now time.Time) (*models.Subscription, error)
}

type service struct {
	projects      *projects.Repository
	purchases     *purchases.Repository
	subscriptions entitlements
	tx            txRunner
	events        outbox.Emitter
	metrics       *metrics.Marketplace
	logg          *logger.Logger
	now           func() time.Time
}

func NewService(projectRepo *projects.Repository, purchaseRepo *purchases.Repository, subs entitlements, tx txRunner, events outbox.Emitter, m *metrics.Marketplace, logg *logger.Logger) (Service, error) {
	if projectRepo == nil || purchaseRepo == nil {
		return nil, fmt.Errorf("repositories required")
	}
	if subs == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		projects:      projectRepo,
		purchases:     purchaseRepo,
		subscriptions: subs,
		tx:            tx,
		events:        events,
		metrics:       m,
		logg:          logg,
		now:           time.Now,
	}, nil
}

func (s *service) Download(ctx context.Context, caller *auth.Identity, slug string) (*Grant, error) {
	if caller == nil || caller.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"project_slug": slug, "user_id": caller.UserID.String()})

	project, err := s.projects.FindBySlug(ctx, strings.TrimSpace(slug))
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "project not found")
		}
		return nil, s.fail(ctx, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load project"))
	}

	now := s.now().UTC()
	if project.Status == enums.ProjectStatusApproved {
		sub, err := s.subscriptions.ActiveFor(ctx, caller.UserID, now)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		if sub != nil {
			err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
				return s.emit(ctx, tx, project, caller.UserID, nil, AccessSubscription)
			})
			if err != nil {
				return nil, s.fail(ctx, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record download"))
			}
			return s.grant(ctx, project, AccessSubscription), nil
		}
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		purchase, err := s.findPurchase(ctx, tx, project.ID, caller)
		if err != nil {
			return err
		}
		if err := s.purchases.WithTx(tx).RecordDownload(ctx, purchase.ID, now); err != nil {
			return fmt.Errorf("record purchase download: %w", err)
		}
		if err := s.projects.WithTx(tx).IncrementDownloadCount(ctx, project.ID); err != nil {
			return fmt.Errorf("increment project downloads: %w", err)
		}
		return s.emit(ctx, tx, project, caller.UserID, &purchase.ID, AccessPurchase)
	})
	if err != nil {
		if errors.Is(err, errNoPurchase) {
			s.metrics.Download(metrics.OutcomeRejected)
			s.logg.Info(ctx, "download.payment_required")
			return nil, pkgerrors.New(pkgerrors.CodePaymentRequired, "purchase required to download this project")
		}
		return nil, s.fail(ctx, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record download"))
	}
	return s.grant(ctx, project, AccessPurchase), nil
}

// findPurchase looks for the caller's own purchase first, then claims a guest
// purchase made with the caller's email.
func (s *service) findPurchase(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, caller *auth.Identity) (*models.Purchase, error) {
	repo := s.purchases.WithTx(tx)
	purchase, err := repo.FindCompletedForUser(ctx, projectID, caller.UserID)
	if err == nil {
		return purchase, nil
	}
	if !db.IsNotFound(err) {
		return nil, fmt.Errorf("load purchase: %w", err)
	}

	email := strings.TrimSpace(caller.Email)
	if email == "" {
		return nil, errNoPurchase
	}
	guest, err := repo.FindUnclaimedByEmail(ctx, projectID, email)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, errNoPurchase
		}
		return nil, fmt.Errorf("load guest purchase: %w", err)
	}
	claimed, err := repo.Claim(ctx, guest.ID, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("claim purchase: %w", err)
	}
	if !claimed {
		return nil, errNoPurchase
	}
	s.logg.Info(s.logg.WithField(ctx, "purchase_id", guest.ID.String()), "download.purchase_claimed")
	return guest, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, project *models.Project, userID uuid.UUID, purchaseID *uuid.UUID, access Access) error {
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDownloadRecorded,
		AggregateType: enums.AggregateProject,
		AggregateID:   project.ID,
		Actor:         &outbox.ActorRef{UserID: userID},
		Data: payloads.DownloadRecordedEvent{
			ProjectID:  project.ID,
			UserID:     userID,
			PurchaseID: purchaseID,
			Access:     string(access),
		},
	})
}

func (s *service) grant(ctx context.Context, project *models.Project, access Access) *Grant {
	s.metrics.Download(metrics.OutcomeSuccess)
	s.logg.Info(s.logg.WithField(ctx, "access", string(access)), "download.granted")
	return &Grant{
		DownloadURL: project.DownloadURL,
		DocsURL:     project.DocsURL,
		DemoURL:     project.DemoURL,
		Access:      access,
	}
}

func (s *service) fail(ctx context.Context, err error) error {
	s.metrics.Download(metrics.OutcomeFailed)
	s.logg.Error(ctx, "download.failed", err)
	return err
}
