package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quickbuyer/quickbuyer-backend/pkg/db"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
	pkgerrors "github.com/quickbuyer/quickbuyer-backend/pkg/errors"
)

// SubscriptionDTO is the API shape of a plan.
type SubscriptionDTO struct {
	ID                 uuid.UUID                `json:"id"`
	PlanName           string                   `json:"planName"`
	BillingCycle       enums.BillingCycle       `json:"billingCycle"`
	Status             enums.SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time                `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time                `json:"currentPeriodEnd"`
}

// View is the caller's subscription plus whether it grants access right now.
type View struct {
	Subscription *SubscriptionDTO `json:"subscription"`
	Entitled     bool             `json:"entitled"`
}

// Service answers subscription lookups for the API.
type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*View, error)
	// ActiveFor returns the subscription when it entitles userID at now, else nil.
	ActiveFor(ctx context.Context, userID uuid.UUID, now time.Time) (*models.Subscription, error)
}

type service struct {
	repo *Repository
	now  func() time.Time
}

func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (*View, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	sub, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if db.IsNotFound(err) {
			return &View{}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	return &View{
		Subscription: &SubscriptionDTO{
			ID:                 sub.ID,
			PlanName:           sub.PlanName,
			BillingCycle:       sub.BillingCycle,
			Status:             sub.Status,
			CurrentPeriodStart: sub.CurrentPeriodStart.UTC(),
			CurrentPeriodEnd:   sub.CurrentPeriodEnd.UTC(),
		},
		Entitled: sub.Entitles(s.now()),
	}, nil
}

func (s *service) ActiveFor(ctx context.Context, userID uuid.UUID, now time.Time) (*models.Subscription, error) {
	sub, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if !sub.Entitles(now) {
		return nil, nil
	}
	return sub, nil
}
