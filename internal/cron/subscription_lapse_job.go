package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/quickbuyer/quickbuyer-backend/internal/subscriptions"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox/payloads"
)

const (
	defaultLapseGrace = 72 * time.Hour
	defaultLapseLimit = 250

	lapseTrigger = "period_lapsed"
)

// SubscriptionLapseJobParams configure the sweep that marks unpaid plans past_due.
type SubscriptionLapseJobParams struct {
	Logger *logger.Logger
	DB     txRunner
	Repo   *subscriptions.Repository
	Events outbox.Emitter
	Grace  time.Duration
	Limit  int
}

// NewSubscriptionLapseJob flags active subscriptions whose period ended more than
// Grace ago without a renewal webhook.
func NewSubscriptionLapseJob(params SubscriptionLapseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultLapseGrace
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultLapseLimit
	}
	return &subscriptionLapseJob{
		logg:   params.Logger,
		db:     params.DB,
		repo:   params.Repo,
		events: params.Events,
		grace:  grace,
		limit:  limit,
		now:    time.Now,
	}, nil
}

type subscriptionLapseJob struct {
	logg   *logger.Logger
	db     txRunner
	repo   *subscriptions.Repository
	events outbox.Emitter
	grace  time.Duration
	limit  int
	now    func() time.Time
}

func (j *subscriptionLapseJob) Name() string { return "subscription-lapse" }

func (j *subscriptionLapseJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.grace)
	rows, err := j.repo.ListLapsed(ctx, cutoff, j.limit)
	if err != nil {
		return fmt.Errorf("list lapsed subscriptions: %w", err)
	}

	var errs error
	lapsed := 0
	for _, row := range rows {
		changed, err := j.lapse(ctx, row, cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", row.ID, err))
			continue
		}
		if changed {
			lapsed++
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(rows),
		"lapsed":     lapsed,
	}), "cron.subscriptions_lapsed")
	return errs
}

// lapse flips one row and queues its event in the same transaction.
func (j *subscriptionLapseJob) lapse(ctx context.Context, row models.Subscription, cutoff time.Time) (bool, error) {
	changed := false
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := j.repo.WithTx(tx).MarkLapsed(ctx, row.ID, cutoff)
		if err != nil || !ok {
			return err
		}
		changed = true
		end := row.CurrentPeriodEnd.UTC()
		return j.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionChanged,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   row.ID,
			Actor:         &outbox.ActorRef{UserID: row.UserID},
			Data: payloads.SubscriptionChangedEvent{
				SubscriptionID:   row.ID,
				UserID:           row.UserID,
				PlanName:         row.PlanName,
				BillingCycle:     row.BillingCycle,
				Status:           enums.SubscriptionStatusPastDue,
				CurrentPeriodEnd: &end,
				Trigger:          lapseTrigger,
			},
		})
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}
