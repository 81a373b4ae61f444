// Package expiry implements the expiry and notification sweeps: tearing
// down subscriptions that have passed their grace period, and emitting
// the 7-day/1-day/1-hour expiry warnings plus purchase-completed
// confirmations through the notification collaborator.
package expiry

import (
	"context"
	"time"

	domainsubscription "github.com/veevpn/panel/internal/domain/subscription"
	"github.com/veevpn/panel/internal/infrastructure/email"
	"github.com/veevpn/panel/internal/infrastructure/persistence/gormrepo"
	"github.com/veevpn/panel/internal/shared/biztime"
	"github.com/veevpn/panel/internal/shared/logger"
)

const gracePeriod = 24 * time.Hour

// thresholds maps each notification bit to how long before expiry it fires.
var thresholds = []struct {
	bit    domainsubscription.ExpiryThreshold
	before time.Duration
	hours  int
}{
	{domainsubscription.ThresholdSevenDays, 7 * 24 * time.Hour, 7 * 24},
	{domainsubscription.ThresholdOneDay, 24 * time.Hour, 24},
	{domainsubscription.ThresholdOneHour, time.Hour, 1},
}

const purchaseNotificationLookback = 7 * 24 * time.Hour

// Deactivator tears down a subscription's keys across the fleet. The
// subscription engine satisfies this; expiry depends only on the method it
// needs, not the whole engine, to avoid a package cycle.
type Deactivator interface {
	Deactivate(ctx context.Context, subscriptionID uint) error
	Delete(ctx context.Context, subscriptionID uint) error
}

// Scheduler implements scheduler.ExpirySweeper and scheduler.NotificationSweeper.
type Scheduler struct {
	subscriptions *gormrepo.SubscriptionRepository
	deactivator   Deactivator
	notifier      email.Notifier
	notifyAddress string
	log           logger.Interface
}

func NewScheduler(
	subscriptions *gormrepo.SubscriptionRepository,
	deactivator Deactivator,
	notifier email.Notifier,
	notifyAddress string,
	log logger.Interface,
) *Scheduler {
	return &Scheduler{
		subscriptions: subscriptions, deactivator: deactivator,
		notifier: notifier, notifyAddress: notifyAddress, log: log,
	}
}

// SweepExpired calls the deactivator's Delete for every subscription whose
// expiry plus the grace period has passed, regardless of its current
// is_active flag — a subscription already deactivated manually still has
// its keys torn down once it's this stale. With the subscription engine as
// deactivator the row stays in the store, so it is listed again on later
// sweeps.
func (s *Scheduler) SweepExpired(ctx context.Context) (int, error) {
	cutoff := biztime.NowUTC().Add(-gracePeriod)
	expired, err := s.subscriptions.ListPastGrace(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, sub := range expired {
		if err := s.deactivator.Delete(ctx, sub.ID()); err != nil {
			s.log.Warnw("expiry sweep: failed to delete subscription", "subscription_id", sub.ID(), "error", err.Error())
			continue
		}
		count++
	}
	return count, nil
}

// SweepNotifications fires expiry-threshold warnings and purchase-completed
// confirmations, each gated by its own notify-once flag so a restart never
// produces a duplicate email.
func (s *Scheduler) SweepNotifications(ctx context.Context) (int, error) {
	sent := 0
	now := biztime.NowUTC()

	for _, th := range thresholds {
		deadline := now.Add(th.before)
		candidates, err := s.subscriptions.ListActiveExpiringBefore(ctx, deadline)
		if err != nil {
			s.log.Warnw("notification sweep: failed to list candidates", "threshold", th.hours, "error", err.Error())
			continue
		}
		for _, sub := range candidates {
			if sub.HasCrossedThreshold(th.bit) {
				continue
			}
			if err := s.notifier.NotifyExpiringSoon(s.notifyAddress, sub.Token(), th.hours); err != nil {
				s.log.Warnw("notification sweep: expiry warning failed", "subscription_id", sub.ID(), "error", err.Error())
				continue
			}
			sub.MarkThresholdNotified(th.bit)
			if err := s.subscriptions.Update(ctx, sub); err != nil {
				s.log.Warnw("notification sweep: failed to persist threshold flag", "subscription_id", sub.ID(), "error", err.Error())
				continue
			}
			sent++
		}
	}

	unnotified, err := s.subscriptions.ListRecentPurchasesUnnotified(ctx, now.Add(-purchaseNotificationLookback))
	if err != nil {
		s.log.Warnw("notification sweep: failed to list unnotified purchases", "error", err.Error())
		return sent, nil
	}
	for _, sub := range unnotified {
		if err := s.notifier.NotifyPurchaseCompleted(s.notifyAddress, sub.ID(), sub.ExpiresAt().Format(time.RFC3339)); err != nil {
			s.log.Warnw("notification sweep: purchase confirmation failed", "subscription_id", sub.ID(), "error", err.Error())
			continue
		}
		sub.MarkPurchaseNotified()
		if err := s.subscriptions.Update(ctx, sub); err != nil {
			s.log.Warnw("notification sweep: failed to persist purchase flag", "subscription_id", sub.ID(), "error", err.Error())
			continue
		}
		sent++
	}

	return sent, nil
}
