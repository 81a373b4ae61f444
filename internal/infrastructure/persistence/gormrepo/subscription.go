package gormrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/veevpn/panel/internal/domain/subscription"
	"github.com/veevpn/panel/internal/infrastructure/persistence/models"
	sharederrors "github.com/veevpn/panel/internal/shared/errors"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func toSubscriptionModel(s *subscription.Subscription) *models.SubscriptionModel {
	return &models.SubscriptionModel{
		ID: s.ID(), UserID: s.UserID(), Token: s.Token(), CreatedAt: s.CreatedAt(),
		ExpiresAt: s.ExpiresAt(), TariffID: s.TariffID(), IsActive: s.IsActive(),
		TrafficLimitMB: s.TrafficLimitMB(), TrafficUsageBytes: s.TrafficUsageBytes(),
		TrafficOverLimitAt: s.TrafficOverLimitAt(), TrafficOverLimitNotified: s.TrafficOverLimitNotified(),
		ExpiryNotifiedMask: uint8(s.ExpiryNotifiedMask()), PurchaseNotificationSent: s.PurchaseNotificationSent(),
		LastUpdatedAt: s.LastUpdatedAt(), DisplayTitle: s.DisplayTitle(), ReferralBonusMB: s.ReferralBonusMB(),
	}
}

func toSubscriptionDomain(m *models.SubscriptionModel) (*subscription.Subscription, error) {
	return subscription.Reconstruct(
		m.ID, m.UserID, m.Token, m.CreatedAt, m.ExpiresAt, m.TariffID, m.IsActive,
		m.TrafficLimitMB, m.TrafficUsageBytes, m.TrafficOverLimitAt, m.TrafficOverLimitNotified,
		subscription.ExpiryThreshold(m.ExpiryNotifiedMask), m.PurchaseNotificationSent, m.LastUpdatedAt, m.DisplayTitle,
		m.ReferralBonusMB,
	)
}

func (r *SubscriptionRepository) Create(ctx context.Context, s *subscription.Subscription) (*subscription.Subscription, error) {
	m := toSubscriptionModel(s)
	err := withLockRetry(func() error {
		return r.db.WithContext(ctx).Create(m).Error
	})
	if err != nil {
		if sharederrors.IsDuplicateError(err) {
			return nil, sharederrors.NewStoreIntegrityError("subscription token already in use", err.Error())
		}
		return nil, sharederrors.NewStoreIntegrityError("failed to create subscription", err.Error())
	}
	return toSubscriptionDomain(m)
}

func (r *SubscriptionRepository) FindByID(ctx context.Context, id uint) (*subscription.Subscription, error) {
	var m models.SubscriptionModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sharederrors.NewNotFoundError("subscription not found")
		}
		return nil, err
	}
	return toSubscriptionDomain(&m)
}

// FindByToken resolves a bundle request's token. A miss is reported as
// TokenInvalid, distinct from a NotFound, so the HTTP layer can answer the
// bundle endpoint's "any bad token looks the same" contract.
func (r *SubscriptionRepository) FindByToken(ctx context.Context, token string) (*subscription.Subscription, error) {
	var m models.SubscriptionModel
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sharederrors.NewTokenInvalidError("subscription token not found")
		}
		return nil, err
	}
	return toSubscriptionDomain(&m)
}

// ExistsByToken is used by the token-generation retry loop to check
// uniqueness before committing to a candidate token.
func (r *SubscriptionRepository) ExistsByToken(ctx context.Context, token string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.SubscriptionModel{}).Where("token = ?", token).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindActiveByUserID returns the user's currently active subscription, if
// any — used by Create to decide between a fresh subscription and an
// extension of the existing one.
func (r *SubscriptionRepository) FindActiveByUserID(ctx context.Context, userID uint) (*subscription.Subscription, error) {
	var m models.SubscriptionModel
	err := r.db.WithContext(ctx).Where("user_id = ? AND is_active = ?", userID, true).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toSubscriptionDomain(&m)
}

func (r *SubscriptionRepository) Update(ctx context.Context, s *subscription.Subscription) error {
	m := toSubscriptionModel(s)
	return withLockRetry(func() error {
		return r.db.WithContext(ctx).Model(&models.SubscriptionModel{}).Where("id = ?", m.ID).Updates(map[string]interface{}{
			"expires_at":                 m.ExpiresAt,
			"tariff_id":                  m.TariffID,
			"is_active":                  m.IsActive,
			"traffic_limit_mb":           m.TrafficLimitMB,
			"traffic_usage_bytes":        m.TrafficUsageBytes,
			"traffic_over_limit_at":      m.TrafficOverLimitAt,
			"traffic_over_limit_notified": m.TrafficOverLimitNotified,
			"expiry_notified_mask":       m.ExpiryNotifiedMask,
			"purchase_notification_sent": m.PurchaseNotificationSent,
			"last_updated_at":            m.LastUpdatedAt,
			"display_title":              m.DisplayTitle,
			"referral_bonus_mb":          m.ReferralBonusMB,
		}).Error
	})
}

// ListExpiredActive returns active subscriptions whose expiry (plus grace)
// has already passed, for the expiry sweep.
func (r *SubscriptionRepository) ListExpiredActive(ctx context.Context, cutoff time.Time) ([]*subscription.Subscription, error) {
	var rows []models.SubscriptionModel
	if err := r.db.WithContext(ctx).Where("is_active = ? AND expires_at < ?", true, cutoff).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toSubscriptionList(rows)
}

// ListPastGrace returns every subscription past the grace cutoff regardless
// of is_active — a subscription deactivated manually still needs its row
// swept once it's this stale.
func (r *SubscriptionRepository) ListPastGrace(ctx context.Context, cutoff time.Time) ([]*subscription.Subscription, error) {
	var rows []models.SubscriptionModel
	if err := r.db.WithContext(ctx).Where("expires_at < ?", cutoff).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toSubscriptionList(rows)
}

// ListActiveExpiringBefore returns active subscriptions expiring before a
// deadline, for the notification sweep's threshold checks.
func (r *SubscriptionRepository) ListActiveExpiringBefore(ctx context.Context, deadline time.Time) ([]*subscription.Subscription, error) {
	var rows []models.SubscriptionModel
	if err := r.db.WithContext(ctx).Where("is_active = ? AND expires_at < ?", true, deadline).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toSubscriptionList(rows)
}

// ListRecentPurchasesUnnotified returns active subscriptions created or
// extended within the lookback window that have not yet had their
// purchase-completed email sent.
func (r *SubscriptionRepository) ListRecentPurchasesUnnotified(ctx context.Context, since time.Time) ([]*subscription.Subscription, error) {
	var rows []models.SubscriptionModel
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND purchase_notification_sent = ? AND last_updated_at >= ?", true, false, since).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toSubscriptionList(rows)
}

// ListActive returns every active subscription, used by the traffic
// monitor to resolve which keys are still eligible for polling.
func (r *SubscriptionRepository) ListActive(ctx context.Context) ([]*subscription.Subscription, error) {
	var rows []models.SubscriptionModel
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toSubscriptionList(rows)
}

func toSubscriptionList(rows []models.SubscriptionModel) ([]*subscription.Subscription, error) {
	out := make([]*subscription.Subscription, 0, len(rows))
	for i := range rows {
		s, err := toSubscriptionDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
