package expiry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	domainsubscription "github.com/veevpn/panel/internal/domain/subscription"
	domaintariff "github.com/veevpn/panel/internal/domain/tariff"
	domainuser "github.com/veevpn/panel/internal/domain/user"
	"github.com/veevpn/panel/internal/infrastructure/persistence/gormrepo"
	"github.com/veevpn/panel/internal/infrastructure/persistence/models"
	"github.com/veevpn/panel/internal/shared/logger"
)

type stubNotifier struct {
	expiringSoonCalls int
	purchaseCalls     int
}

func (s *stubNotifier) NotifyOverLimit(to, token string, usedMB, limitMB int64) error { return nil }
func (s *stubNotifier) NotifyExpiringSoon(to, token string, hoursRemaining int) error {
	s.expiringSoonCalls++
	return nil
}
func (s *stubNotifier) NotifyExpired(to, token string) error { return nil }
func (s *stubNotifier) NotifyPurchaseCompleted(to string, subscriptionID uint, expiresAt string) error {
	s.purchaseCalls++
	return nil
}

type stubDeactivator struct{ deletedIDs []uint }

func (d *stubDeactivator) Deactivate(ctx context.Context, subscriptionID uint) error { return nil }
func (d *stubDeactivator) Delete(ctx context.Context, subscriptionID uint) error {
	d.deletedIDs = append(d.deletedIDs, subscriptionID)
	return nil
}

func setupDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

func TestScheduler_SweepExpiredDeletesPastGrace(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)

	userRepo := gormrepo.NewUserRepository(db)
	tariffRepo := gormrepo.NewTariffRepository(db)
	subRepo := gormrepo.NewSubscriptionRepository(db)

	u, err := domainuser.New("ivy", false)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	tar, err := domaintariff.New("daily", 86400, 10, nil)
	require.NoError(t, err)
	tar, err = tariffRepo.Create(ctx, tar)
	require.NoError(t, err)

	sub, err := domainsubscription.New(u.ID(), "55555555-5555-5555-5555-555555555555", tar.ID(), 1)
	require.NoError(t, err)
	sub, err = subRepo.Create(ctx, sub)
	require.NoError(t, err)

	// Force expiry well past the grace period by extending negatively via a
	// direct update — Extend only accepts positive durations.
	require.NoError(t, db.Model(&models.SubscriptionModel{}).Where("id = ?", sub.ID()).
		Update("expires_at", time.Now().UTC().Add(-48*time.Hour)).Error)

	deactivator := &stubDeactivator{}
	sched := NewScheduler(subRepo, deactivator, &stubNotifier{}, "ops@example.com", logger.NewLoggerWithZap(zap.NewNop()))

	count, err := sched.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []uint{sub.ID()}, deactivator.deletedIDs)
}

func TestScheduler_SweepNotificationsFiresEachThresholdOnce(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)

	userRepo := gormrepo.NewUserRepository(db)
	tariffRepo := gormrepo.NewTariffRepository(db)
	subRepo := gormrepo.NewSubscriptionRepository(db)

	u, err := domainuser.New("jack", false)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	tar, err := domaintariff.New("monthly", 2592000, 10, nil)
	require.NoError(t, err)
	tar, err = tariffRepo.Create(ctx, tar)
	require.NoError(t, err)

	// Expires in 30 minutes: crosses both the 7-day and 1-day and 1-hour thresholds.
	sub, err := domainsubscription.New(u.ID(), "66666666-6666-6666-6666-666666666666", tar.ID(), 1800)
	require.NoError(t, err)
	sub, err = subRepo.Create(ctx, sub)
	require.NoError(t, err)

	notifier := &stubNotifier{}
	sched := NewScheduler(subRepo, &stubDeactivator{}, notifier, "ops@example.com", logger.NewLoggerWithZap(zap.NewNop()))

	sent, err := sched.SweepNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sent) // 7d + 1d + 1h thresholds, all newly crossed
	assert.Equal(t, 3, notifier.expiringSoonCalls)

	sentAgain, err := sched.SweepNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sentAgain, "thresholds already notified must not re-fire")
}

func TestScheduler_SweepNotificationsPurchaseConfirmation(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)

	userRepo := gormrepo.NewUserRepository(db)
	tariffRepo := gormrepo.NewTariffRepository(db)
	subRepo := gormrepo.NewSubscriptionRepository(db)

	u, err := domainuser.New("kate", false)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	tar, err := domaintariff.New("monthly", 2592000, 10, nil)
	require.NoError(t, err)
	tar, err = tariffRepo.Create(ctx, tar)
	require.NoError(t, err)

	sub, err := domainsubscription.New(u.ID(), "77777777-7777-7777-7777-777777777777", tar.ID(), 2592000)
	require.NoError(t, err)
	_, err = subRepo.Create(ctx, sub)
	require.NoError(t, err)

	notifier := &stubNotifier{}
	sched := NewScheduler(subRepo, &stubDeactivator{}, notifier, "ops@example.com", logger.NewLoggerWithZap(zap.NewNop()))

	_, err = sched.SweepNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, notifier.purchaseCalls)

	_, err = sched.SweepNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, notifier.purchaseCalls, "purchase confirmation must not resend")
}
