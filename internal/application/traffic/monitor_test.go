package traffic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	domainkey "github.com/veevpn/panel/internal/domain/key"
	domainserver "github.com/veevpn/panel/internal/domain/server"
	domainsubscription "github.com/veevpn/panel/internal/domain/subscription"
	domaintariff "github.com/veevpn/panel/internal/domain/tariff"
	domainuser "github.com/veevpn/panel/internal/domain/user"
	"github.com/veevpn/panel/internal/infrastructure/persistence/gormrepo"
	"github.com/veevpn/panel/internal/infrastructure/persistence/models"
	"github.com/veevpn/panel/internal/shared/logger"
	"github.com/veevpn/panel/internal/vpn/backend"
)

type stubNotifier struct{ overLimitCalls int }

func (s *stubNotifier) NotifyOverLimit(to, token string, usedMB, limitMB int64) error {
	s.overLimitCalls++
	return nil
}
func (s *stubNotifier) NotifyExpiringSoon(to, token string, hoursRemaining int) error { return nil }
func (s *stubNotifier) NotifyExpired(to, token string) error                          { return nil }
func (s *stubNotifier) NotifyPurchaseCompleted(to string, subscriptionID uint, expiresAt string) error {
	return nil
}

type trafficBackend struct {
	byKey map[string]int64
}

func (b *trafficBackend) CreateUser(ctx context.Context, email string, limit int64) (backend.UserConfig, error) {
	return backend.UserConfig{}, nil
}
func (b *trafficBackend) DeleteUser(ctx context.Context, keyID string) error { return nil }
func (b *trafficBackend) GetUserConfig(ctx context.Context, keyID string) (backend.UserConfig, error) {
	return backend.UserConfig{}, nil
}
func (b *trafficBackend) GetTrafficHistory(ctx context.Context) ([]backend.KeyTrafficStats, error) {
	out := make([]backend.KeyTrafficStats, 0, len(b.byKey))
	for k, v := range b.byKey {
		out = append(out, backend.KeyTrafficStats{KeyID: k, BytesUsed: v})
	}
	return out, nil
}
func (b *trafficBackend) GetKeyTrafficStats(ctx context.Context, keyID string) (backend.KeyTrafficStats, error) {
	return backend.KeyTrafficStats{KeyID: keyID, BytesUsed: b.byKey[keyID]}, nil
}
func (b *trafficBackend) ResetKeyTraffic(ctx context.Context, keyID string) error {
	b.byKey[keyID] = 0
	return nil
}
func (b *trafficBackend) GetAllKeys(ctx context.Context) ([]string, error) { return nil, nil }
func (b *trafficBackend) Close() error                                    { return nil }

func TestMonitor_PollAllRollsUpUsageAndFlagsOverLimit(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	userRepo := gormrepo.NewUserRepository(db)
	serverRepo := gormrepo.NewServerRepository(db)
	tariffRepo := gormrepo.NewTariffRepository(db)
	subRepo := gormrepo.NewSubscriptionRepository(db)
	keyRepo := gormrepo.NewKeyRepository(db)

	u, err := domainuser.New("frank", false)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	limitMB := int64(1)
	tar, err := domaintariff.New("small", 2592000, 100, &limitMB)
	require.NoError(t, err)
	tar, err = tariffRepo.Create(ctx, tar)
	require.NoError(t, err)

	srv, err := domainserver.New("srv", "US", domainserver.ProtocolV2Ray, "https://example.com", []byte("cred"), "example.com", 0)
	require.NoError(t, err)
	srv, err = serverRepo.Create(ctx, srv)
	require.NoError(t, err)

	sub, err := domainsubscription.New(u.ID(), "33333333-3333-3333-3333-333333333333", tar.ID(), 86400)
	require.NoError(t, err)
	sub, err = subRepo.Create(ctx, sub)
	require.NoError(t, err)

	subID := sub.ID()
	k, err := domainkey.NewV2RayKey(srv.ID(), u.ID(), &subID, "email@example.com", "uuid-1", 0, "vless://uuid-1@host:443#x", nil)
	require.NoError(t, err)
	_, err = keyRepo.Create(ctx, k)
	require.NoError(t, err)

	fb := &trafficBackend{byKey: map[string]int64{"uuid-1": 2 * 1024 * 1024}}
	clientFor := func(s *domainserver.Server) (backend.VpnBackend, error) { return fb, nil }

	notifier := &stubNotifier{}
	log := logger.NewLoggerWithZap(zap.NewNop())
	monitor := NewMonitor(subRepo, keyRepo, serverRepo, tariffRepo, clientFor, notifier, "ops@example.com", log)

	polled, err := monitor.PollAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, polled)

	reloaded, err := subRepo.FindByID(ctx, sub.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(2*1024*1024), reloaded.TrafficUsageBytes())
	assert.NotNil(t, reloaded.TrafficOverLimitAt())
	assert.True(t, reloaded.TrafficOverLimitNotified())
	assert.Equal(t, 1, notifier.overLimitCalls)

	// A second pass must not re-notify for the same crossing.
	_, err = monitor.PollAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, notifier.overLimitCalls)
}

func TestMonitor_PollAllSkipsUnlimitedSubscriptions(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	userRepo := gormrepo.NewUserRepository(db)
	serverRepo := gormrepo.NewServerRepository(db)
	tariffRepo := gormrepo.NewTariffRepository(db)
	subRepo := gormrepo.NewSubscriptionRepository(db)
	keyRepo := gormrepo.NewKeyRepository(db)

	u, err := domainuser.New("gina", false)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	tar, err := domaintariff.New("unlimited", 2592000, 100, nil)
	require.NoError(t, err)
	tar, err = tariffRepo.Create(ctx, tar)
	require.NoError(t, err)

	sub, err := domainsubscription.New(u.ID(), "44444444-4444-4444-4444-444444444444", tar.ID(), 86400)
	require.NoError(t, err)
	_, err = subRepo.Create(ctx, sub)
	require.NoError(t, err)

	clientFor := func(s *domainserver.Server) (backend.VpnBackend, error) { return nil, nil }
	log := logger.NewLoggerWithZap(zap.NewNop())
	monitor := NewMonitor(subRepo, keyRepo, serverRepo, tariffRepo, clientFor, &stubNotifier{}, "ops@example.com", log)

	polled, err := monitor.PollAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, polled)
}
