package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	domainserver "github.com/veevpn/panel/internal/domain/server"
	domaintariff "github.com/veevpn/panel/internal/domain/tariff"
	domainuser "github.com/veevpn/panel/internal/domain/user"
	"github.com/veevpn/panel/internal/infrastructure/cache"
	"github.com/veevpn/panel/internal/infrastructure/persistence/gormrepo"
	"github.com/veevpn/panel/internal/infrastructure/persistence/models"
	"github.com/veevpn/panel/internal/shared/logger"
	"github.com/veevpn/panel/internal/vpn/backend"
)

// fakeBackend is an in-process stand-in for a VPN management API, used so
// engine tests never touch the network.
type fakeBackend struct {
	fail     bool
	nextID   int
	created  map[string]bool
}

func newFakeBackend(fail bool) *fakeBackend {
	return &fakeBackend{fail: fail, created: make(map[string]bool)}
}

func (f *fakeBackend) CreateUser(ctx context.Context, email string, trafficLimitBytes int64) (backend.UserConfig, error) {
	if f.fail {
		return backend.UserConfig{}, assertErr("backend unavailable")
	}
	f.nextID++
	id := email
	f.created[id] = true
	return backend.UserConfig{KeyID: id, Config: "vless://uuid@203.0.113.5:443?encryption=none#old"}, nil
}
func (f *fakeBackend) DeleteUser(ctx context.Context, keyID string) error {
	delete(f.created, keyID)
	return nil
}
func (f *fakeBackend) GetUserConfig(ctx context.Context, keyID string) (backend.UserConfig, error) {
	return backend.UserConfig{KeyID: keyID, Config: "vless://uuid@203.0.113.5:443?encryption=none#old"}, nil
}
func (f *fakeBackend) GetTrafficHistory(ctx context.Context) ([]backend.KeyTrafficStats, error) {
	return nil, nil
}
func (f *fakeBackend) GetKeyTrafficStats(ctx context.Context, keyID string) (backend.KeyTrafficStats, error) {
	return backend.KeyTrafficStats{KeyID: keyID}, nil
}
func (f *fakeBackend) ResetKeyTraffic(ctx context.Context, keyID string) error { return nil }
func (f *fakeBackend) GetAllKeys(ctx context.Context) ([]string, error)       { return nil, nil }
func (f *fakeBackend) Close() error                                          { return nil }

type assertErr string

func (e assertErr) Error() string { return string(e) }

func setupEngine(t *testing.T, backends map[uint]*fakeBackend) (*Engine, *gormrepo.ServerRepository, *gormrepo.TariffRepository, *gormrepo.UserRepository) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	subRepo := gormrepo.NewSubscriptionRepository(db)
	keyRepo := gormrepo.NewKeyRepository(db)
	serverRepo := gormrepo.NewServerRepository(db)
	tariffRepo := gormrepo.NewTariffRepository(db)
	userRepo := gormrepo.NewUserRepository(db)
	bundleCache := cache.NewBundleCache(time.Minute)
	log := logger.NewLoggerWithZap(zap.NewNop())

	clientFor := func(s *domainserver.Server) (backend.VpnBackend, error) {
		return backends[s.ID()], nil
	}

	engine := NewEngine(subRepo, keyRepo, serverRepo, tariffRepo, userRepo, bundleCache, clientFor, log)
	return engine, serverRepo, tariffRepo, userRepo
}

func TestEngine_CreateProvisionsAcrossServers(t *testing.T) {
	ctx := context.Background()
	backends := map[uint]*fakeBackend{}
	engine, serverRepo, tariffRepo, userRepo := setupEngine(t, backends)

	u, err := domainuser.New("carol", false)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		srv, err := domainserver.New("srv", "US", domainserver.ProtocolV2Ray, "https://example.com", []byte("cred"), "example.com", 0)
		require.NoError(t, err)
		srv, err = serverRepo.Create(ctx, srv)
		require.NoError(t, err)
		backends[srv.ID()] = newFakeBackend(false)
	}

	tar, err := domaintariff.New("monthly", 2592000, 500, nil)
	require.NoError(t, err)
	tar, err = tariffRepo.Create(ctx, tar)
	require.NoError(t, err)

	result, err := engine.Create(ctx, u.ID(), tar.ID())
	require.NoError(t, err)
	assert.Empty(t, result.FailedServers)
	assert.True(t, result.Subscription.IsActive())
}

func TestEngine_CreatePartialFailureReportsFailedServers(t *testing.T) {
	ctx := context.Background()
	backends := map[uint]*fakeBackend{}
	engine, serverRepo, tariffRepo, userRepo := setupEngine(t, backends)

	u, err := domainuser.New("dave", false)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	okSrv, err := domainserver.New("ok", "US", domainserver.ProtocolV2Ray, "https://ok.example.com", []byte("cred"), "ok.example.com", 0)
	require.NoError(t, err)
	okSrv, err = serverRepo.Create(ctx, okSrv)
	require.NoError(t, err)
	backends[okSrv.ID()] = newFakeBackend(false)

	badSrv, err := domainserver.New("bad", "US", domainserver.ProtocolV2Ray, "https://bad.example.com", []byte("cred"), "bad.example.com", 0)
	require.NoError(t, err)
	badSrv, err = serverRepo.Create(ctx, badSrv)
	require.NoError(t, err)
	backends[badSrv.ID()] = newFakeBackend(true)

	tar, err := domaintariff.New("monthly", 2592000, 500, nil)
	require.NoError(t, err)
	tar, err = tariffRepo.Create(ctx, tar)
	require.NoError(t, err)

	result, err := engine.Create(ctx, u.ID(), tar.ID())
	require.NoError(t, err)
	assert.Equal(t, []uint{badSrv.ID()}, result.FailedServers)
}

func TestEngine_CreateExistingActiveExtendsInsteadOfDuplicating(t *testing.T) {
	ctx := context.Background()
	backends := map[uint]*fakeBackend{}
	engine, _, tariffRepo, userRepo := setupEngine(t, backends)

	u, err := domainuser.New("erin", false)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	tar, err := domaintariff.New("weekly", 604800, 100, nil)
	require.NoError(t, err)
	tar, err = tariffRepo.Create(ctx, tar)
	require.NoError(t, err)

	first, err := engine.Create(ctx, u.ID(), tar.ID())
	require.NoError(t, err)

	second, err := engine.Create(ctx, u.ID(), tar.ID())
	require.NoError(t, err)
	assert.Equal(t, first.Subscription.ID(), second.Subscription.ID())
	assert.True(t, second.Subscription.ExpiresAt().After(first.Subscription.ExpiresAt()))
}

func TestEngine_CreateSkipsHigherAccessServersForStandardUsers(t *testing.T) {
	ctx := context.Background()
	backends := map[uint]*fakeBackend{}
	engine, serverRepo, tariffRepo, userRepo := setupEngine(t, backends)

	u, err := domainuser.New("frank", false)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	standardSrv, err := domainserver.New("standard", "US", domainserver.ProtocolV2Ray, "https://std.example.com", []byte("cred"), "std.example.com", 0)
	require.NoError(t, err)
	standardSrv, err = serverRepo.Create(ctx, standardSrv)
	require.NoError(t, err)
	backends[standardSrv.ID()] = newFakeBackend(false)

	premiumSrv, err := domainserver.New("premium", "US", domainserver.ProtocolV2Ray, "https://premium.example.com", []byte("cred"), "premium.example.com", 1)
	require.NoError(t, err)
	premiumSrv, err = serverRepo.Create(ctx, premiumSrv)
	require.NoError(t, err)
	backends[premiumSrv.ID()] = newFakeBackend(false)

	tar, err := domaintariff.New("monthly", 2592000, 500, nil)
	require.NoError(t, err)
	tar, err = tariffRepo.Create(ctx, tar)
	require.NoError(t, err)

	result, err := engine.Create(ctx, u.ID(), tar.ID())
	require.NoError(t, err)
	assert.Empty(t, result.FailedServers)
	assert.Empty(t, backends[premiumSrv.ID()].created)
	assert.NotEmpty(t, backends[standardSrv.ID()].created)
}

func TestEngine_CreateReachesHigherAccessServersForVIPUsers(t *testing.T) {
	ctx := context.Background()
	backends := map[uint]*fakeBackend{}
	engine, serverRepo, tariffRepo, userRepo := setupEngine(t, backends)

	u, err := domainuser.New("grace", true)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	premiumSrv, err := domainserver.New("premium", "US", domainserver.ProtocolV2Ray, "https://premium.example.com", []byte("cred"), "premium.example.com", 1)
	require.NoError(t, err)
	premiumSrv, err = serverRepo.Create(ctx, premiumSrv)
	require.NoError(t, err)
	backends[premiumSrv.ID()] = newFakeBackend(false)

	tar, err := domaintariff.New("monthly", 2592000, 500, nil)
	require.NoError(t, err)
	tar, err = tariffRepo.Create(ctx, tar)
	require.NoError(t, err)

	result, err := engine.Create(ctx, u.ID(), tar.ID())
	require.NoError(t, err)
	assert.Empty(t, result.FailedServers)
	assert.NotEmpty(t, backends[premiumSrv.ID()].created)
}
