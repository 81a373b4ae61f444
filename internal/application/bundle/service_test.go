package bundle

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

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
	"github.com/veevpn/panel/internal/infrastructure/cache"
	"github.com/veevpn/panel/internal/infrastructure/persistence/gormrepo"
	"github.com/veevpn/panel/internal/infrastructure/persistence/models"
	"github.com/veevpn/panel/internal/shared/logger"
	"github.com/veevpn/panel/internal/vpn/backend"
)

type bundleBackend struct {
	config string
}

func (b *bundleBackend) CreateUser(ctx context.Context, email string, limit int64) (backend.UserConfig, error) {
	return backend.UserConfig{}, nil
}
func (b *bundleBackend) DeleteUser(ctx context.Context, keyID string) error { return nil }
func (b *bundleBackend) GetUserConfig(ctx context.Context, keyID string) (backend.UserConfig, error) {
	return backend.UserConfig{KeyID: keyID, Config: b.config}, nil
}
func (b *bundleBackend) GetTrafficHistory(ctx context.Context) ([]backend.KeyTrafficStats, error) {
	return nil, nil
}
func (b *bundleBackend) GetKeyTrafficStats(ctx context.Context, keyID string) (backend.KeyTrafficStats, error) {
	return backend.KeyTrafficStats{}, nil
}
func (b *bundleBackend) ResetKeyTraffic(ctx context.Context, keyID string) error { return nil }
func (b *bundleBackend) GetAllKeys(ctx context.Context) ([]string, error)       { return nil, nil }
func (b *bundleBackend) Close() error                                          { return nil }

func setupService(t *testing.T, fetchConfig string) (*Service, *gormrepo.ServerRepository, *gormrepo.KeyRepository, *gormrepo.SubscriptionRepository, *gormrepo.TariffRepository, *gormrepo.UserRepository) {
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
		return &bundleBackend{config: fetchConfig}, nil
	}

	svc := NewService(subRepo, keyRepo, serverRepo, tariffRepo, bundleCache, clientFor, "", log)
	return svc, serverRepo, keyRepo, subRepo, tariffRepo, userRepo
}

func TestValidToken(t *testing.T) {
	assert.True(t, ValidToken("11111111-1111-1111-1111-111111111111"))
	assert.False(t, ValidToken("too-short"))
	assert.False(t, ValidToken(""))
}

func TestService_ServeRejectsMalformedToken(t *testing.T) {
	svc, _, _, _, _, _ := setupService(t, "")
	_, err := svc.Serve(context.Background(), "nope")
	require.Error(t, err)
}

func TestService_ServeUsesStoredConfigWithoutFetching(t *testing.T) {
	ctx := context.Background()
	svc, serverRepo, keyRepo, subRepo, tariffRepo, userRepo := setupService(t, "vless://should-not-be-fetched@internal:443#x")

	u, err := domainuser.New("mia", false)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	srv, err := domainserver.New("srv", "US", domainserver.ProtocolV2Ray, "https://example.com", []byte("cred"), "public.example.com", 0)
	require.NoError(t, err)
	srv, err = serverRepo.Create(ctx, srv)
	require.NoError(t, err)

	tar, err := domaintariff.New("monthly", 2592000, 500, nil)
	require.NoError(t, err)
	tar, err = tariffRepo.Create(ctx, tar)
	require.NoError(t, err)

	sub, err := domainsubscription.New(u.ID(), "88888888-8888-8888-8888-888888888888", tar.ID(), 86400)
	require.NoError(t, err)
	sub, err = subRepo.Create(ctx, sub)
	require.NoError(t, err)

	subID := sub.ID()
	k, err := domainkey.NewV2RayKey(srv.ID(), u.ID(), &subID, "mia@public.example.com", "uuid-stored", 0,
		"vless://uuid-stored@internal-host:443?encryption=none#old-name", nil)
	require.NoError(t, err)
	_, err = keyRepo.Create(ctx, k)
	require.NoError(t, err)

	bundle, err := svc.Serve(ctx, sub.Token())
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(string(bundle.Body))
	require.NoError(t, err)
	decoded := string(raw)

	assert.True(t, strings.Contains(decoded, "public.example.com"), "host must be rewritten to the server's public domain")
	assert.True(t, strings.Contains(decoded, "#srv"), "fragment must be replaced with the server display name")
	assert.False(t, strings.Contains(decoded, "internal-host"))
	assert.Equal(t, "Vee VPN", bundle.ProfileTitle)
}

func TestService_ServeFetchesFreshConfigWhenStoredIsEmpty(t *testing.T) {
	ctx := context.Background()
	svc, serverRepo, keyRepo, subRepo, tariffRepo, userRepo := setupService(t, "vless://uuid-fresh@origin-host:443?encryption=none#whatever")

	u, err := domainuser.New("noah", false)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	srv, err := domainserver.New("srv2", "JP", domainserver.ProtocolV2Ray, "https://example.com", []byte("cred"), "jp.example.com", 0)
	require.NoError(t, err)
	srv, err = serverRepo.Create(ctx, srv)
	require.NoError(t, err)

	tar, err := domaintariff.New("monthly", 2592000, 500, nil)
	require.NoError(t, err)
	tar, err = tariffRepo.Create(ctx, tar)
	require.NoError(t, err)

	sub, err := domainsubscription.New(u.ID(), "99999999-9999-9999-9999-999999999999", tar.ID(), 86400)
	require.NoError(t, err)
	sub, err = subRepo.Create(ctx, sub)
	require.NoError(t, err)

	subID := sub.ID()
	k, err := domainkey.NewV2RayKey(srv.ID(), u.ID(), &subID, "noah@jp.example.com", "uuid-fresh", 0, "", nil)
	require.NoError(t, err)
	k, err = keyRepo.Create(ctx, k)
	require.NoError(t, err)

	bundle, err := svc.Serve(ctx, sub.Token())
	require.NoError(t, err)
	assert.NotEmpty(t, bundle.Body)

	reloaded, err := keyRepo.FindByID(ctx, k.ID())
	require.NoError(t, err)
	assert.True(t, strings.Contains(reloaded.ClientConfig(), "jp.example.com"), "fresh config must be written back normalized")
}

func TestService_ServeRejectsInactiveSubscription(t *testing.T) {
	ctx := context.Background()
	svc, _, _, subRepo, tariffRepo, userRepo := setupService(t, "")

	u, err := domainuser.New("olive", false)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	tar, err := domaintariff.New("monthly", 2592000, 500, nil)
	require.NoError(t, err)
	tar, err = tariffRepo.Create(ctx, tar)
	require.NoError(t, err)

	sub, err := domainsubscription.New(u.ID(), "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa", tar.ID(), 86400)
	require.NoError(t, err)
	sub.Deactivate()
	sub, err = subRepo.Create(ctx, sub)
	require.NoError(t, err)

	_, err = svc.Serve(ctx, sub.Token())
	require.Error(t, err)
}
