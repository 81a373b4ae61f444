package reconcile

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
	domainuser "github.com/veevpn/panel/internal/domain/user"
	"github.com/veevpn/panel/internal/infrastructure/persistence/gormrepo"
	"github.com/veevpn/panel/internal/infrastructure/persistence/models"
	"github.com/veevpn/panel/internal/shared/logger"
	"github.com/veevpn/panel/internal/vpn/backend"
)

type reconcileBackend struct {
	remote  []string
	deleted []string
}

func (b *reconcileBackend) CreateUser(ctx context.Context, email string, limit int64) (backend.UserConfig, error) {
	return backend.UserConfig{}, nil
}
func (b *reconcileBackend) DeleteUser(ctx context.Context, keyID string) error {
	b.deleted = append(b.deleted, keyID)
	return nil
}
func (b *reconcileBackend) GetUserConfig(ctx context.Context, keyID string) (backend.UserConfig, error) {
	return backend.UserConfig{}, nil
}
func (b *reconcileBackend) GetTrafficHistory(ctx context.Context) ([]backend.KeyTrafficStats, error) {
	return nil, nil
}
func (b *reconcileBackend) GetKeyTrafficStats(ctx context.Context, keyID string) (backend.KeyTrafficStats, error) {
	return backend.KeyTrafficStats{}, nil
}
func (b *reconcileBackend) ResetKeyTraffic(ctx context.Context, keyID string) error { return nil }
func (b *reconcileBackend) GetAllKeys(ctx context.Context) ([]string, error)        { return b.remote, nil }
func (b *reconcileBackend) Close() error                                           { return nil }

func TestReconciler_ClassifiesDrift(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	userRepo := gormrepo.NewUserRepository(db)
	serverRepo := gormrepo.NewServerRepository(db)
	keyRepo := gormrepo.NewKeyRepository(db)
	subRepo := gormrepo.NewSubscriptionRepository(db)

	u, err := domainuser.New("hank", false)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	srv, err := domainserver.New("srv", "US", domainserver.ProtocolV2Ray, "https://example.com", []byte("cred"), "example.com", 0)
	require.NoError(t, err)
	srv, err = serverRepo.Create(ctx, srv)
	require.NoError(t, err)

	// present locally and remotely: no drift.
	k1, err := domainkey.NewV2RayKey(srv.ID(), u.ID(), nil, "a@example.com", "present-uuid", 0, "", nil)
	require.NoError(t, err)
	_, err = keyRepo.Create(ctx, k1)
	require.NoError(t, err)

	// present locally, gone remotely: missing on server.
	k2, err := domainkey.NewV2RayKey(srv.ID(), u.ID(), nil, "b@example.com", "orphaned-local-uuid", 0, "", nil)
	require.NoError(t, err)
	_, err = keyRepo.Create(ctx, k2)
	require.NoError(t, err)

	fakeRemote := &reconcileBackend{remote: []string{"present-uuid", "orphaned-remote-uuid"}}
	clientFor := func(s *domainserver.Server) (backend.VpnBackend, error) { return fakeRemote, nil }

	log := logger.NewLoggerWithZap(zap.NewNop())
	reconciler := NewReconciler(keyRepo, serverRepo, subRepo, clientFor, log)

	results, err := reconciler.Run(ctx, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Len(t, results[0].MissingOnServer, 1)
	assert.Equal(t, "orphaned-local-uuid", results[0].MissingOnServer[0].BackendID())
	assert.Equal(t, []string{"orphaned-remote-uuid"}, results[0].MissingInLocal)
	assert.Empty(t, fakeRemote.deleted, "dry run must not delete")

	_, err = reconciler.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"orphaned-remote-uuid"}, fakeRemote.deleted)
}

func TestReconciler_BackfillsLegacyOutlineKeyRemoteID(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	userRepo := gormrepo.NewUserRepository(db)
	serverRepo := gormrepo.NewServerRepository(db)
	keyRepo := gormrepo.NewKeyRepository(db)
	subRepo := gormrepo.NewSubscriptionRepository(db)

	u, err := domainuser.New("ivy", false)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	srv, err := domainserver.New("srv", "US", domainserver.ProtocolOutline, "https://example.com", []byte("cred"), "example.com", 0)
	require.NoError(t, err)
	srv, err = serverRepo.Create(ctx, srv)
	require.NoError(t, err)

	// A legacy row provisioned before remote ids were tracked: it has no
	// remoteID, so BackendID() falls back to email.
	k, err := domainkey.NewOutlineKey(srv.ID(), u.ID(), nil, "legacy@example.com", "", "ss://old", nil)
	require.NoError(t, err)
	k, err = keyRepo.Create(ctx, k)
	require.NoError(t, err)

	fakeRemote := &reconcileBackend{remote: []string{"LEGACY@example.com"}}
	clientFor := func(s *domainserver.Server) (backend.VpnBackend, error) { return fakeRemote, nil }

	log := logger.NewLoggerWithZap(zap.NewNop())
	reconciler := NewReconciler(keyRepo, serverRepo, subRepo, clientFor, log)

	dryResults, err := reconciler.Run(ctx, true)
	require.NoError(t, err)
	require.Len(t, dryResults, 1)
	assert.Empty(t, dryResults[0].Backfilled, "dry run must not persist a backfill")
	assert.Empty(t, dryResults[0].MissingOnServer, "case-folded email match must suppress drift even before backfill")

	reloaded, err := keyRepo.FindByID(ctx, k.ID())
	require.NoError(t, err)
	assert.Empty(t, reloaded.RemoteID(), "dry run must not have written anything")

	applyResults, err := reconciler.Run(ctx, false)
	require.NoError(t, err)
	require.Len(t, applyResults, 1)
	require.Len(t, applyResults[0].Backfilled, 1)
	assert.Equal(t, k.ID(), applyResults[0].Backfilled[0])

	reloaded, err = keyRepo.FindByID(ctx, k.ID())
	require.NoError(t, err)
	assert.Equal(t, "LEGACY@example.com", reloaded.RemoteID())
}
