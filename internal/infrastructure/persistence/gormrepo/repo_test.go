package gormrepo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	domainserver "github.com/veevpn/panel/internal/domain/server"
	domainsubscription "github.com/veevpn/panel/internal/domain/subscription"
	domaintariff "github.com/veevpn/panel/internal/domain/tariff"
	domainuser "github.com/veevpn/panel/internal/domain/user"
	"github.com/veevpn/panel/internal/infrastructure/persistence/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

func TestSubscriptionRepository_CreateFindExtend(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	userRepo := NewUserRepository(db)
	tariffRepo := NewTariffRepository(db)
	subRepo := NewSubscriptionRepository(db)

	u, err := domainuser.New("alice", false)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	limit := int64(1024)
	tar, err := domaintariff.New("monthly", 2592000, 500, &limit)
	require.NoError(t, err)
	tar, err = tariffRepo.Create(ctx, tar)
	require.NoError(t, err)

	sub, err := domainsubscription.New(u.ID(), "11111111-1111-1111-1111-111111111111", tar.ID(), 86400)
	require.NoError(t, err)
	sub, err = subRepo.Create(ctx, sub)
	require.NoError(t, err)
	assert.NotZero(t, sub.ID())

	exists, err := subRepo.ExistsByToken(ctx, sub.Token())
	require.NoError(t, err)
	assert.True(t, exists)

	found, err := subRepo.FindByToken(ctx, sub.Token())
	require.NoError(t, err)
	assert.Equal(t, sub.ID(), found.ID())

	originalExpiry := found.ExpiresAt()
	require.NoError(t, found.Extend(3600, nil))
	require.NoError(t, subRepo.Update(ctx, found))

	reloaded, err := subRepo.FindByID(ctx, sub.ID())
	require.NoError(t, err)
	assert.True(t, reloaded.ExpiresAt().After(originalExpiry))
	assert.Zero(t, reloaded.TrafficUsageBytes())
}

func TestSubscriptionRepository_FindActiveByUserIDMiss(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	subRepo := NewSubscriptionRepository(db)

	got, err := subRepo.FindActiveByUserID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUserRepository_CanDeleteGuards(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	userRepo := NewUserRepository(db)
	tariffRepo := NewTariffRepository(db)
	subRepo := NewSubscriptionRepository(db)

	u, err := domainuser.New("bob", false)
	require.NoError(t, err)
	u, err = userRepo.Create(ctx, u)
	require.NoError(t, err)

	canDelete, _, err := userRepo.CanDelete(ctx, u.ID())
	require.NoError(t, err)
	assert.True(t, canDelete)

	tar, err := domaintariff.New("weekly", 604800, 100, nil)
	require.NoError(t, err)
	tar, err = tariffRepo.Create(ctx, tar)
	require.NoError(t, err)

	sub, err := domainsubscription.New(u.ID(), "22222222-2222-2222-2222-222222222222", tar.ID(), 604800)
	require.NoError(t, err)
	_, err = subRepo.Create(ctx, sub)
	require.NoError(t, err)

	canDelete, reason, err := userRepo.CanDelete(ctx, u.ID())
	require.NoError(t, err)
	assert.False(t, canDelete)
	assert.NotEmpty(t, reason)
}

func TestServerRepository_ListActiveV2Ray(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	serverRepo := NewServerRepository(db)

	outline, err := domainserver.New("sg-outline", "SG", domainserver.ProtocolOutline, "https://sg.example.com", []byte("cred"), "sg.example.com", 0)
	require.NoError(t, err)
	_, err = serverRepo.Create(ctx, outline)
	require.NoError(t, err)

	v2ray, err := domainserver.New("jp-v2ray", "JP", domainserver.ProtocolV2Ray, "https://jp.example.com", []byte("cred"), "jp.example.com", 0)
	require.NoError(t, err)
	_, err = serverRepo.Create(ctx, v2ray)
	require.NoError(t, err)

	list, err := serverRepo.ListActiveV2Ray(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domainserver.ProtocolV2Ray, list[0].Protocol())
}
