package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/veevpn/panel/internal/domain/key"
	"github.com/veevpn/panel/internal/infrastructure/persistence/models"
	sharederrors "github.com/veevpn/panel/internal/shared/errors"
)

type KeyRepository struct {
	db *gorm.DB
}

func NewKeyRepository(db *gorm.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

func toKeyModel(k *key.Key) *models.KeyModel {
	return &models.KeyModel{
		ID: k.ID(), ServerID: k.ServerID(), UserID: k.UserID(), SubscriptionID: k.SubscriptionID(),
		Backend: string(k.Backend()), Email: k.Email(), RemoteID: k.RemoteID(), AccessURL: k.AccessURL(), V2RayUUID: k.V2RayUUID(),
		Level: k.Level(), ClientConfig: k.ClientConfig(), CreatedAt: k.CreatedAt(),
		TrafficLimitMB: k.TrafficLimitMB(), TrafficUsageBytes: k.TrafficUsageBytes(),
	}
}

func toKeyDomain(m *models.KeyModel) (*key.Key, error) {
	return key.Reconstruct(m.ID, m.ServerID, m.UserID, m.SubscriptionID, key.Backend(m.Backend),
		m.Email, m.RemoteID, m.AccessURL, m.V2RayUUID, m.Level, m.ClientConfig, m.CreatedAt, m.TrafficLimitMB, m.TrafficUsageBytes)
}

func (r *KeyRepository) Create(ctx context.Context, k *key.Key) (*key.Key, error) {
	m := toKeyModel(k)
	err := withLockRetry(func() error {
		return r.db.WithContext(ctx).Create(m).Error
	})
	if err != nil {
		return nil, sharederrors.NewStoreIntegrityError("failed to create key", err.Error())
	}
	return toKeyDomain(m)
}

func (r *KeyRepository) FindByID(ctx context.Context, id uint) (*key.Key, error) {
	var m models.KeyModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sharederrors.NewNotFoundError("key not found")
		}
		return nil, err
	}
	return toKeyDomain(&m)
}

// ListBySubscriptionID returns every key provisioned for a subscription,
// across all servers — the fan-out the engine tears down on deactivation.
func (r *KeyRepository) ListBySubscriptionID(ctx context.Context, subscriptionID uint) ([]*key.Key, error) {
	var rows []models.KeyModel
	if err := r.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toKeyList(rows)
}

// ListByServerID returns every key on a single server, used by the traffic
// monitor's per-server poll and the reconciler's drift comparison.
func (r *KeyRepository) ListByServerID(ctx context.Context, serverID uint) ([]*key.Key, error) {
	var rows []models.KeyModel
	if err := r.db.WithContext(ctx).Where("server_id = ?", serverID).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toKeyList(rows)
}

func (r *KeyRepository) Update(ctx context.Context, k *key.Key) error {
	m := toKeyModel(k)
	return withLockRetry(func() error {
		return r.db.WithContext(ctx).Model(&models.KeyModel{}).Where("id = ?", m.ID).
			Update("traffic_usage_bytes", m.TrafficUsageBytes).Error
	})
}

// UpdateClientConfig persists a freshly normalized config string fetched
// from the backend, so subsequent bundle requests can skip the round-trip.
func (r *KeyRepository) UpdateClientConfig(ctx context.Context, id uint, clientConfig string) error {
	return withLockRetry(func() error {
		return r.db.WithContext(ctx).Model(&models.KeyModel{}).Where("id = ?", id).
			Update("client_config", clientConfig).Error
	})
}

// UpdateRemoteID persists a backend id recovered for a legacy row by a
// reconcile pass's email match.
func (r *KeyRepository) UpdateRemoteID(ctx context.Context, id uint, remoteID string) error {
	return withLockRetry(func() error {
		return r.db.WithContext(ctx).Model(&models.KeyModel{}).Where("id = ?", id).
			Update("remote_id", remoteID).Error
	})
}

func (r *KeyRepository) Delete(ctx context.Context, id uint) error {
	return withLockRetry(func() error {
		return r.db.WithContext(ctx).Delete(&models.KeyModel{}, id).Error
	})
}

func (r *KeyRepository) DeleteBySubscriptionID(ctx context.Context, subscriptionID uint) error {
	return withLockRetry(func() error {
		return r.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).Delete(&models.KeyModel{}).Error
	})
}

func toKeyList(rows []models.KeyModel) ([]*key.Key, error) {
	out := make([]*key.Key, 0, len(rows))
	for i := range rows {
		k, err := toKeyDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}
