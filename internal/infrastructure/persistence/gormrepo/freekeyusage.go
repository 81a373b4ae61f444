package gormrepo

import (
	"context"

	"gorm.io/gorm"

	"github.com/veevpn/panel/internal/domain/freekeyusage"
	"github.com/veevpn/panel/internal/infrastructure/persistence/models"
)

type FreeKeyUsageRepository struct {
	db *gorm.DB
}

func NewFreeKeyUsageRepository(db *gorm.DB) *FreeKeyUsageRepository {
	return &FreeKeyUsageRepository{db: db}
}

func (r *FreeKeyUsageRepository) Create(ctx context.Context, f *freekeyusage.FreeKeyUsage) error {
	m := &models.FreeKeyUsageModel{
		UserID: f.UserID(), Protocol: f.Protocol(), Country: f.Country(), GrantedAt: f.GrantedAt(),
	}
	return r.db.WithContext(ctx).Create(m).Error
}

// LatestForUser returns the most recent free-key grant for a user/protocol
// pair, or nil if none exists, for cooldown checks.
func (r *FreeKeyUsageRepository) LatestForUser(ctx context.Context, userID uint, protocol string) (*freekeyusage.FreeKeyUsage, error) {
	var m models.FreeKeyUsageModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND protocol = ?", userID, protocol).
		Order("granted_at DESC").First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return freekeyusage.Reconstruct(m.ID, m.UserID, m.Protocol, m.Country, m.GrantedAt)
}

// DeleteByUserID clears every free-key grant recorded for a user, lifting
// its cooldown. Used by the admin "reset user data" operation.
func (r *FreeKeyUsageRepository) DeleteByUserID(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.FreeKeyUsageModel{}).Error
}
