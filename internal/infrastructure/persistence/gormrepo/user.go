package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/veevpn/panel/internal/domain/user"
	"github.com/veevpn/panel/internal/infrastructure/persistence/models"
	sharederrors "github.com/veevpn/panel/internal/shared/errors"
)

// UserRepository persists the user aggregate.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func toUserModel(u *user.User) *models.UserModel {
	return &models.UserModel{
		ID: u.ID(), DisplayName: u.DisplayName(), IsVIP: u.IsVIP(), CreatedAt: u.CreatedAt(),
	}
}

func toUserDomain(m *models.UserModel) (*user.User, error) {
	return user.Reconstruct(m.ID, m.DisplayName, m.IsVIP, m.CreatedAt)
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) (*user.User, error) {
	m := toUserModel(u)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, sharederrors.NewStoreIntegrityError("failed to create user", err.Error())
	}
	return toUserDomain(m)
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*user.User, error) {
	var m models.UserModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sharederrors.NewNotFoundError("user not found")
		}
		return nil, err
	}
	return toUserDomain(&m)
}

func (r *UserRepository) Update(ctx context.Context, u *user.User) error {
	m := toUserModel(u)
	return r.db.WithContext(ctx).Model(&models.UserModel{}).Where("id = ?", m.ID).
		Updates(map[string]interface{}{"display_name": m.DisplayName, "is_vip": m.IsVIP}).Error
}

// CanDelete enforces the deletion guard: a user may only be deleted when
// they have no active subscription, no paid-or-completed payment, and no
// active key.
func (r *UserRepository) CanDelete(ctx context.Context, userID uint) (bool, string, error) {
	var activeSubs int64
	if err := r.db.WithContext(ctx).Model(&models.SubscriptionModel{}).
		Where("user_id = ? AND is_active = ?", userID, true).Count(&activeSubs).Error; err != nil {
		return false, "", err
	}
	if activeSubs > 0 {
		return false, "user has an active subscription", nil
	}

	var settledPayments int64
	if err := r.db.WithContext(ctx).Model(&models.PaymentModel{}).
		Where("user_id = ? AND status IN ?", userID, []string{"paid", "completed"}).Count(&settledPayments).Error; err != nil {
		return false, "", err
	}
	if settledPayments > 0 {
		return false, "user has a settled payment on record", nil
	}

	var activeKeys int64
	if err := r.db.WithContext(ctx).Model(&models.KeyModel{}).
		Where("user_id = ?", userID).Count(&activeKeys).Error; err != nil {
		return false, "", err
	}
	if activeKeys > 0 {
		return false, "user has provisioned keys", nil
	}

	return true, "", nil
}

// Delete physically removes a user row. Callers must confirm CanDelete
// first; this method does not itself re-check the guard.
func (r *UserRepository) Delete(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).Delete(&models.UserModel{}, userID).Error
}
