package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/veevpn/panel/internal/domain/tariff"
	"github.com/veevpn/panel/internal/infrastructure/persistence/models"
	sharederrors "github.com/veevpn/panel/internal/shared/errors"
)

type TariffRepository struct {
	db *gorm.DB
}

func NewTariffRepository(db *gorm.DB) *TariffRepository {
	return &TariffRepository{db: db}
}

func toTariffModel(t *tariff.Tariff) *models.TariffModel {
	return &models.TariffModel{
		ID: t.ID(), Name: t.Name(), DurationSec: t.DurationSec(),
		Price: t.Price(), TrafficLimitMB: t.TrafficLimitMB(),
	}
}

func toTariffDomain(m *models.TariffModel) (*tariff.Tariff, error) {
	return tariff.Reconstruct(m.ID, m.Name, m.DurationSec, m.Price, m.TrafficLimitMB)
}

func (r *TariffRepository) Create(ctx context.Context, t *tariff.Tariff) (*tariff.Tariff, error) {
	m := toTariffModel(t)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, sharederrors.NewStoreIntegrityError("failed to create tariff", err.Error())
	}
	return toTariffDomain(m)
}

func (r *TariffRepository) FindByID(ctx context.Context, id uint) (*tariff.Tariff, error) {
	var m models.TariffModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sharederrors.NewNotFoundError("tariff not found")
		}
		return nil, err
	}
	return toTariffDomain(&m)
}
