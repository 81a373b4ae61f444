package gormrepo

import (
	"context"

	"gorm.io/gorm"

	"github.com/veevpn/panel/internal/domain/payment"
	"github.com/veevpn/panel/internal/infrastructure/persistence/models"
)

// PaymentRepository is read-mostly: payment processing is an external
// collaborator that writes this table; the control plane only reads it.
// The user-deletion guard (UserRepository.CanDelete) counts settled
// payments in it directly; the notification sweeps do not read it.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func toPaymentDomain(m *models.PaymentModel) (*payment.Payment, error) {
	return payment.Reconstruct(m.ID, m.UserID, m.SubscriptionID, payment.Status(m.Status), m.CreatedAt)
}

func (r *PaymentRepository) ListBySubscriptionID(ctx context.Context, subscriptionID uint) ([]*payment.Payment, error) {
	var rows []models.PaymentModel
	if err := r.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*payment.Payment, 0, len(rows))
	for i := range rows {
		p, err := toPaymentDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
