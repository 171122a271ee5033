package store

import (
	"context"
	"go-storefront/payment/db"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *db.Payment) error
	ExistsForOrder(ctx context.Context, orderID string) (bool, error)
	ListByOrder(ctx context.Context, orderID string) ([]db.Payment, error)
}

type paymentRepoImpl struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepoImpl{db: db}
}

func (r *paymentRepoImpl) Create(ctx context.Context, payment *db.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(payment).Error
}

// ExistsForOrder reports whether a non-refund payment was recorded for orderID.
func (r *paymentRepoImpl) ExistsForOrder(ctx context.Context, orderID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.Payment{}).
		Where("order_id = ? AND refund = ?", orderID, false).
		Count(&count).Error
	return count > 0, err
}

func (r *paymentRepoImpl) ListByOrder(ctx context.Context, orderID string) ([]db.Payment, error) {
	var payments []db.Payment
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at").Find(&payments).Error
	return payments, err
}
