package store

import (
	"context"
	"errors"
	"go-storefront/payment/db"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type UserRepository interface {
	Create(ctx context.Context, user *db.User) error
	FindByID(ctx context.Context, id string) (*db.User, error)
	SetPaymentAddressIfEmpty(ctx context.Context, id, address string) (bool, error)
	CreditReferral(ctx context.Context, id string, amount decimal.Decimal) error
}

type userRepoImpl struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepoImpl{db: db}
}

func (r *userRepoImpl) Create(ctx context.Context, user *db.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepoImpl) FindByID(ctx context.Context, id string) (*db.User, error) {
	var user db.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetPaymentAddressIfEmpty stores address unless the user already has one.
func (r *userRepoImpl) SetPaymentAddressIfEmpty(ctx context.Context, id, address string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&db.User{}).
		Where("id = ? AND (payment_address = '' OR payment_address IS NULL)", id).
		Update("payment_address", address)
	return result.RowsAffected == 1, result.Error
}

func (r *userRepoImpl) CreditReferral(ctx context.Context, id string, amount decimal.Decimal) error {
	result := r.db.WithContext(ctx).Model(&db.User{}).
		Where("id = ?", id).
		Update("referral_balance", gorm.Expr("referral_balance + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
