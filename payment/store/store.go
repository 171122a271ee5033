package store

import (
	"context"

	"gorm.io/gorm"
)

// Repositories groups every repository over one connection or transaction.
type Repositories struct {
	db       *gorm.DB
	Orders   OrderRepository
	Payments PaymentRepository
	Carts    CartRepository
	Users    UserRepository
	Products ProductRepository
}

func New(db *gorm.DB) *Repositories {
	return &Repositories{
		db:       db,
		Orders:   NewOrderRepository(db),
		Payments: NewPaymentRepository(db),
		Carts:    NewCartRepository(db),
		Users:    NewUserRepository(db),
		Products: NewProductRepository(db),
	}
}

// Transaction runs fn with repositories bound to a single database transaction.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}

func (r *Repositories) DB() *gorm.DB { return r.db }
