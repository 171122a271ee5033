package store

import (
	"context"
	"go-storefront/payment/db"
	"time"

	"gorm.io/gorm"
)

type CartRepository interface {
	Add(ctx context.Context, item *db.CartItem) error
	ListActive(ctx context.Context, userID string) ([]db.CartItem, error)
	MarkOrdered(ctx context.Context, userID, orderID string, cartItemIDs []uint) (int64, error)
}

type cartRepoImpl struct {
	db *gorm.DB
}

func NewCartRepository(db *gorm.DB) CartRepository {
	return &cartRepoImpl{db: db}
}

func (r *cartRepoImpl) Add(ctx context.Context, item *db.CartItem) error {
	if item.Status == "" {
		item.Status = db.CartItemActive
	}
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *cartRepoImpl) ListActive(ctx context.Context, userID string) ([]db.CartItem, error) {
	var items []db.CartItem
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, db.CartItemActive).
		Order("id").
		Find(&items).Error
	return items, err
}

// MarkOrdered flips the cart rows an order was built from. Rows added after
// checkout stay active, even for the same product.
func (r *cartRepoImpl) MarkOrdered(ctx context.Context, userID, orderID string, cartItemIDs []uint) (int64, error) {
	if len(cartItemIDs) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&db.CartItem{}).
		Where("user_id = ? AND status = ? AND id IN ?", userID, db.CartItemActive, cartItemIDs).
		Updates(map[string]any{
			"status":     db.CartItemOrdered,
			"order_id":   orderID,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}
