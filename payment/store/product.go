package store

import (
	"context"
	"go-storefront/payment/db"

	"gorm.io/gorm"
)

type ProductRepository interface {
	Create(ctx context.Context, product *db.Product) error
	FindByIDs(ctx context.Context, ids []string) ([]db.Product, error)
	FindByID(ctx context.Context, id string) (*db.Product, error)
	DecrementStock(ctx context.Context, productID, variantID string, quantity int) (bool, error)
}

type productRepoImpl struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepoImpl{db: db}
}

func (r *productRepoImpl) Create(ctx context.Context, product *db.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *productRepoImpl) FindByIDs(ctx context.Context, ids []string) ([]db.Product, error) {
	var products []db.Product
	err := r.db.WithContext(ctx).Preload("Variants").Where("id IN ?", ids).Find(&products).Error
	return products, err
}

func (r *productRepoImpl) FindByID(ctx context.Context, id string) (*db.Product, error) {
	var product db.Product
	err := r.db.WithContext(ctx).Preload("Variants").Where("id = ?", id).First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// DecrementStock takes quantity off a variant, or off the product when
// variantID is empty. Stock never goes negative: an oversold item is clamped
// to zero and reported with ok=false.
func (r *productRepoImpl) DecrementStock(ctx context.Context, productID, variantID string, quantity int) (bool, error) {
	var model any = &db.Product{}
	id := productID
	if variantID != "" {
		model = &db.ProductVariant{}
		id = variantID
	}

	result := r.db.WithContext(ctx).Model(model).
		Where("id = ? AND stock >= ?", id, quantity).
		Update("stock", gorm.Expr("stock - ?", quantity))
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	err := r.db.WithContext(ctx).Model(model).Where("id = ?", id).Update("stock", 0).Error
	return false, err
}
