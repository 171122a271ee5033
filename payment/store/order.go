package store

import (
	"context"
	"errors"
	"go-storefront/payment/db"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

type OrderRepository interface {
	Create(ctx context.Context, order *db.Order) error
	FindByID(ctx context.Context, id string) (*db.Order, error)
	ListUnpaidCrypto(ctx context.Context) ([]db.Order, error)
	ListUnswept(ctx context.Context) ([]db.Order, error)
	ListOpenAtAddress(ctx context.Context, address string) ([]db.Order, error)
	MarkPaid(ctx context.Context, id, txHash string, at time.Time) (bool, error)
	MarkReferralCredited(ctx context.Context, id string) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
	RecordChainProgress(ctx context.Context, id, txHash string, confirmations int) error
	MarkSwept(ctx context.Context, id, txHash, note string, at time.Time) (bool, error)
	SetSweepNote(ctx context.Context, id, note string) error
	SetPendingSweep(ctx context.Context, id, txHash string) error
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{db: db}
}

func (r *orderRepoImpl) Create(ctx context.Context, order *db.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *orderRepoImpl) FindByID(ctx context.Context, id string) (*db.Order, error) {
	var order db.Order
	err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}


func (r *orderRepoImpl) ListUnpaidCrypto(ctx context.Context) ([]db.Order, error) {
	var orders []db.Order
	err := r.db.WithContext(ctx).
		Where("payment_method = ? AND payment_status = ?", db.MethodCrypto, db.PaymentStatusUnpaid).
		Order("created_at").
		Find(&orders).Error
	return orders, err
}

func (r *orderRepoImpl) ListUnswept(ctx context.Context) ([]db.Order, error) {
	var orders []db.Order
	err := r.db.WithContext(ctx).
		Where("payment_method = ? AND payment_status = ? AND funds_swept = ?", db.MethodCrypto, db.PaymentStatusPaid, false).
		Where("payment_address <> ''").
		Order("paid_at").
		Find(&orders).Error
	return orders, err
}

// ListOpenAtAddress returns, oldest first, the crypto orders whose money is
// or will be at address: unpaid ones and paid ones not yet swept. It is one
// query so callers see a consistent split between the two.
func (r *orderRepoImpl) ListOpenAtAddress(ctx context.Context, address string) ([]db.Order, error) {
	var orders []db.Order
	err := r.db.WithContext(ctx).
		Where("payment_method = ? AND payment_address = ?", db.MethodCrypto, address).
		Where(r.db.Where("payment_status = ?", db.PaymentStatusUnpaid).
			Or("payment_status = ? AND funds_swept = ?", db.PaymentStatusPaid, false)).
		Order("created_at").
		Find(&orders).Error
	return orders, err
}

// MarkPaid is the settlement race arbiter: only the caller whose update flips
// an unpaid order gets true.
func (r *orderRepoImpl) MarkPaid(ctx context.Context, id, txHash string, at time.Time) (bool, error) {
	updates := map[string]any{
		"payment_status": db.PaymentStatusPaid,
		"status":         db.OrderStatusConfirmed,
		"paid_at":        at,
		"updated_at":     at,
	}
	if txHash != "" {
		updates["tx_hash"] = txHash
	}
	result := r.db.WithContext(ctx).Model(&db.Order{}).
		Where("id = ? AND payment_status = ?", id, db.PaymentStatusUnpaid).
		Updates(updates)
	return result.RowsAffected == 1, result.Error
}

func (r *orderRepoImpl) MarkReferralCredited(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&db.Order{}).
		Where("id = ? AND referral_credited = ?", id, false).
		Update("referral_credited", true)
	return result.RowsAffected == 1, result.Error
}

func (r *orderRepoImpl) Cancel(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&db.Order{}).
		Where("id = ? AND payment_status = ?", id, db.PaymentStatusUnpaid).
		Updates(map[string]any{
			"status":         db.OrderStatusCancelled,
			"payment_status": db.PaymentStatusFailed,
			"updated_at":     time.Now(),
		})
	return result.RowsAffected == 1, result.Error
}

// RecordChainProgress stores the funding transaction and its confirmation
// count while the order is still unpaid. A stored hash is never replaced.
func (r *orderRepoImpl) RecordChainProgress(ctx context.Context, id, txHash string, confirmations int) error {
	return r.db.WithContext(ctx).Model(&db.Order{}).
		Where("id = ? AND payment_status = ? AND (tx_hash = '' OR tx_hash IS NULL OR tx_hash = ?)", id, db.PaymentStatusUnpaid, txHash).
		Updates(map[string]any{
			"tx_hash":       txHash,
			"confirmations": confirmations,
		}).Error
}

func (r *orderRepoImpl) MarkSwept(ctx context.Context, id, txHash, note string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&db.Order{}).
		Where("id = ? AND funds_swept = ?", id, false).
		Updates(map[string]any{
			"funds_swept":      true,
			"swept_at":         at,
			"swept_tx_hash":    txHash,
			"sweep_note":       note,
			"pending_sweep_tx": "",
		})
	return result.RowsAffected == 1, result.Error
}

func (r *orderRepoImpl) SetSweepNote(ctx context.Context, id, note string) error {
	return r.db.WithContext(ctx).Model(&db.Order{}).
		Where("id = ? AND funds_swept = ?", id, false).
		Update("sweep_note", note).Error
}

// SetPendingSweep records a submitted sweep transaction; an empty hash clears it.
func (r *orderRepoImpl) SetPendingSweep(ctx context.Context, id, txHash string) error {
	return r.db.WithContext(ctx).Model(&db.Order{}).
		Where("id = ? AND funds_swept = ?", id, false).
		Update("pending_sweep_tx", txHash).Error
}
