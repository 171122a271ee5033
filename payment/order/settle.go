package order

import (
	"context"
	"errors"
	"fmt"
	"go-storefront/payment/db"
	"go-storefront/payment/store"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Notifier sends the buyer an order confirmation. Failures are logged only.
type Notifier interface {
	OrderConfirmed(ctx context.Context, order *db.Order) error
}

type SettleInput struct {
	TxHash string
	Method string // payment method recorded on the Payment row; defaults to the order's
}

type Settler struct {
	repos         *store.Repositories
	monitor       *Monitor
	notifier      Notifier
	referralBonus decimal.Decimal
	logger        *zap.Logger
	now           func() time.Time
}

func NewSettler(repos *store.Repositories, monitor *Monitor, notifier Notifier, referralBonus decimal.Decimal, logger *zap.Logger) *Settler {
	return &Settler{
		repos:         repos,
		monitor:       monitor,
		notifier:      notifier,
		referralBonus: referralBonus,
		logger:        logger,
		now:           time.Now,
	}
}

// Settle marks an order paid and applies its side effects. It returns true
// only for the call that actually flipped the order; every later or
// concurrent call is a no-op returning false.
func (s *Settler) Settle(ctx context.Context, orderID string, in SettleInput) (bool, error) {
	order, err := s.repos.Orders.FindByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order.PaymentStatus == db.PaymentStatusPaid {
		return false, nil
	}

	txHash := in.TxHash
	if txHash == "" {
		txHash = order.TxHash
	}
	method := in.Method
	if method == "" {
		method = order.PaymentMethod
	}
	now := s.now()

	settled := false
	err = s.repos.Transaction(ctx, func(tx *store.Repositories) error {
		won, err := tx.Orders.MarkPaid(ctx, order.ID, txHash, now)
		if err != nil {
			return fmt.Errorf("mark paid: %w", err)
		}
		if !won {
			return nil
		}
		settled = true

		exists, err := tx.Payments.ExistsForOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			err = tx.Payments.Create(ctx, &db.Payment{
				ID:       uuid.New().String(),
				OrderID:  order.ID,
				UserID:   order.UserID,
				Amount:   order.TotalAmount,
				Currency: order.Currency,
				Method:   method,
				TxHash:   txHash,
			})
			if err != nil {
				return fmt.Errorf("create payment: %w", err)
			}
		}

		cartItemIDs := make([]uint, 0, len(order.Items))
		for _, it := range order.Items {
			if it.CartItemID != 0 {
				cartItemIDs = append(cartItemIDs, it.CartItemID)
			}
		}
		if _, err := tx.Carts.MarkOrdered(ctx, order.UserID, order.ID, cartItemIDs); err != nil {
			return fmt.Errorf("flip cart items: %w", err)
		}

		if err := s.creditReferrer(ctx, tx, order); err != nil {
			return err
		}

		for _, it := range order.Items {
			ok, err := tx.Products.DecrementStock(ctx, it.ProductID, it.VariantID, it.Quantity)
			if err != nil {
				return fmt.Errorf("decrement stock of %s: %w", it.ProductID, err)
			}
			if !ok {
				s.logger.Warn("stock oversold, clamped to zero",
					zap.String("order_id", order.ID), zap.String("product_id", it.ProductID), zap.String("variant_id", it.VariantID))
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if !settled {
		return false, nil
	}

	s.monitor.Stop(order.ID)
	s.logger.Info("order settled",
		zap.String("order_id", order.ID), zap.String("method", method), zap.String("tx", txHash))

	order.PaymentStatus = db.PaymentStatusPaid
	order.Status = db.OrderStatusConfirmed
	order.TxHash = txHash
	order.PaidAt = &now
	if s.notifier != nil {
		if err := s.notifier.OrderConfirmed(ctx, order); err != nil {
			s.logger.Warn("order confirmation email failed", zap.String("order_id", order.ID), zap.Error(err))
		}
	}
	return true, nil
}

func (s *Settler) creditReferrer(ctx context.Context, tx *store.Repositories, order *db.Order) error {
	if !s.referralBonus.IsPositive() {
		return nil
	}
	buyer, err := tx.Users.FindByID(ctx, order.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if buyer.ReferredBy == "" {
		return nil
	}

	first, err := tx.Orders.MarkReferralCredited(ctx, order.ID)
	if err != nil || !first {
		return err
	}
	err = tx.Users.CreditReferral(ctx, buyer.ReferredBy, s.referralBonus)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("referrer not found, bonus skipped",
			zap.String("order_id", order.ID), zap.String("referrer", buyer.ReferredBy))
		return nil
	}
	return err
}
