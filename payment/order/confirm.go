package order

import (
	"context"
	"errors"
	"go-storefront/payment/db"
	"go-storefront/payment/store"
	"go-storefront/payment/sweep"

	"go.uber.org/zap"
)

var (
	ErrPaymentNotDetected = errors.New("payment not detected yet")
	ErrOrderClosed        = errors.New("order is no longer awaiting payment")
	ErrNotOwner           = errors.New("order belongs to another user")
	ErrNotCryptoOrder     = errors.New("order is not paid with crypto")
)

type ConfirmResult struct {
	Order   *db.Order
	Settled bool          // this call settled the order
	Sweep   *sweep.Result // nil when no sweep was attempted or it failed
}

// Confirmer handles the buyer's "I have paid" action for one order without
// waiting for the next verification tick.
type Confirmer struct {
	orders  store.OrderRepository
	matcher *Matcher
	tracker FundingTracker
	settler *Settler
	sweeper *Sweeper
	logger  *zap.Logger
}

func NewConfirmer(orders store.OrderRepository, matcher *Matcher, tracker FundingTracker, settler *Settler, sweeper *Sweeper, logger *zap.Logger) *Confirmer {
	return &Confirmer{
		orders:  orders,
		matcher: matcher,
		tracker: tracker,
		settler: settler,
		sweeper: sweeper,
		logger:  logger,
	}
}

// Confirm checks the chain for userID's order, settles it when funded and
// then sweeps immediately. A paid order is returned as is. A sweep failure
// is logged and leaves the order to the sweep scheduler.
func (c *Confirmer) Confirm(ctx context.Context, orderID, userID string) (*ConfirmResult, error) {
	o, err := c.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotOwner
	}
	if o.PaymentMethod != db.MethodCrypto {
		return nil, ErrNotCryptoOrder
	}
	switch o.PaymentStatus {
	case db.PaymentStatusPaid:
		return &ConfirmResult{Order: o}, nil
	case db.PaymentStatusUnpaid:
	default:
		return nil, ErrOrderClosed
	}

	received, err := covered(ctx, c.matcher, c.orders, o)
	if err != nil {
		return nil, err
	}
	if !received {
		return nil, ErrPaymentNotDetected
	}

	txHash, _, _ := captureFunding(ctx, c.tracker, c.orders, c.logger, o)
	settled, err := c.settler.Settle(ctx, o.ID, SettleInput{TxHash: txHash, Method: db.MethodCrypto})
	if err != nil {
		return nil, err
	}

	if o, err = c.orders.FindByID(ctx, orderID); err != nil {
		return nil, err
	}
	result := &ConfirmResult{Order: o, Settled: settled}
	if o.FundsSwept {
		return result, nil
	}

	res, err := c.sweeper.SweepOrder(ctx, o)
	if err != nil {
		c.logger.Warn("immediate sweep failed, left to scheduler", zap.String("order_id", o.ID), zap.Error(err))
		return result, nil
	}
	result.Sweep = &res
	if o, err = c.orders.FindByID(ctx, orderID); err == nil {
		result.Order = o
	}
	return result, nil
}
