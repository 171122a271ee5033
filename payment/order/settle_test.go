package order

import (
	"context"
	"errors"
	"go-storefront/payment/db"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettleIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	o := h.cryptoOrder(t)
	ctx := context.Background()

	settled, err := h.settler.Settle(ctx, o.ID, SettleInput{TxHash: "0xfeed", Method: db.MethodCrypto})
	require.NoError(t, err)
	assert.True(t, settled)

	settled, err = h.settler.Settle(ctx, o.ID, SettleInput{TxHash: "0xbeef", Method: db.MethodCrypto})
	require.NoError(t, err)
	assert.False(t, settled)

	got := h.order(t, o.ID)
	assert.Equal(t, db.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, db.OrderStatusConfirmed, got.Status)
	assert.Equal(t, "0xfeed", got.TxHash)
	assert.True(t, got.ReferralCredited)

	payments, err := h.repos.Payments.ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, payments[0].Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "USDC", payments[0].Currency)
	assert.Equal(t, db.MethodCrypto, payments[0].Method)

	referrer, err := h.repos.Users.FindByID(ctx, "referrer")
	require.NoError(t, err)
	assert.True(t, referrer.ReferralBalance.Equal(decimal.NewFromInt(500)), "bonus credited once, got %s", referrer.ReferralBalance)

	p1, err := h.repos.Products.FindByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 8, p1.Stock)

	assert.Equal(t, 1, h.notifier.count())
	assert.False(t, h.monitor.IsWatching(o.ID))
}

func TestSettleConcurrentCallersSettleOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	o := h.cryptoOrder(t)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			settled, err := h.settler.Settle(context.Background(), o.ID, SettleInput{Method: db.MethodCrypto})
			assert.NoError(t, err)
			if settled {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	payments, err := h.repos.Payments.ListByOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	p1, err := h.repos.Products.FindByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 8, p1.Stock)
}

func TestSettleFlipsOnlyOrderedCartItems(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()
	o := h.cryptoOrder(t)

	// added after checkout, not part of the order
	require.NoError(t, h.repos.Carts.Add(ctx, &db.CartItem{UserID: "buyer", ProductID: "p2", Quantity: 1}))
	// same product in someone else's cart
	require.NoError(t, h.repos.Carts.Add(ctx, &db.CartItem{UserID: "referrer", ProductID: "p1", Quantity: 1}))

	_, err := h.settler.Settle(ctx, o.ID, SettleInput{})
	require.NoError(t, err)

	active, err := h.repos.Carts.ListActive(ctx, "buyer")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "p2", active[0].ProductID)

	others, err := h.repos.Carts.ListActive(ctx, "referrer")
	require.NoError(t, err)
	assert.Len(t, others, 1)
}

func TestSettleKeepsSameProductAddedAfterCheckout(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()
	o := h.cryptoOrder(t)
	require.Len(t, h.order(t, o.ID).Items, 1)
	assert.NotZero(t, h.order(t, o.ID).Items[0].CartItemID)

	require.NoError(t, h.repos.Carts.Add(ctx, &db.CartItem{UserID: "buyer", ProductID: "p1", Quantity: 5}))

	_, err := h.settler.Settle(ctx, o.ID, SettleInput{})
	require.NoError(t, err)

	active, err := h.repos.Carts.ListActive(ctx, "buyer")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "p1", active[0].ProductID)
	assert.Equal(t, 5, active[0].Quantity)
}

func TestSettleSurvivesNotifierFailure(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	h.notifier.err = errors.New("smtp down")
	o := h.cryptoOrder(t)

	settled, err := h.settler.Settle(context.Background(), o.ID, SettleInput{})
	require.NoError(t, err)
	assert.True(t, settled)
	assert.Equal(t, db.PaymentStatusPaid, h.order(t, o.ID).PaymentStatus)
}

func TestSettleWithoutReferrer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.repos.Users.Create(ctx, &db.User{ID: "solo", Email: "solo@example.com"}))
	require.NoError(t, h.repos.Products.Create(ctx, &db.Product{ID: "p1", Name: "Hoodie", Price: decimal.NewFromInt(50), Currency: "USD", Stock: 1}))
	require.NoError(t, h.repos.Carts.Add(ctx, &db.CartItem{UserID: "solo", ProductID: "p1", Quantity: 3}))

	o, err := h.checkout.CreateCryptoOrder(ctx, CheckoutInput{UserID: "solo", Currency: "USDC"})
	require.NoError(t, err)

	settled, err := h.settler.Settle(ctx, o.ID, SettleInput{})
	require.NoError(t, err)
	assert.True(t, settled)

	got := h.order(t, o.ID)
	assert.False(t, got.ReferralCredited)
	// oversold stock is clamped
	p1, err := h.repos.Products.FindByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, p1.Stock)
}
