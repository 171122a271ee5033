package order

import (
	"context"
	"go-storefront/payment/db"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCryptoOrder(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()
	require.NoError(t, h.repos.Carts.Add(ctx, &db.CartItem{UserID: "buyer", ProductID: "p2", VariantID: "p2-holo", Quantity: 3}))

	h.checkout.quotes = fixedRate(decimal.RequireFromString("0.5"))
	h.checkout.cfg.DeliveryFee = decimal.NewFromInt(10)
	o := h.cryptoOrder(t)

	// (2*50 + 3*7) in USD, halved by the quote
	assert.True(t, o.Subtotal.Equal(decimal.RequireFromString("60.5")), o.Subtotal.String())
	assert.True(t, o.DeliveryFee.Equal(decimal.NewFromInt(5)))
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("65.5")))
	assert.Equal(t, "USDC", o.Currency)
	assert.Equal(t, "base", o.PaymentNetwork)
	assert.Equal(t, 3, o.RequiredConfirmations)
	require.NotNil(t, o.PaymentExpiry)
	assert.Equal(t, h.clock().Add(30*time.Minute), *o.PaymentExpiry)
	assert.Regexp(t, `^ORD-20260301-[0-9A-F]{6}$`, o.OrderNumber)

	stored := h.order(t, o.ID)
	require.Len(t, stored.Items, 2)

	user, err := h.repos.Users.FindByID(ctx, "buyer")
	require.NoError(t, err)
	assert.Equal(t, user.PaymentAddress, o.PaymentAddress)

	// the same buyer always pays into the same address
	again := h.cryptoOrder(t)
	assert.Equal(t, o.PaymentAddress, again.PaymentAddress)
}

func TestCreateCryptoOrderErrors(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	_, err := h.checkout.CreateCryptoOrder(ctx, CheckoutInput{UserID: "referrer", Currency: "USDC"})
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = h.checkout.CreateCryptoOrder(ctx, CheckoutInput{UserID: "buyer", Currency: "BNB"})
	assert.Error(t, err, "BNB is not payable on base")

	require.NoError(t, h.repos.Products.Create(ctx, &db.Product{ID: "p9", Name: "Mug", Price: decimal.NewFromInt(3000), Currency: "NGN", Stock: 1}))
	require.NoError(t, h.repos.Carts.Add(ctx, &db.CartItem{UserID: "buyer", ProductID: "p9", Quantity: 1}))
	_, err = h.checkout.CreateCryptoOrder(ctx, CheckoutInput{UserID: "buyer", Currency: "USDC"})
	assert.ErrorIs(t, err, ErrMixedCurrency)
	assert.Equal(t, 0, h.monitor.Len())
}

func TestCreateCardOrder(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	o, err := h.checkout.CreateCardOrder(context.Background(), CheckoutInput{UserID: "buyer"}, db.MethodPaystack)
	require.NoError(t, err)
	assert.Equal(t, "USD", o.Currency)
	assert.Equal(t, db.MethodPaystack, o.PaymentMethod)
	assert.Empty(t, o.PaymentAddress)
	assert.Nil(t, o.PaymentExpiry)
	assert.False(t, h.monitor.IsWatching(o.ID))

	_, err = h.checkout.CreateCardOrder(context.Background(), CheckoutInput{UserID: "buyer"}, "cash")
	assert.Error(t, err)
}
