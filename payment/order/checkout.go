package order

import (
	"context"
	"errors"
	"fmt"
	"go-storefront/payment/chain"
	"go-storefront/payment/currency"
	"go-storefront/payment/db"
	"go-storefront/payment/store"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrEmptyCart     = errors.New("cart is empty")
	ErrMixedCurrency = errors.New("cart items are priced in different currencies")
)

// AddressSource hands out each buyer's deposit address.
type AddressSource interface {
	GetOrCreatePaymentAddress(ctx context.Context, userID string) (string, error)
}

type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to currency.Code) (decimal.Decimal, error)
}

type CheckoutConfig struct {
	Network               chain.Network
	Window                time.Duration
	RequiredConfirmations int
	DeliveryFee           decimal.Decimal
}

type CheckoutInput struct {
	UserID   string
	Email    string
	Currency string // settlement currency for crypto orders; ignored for card orders
}

// Checkout turns a buyer's active cart into an order.
type Checkout struct {
	repos     *store.Repositories
	addresses AddressSource
	quotes    Converter
	monitor   *Monitor
	cfg       CheckoutConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewCheckout(repos *store.Repositories, addresses AddressSource, quotes Converter, monitor *Monitor, cfg CheckoutConfig, logger *zap.Logger) *Checkout {
	return &Checkout{
		repos:     repos,
		addresses: addresses,
		quotes:    quotes,
		monitor:   monitor,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateCryptoOrder prices the cart in the settlement currency, assigns the
// buyer's deposit address and starts monitoring the order.
func (c *Checkout) CreateCryptoOrder(ctx context.Context, in CheckoutInput) (*db.Order, error) {
	code, err := currency.Normalize(in.Currency)
	if err != nil {
		return nil, err
	}
	if _, err := c.cfg.Network.AssetFor(code); err != nil {
		return nil, err
	}

	order, err := c.build(ctx, in, code)
	if err != nil {
		return nil, err
	}

	address, err := c.addresses.GetOrCreatePaymentAddress(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("payment address: %w", err)
	}
	expiry := c.now().Add(c.cfg.Window)
	order.PaymentMethod = db.MethodCrypto
	order.PaymentAddress = address
	order.PaymentNetwork = c.cfg.Network.Name
	order.PaymentExpiry = &expiry
	order.RequiredConfirmations = c.cfg.RequiredConfirmations

	if err := c.repos.Orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	c.monitor.Watch(order.ID, expiry)

	c.logger.Info("crypto order created",
		zap.String("order_id", order.ID),
		zap.String("amount", order.TotalAmount.String()),
		zap.String("currency", order.Currency),
		zap.String("address", address))
	return order, nil
}

// CreateCardOrder creates an order settled later by a card provider callback.
// It is priced in the products' own currency.
func (c *Checkout) CreateCardOrder(ctx context.Context, in CheckoutInput, method string) (*db.Order, error) {
	if method != db.MethodPaystack && method != db.MethodSeerBit {
		return nil, fmt.Errorf("unsupported card provider %q", method)
	}
	order, err := c.build(ctx, in, "")
	if err != nil {
		return nil, err
	}
	order.PaymentMethod = method
	if err := c.repos.Orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	c.logger.Info("card order created", zap.String("order_id", order.ID), zap.String("method", method))
	return order, nil
}

// build prices the active cart. An empty target keeps the catalog currency.
func (c *Checkout) build(ctx context.Context, in CheckoutInput, target currency.Code) (*db.Order, error) {
	cart, err := c.repos.Carts.ListActive(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if len(cart) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]string, 0, len(cart))
	for _, it := range cart {
		ids = append(ids, it.ProductID)
	}
	products, err := c.repos.Products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]db.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	var catalog currency.Code
	subtotal := decimal.Zero
	items := make([]db.OrderItem, 0, len(cart))
	for _, it := range cart {
		p, ok := byID[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", it.ProductID, store.ErrNotFound)
		}
		code, err := currency.Normalize(p.Currency)
		if err != nil {
			return nil, err
		}
		if catalog == "" {
			catalog = code
		} else if catalog != code {
			return nil, ErrMixedCurrency
		}

		price, err := unitPrice(p, it.VariantID)
		if err != nil {
			return nil, err
		}
		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		items = append(items, db.OrderItem{
			CartItemID: it.ID,
			ProductID:  it.ProductID,
			VariantID:  it.VariantID,
			Quantity:   it.Quantity,
			UnitPrice:  price,
		})
	}

	fee := c.cfg.DeliveryFee
	total := subtotal.Add(fee)
	if target != "" && target != catalog {
		if subtotal, err = c.quotes.Convert(ctx, subtotal, catalog, target); err != nil {
			return nil, fmt.Errorf("quote: %w", err)
		}
		if fee, err = c.quotes.Convert(ctx, fee, catalog, target); err != nil {
			return nil, fmt.Errorf("quote: %w", err)
		}
		total = subtotal.Add(fee)
	} else {
		target = catalog
	}

	id := uuid.New()
	return &db.Order{
		ID:            id.String(),
		OrderNumber:   orderNumber(c.now(), id),
		UserID:        in.UserID,
		Email:         in.Email,
		Subtotal:      subtotal,
		DeliveryFee:   fee,
		TotalAmount:   total,
		Currency:      target.String(),
		Status:        db.OrderStatusPending,
		PaymentStatus: db.PaymentStatusUnpaid,
		Items:         items,
	}, nil
}

func unitPrice(p db.Product, variantID string) (decimal.Decimal, error) {
	if variantID == "" {
		return p.Price, nil
	}
	for _, v := range p.Variants {
		if v.ID != variantID {
			continue
		}
		if v.Price != nil {
			return *v.Price, nil
		}
		return p.Price, nil
	}
	return decimal.Zero, fmt.Errorf("variant %s of product %s: %w", variantID, p.ID, store.ErrNotFound)
}

// ORD-20260101-1A2B3C
func orderNumber(now time.Time, id uuid.UUID) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:6])
	return "ORD-" + now.UTC().Format("20060102") + "-" + suffix
}
