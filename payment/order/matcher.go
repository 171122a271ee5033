package order

import (
	"context"
	"fmt"
	"go-storefront/payment/chain"
	"go-storefront/payment/currency"
	"go-storefront/payment/db"
	"go-storefront/payment/store"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// BalanceReader is the read side of the chain reader.
type BalanceReader interface {
	Network() chain.Network
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, owner, token common.Address) (*big.Int, error)
	TokenDecimals(ctx context.Context, token common.Address) (int32, error)
}

// Matcher decides whether an order's payment has arrived. It only reads.
type Matcher struct {
	chain BalanceReader
}

func NewMatcher(c BalanceReader) *Matcher {
	return &Matcher{chain: c}
}

// Received reports whether address holds at least 99.9% of expected in the
// given currency. Expected is truncated to the asset's decimals before it is
// compared in base units.
func (m *Matcher) Received(ctx context.Context, address string, expected decimal.Decimal, cur string) (bool, error) {
	code, err := currency.Normalize(cur)
	if err != nil {
		return false, err
	}
	balance, decimals, err := m.balance(ctx, address, code)
	if err != nil {
		return false, err
	}
	return withinTolerance(balance, currency.ToBaseUnits(expected, decimals)), nil
}

// Attribute splits what a shared deposit address holds across the orders
// paying into it, as listed by OrderRepository.ListOpenAtAddress. Paid
// orders whose funds have not been swept keep their share; the remainder
// goes to unpaid orders oldest first. It returns the unpaid orders whose
// share is within tolerance, so one deposit never pays two orders.
func (m *Matcher) Attribute(ctx context.Context, address string, open []db.Order) (map[string]bool, error) {
	var codes []currency.Code
	byCode := make(map[currency.Code][]*db.Order)
	for i := range open {
		o := &open[i]
		code, err := currency.Normalize(o.Currency)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", o.ID, err)
		}
		if _, ok := byCode[code]; !ok {
			codes = append(codes, code)
		}
		byCode[code] = append(byCode[code], o)
	}

	covered := make(map[string]bool)
	for _, code := range codes {
		orders := byCode[code]
		if !anyUnpaid(orders) {
			continue
		}
		balance, decimals, err := m.balance(ctx, address, code)
		if err != nil {
			return nil, err
		}
		available := new(big.Int).Set(balance)
		for _, o := range orders {
			if o.PaymentStatus == db.PaymentStatusPaid && !o.FundsSwept {
				available.Sub(available, currency.ToBaseUnits(o.TotalAmount, decimals))
			}
		}
		for _, o := range orders {
			if o.PaymentStatus != db.PaymentStatusUnpaid {
				continue
			}
			expected := currency.ToBaseUnits(o.TotalAmount, decimals)
			if withinTolerance(available, expected) {
				covered[o.ID] = true
				available.Sub(available, expected)
			}
		}
	}
	return covered, nil
}

func anyUnpaid(orders []*db.Order) bool {
	for _, o := range orders {
		if o.PaymentStatus == db.PaymentStatusUnpaid {
			return true
		}
	}
	return false
}

// balance returns what address holds of code, in base units, and the decimals
// of that unit.
func (m *Matcher) balance(ctx context.Context, address string, code currency.Code) (*big.Int, int32, error) {
	if !common.IsHexAddress(address) {
		return nil, 0, fmt.Errorf("invalid payment address %q", address)
	}
	network := m.chain.Network()
	asset, err := network.AssetFor(code)
	if err != nil {
		return nil, 0, err
	}
	addr := common.HexToAddress(address)

	decimals := asset.Decimals
	switch asset.Kind {
	case chain.AssetToken:
		balance, err := m.chain.TokenBalance(ctx, addr, network.Token)
		if err != nil {
			return nil, 0, err
		}
		if d, err := m.chain.TokenDecimals(ctx, network.Token); err == nil {
			decimals = d
		}
		return balance, decimals, nil
	case chain.AssetNative:
		balance, err := m.chain.NativeBalance(ctx, addr)
		if err != nil {
			return nil, 0, err
		}
		return balance, decimals, nil
	}
	return nil, 0, fmt.Errorf("unknown asset kind %d", asset.Kind)
}

// covered reads the open orders at o's address and reports whether o's share
// of the balance has arrived. The orders are read before the balance: a sweep
// landing in between can only make the answer more conservative.
func covered(ctx context.Context, m *Matcher, orders store.OrderRepository, o *db.Order) (bool, error) {
	open, err := orders.ListOpenAtAddress(ctx, o.PaymentAddress)
	if err != nil {
		return false, err
	}
	if len(open) == 1 && open[0].ID == o.ID {
		if open[0].PaymentStatus != db.PaymentStatusUnpaid {
			return false, nil
		}
		return m.Received(ctx, o.PaymentAddress, o.TotalAmount, o.Currency)
	}
	paid, err := m.Attribute(ctx, o.PaymentAddress, open)
	if err != nil {
		return false, err
	}
	return paid[o.ID], nil
}

// balance*1000 >= expected*999
func withinTolerance(balance, expected *big.Int) bool {
	lhs := new(big.Int).Mul(balance, big.NewInt(1000))
	rhs := new(big.Int).Mul(expected, big.NewInt(999))
	return lhs.Cmp(rhs) >= 0
}
