package sweep

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"go-storefront/payment/chain"
	"go-storefront/payment/currency"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	fallbackTokenGas  = 65000
	nativeTransferGas = 21000
)

var ErrNoTreasury = errors.New("treasury address is not configured")

// Kind classifies a sweep attempt for the caller's bookkeeping.
type Kind int

const (
	KindSwept           Kind = iota + 1
	KindNoFunds              // nothing at the address: already swept or never arrived
	KindInsufficientGas      // token present but no gas yet; retry after a top-up
	KindDust                 // native balance cannot cover its own transfer fee
	KindPending              // broadcast, inclusion not yet observed; TxHash is set
	KindDeferred             // not attempted: the address still collects another payment
)

func (k Kind) String() string {
	switch k {
	case KindSwept:
		return "swept"
	case KindNoFunds:
		return "no_funds"
	case KindInsufficientGas:
		return "insufficient_gas"
	case KindDust:
		return "dust"
	case KindPending:
		return "pending"
	case KindDeferred:
		return "deferred"
	}
	return "unknown"
}

type Result struct {
	Success     bool
	Kind        Kind
	TxHash      string
	AmountSwept decimal.Decimal
	Message     string
}

// Retryable reports whether the same sweep may succeed later without
// anything but an external gas top-up.
func (r Result) Retryable() bool { return r.Kind == KindInsufficientGas }

// Chain is what the executor needs from the chain reader.
type Chain interface {
	Network() chain.Network
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, owner, token common.Address) (*big.Int, error)
	TokenDecimals(ctx context.Context, token common.Address) (int32, error)
	EstimateTokenTransferGas(ctx context.Context, from, to common.Address, amount *big.Int) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	SendTokenTransfer(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int, gas uint64, gasPrice *big.Int) (common.Hash, error)
	SendNative(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int, gas uint64, gasPrice *big.Int) (common.Hash, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Executor moves funds from derived deposit addresses to the treasury. Every
// sender is a different derived address, so concurrent sweeps never share a
// nonce.
type Executor struct {
	chain    Chain
	treasury common.Address
	logger   *zap.Logger
}

func NewExecutor(c Chain, treasury common.Address, logger *zap.Logger) *Executor {
	return &Executor{chain: c, treasury: treasury, logger: logger}
}

// Sweep empties from into the treasury for the given currency. Calling it on
// an emptied address is a no-op that reports KindNoFunds.
func (e *Executor) Sweep(ctx context.Context, from common.Address, key *ecdsa.PrivateKey, cur currency.Code) (Result, error) {
	if e.treasury == (common.Address{}) {
		return Result{}, ErrNoTreasury
	}
	asset, err := e.chain.Network().AssetFor(cur)
	if err != nil {
		return Result{}, err
	}

	switch asset.Kind {
	case chain.AssetToken:
		return e.sweepToken(ctx, from, key)
	case chain.AssetNative:
		return e.sweepNative(ctx, from, key)
	}
	return Result{}, fmt.Errorf("unknown asset kind %d", asset.Kind)
}

func (e *Executor) sweepToken(ctx context.Context, from common.Address, key *ecdsa.PrivateKey) (Result, error) {
	token := e.chain.Network().Token
	balance, err := e.chain.TokenBalance(ctx, from, token)
	if err != nil {
		return Result{}, err
	}
	if balance.Sign() == 0 {
		return Result{Kind: KindNoFunds, Message: "no funds"}, nil
	}

	gas, err := e.chain.EstimateTokenTransferGas(ctx, from, e.treasury, balance)
	if err != nil {
		e.logger.Debug("token transfer gas estimate failed, using fallback",
			zap.String("from", from.Hex()), zap.Error(err))
		gas = fallbackTokenGas
	}
	gasPrice, err := e.chain.GasPrice(ctx)
	if err != nil {
		return Result{}, err
	}

	// gas * price * 1.2
	required := new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice)
	required.Mul(required, big.NewInt(12))
	required.Quo(required, big.NewInt(10))

	native, err := e.chain.NativeBalance(ctx, from)
	if err != nil {
		return Result{}, err
	}
	if native.Cmp(required) < 0 {
		return Result{
			Kind:    KindInsufficientGas,
			Message: "insufficient native token for gas",
		}, nil
	}

	hash, err := e.chain.SendTokenTransfer(ctx, key, e.treasury, balance, gas, gasPrice)
	if errors.Is(err, chain.ErrNotMined) {
		return e.pending(from, hash, err), nil
	}
	if err != nil {
		return Result{}, err
	}

	decimals, err := e.chain.TokenDecimals(ctx, token)
	if err != nil {
		decimals = e.chain.Network().TokenDecimals
	}
	amount := currency.FromBaseUnits(balance, decimals)
	e.logger.Info("token swept to treasury",
		zap.String("from", from.Hex()), zap.String("amount", amount.String()), zap.String("tx", hash.Hex()))

	return Result{Success: true, Kind: KindSwept, TxHash: hash.Hex(), AmountSwept: amount}, nil
}

func (e *Executor) sweepNative(ctx context.Context, from common.Address, key *ecdsa.PrivateKey) (Result, error) {
	balance, err := e.chain.NativeBalance(ctx, from)
	if err != nil {
		return Result{}, err
	}
	if balance.Sign() == 0 {
		return Result{Kind: KindNoFunds, Message: "no funds"}, nil
	}

	gasPrice, err := e.chain.GasPrice(ctx)
	if err != nil {
		return Result{}, err
	}
	cost := new(big.Int).Mul(big.NewInt(nativeTransferGas), gasPrice)
	amount := new(big.Int).Sub(balance, cost)
	if amount.Sign() <= 0 {
		return Result{Kind: KindDust, Message: "insufficient funds to cover gas"}, nil
	}

	hash, err := e.chain.SendNative(ctx, key, e.treasury, amount, nativeTransferGas, gasPrice)
	if errors.Is(err, chain.ErrNotMined) {
		return e.pending(from, hash, err), nil
	}
	if err != nil {
		return Result{}, err
	}

	swept := currency.FromBaseUnits(amount, chain.NativeDecimals)
	e.logger.Info("native coin swept to treasury",
		zap.String("from", from.Hex()), zap.String("amount", swept.String()), zap.String("tx", hash.Hex()))

	return Result{Success: true, Kind: KindSwept, TxHash: hash.Hex(), AmountSwept: swept}, nil
}

func (e *Executor) pending(from common.Address, hash common.Hash, err error) Result {
	e.logger.Warn("sweep broadcast but not confirmed",
		zap.String("from", from.Hex()), zap.String("tx", hash.Hex()), zap.Error(err))
	return Result{Kind: KindPending, TxHash: hash.Hex(), Message: "sweep transaction submitted, awaiting inclusion"}
}

// Landed reports whether a previously submitted sweep has been mined and, if
// so, whether it succeeded.
func (e *Executor) Landed(ctx context.Context, hash common.Hash) (mined, succeeded bool, err error) {
	receipt, err := e.chain.TransactionReceipt(ctx, hash)
	if err != nil || receipt == nil {
		return false, false, err
	}
	return true, receipt.Status == types.ReceiptStatusSuccessful, nil
}
