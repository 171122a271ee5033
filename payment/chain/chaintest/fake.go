// Package chaintest provides an in-memory chain for tests.
package chaintest

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"go-storefront/payment/chain"
	"go-storefront/payment/currency"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

type Transfer struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
	Token  bool
	Hash   common.Hash
}

// Fake keeps balances in memory and applies transfers instantly.
type Fake struct {
	mu sync.Mutex

	Net         chain.Network
	GasPriceWei *big.Int
	GasEstimate uint64
	EstimateErr error
	BalanceErr  error
	// Unmined makes sends apply their transfer but report chain.ErrNotMined
	// and withhold the receipt until Mine is called.
	Unmined bool

	native   map[common.Address]*big.Int
	tokens   map[common.Address]*big.Int
	incoming map[common.Address]common.Hash
	confs    map[common.Hash]int
	sent     []Transfer
	unmined  map[common.Hash]bool
}

func New(network string) *Fake {
	n, err := chain.LookupNetwork(network)
	if err != nil {
		panic(err)
	}
	return &Fake{
		Net:         n,
		GasPriceWei: big.NewInt(1_000_000_000),
		GasEstimate: 52000,
		native:      map[common.Address]*big.Int{},
		tokens:      map[common.Address]*big.Int{},
		incoming:    map[common.Address]common.Hash{},
		confs:       map[common.Hash]int{},
		unmined:     map[common.Hash]bool{},
	}
}

// SetToken sets addr's settlement-token balance, given in whole tokens.
func (f *Fake) SetToken(addr common.Address, amount string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[addr] = currency.ToBaseUnits(decimal.RequireFromString(amount), f.Net.TokenDecimals)
}

// SetNative sets addr's native balance, given in whole coins.
func (f *Fake) SetNative(addr common.Address, amount string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.native[addr] = currency.ToBaseUnits(decimal.RequireFromString(amount), chain.NativeDecimals)
}

func (f *Fake) SetNativeWei(addr common.Address, wei *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.native[addr] = new(big.Int).Set(wei)
}

// Deposit records a funding transaction into addr with the given confirmations.
func (f *Fake) Deposit(addr common.Address, hash common.Hash, confirmations int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incoming[addr] = hash
	f.confs[hash] = confirmations
}

func (f *Fake) Sent() []Transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Transfer(nil), f.sent...)
}

func (f *Fake) Network() chain.Network { return f.Net }

func (f *Fake) NativeBalance(_ context.Context, addr common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BalanceErr != nil {
		return nil, f.BalanceErr
	}
	return get(f.native, addr), nil
}

func (f *Fake) TokenBalance(_ context.Context, owner, _ common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BalanceErr != nil {
		return nil, f.BalanceErr
	}
	return get(f.tokens, owner), nil
}

func (f *Fake) TokenDecimals(context.Context, common.Address) (int32, error) {
	return f.Net.TokenDecimals, nil
}

func (f *Fake) EstimateTokenTransferGas(context.Context, common.Address, common.Address, *big.Int) (uint64, error) {
	if f.EstimateErr != nil {
		return 0, f.EstimateErr
	}
	return f.GasEstimate, nil
}

func (f *Fake) GasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.GasPriceWei), nil
}

func (f *Fake) FindIncomingTokenTransfer(_ context.Context, addr common.Address) (common.Hash, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.incoming[addr]
	return h, ok, nil
}

func (f *Fake) Confirmations(_ context.Context, hash common.Hash) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confs[hash], nil
}

func (f *Fake) SendTokenTransfer(_ context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int, gas uint64, gasPrice *big.Int) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	from := crypto.PubkeyToAddress(key.PublicKey)
	f.tokens[from] = new(big.Int).Sub(get(f.tokens, from), amount)
	f.tokens[to] = new(big.Int).Add(get(f.tokens, to), amount)
	f.native[from] = new(big.Int).Sub(get(f.native, from), fee(gas, gasPrice))
	return f.record(from, to, amount, true)
}

func (f *Fake) SendNative(_ context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int, gas uint64, gasPrice *big.Int) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	from := crypto.PubkeyToAddress(key.PublicKey)
	spent := new(big.Int).Add(amount, fee(gas, gasPrice))
	f.native[from] = new(big.Int).Sub(get(f.native, from), spent)
	f.native[to] = new(big.Int).Add(get(f.native, to), amount)
	return f.record(from, to, amount, false)
}

func (f *Fake) record(from, to common.Address, amount *big.Int, token bool) (common.Hash, error) {
	hash := crypto.Keccak256Hash([]byte("tx-" + strconv.Itoa(len(f.sent))))
	f.sent = append(f.sent, Transfer{From: from, To: to, Amount: new(big.Int).Set(amount), Token: token, Hash: hash})
	if f.Unmined {
		f.unmined[hash] = true
		return hash, fmt.Errorf("wait for %s: %w", hash.Hex(), chain.ErrNotMined)
	}
	return hash, nil
}

// Mine releases the receipt of a transaction sent while Unmined was set.
func (f *Fake) Mine(hash common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.unmined, hash)
}

// TransactionReceipt knows every transaction sent through the fake.
func (f *Fake) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unmined[hash] {
		return nil, nil
	}
	for _, tr := range f.sent {
		if tr.Hash == hash {
			return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash, BlockNumber: big.NewInt(1)}, nil
		}
	}
	return nil, nil
}

func get(m map[common.Address]*big.Int, a common.Address) *big.Int {
	if v, ok := m[a]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func fee(gas uint64, price *big.Int) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(gas), price)
}
