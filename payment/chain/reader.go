package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the part of *ethclient.Client the reader uses.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Reader talks to the active network through a single RPC connection. It is
// shared by the schedulers and request handlers; every call re-queries the
// chain. Only token decimals are remembered since a contract cannot change them.
type Reader struct {
	backend  Backend
	network  Network
	lookback uint64

	decimals sync.Map // common.Address -> int32
}

func NewReader(backend Backend, network Network, lookback uint64) *Reader {
	return &Reader{backend: backend, network: network, lookback: lookback}
}

// Dial connects to endpoint and checks that it serves the expected chain.
func Dial(ctx context.Context, network Network, endpoint string, lookback uint64) (*Reader, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s rpc: %w", network.Name, err)
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("query chain id: %w", err)
	}
	if id.Int64() != network.ChainID {
		client.Close()
		return nil, nil, fmt.Errorf("rpc serves chain %d, expected %s (%d)", id.Int64(), network.Name, network.ChainID)
	}
	return NewReader(client, network, lookback), client, nil
}

func (r *Reader) Network() Network { return r.network }

// NativeBalance returns the wei balance of addr.
func (r *Reader) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := r.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("native balance of %s: %w", addr.Hex(), err)
	}
	return bal, nil
}

// TokenBalance returns owner's balance of token in the token's smallest unit.
func (r *Reader) TokenBalance(ctx context.Context, owner, token common.Address) (*big.Int, error) {
	data, err := packBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("token balance of %s: %w", owner.Hex(), err)
	}
	return unpackBalance(out)
}

// TokenDecimals reads the token's declared decimals. For the settlement token
// a failed read falls back to the network table.
func (r *Reader) TokenDecimals(ctx context.Context, token common.Address) (int32, error) {
	if v, ok := r.decimals.Load(token); ok {
		return v.(int32), nil
	}

	data, _ := erc20ABI.Pack("decimals")
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err == nil {
		var d uint8
		if d, err = unpackDecimals(out); err == nil {
			r.decimals.Store(token, int32(d))
			return int32(d), nil
		}
	}
	if token == r.network.Token {
		return r.network.TokenDecimals, nil
	}
	return 0, fmt.Errorf("token decimals of %s: %w", token.Hex(), err)
}

// TransactionReceipt returns nil without error while hash is unmined.
func (r *Reader) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := r.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}

// Confirmations is the current height minus the inclusion height, 0 if unmined.
func (r *Reader) Confirmations(ctx context.Context, hash common.Hash) (int, error) {
	receipt, err := r.TransactionReceipt(ctx, hash)
	if err != nil || receipt == nil {
		return 0, err
	}
	head, err := r.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	mined := receipt.BlockNumber.Uint64()
	if head < mined {
		return 0, nil
	}
	return int(head - mined), nil
}

func (r *Reader) GasPrice(ctx context.Context) (*big.Int, error) {
	return r.backend.SuggestGasPrice(ctx)
}

// EstimateTokenTransferGas estimates a transfer of amount token units from -> to.
func (r *Reader) EstimateTokenTransferGas(ctx context.Context, from, to common.Address, amount *big.Int) (uint64, error) {
	data, err := packTransfer(to, amount)
	if err != nil {
		return 0, err
	}
	token := r.network.Token
	return r.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &token, Data: data})
}

// FindIncomingTokenTransfer looks for the most recent settlement-token
// Transfer into addr within the lookback window. This is a convenience lookup,
// not an indexer: ok is false when nothing is found or the provider refuses
// the range.
func (r *Reader) FindIncomingTokenTransfer(ctx context.Context, addr common.Address) (common.Hash, bool, error) {
	head, err := r.backend.BlockNumber(ctx)
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("block number: %w", err)
	}
	var from uint64
	if head > r.lookback {
		from = head - r.lookback
	}

	logs, err := r.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{r.network.Token},
		Topics:    [][]common.Hash{{transferTopic}, nil, {common.BytesToHash(addr.Bytes())}},
	})
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("filter transfers to %s: %w", addr.Hex(), err)
	}
	if len(logs) == 0 {
		return common.Hash{}, false, nil
	}
	return logs[len(logs)-1].TxHash, true, nil
}

var (
	// ErrNotMined means the transaction was broadcast but its inclusion was
	// not observed. The returned hash is valid and the transfer may still land.
	ErrNotMined = errors.New("transaction not mined yet")
	ErrReverted = errors.New("transaction reverted")
)

// SendTokenTransfer moves amount settlement-token units from key's address to
// to, and waits for inclusion.
func (r *Reader) SendTokenTransfer(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int, gas uint64, gasPrice *big.Int) (common.Hash, error) {
	data, err := packTransfer(to, amount)
	if err != nil {
		return common.Hash{}, err
	}
	return r.send(ctx, key, r.network.Token, big.NewInt(0), data, gas, gasPrice)
}

// SendNative sends amount wei from key's address to to, and waits for inclusion.
func (r *Reader) SendNative(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int, gas uint64, gasPrice *big.Int) (common.Hash, error) {
	return r.send(ctx, key, to, amount, nil, gas, gasPrice)
}

func (r *Reader) send(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte, gas uint64, gasPrice *big.Int) (common.Hash, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := r.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce of %s: %w", from.Hex(), err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(r.network.ChainID)), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := r.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx from %s: %w", from.Hex(), err)
	}

	receipt, err := bind.WaitMined(ctx, r.backend, signed)
	if err != nil {
		return signed.Hash(), fmt.Errorf("wait for %s: %w: %w", signed.Hash().Hex(), ErrNotMined, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return signed.Hash(), fmt.Errorf("tx %s: %w", signed.Hash().Hex(), ErrReverted)
	}
	return signed.Hash(), nil
}
